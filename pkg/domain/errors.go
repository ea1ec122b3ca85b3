package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDefinition is returned for malformed or missing definitions and start nodes.
	ErrDefinition = errors.New("definition error")

	// ErrNoTransition is returned when an execution reaches a node without a satisfied outgoing transition.
	ErrNoTransition = errors.New("no transition")

	// ErrDuplicateSubscription is returned when an execution already subscribes to the same event.
	ErrDuplicateSubscription = errors.New("duplicate subscription")

	// ErrNoSubscriber is returned when a trigger cannot be correlated to any subscription.
	ErrNoSubscriber = errors.New("no matching subscription")

	// ErrNotFound is returned when an instance, execution, task or definition does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleExecution is returned when a trigger targets an execution that has already moved on.
	ErrStaleExecution = errors.New("stale execution")

	// ErrNotWaiting is returned when signalling an execution that is not parked in a wait state.
	ErrNotWaiting = errors.New("execution is not waiting")

	// ErrInvariantViolation reports programming or data-corruption errors. It is never caught.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrConflict is returned by stores when an instance was modified concurrently.
	ErrConflict = errors.New("concurrent modification")

	// ErrStepLimit is returned when a single call enters more nodes than allowed.
	ErrStepLimit = errors.New("step limit exceeded")
)

// Error carries the kind of failure together with the identifiers involved.
// errors.Is matches both the Kind sentinel and the Cause chain.
type Error struct {
	Kind        error
	ProcessID   string
	ExecutionID string
	ActivityID  string
	Msg         string
	Cause       error
}

// Errorf builds an *Error of the given kind.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// At attaches the execution coordinates to the error.
func (e *Error) At(processID, executionID, activityID string) *Error {
	e.ProcessID = processID
	e.ExecutionID = executionID
	e.ActivityID = activityID
	return e
}

// Wrap sets the underlying cause.
func (e *Error) Wrap(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}

	var coords []string
	if e.ProcessID != "" {
		coords = append(coords, "process="+e.ProcessID)
	}
	if e.ExecutionID != "" {
		coords = append(coords, "execution="+e.ExecutionID)
	}
	if e.ActivityID != "" {
		coords = append(coords, "activity="+e.ActivityID)
	}
	if len(coords) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(coords, ", "))
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// BusinessError is raised by service task delegates. It is caught by an
// error boundary event with a matching code, otherwise it fails the call.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("business error %q", e.Code)
	}
	return fmt.Sprintf("business error %q: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
