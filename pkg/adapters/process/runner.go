package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/bpmn/internal/logging"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
	"github.com/aretw0/bpmn/pkg/registry"
)

// Binder accepts service task handlers. Both *registry.Registry and the
// engine satisfy it.
type Binder interface {
	RegisterServiceTask(processKey, activityID string, fn registry.ServiceTaskFunc)
}

// Runner executes local processes as service tasks.
// It follows a Strict Registry pattern for security (Allow-Listing): only
// configured commands run, and variables never become command-line flags.
type Runner struct {
	registry map[string]ProcessConfig
	baseDir  string
	logger   *slog.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(tasks map[string]ProcessConfig) RunnerOption {
	return func(r *Runner) {
		for _, task := range tasks {
			r.Register(task)
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]ProcessConfig),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list, replacing any command
// bound to the same service task.
func (r *Runner) Register(task ProcessConfig) {
	r.registry[task.Key()] = task
}

// Bind registers a handler for every allow-listed command.
func (r *Runner) Bind(b Binder) {
	keys := make([]string, 0, len(r.registry))
	for k := range r.registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		task := r.registry[k]
		b.RegisterServiceTask(task.Process, task.Activity, func(ctx context.Context, de ports.DelegateExecution) error {
			return r.Execute(ctx, task, de)
		})
		r.logger.Debug("Service task bound to process", "process", task.Process, "activity", task.Activity, "command", task.Command)
	}
}

const waitDelay = 2 * time.Second

// errorReply is the stdout a failing process prints to raise a business error.
type errorReply struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Execute runs task for de.
//
// The visible variables are written to stdin as a JSON object and exported
// as BPMN_VAR_<NAME> environment variables. On success a JSON object on
// stdout is merged into the variables; any other output goes to
// ResultVariable when set. A non-zero exit whose stdout is
// {"error_code": ...} raises a *domain.BusinessError.
func (r *Runner) Execute(ctx context.Context, task ProcessConfig, de ports.DelegateExecution) error {
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	vars := de.Variables()
	input, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("failed to marshal variables for %s: %w", task.Key(), err)
	}

	cmd := exec.CommandContext(ctx, task.Command, task.Args...)
	cmd.Dir = r.baseDir
	cmd.Env = append(cmd.Environ(), environment(task, de, vars)...)
	cmd.Stdin = bytes.NewReader(input)
	// Children left behind by a killed process must not hold Wait open.
	cmd.WaitDelay = waitDelay

	// Capture Output
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Running service task process", "process_id", de.ProcessID(), "activity", de.ActivityID(), "command", task.Command)
	runErr := cmd.Run()
	trimmed := strings.TrimSpace(stdout.String())

	if runErr != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("process %s did not finish: %w", task.Key(), err)
		}
		var reply errorReply
		if json.Unmarshal([]byte(trimmed), &reply) == nil && reply.ErrorCode != "" {
			return &domain.BusinessError{Code: reply.ErrorCode, Message: reply.Message}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return fmt.Errorf("process %s exited with %d: %s", task.Key(), exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("process %s failed: %w", task.Key(), runErr)
	}

	// Try to parse as JSON object (Auto-Detection)
	if strings.HasPrefix(trimmed, "{") {
		var out map[string]any
		if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
			for k, v := range out {
				de.SetVariable(k, v)
			}
			return nil
		}
	}
	if task.ResultVariable != "" {
		de.SetVariable(task.ResultVariable, trimmed)
	}
	return nil
}

// environment exports the execution identity, the visible variables and the
// configured env. Configured entries come last and win.
func environment(task ProcessConfig, de ports.DelegateExecution, vars map[string]any) []string {
	env := []string{
		"BPMN_PROCESS_ID=" + de.ProcessID(),
		"BPMN_PROCESS_KEY=" + de.ProcessKey(),
		"BPMN_EXECUTION_ID=" + de.ExecutionID(),
		"BPMN_ACTIVITY_ID=" + de.ActivityID(),
	}
	for k, v := range vars {
		// Values serialization strategy:
		// - Primitives (string, number, bool): fmt.Sprintf (Simple)
		// - Complex (Map, Slice): json.Marshal (Structured)
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		case nil:
			val = ""
		default:
			if b, err := json.Marshal(v); err == nil {
				val = string(b)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, "BPMN_VAR_"+envName(k)+"="+val)
	}
	for k, v := range task.Environment {
		env = append(env, k+"="+v)
	}
	return env
}

// envName upper-cases name and replaces anything but letters, digits and
// underscores.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}
