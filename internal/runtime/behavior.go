package runtime

import (
	"errors"

	"github.com/aretw0/bpmn/pkg/domain"
)

// outcome is what a node behavior asks the lifecycle to do next.
type outcome int

const (
	// outcomeLeave takes the outgoing transitions now.
	outcomeLeave outcome = iota
	// outcomeWait parks the execution until an external trigger.
	outcomeWait
	// outcomeDone means the behavior already moved or ended the execution.
	outcomeDone
)

type behavior func(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error)

var behaviors map[domain.NodeKind]behavior

func init() {
	behaviors = map[domain.NodeKind]behavior{
		domain.KindNoneStart:        passThrough,
		domain.KindMessageStart:     passThrough,
		domain.KindSignalStart:      passThrough,
		domain.KindTask:             passThrough,
		domain.KindErrorBoundary:    passThrough,
		domain.KindExclusiveGateway: passThrough,
		domain.KindUserTask:         userTask,
		domain.KindServiceTask:      serviceTask,
		domain.KindReceiveTask:      receiveTask,
		domain.KindMessageCatch:     catchEvent(domain.SubscriptionMessage),
		domain.KindSignalCatch:      catchEvent(domain.SubscriptionSignal),
		domain.KindMessageThrow:     messageThrow,
		domain.KindParallelGateway:  parallelGateway,
		domain.KindSubProcess:       subProcess,
		domain.KindEnd:              endEvent,
		domain.KindTerminateEnd:     terminateEnd,
	}
}

func passThrough(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error) {
	return outcomeLeave, nil
}

func userTask(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error) {
	task := domain.UserTask{
		ID:          op.e.ids(),
		ProcessID:   inst.ID,
		ExecutionID: exec.ID,
		ActivityID:  node.ID,
		Name:        node.Label(),
		Description: node.Description,
		Assignee:    node.Assignee,
		Priority:    node.Priority,
		CreatedAt:   op.now(),
	}
	inst.Tasks = append(inst.Tasks, task)
	err := op.emit(inst, domain.Event{
		Type:        domain.EventTaskCreated,
		ExecutionID: exec.ID,
		ActivityID:  node.ID,
		RecordID:    exec.ActivityRecordID,
		Task:        &task,
	})
	return outcomeWait, err
}

func serviceTask(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error) {
	err := op.e.delegates.InvokeServiceTask(op.ctx, inst.DefinitionKey, node.ID, op.delegate(inst, exec))
	if err == nil {
		return outcomeLeave, nil
	}

	var business *domain.BusinessError
	if errors.As(err, &business) {
		return outcomeDone, op.catchBusinessError(inst, exec, node, business)
	}
	var typed *domain.Error
	if errors.As(err, &typed) {
		return outcomeDone, err
	}
	return outcomeDone, domain.Errorf(domain.ErrInvariantViolation, "service task failed").At(inst.ID, exec.ID, node.ID).Wrap(err)
}

// receiveTask waits for a message when it names one, otherwise for a plain signal.
func receiveTask(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error) {
	if node.Message != "" {
		if err := op.subscribe(inst, exec, domain.SubscriptionMessage, node.Message, node.ID); err != nil {
			return outcomeDone, err
		}
	}
	return outcomeWait, nil
}

func catchEvent(kind domain.SubscriptionKind) behavior {
	return func(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error) {
		name := node.Message
		if kind == domain.SubscriptionSignal {
			name = node.Signal
		}
		if err := op.subscribe(inst, exec, kind, name, node.ID); err != nil {
			return outcomeDone, err
		}
		return outcomeWait, nil
	}
}

func messageThrow(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error) {
	if err := op.e.delegates.ThrowMessage(op.ctx, inst.DefinitionKey, node.ID, op.delegate(inst, exec)); err != nil {
		return outcomeDone, err
	}
	err := op.emit(inst, domain.Event{
		Type:        domain.EventMessageThrown,
		ExecutionID: exec.ID,
		ActivityID:  node.ID,
		NodeKind:    node.Kind,
	})
	return outcomeLeave, err
}

// parallelGateway joins concurrent arrivals and forks on leave. An arrival
// parks until every incoming transition delivered one; the last arrival
// either continues alone or, when no other branch is alive, collapses back
// into the scope.
func parallelGateway(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error) {
	incoming := len(op.definition(inst).Incoming(node.ID))
	if incoming <= 1 || !exec.IsConcurrent {
		return outcomeLeave, nil
	}

	scope := inst.Executions[exec.ParentID]
	exec.State = domain.StateJoining

	var arrived []*domain.Execution
	for _, sibling := range inst.Children(scope.ID) {
		if sibling.State == domain.StateJoining && sibling.ActivityID == node.ID {
			arrived = append(arrived, sibling)
		}
	}
	if len(arrived) < incoming {
		exec.IsActive = false
		return outcomeDone, op.closeSpan(inst, exec, true)
	}

	for _, sibling := range arrived {
		if sibling == exec {
			continue
		}
		if err := op.endExecution(inst, sibling, domain.EndCompleted); err != nil {
			return outcomeDone, err
		}
	}

	for _, sibling := range inst.Children(scope.ID) {
		if sibling != exec && !sibling.Ended() {
			exec.State = domain.StateEntered
			return outcomeLeave, nil
		}
	}

	if err := op.closeSpan(inst, exec, true); err != nil {
		return outcomeDone, err
	}
	if err := op.endExecution(inst, exec, domain.EndCompleted); err != nil {
		return outcomeDone, err
	}
	scope.IsActive = true
	scope.State = domain.StateEntered
	scope.ActivityID = node.ID
	op.push(inst, scope, actLeave)
	return outcomeDone, nil
}

// subProcess parks exec on the sub-process node and starts a nested scope at
// the inner start event.
func subProcess(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error) {
	start, err := op.definition(inst).SubProcessStart(node.ID)
	if err != nil {
		return outcomeDone, err
	}
	child, err := op.createChild(inst, exec, true)
	if err != nil {
		return outcomeDone, err
	}
	exec.IsActive = false
	child.ActivityID = start.ID
	op.push(inst, child, actEnter)
	return outcomeDone, nil
}

func endEvent(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error) {
	return outcomeDone, op.finishBranch(inst, exec)
}

// terminateEnd ends the whole enclosing scope. Inside a sub-process only that
// sub-process is terminated and its parent continues.
func terminateEnd(op *operation, inst *domain.Instance, exec *domain.Execution, node *domain.Node) (outcome, error) {
	scope := nearestScope(inst, exec)
	if err := op.terminateTree(inst, scope, domain.EndTerminated); err != nil {
		return outcomeDone, err
	}
	if scope.IsRoot() {
		return outcomeDone, op.completeInstance(inst)
	}
	return outcomeDone, op.scopeCompleted(inst, scope)
}

// catchBusinessError routes exec to the boundary event catching the error,
// searching enclosing sub-processes outwards and cancelling the scopes it
// leaves. Without a boundary the error fails the call.
func (op *operation) catchBusinessError(inst *domain.Instance, exec *domain.Execution, node *domain.Node, business *domain.BusinessError) error {
	def := op.definition(inst)
	current, activity := exec, node
	for {
		if boundary, ok := def.ErrorBoundary(activity.ID, business.Code); ok {
			if err := op.closeSpan(inst, current, false); err != nil {
				return err
			}
			op.e.logger.Debug("Business error caught",
				"process_id", inst.ID,
				"execution_id", current.ID,
				"activity", activity.ID,
				"boundary", boundary.ID,
				"code", business.Code,
			)
			current.IsActive = true
			current.IsWaiting = false
			current.ActivityID = boundary.ID
			current.State = domain.StateCreated
			op.push(inst, current, actEnter)
			return nil
		}

		scope := nearestScope(inst, current)
		if scope.IsRoot() {
			return (&domain.Error{Kind: business}).At(inst.ID, exec.ID, node.ID)
		}
		parent := inst.Executions[scope.ParentID]
		if err := op.terminateTree(inst, scope, domain.EndCancelled); err != nil {
			return err
		}
		next, ok := def.Node(parent.ActivityID)
		if !ok {
			return domain.Errorf(domain.ErrInvariantViolation, "sub-process execution on unknown node").At(inst.ID, parent.ID, parent.ActivityID)
		}
		current, activity = parent, next
	}
}
