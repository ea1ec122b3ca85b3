package runtime

import (
	"github.com/aretw0/bpmn/pkg/domain"
)

// startInstance creates the root execution positioned on the start node and
// queues its entry.
func (op *operation) startInstance(def *domain.ProcessDefinition, start *domain.Node, id, businessKey string, vars map[string]any) (*domain.Instance, error) {
	now := op.now()
	root := &domain.Execution{
		ID:         id,
		ProcessID:  id,
		ActivityID: start.ID,
		IsScope:    true,
		IsActive:   true,
		State:      domain.StateCreated,
		CreatedAt:  now,
	}
	inst := &domain.Instance{
		ID:            id,
		DefinitionID:  def.ID,
		DefinitionKey: def.Key,
		BusinessKey:   businessKey,
		Executions:    map[string]*domain.Execution{id: root},
		Variables:     map[string]map[string]any{id: copyVars(vars)},
		StartedAt:     now,
	}
	op.track(inst, def)

	if err := op.emit(inst, domain.Event{Type: domain.EventInstanceStarted, ExecutionID: id}); err != nil {
		return nil, err
	}
	op.push(inst, root, actEnter)
	return inst, nil
}

// createChild adds a concurrent branch (isScope=false) or a nested scope
// (isScope=true) under parent.
func (op *operation) createChild(inst *domain.Instance, parent *domain.Execution, isScope bool) (*domain.Execution, error) {
	child := &domain.Execution{
		ID:           op.e.ids(),
		ParentID:     parent.ID,
		ProcessID:    inst.ID,
		IsScope:      isScope,
		IsActive:     true,
		IsConcurrent: !isScope,
		State:        domain.StateCreated,
		CreatedAt:    op.now(),
	}
	inst.Executions[child.ID] = child
	if isScope {
		inst.Variables[child.ID] = map[string]any{}
	}
	return child, op.emit(inst, domain.Event{Type: domain.EventExecutionCreated, ExecutionID: child.ID})
}

// endExecution closes the open span of exec, cancels what it waits for and
// marks it terminated.
func (op *operation) endExecution(inst *domain.Instance, exec *domain.Execution, state domain.EndState) error {
	if exec.Ended() {
		return nil
	}
	if err := op.closeSpan(inst, exec, false); err != nil {
		return err
	}
	if err := op.cancelSubscriptions(inst, exec); err != nil {
		return err
	}
	if err := op.endTasks(inst, exec, false); err != nil {
		return err
	}

	now := op.now()
	exec.IsActive = false
	exec.IsWaiting = false
	exec.State = domain.StateTerminated
	exec.EndedAt = &now
	exec.EndState = state

	if exec.IsRoot() {
		return nil
	}
	return op.emit(inst, domain.Event{Type: domain.EventExecutionEnded, ExecutionID: exec.ID, EndState: state})
}

// terminateTree ends exec and every descendant, leaves first.
func (op *operation) terminateTree(inst *domain.Instance, exec *domain.Execution, state domain.EndState) error {
	for _, child := range inst.Children(exec.ID) {
		if err := op.terminateTree(inst, child, state); err != nil {
			return err
		}
	}
	return op.endExecution(inst, exec, state)
}

// finishBranch ends an execution that ran out of path and propagates the
// scope-ended check upwards.
func (op *operation) finishBranch(inst *domain.Instance, exec *domain.Execution) error {
	if err := op.endExecution(inst, exec, domain.EndCompleted); err != nil {
		return err
	}
	switch {
	case exec.IsRoot():
		return op.completeInstance(inst)
	case exec.IsScope:
		return op.scopeCompleted(inst, exec)
	default:
		return op.checkScope(inst, inst.Executions[exec.ParentID])
	}
}

// checkScope ends a forked scope once none of its branches is alive.
func (op *operation) checkScope(inst *domain.Instance, scope *domain.Execution) error {
	if scope == nil || scope.IsActive || scope.Ended() {
		return nil
	}
	for _, child := range inst.Children(scope.ID) {
		if !child.Ended() {
			return nil
		}
	}
	return op.finishBranch(inst, scope)
}

// scopeCompleted resumes the execution parked on the sub-process node.
func (op *operation) scopeCompleted(inst *domain.Instance, scope *domain.Execution) error {
	parent, ok := inst.Executions[scope.ParentID]
	if !ok || parent.Ended() {
		return domain.Errorf(domain.ErrInvariantViolation, "sub-process scope without a live parent").At(inst.ID, scope.ID, scope.ActivityID)
	}
	parent.IsActive = true
	parent.State = domain.StateEntered
	op.push(inst, parent, actLeave)
	return nil
}

// completeInstance finalizes the instance once its root has ended.
func (op *operation) completeInstance(inst *domain.Instance) error {
	root := inst.Root()
	if err := op.endExecution(inst, root, domain.EndCompleted); err != nil {
		return err
	}
	if inst.EndedAt != nil {
		return domain.Errorf(domain.ErrInvariantViolation, "instance ended twice").At(inst.ID, root.ID, "")
	}
	ended := *root.EndedAt
	inst.EndedAt = &ended

	op.e.logger.Debug("Process instance ended",
		"process_id", inst.ID,
		"definition", inst.DefinitionKey,
		"end_state", root.EndState,
	)
	return op.emit(inst, domain.Event{Type: domain.EventInstanceEnded, ExecutionID: root.ID, EndState: root.EndState, Completed: root.EndState == domain.EndCompleted})
}

func nearestScope(inst *domain.Instance, exec *domain.Execution) *domain.Execution {
	for e := exec; e != nil; e = inst.Executions[e.ParentID] {
		if e.IsScope {
			return e
		}
	}
	return inst.Root()
}
