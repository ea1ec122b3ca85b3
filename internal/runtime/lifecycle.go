package runtime

import (
	"github.com/aretw0/bpmn/pkg/domain"
)

// enter positions exec on its node, opens the history span and runs the
// node behavior.
func (op *operation) enter(inst *domain.Instance, exec *domain.Execution) error {
	node, err := op.node(inst, exec)
	if err != nil {
		return err
	}

	op.steps++
	if op.steps > op.e.maxSteps {
		return domain.Errorf(domain.ErrStepLimit, "more than %d steps in one call", op.e.maxSteps).At(inst.ID, exec.ID, node.ID)
	}

	exec.State = domain.StateEntered
	exec.IsActive = true
	if err := op.openSpan(inst, exec, node); err != nil {
		return err
	}

	op.e.logger.Debug("Entering node",
		"process_id", inst.ID,
		"execution_id", exec.ID,
		"activity", node.ID,
		"kind", node.Kind,
	)

	b, ok := behaviors[node.Kind]
	if !ok {
		return domain.Errorf(domain.ErrDefinition, "no behavior for node kind %q", node.Kind).At(inst.ID, exec.ID, node.ID)
	}
	out, err := b(op, inst, exec, node)
	if err != nil {
		return err
	}

	switch out {
	case outcomeLeave:
		op.push(inst, exec, actLeave)
	case outcomeWait:
		exec.IsWaiting = true
		exec.State = domain.StateWaiting
	}
	return nil
}

// leave closes the span of the current visit and takes the selected transitions.
func (op *operation) leave(inst *domain.Instance, exec *domain.Execution) error {
	node, err := op.node(inst, exec)
	if err != nil {
		return err
	}

	exec.State = domain.StateLeaving
	exec.IsWaiting = false
	if err := op.closeSpan(inst, exec, true); err != nil {
		return err
	}

	outgoing := op.definition(inst).Outgoing(node.ID)
	if len(outgoing) == 0 {
		return op.finishBranch(inst, exec)
	}

	selected, err := op.selectTransitions(inst, exec, node, outgoing)
	if err != nil {
		return err
	}
	switch len(selected) {
	case 0:
		return domain.Errorf(domain.ErrNoTransition, "no outgoing transition of %q is satisfied", node.ID).At(inst.ID, exec.ID, node.ID)
	case 1:
		op.take(inst, exec, selected[0])
		return nil
	}
	return op.fork(inst, exec, selected)
}

func (op *operation) take(inst *domain.Instance, exec *domain.Execution, t domain.Transition) {
	exec.ActivityID = t.To
	exec.State = domain.StateCreated
	op.push(inst, exec, actEnter)
}

// fork spreads exec over several transitions. A scope stays behind as the
// inactive parent of new concurrent children; a concurrent execution takes
// the first transition itself and spawns siblings for the rest.
func (op *operation) fork(inst *domain.Instance, exec *domain.Execution, selected []domain.Transition) error {
	parent := exec
	if exec.IsConcurrent {
		parent = inst.Executions[exec.ParentID]
		op.take(inst, exec, selected[0])
		selected = selected[1:]
	} else {
		exec.IsActive = false
		exec.State = domain.StateEntered
		exec.ActivityID = ""
	}

	for _, t := range selected {
		child, err := op.createChild(inst, parent, false)
		if err != nil {
			return err
		}
		op.take(inst, child, t)
	}
	return nil
}

// selectTransitions evaluates outgoing transitions in declaration order.
// Exclusive gateways take the first truthy condition; parallel gateways take
// all; other nodes take every truthy or unconditioned transition. A default
// transition is only taken when nothing else qualifies.
func (op *operation) selectTransitions(inst *domain.Instance, exec *domain.Execution, node *domain.Node, outgoing []domain.Transition) ([]domain.Transition, error) {
	if node.Kind == domain.KindParallelGateway {
		return outgoing, nil
	}

	vars := visibleVariables(inst, exec)
	var (
		selected      []domain.Transition
		unconditioned []domain.Transition
		fallback      *domain.Transition
	)
	for i, t := range outgoing {
		if t.ID == node.Default {
			fallback = &outgoing[i]
			continue
		}
		if t.Condition == "" {
			unconditioned = append(unconditioned, t)
			continue
		}
		ok, err := op.e.evaluator(op.ctx, t.Condition, vars)
		if err != nil {
			return nil, domain.Errorf(domain.ErrDefinition, "condition of transition %q", t.ID).At(inst.ID, exec.ID, node.ID).Wrap(err)
		}
		if ok {
			if node.Kind == domain.KindExclusiveGateway {
				return []domain.Transition{t}, nil
			}
			selected = append(selected, t)
		}
	}

	if node.Kind == domain.KindExclusiveGateway && len(unconditioned) > 0 {
		unconditioned = unconditioned[:1]
	}
	selected = append(selected, unconditioned...)
	if len(selected) == 0 && fallback != nil {
		selected = append(selected, *fallback)
	}
	return selected, nil
}

// resume continues a waiting execution at leave, consuming its subscriptions
// and completing its open tasks.
func (op *operation) resume(inst *domain.Instance, exec *domain.Execution, vars map[string]any) error {
	if !exec.IsWaiting {
		return domain.Errorf(domain.ErrNotWaiting, "execution is %s", exec.State).At(inst.ID, exec.ID, exec.ActivityID)
	}
	if err := op.cancelSubscriptions(inst, exec); err != nil {
		return err
	}
	if err := op.endTasks(inst, exec, true); err != nil {
		return err
	}

	exec.IsWaiting = false
	exec.State = domain.StateEntered
	for k, v := range vars {
		setLocal(inst, exec, k, v)
	}
	op.push(inst, exec, actLeave)
	return nil
}

// consume resumes the execution owning sub.
func (op *operation) consume(inst *domain.Instance, sub *domain.EventSubscription, vars map[string]any) error {
	exec, ok := inst.Executions[sub.ExecutionID]
	if !ok || exec.Ended() {
		return domain.Errorf(domain.ErrInvariantViolation, "subscription %q outlived its execution", sub.ID).At(inst.ID, sub.ExecutionID, sub.ActivityID)
	}
	return op.resume(inst, exec, vars)
}

func (op *operation) openSpan(inst *domain.Instance, exec *domain.Execution, node *domain.Node) error {
	exec.ActivityRecordID = op.e.ids()
	exec.ActivityStartedAt = op.now()
	return op.emit(inst, domain.Event{
		Type:        domain.EventActivityStarted,
		ExecutionID: exec.ID,
		ActivityID:  node.ID,
		NodeKind:    node.Kind,
		RecordID:    exec.ActivityRecordID,
	})
}

// closeSpan ends the open history span of exec, if any.
func (op *operation) closeSpan(inst *domain.Instance, exec *domain.Execution, completed bool) error {
	if exec.ActivityRecordID == "" {
		return nil
	}
	recordID := exec.ActivityRecordID
	exec.ActivityRecordID = ""
	return op.emit(inst, domain.Event{
		Type:        domain.EventActivityEnded,
		ExecutionID: exec.ID,
		ActivityID:  exec.ActivityID,
		RecordID:    recordID,
		Completed:   completed,
	})
}
