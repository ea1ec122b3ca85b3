package runtime

import (
	"github.com/aretw0/bpmn/pkg/domain"
)

// subscribe registers exec as waiting for a named message or signal.
func (op *operation) subscribe(inst *domain.Instance, exec *domain.Execution, kind domain.SubscriptionKind, name, activityID string) error {
	if name == "" {
		return domain.Errorf(domain.ErrDefinition, "%s event without a name", kind).At(inst.ID, exec.ID, activityID)
	}
	if _, ok := findSubscription(inst, exec.ID, kind, name); ok {
		return domain.Errorf(domain.ErrDuplicateSubscription, "%s %q", kind, name).At(inst.ID, exec.ID, activityID)
	}

	sub := domain.EventSubscription{
		ID:          op.e.ids(),
		ProcessID:   inst.ID,
		ExecutionID: exec.ID,
		Kind:        kind,
		Name:        name,
		ActivityID:  activityID,
		CreatedAt:   op.now(),
	}
	inst.Subscriptions = append(inst.Subscriptions, sub)
	return op.emit(inst, domain.Event{
		Type:         domain.EventSubscriptionCreated,
		ExecutionID:  exec.ID,
		ActivityID:   activityID,
		Subscription: &sub,
	})
}

// unsubscribe removes a subscription. Removing an absent one is a no-op.
func (op *operation) unsubscribe(inst *domain.Instance, id string) error {
	for i := range inst.Subscriptions {
		if inst.Subscriptions[i].ID != id {
			continue
		}
		sub := inst.Subscriptions[i]
		inst.Subscriptions = append(inst.Subscriptions[:i:i], inst.Subscriptions[i+1:]...)
		return op.emit(inst, domain.Event{
			Type:         domain.EventSubscriptionRemoved,
			ExecutionID:  sub.ExecutionID,
			ActivityID:   sub.ActivityID,
			Subscription: &sub,
		})
	}
	return nil
}

// cancelSubscriptions drops every subscription held by exec.
func (op *operation) cancelSubscriptions(inst *domain.Instance, exec *domain.Execution) error {
	var ids []string
	for _, s := range inst.Subscriptions {
		if s.ExecutionID == exec.ID {
			ids = append(ids, s.ID)
		}
	}
	for _, id := range ids {
		if err := op.unsubscribe(inst, id); err != nil {
			return err
		}
	}
	return nil
}

func findSubscription(inst *domain.Instance, executionID string, kind domain.SubscriptionKind, name string) (*domain.EventSubscription, bool) {
	for i := range inst.Subscriptions {
		s := &inst.Subscriptions[i]
		if s.ExecutionID == executionID && s.Kind == kind && s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// endTasks closes the open user tasks of exec. completed is false when the
// execution was ended from outside.
func (op *operation) endTasks(inst *domain.Instance, exec *domain.Execution, completed bool) error {
	kept := inst.Tasks[:0:0]
	var ended []domain.UserTask
	for _, t := range inst.Tasks {
		if t.ExecutionID == exec.ID {
			ended = append(ended, t)
			continue
		}
		kept = append(kept, t)
	}
	inst.Tasks = kept

	for i := range ended {
		if err := op.emit(inst, domain.Event{
			Type:        domain.EventTaskEnded,
			ExecutionID: exec.ID,
			ActivityID:  ended[i].ActivityID,
			Task:        &ended[i],
			Completed:   completed,
		}); err != nil {
			return err
		}
	}
	return nil
}
