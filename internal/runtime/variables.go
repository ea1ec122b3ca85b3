package runtime

import (
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
)

func copyVars(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// setLocal writes to the nearest scope of exec.
func setLocal(inst *domain.Instance, exec *domain.Execution, name string, value any) {
	scope := nearestScope(inst, exec)
	vars, ok := inst.Variables[scope.ID]
	if !ok {
		vars = map[string]any{}
		inst.Variables[scope.ID] = vars
	}
	vars[name] = value
}

// lookup resolves name from the nearest scope outwards.
func lookup(inst *domain.Instance, exec *domain.Execution, name string) (any, bool) {
	for e := exec; e != nil; e = inst.Executions[e.ParentID] {
		if !e.IsScope {
			continue
		}
		if v, ok := inst.Variables[e.ID][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// visibleVariables flattens the scope chain of exec, inner scopes winning.
func visibleVariables(inst *domain.Instance, exec *domain.Execution) map[string]any {
	var chain []*domain.Execution
	for e := exec; e != nil; e = inst.Executions[e.ParentID] {
		if e.IsScope {
			chain = append(chain, e)
		}
	}
	out := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range inst.Variables[chain[i].ID] {
			out[k] = v
		}
	}
	return out
}

// propagate writes to an ancestor scope of exec.
func propagate(inst *domain.Instance, exec *domain.Execution, scopeID, name string, value any) error {
	for e := exec; e != nil; e = inst.Executions[e.ParentID] {
		if e.ID != scopeID {
			continue
		}
		if !e.IsScope {
			return domain.Errorf(domain.ErrInvariantViolation, "execution %q is not a scope", scopeID).At(inst.ID, exec.ID, exec.ActivityID)
		}
		inst.Variables[e.ID][name] = value
		return nil
	}
	return domain.Errorf(domain.ErrNotFound, "scope %q is not an ancestor", scopeID).At(inst.ID, exec.ID, exec.ActivityID)
}

// delegateExecution exposes a live execution to business callbacks.
type delegateExecution struct {
	inst *domain.Instance
	exec *domain.Execution
	key  string
}

func (op *operation) delegate(inst *domain.Instance, exec *domain.Execution) ports.DelegateExecution {
	return &delegateExecution{inst: inst, exec: exec, key: op.definition(inst).Key}
}

func (d *delegateExecution) ProcessID() string   { return d.inst.ID }
func (d *delegateExecution) ProcessKey() string  { return d.key }
func (d *delegateExecution) ExecutionID() string { return d.exec.ID }
func (d *delegateExecution) ActivityID() string  { return d.exec.ActivityID }

func (d *delegateExecution) Variable(name string) (any, bool) {
	return lookup(d.inst, d.exec, name)
}

func (d *delegateExecution) Variables() map[string]any {
	return visibleVariables(d.inst, d.exec)
}

func (d *delegateExecution) SetVariable(name string, value any) {
	setLocal(d.inst, d.exec, name, value)
}

func (d *delegateExecution) PropagateVariable(scopeExecutionID, name string, value any) error {
	return propagate(d.inst, d.exec, scopeExecutionID, name, value)
}
