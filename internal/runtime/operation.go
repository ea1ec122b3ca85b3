package runtime

import (
	"context"
	"time"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
)

type action int

const (
	actEnter action = iota
	actLeave
)

// agendaItem is one pending step of an execution.
type agendaItem struct {
	inst *domain.Instance
	exec *domain.Execution
	act  action
}

// operation holds the state of one external call: the transaction, the
// instances it loaded and the FIFO agenda of pending steps.
type operation struct {
	ctx context.Context
	e   *Engine
	tx  ports.Tx

	instances map[string]*domain.Instance
	defs      map[string]*domain.ProcessDefinition
	order     []string

	agenda []agendaItem
	steps  int

	// events is the buffer for notifiers, delivered once the call commits.
	events []domain.Event
}

func newOperation(ctx context.Context, e *Engine, tx ports.Tx) *operation {
	return &operation{
		ctx:       ctx,
		e:         e,
		tx:        tx,
		instances: make(map[string]*domain.Instance),
		defs:      make(map[string]*domain.ProcessDefinition),
	}
}

func (op *operation) now() time.Time {
	return op.e.clock().UTC()
}

// load returns the working copy of an instance, reading it once per call.
func (op *operation) load(id string) (*domain.Instance, error) {
	if inst, ok := op.instances[id]; ok {
		return inst, nil
	}
	inst, err := op.tx.Instance(op.ctx, id)
	if err != nil {
		return nil, err
	}
	def, err := op.e.definitions.Definition(op.ctx, inst.DefinitionID)
	if err != nil {
		return nil, domain.Errorf(domain.ErrDefinition, "definition of instance").At(inst.ID, "", "").Wrap(err)
	}
	op.track(inst, def)
	return inst, nil
}

func (op *operation) track(inst *domain.Instance, def *domain.ProcessDefinition) {
	op.instances[inst.ID] = inst
	op.defs[inst.ID] = def
	op.order = append(op.order, inst.ID)
}

func (op *operation) definition(inst *domain.Instance) *domain.ProcessDefinition {
	return op.defs[inst.ID]
}

func (op *operation) node(inst *domain.Instance, exec *domain.Execution) (*domain.Node, error) {
	n, ok := op.definition(inst).Node(exec.ActivityID)
	if !ok {
		return nil, domain.Errorf(domain.ErrInvariantViolation, "execution positioned on unknown node").At(inst.ID, exec.ID, exec.ActivityID)
	}
	return n, nil
}

func (op *operation) push(inst *domain.Instance, exec *domain.Execution, act action) {
	op.agenda = append(op.agenda, agendaItem{inst: inst, exec: exec, act: act})
}

// run drains the agenda. Steps of executions that ended meanwhile are dropped.
func (op *operation) run() error {
	for len(op.agenda) > 0 {
		item := op.agenda[0]
		op.agenda = op.agenda[1:]

		if item.exec.Ended() || !item.exec.IsActive {
			continue
		}

		var err error
		switch item.act {
		case actEnter:
			err = op.enter(item.inst, item.exec)
		case actLeave:
			err = op.leave(item.inst, item.exec)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (op *operation) commit() error {
	for _, id := range op.order {
		if err := op.tx.SaveInstance(op.ctx, op.instances[id]); err != nil {
			return err
		}
	}
	return nil
}

// emit notifies every observer inside the transaction and buffers the event
// for notifiers.
func (op *operation) emit(inst *domain.Instance, ev domain.Event) error {
	ev.Time = op.now()
	ev.ProcessID = inst.ID
	ev.DefinitionID = inst.DefinitionID
	ev.DefinitionKey = inst.DefinitionKey
	for _, o := range op.e.observers {
		if err := o.Observe(op.ctx, op.tx, &ev); err != nil {
			return err
		}
	}
	if len(op.e.notifiers) > 0 {
		op.events = append(op.events, ev)
	}
	return nil
}
