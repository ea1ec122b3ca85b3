/*
Package bpmn is an embeddable BPMN process execution engine.

A deployed process definition is a directed graph of events, activities and
gateways. The engine drives instances of it through a tree of executions,
parks them on wait states (user tasks, receive tasks, message and signal catch
events), correlates incoming messages and signals with the executions waiting
for them and records an audit trail of every node visit.

# Concept

Every external call (start, signal, deliver a message, complete a task) runs
to the next stable point inside one store transaction while holding the lock
of each instance it touches. Observers, the history recorder first, see every
lifecycle event inside that transaction, so a failing call leaves neither
runtime state nor history behind.

# Key Features

  - Execution tree: concurrent branches under a scope, joined by parallel gateways.
  - Embedded sub-processes with their own variable scope.
  - Business errors routed to error boundary events.
  - Pluggable stores: in-memory, bbolt and SQLite.
  - Optional Redis lock for several engine processes sharing a store.

# Usage

	eng := bpmn.New()

	b := dsl.New("order")
	b.Add("start").Start().Go("approve")
	b.Add("approve").UserTask().Go("end")
	b.Add("end").End()
	def, err := b.Build()
	if err != nil {
		log.Fatal(err)
	}
	if _, err := eng.Deploy(ctx, def); err != nil {
		log.Fatal(err)
	}

	inst, err := eng.StartInstance(ctx, bpmn.StartRequest{DefinitionKey: "order"})
	if err != nil {
		log.Fatal(err)
	}
	tasks, _ := eng.Tasks(ctx, domain.TaskQuery{ProcessID: inst.ID})
	err = eng.CompleteTask(ctx, tasks[0].ID, map[string]any{"approved": true})
*/
package bpmn
