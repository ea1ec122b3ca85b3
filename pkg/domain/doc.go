/*
Package domain contains the core domain models of the BPMN runtime.

It defines the process definition graph, the execution tree of a running
instance, event subscriptions, user tasks and the append-only history records.
This package is kept pure and free of I/O or persistence concerns, following
Hexagonal Architecture principles.

# Key Entities

  - ProcessDefinition: An immutable, deployed graph of Nodes and Transitions.
  - Instance: The arena holding every Execution, variable scope, subscription and open task of one process instance.
  - Execution: A node of the execution tree (root, concurrent branch or sub-process scope).
  - EventSubscription: Correlates an inbound message or signal to a waiting Execution.
  - HistoryExecution, HistoryTask, HistoryActivity: Audit rows written by the history recorder.
*/
package domain
