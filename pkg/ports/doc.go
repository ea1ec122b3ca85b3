/*
Package ports defines the driven ports (interfaces) of the BPMN runtime.

These interfaces decouple the execution core from external implementations,
allowing the engine to work with various storage backends, definition sources,
expression languages and business callbacks.

# Key Interfaces

  - DefinitionProvider: Looks up deployed process definitions by id or key.
  - Store / Tx: Transactional persistence of instances, subscriptions, tasks and history.
  - ConditionEvaluator: Evaluates gateway conditions against the visible variables.
  - DelegateInvoker: Runs service task callbacks and message throw handlers.
  - Observer: Receives lifecycle events inside the triggering transaction.
  - DistributedLocker: Serializes calls for one instance across processes.
*/
package ports
