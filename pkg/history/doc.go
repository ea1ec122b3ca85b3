// Package history records the audit trail of process instances.
//
// The Recorder observes engine lifecycle events and writes one row per process
// instance, per node visit and per user task into the store's history tables,
// inside the same transaction as the state change.
package history
