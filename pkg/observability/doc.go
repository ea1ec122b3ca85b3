/*
Package observability exposes engine activity as Prometheus metrics.

Metrics is a ports.Observer. Register it with the engine after the history
recorder; it never fails a call. Counters are updated when the event is
observed, so a call that is later rolled back is still counted.
*/
package observability
