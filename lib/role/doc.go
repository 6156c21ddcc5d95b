// Package role decides whether a member is primary, secondary or recovering.
//
// The Manager follows the leadership reported by a repl.Replicator. When the
// member is elected it becomes a fenced primary: it first drops every
// temporary namespace through the log (the promotion sweep) and only then
// accepts writes for its term. A sweep that fails gives up leadership so the
// sweep is retried by the next promotion; drops are idempotent.
//
// StepDown demotes a primary and bars it from becoming primary again for a
// hold-off period.
package role
