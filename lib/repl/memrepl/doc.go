// Package memrepl replicates the operation log between replicas of one process.
//
// Replicas talk through a Network of direct method calls. Elections use
// randomized timeouts and majority votes, a new leader appends a noop entry in
// its term, and an entry counts as committed once an entry of the current term
// at or after it is stored on a majority. Hard state and log are persisted in
// the replica's db.Engine, so a Cluster member can be stopped and restarted
// from disk.
package memrepl
