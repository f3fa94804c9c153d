// Package workflow drives queued jobs through named state machines.
//
// A Registry maps (workflow, status) pairs to steps. Each step names a
// capability from a small closed set, the status to write on success, and the
// status to return to on a recoverable failure. The Worker is the single
// consumer: it leases one ready job at a time, marks it with the capability
// name while the attempt is in flight, runs the bound processor, and applies
// the resulting transition. All status writes go through the job store; the
// worker is the only component that moves a job between workflow states.
package workflow
