// Package jobs persists queued jobs in SQLite and exposes the primitives the
// worker loop needs to drive their lifecycle: creation, narrow field updates,
// atomic failure-counter bumps, cancellation, and transactional leasing.
//
// Readiness is never stored. The `ready` and `ready_at` columns are VIRTUAL
// generated columns derived from status and the retry fields, and the Go
// projections Job.Ready / Job.ReadyAt mirror the same rules for in-memory
// evaluation. A job is eligible for leasing iff it is ready, its ready_at has
// passed, and no lease is held; the lease is released by the next status
// write.
//
// Treat this package as the single source of truth for job semantics; schema
// changes are appended to the embedded migrations directory and recorded in
// the migration ledger.
package jobs
