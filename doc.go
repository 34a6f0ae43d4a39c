// Package conveyor provides a multi-tenant background job queue for Go:
// producers submit typed jobs, a FIFO queue hands job IDs to a pool of
// workers, workers drive each job through a bounded-retry state machine,
// and status changes fan out in real time to subscribed connections,
// partitioned by tenant.
//
// Conveyor is designed as a library, not a service. Import it, configure a
// store and a queue, register job handlers as ordinary Go functions, and
// start the engine:
//
//	eng, err := engine.New(conveyor.DefaultConfig(), store, queue, logger)
//	engine.Register(eng, job.NewDefinition("email", sendEmail))
//	eng.Start(ctx)
//
// Delivery is at-least-once: a job may be processed more than once under
// failure conditions, so handlers should be idempotent where possible. The
// job store is the source of truth for status; the notification stream is a
// liveness optimization, best-effort and at-most-once per live connection.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conveyor
