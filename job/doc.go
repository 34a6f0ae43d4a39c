// Package job defines the job entity, its status machine, typed handler
// definitions, and the store interface.
//
// # Job Entity
//
// A [Job] represents a unit of work owned by a tenant. It embeds
// [conveyor.Entity] for timestamps, carries a raw JSON payload, and
// progresses through a status machine:
//
//	pending → running → completed
//	pending → running → pending (retry, attempt budget remaining)
//	pending → running → failed  (attempt budget exhausted)
//
// Attempts counts started attempts and only increases; completed and
// failed are terminal.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized at
// submit time and deserialized before the handler runs:
//
//	var SendEmail = job.NewDefinition("email",
//	    func(ctx context.Context, input EmailInput) error {
//	        return mailer.Send(input.To, input.Subject, input.Body)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job types to type-erased [HandlerFunc] values. Register
// definitions at startup via [RegisterDefinition]. A job whose type has no
// registered handler fails that attempt; dispatch is open by string so new
// kinds can be added without touching the worker loop.
package job
