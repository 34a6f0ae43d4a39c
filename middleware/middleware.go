// Package middleware provides the cross-cutting layers a job passes
// through on its way to the handler: panic recovery, logging, deadlines,
// metrics, and tracing. Layers compose with Chain and run synchronously
// around the handler call.
package middleware

import (
	"context"

	"github.com/conveyorhq/conveyor/job"
)

// Handler is the innermost call: the job's own logic.
type Handler func(ctx context.Context) error

// Middleware is one layer around a Handler. A layer decides whether and
// how to invoke next; returning without calling next short-circuits the
// rest of the chain.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain flattens layers into one Middleware. The first argument becomes
// the outermost layer, so Chain(a, b, c) runs a, then b, then c, then
// the handler.
func Chain(layers ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return runChain(ctx, j, layers, next)
	}
}

func runChain(ctx context.Context, j *job.Job, layers []Middleware, next Handler) error {
	if len(layers) == 0 {
		return next(ctx)
	}
	head, rest := layers[0], layers[1:]
	return head(ctx, j, func(ctx context.Context) error {
		return runChain(ctx, j, rest, next)
	})
}
