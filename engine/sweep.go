package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/job"
)

// sweepLoop periodically requeues jobs stuck in running. A worker that
// crashed mid-attempt leaves its job running forever; the sweep returns
// such jobs to pending so another worker can pick them up. Attempt
// counts are preserved, so a job whose budget is already spent is
// finalized as failed on redelivery rather than executed again.
func (eng *Engine) sweepLoop() {
	defer close(eng.sweepDone)

	ticker := time.NewTicker(eng.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-eng.sweepStop:
			return
		case <-ticker.C:
			eng.sweepStale(context.Background())
		}
	}
}

func (eng *Engine) sweepStale(ctx context.Context) {
	stale, err := eng.store.ListStaleRunning(ctx, eng.staleThreshold)
	if err != nil {
		eng.logger.Error("stale job sweep failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		j.Status = job.StatusPending
		j.Touch()
		if err := eng.store.UpdateJob(ctx, j); err != nil {
			eng.logger.Error("failed to reset stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := eng.queue.Enqueue(ctx, j.ID); err != nil {
			eng.logger.Error("failed to requeue stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		eng.logger.Warn("requeued stale running job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempts", j.Attempts),
		)
	}
}
