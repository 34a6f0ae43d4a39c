package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/conveyorhq/conveyor/engine"
	"github.com/conveyorhq/conveyor/job"
)

// EmailPayload is the payload for "email" jobs. Delivery is simulated:
// the daemon has no SMTP transport, so the job logs and completes.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// WebhookPayload is the payload for "webhook" jobs: an HTTP POST of Body
// to URL. Non-2xx responses fail the attempt so the retry policy applies.
type WebhookPayload struct {
	URL  string          `json:"url"`
	Body json.RawMessage `json:"body"`
}

// SleepPayload is the payload for "sleep" jobs, useful for load and
// shutdown testing.
type SleepPayload struct {
	DurationMS int `json:"duration_ms"`
}

// DataProcessingPayload is the payload for "data-processing" jobs.
type DataProcessingPayload struct {
	Records []string `json:"records"`
}

// registerBuiltins installs the job kinds the daemon handles out of the
// box. Deployments embedding the engine register their own instead.
func registerBuiltins(eng *engine.Engine, logger *slog.Logger) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	engine.Register(eng, job.NewDefinition("email", func(ctx context.Context, p EmailPayload) error {
		logger.Info("email sent",
			slog.String("to", p.To),
			slog.String("subject", p.Subject),
		)
		return nil
	}))

	engine.Register(eng, job.NewDefinition("webhook", func(ctx context.Context, p WebhookPayload) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(p.Body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("deliver webhook: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("webhook endpoint returned %s", resp.Status)
		}
		return nil
	}))

	engine.Register(eng, job.NewDefinition("sleep", func(ctx context.Context, p SleepPayload) error {
		select {
		case <-time.After(time.Duration(p.DurationMS) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	engine.Register(eng, job.NewDefinition("data-processing", func(ctx context.Context, p DataProcessingPayload) error {
		var size int
		for _, rec := range p.Records {
			if err := ctx.Err(); err != nil {
				return err
			}
			size += len(rec)
		}
		logger.Info("records processed",
			slog.Int("count", len(p.Records)),
			slog.Int("bytes", size),
		)
		return nil
	}))
}
