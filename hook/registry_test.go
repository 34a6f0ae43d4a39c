package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/job"
)

// allEventsHook implements every lifecycle event for testing.
type allEventsHook struct {
	calls []string
}

func (h *allEventsHook) Name() string { return "all-events" }

func (h *allEventsHook) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobSubmitted")
	return nil
}

func (h *allEventsHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobStarted")
	return nil
}

func (h *allEventsHook) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.calls = append(h.calls, "OnJobCompleted")
	return nil
}

func (h *allEventsHook) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	h.calls = append(h.calls, "OnJobFailed")
	return nil
}

func (h *allEventsHook) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ error) error {
	h.calls = append(h.calls, "OnJobRetrying")
	return nil
}

func (h *allEventsHook) OnShutdown(_ context.Context) error {
	h.calls = append(h.calls, "OnShutdown")
	return nil
}

// submitOnlyHook only implements the submit event.
type submitOnlyHook struct {
	calls []string
}

func (h *submitOnlyHook) Name() string { return "submit-only" }

func (h *submitOnlyHook) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobSubmitted")
	return nil
}

// failingHook returns errors from events.
type failingHook struct{}

func (h *failingHook) Name() string { return "failing" }

func (h *failingHook) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (h *failingHook) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	r.Register(all)

	if got := len(r.Hooks()); got != 1 {
		t.Fatalf("expected 1 hook, got %d", got)
	}
	if got := r.Hooks()[0].Name(); got != "all-events" {
		t.Fatalf("expected name 'all-events', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	so := &submitOnlyHook{}
	r.Register(all)
	r.Register(so)

	ctx := context.Background()
	j := &job.Job{Type: "email:send"}

	// Both implement OnJobSubmitted → both called.
	r.EmitJobSubmitted(ctx, j)
	if len(all.calls) != 1 || all.calls[0] != "OnJobSubmitted" {
		t.Fatalf("all: expected [OnJobSubmitted], got %v", all.calls)
	}
	if len(so.calls) != 1 || so.calls[0] != "OnJobSubmitted" {
		t.Fatalf("so: expected [OnJobSubmitted], got %v", so.calls)
	}

	// Only all implements OnJobStarted → so not called.
	r.EmitJobStarted(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if len(so.calls) != 1 {
		t.Fatalf("so: should still have 1 call, got %v", so.calls)
	}
}

func TestRegistry_AllEventsFire(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Type: "email:send"}

	r.EmitJobSubmitted(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitJobRetrying(ctx, j, 1, errors.New("attempt fail"))
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobSubmitted", "OnJobStarted", "OnJobCompleted",
		"OnJobFailed", "OnJobRetrying", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	failing := &failingHook{}
	all := &allEventsHook{}

	// Register failing first, then all-events. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Type: "email:send"}

	// No panic, no error propagation. allEventsHook should still fire.
	r.EmitJobSubmitted(ctx, j)

	if len(all.calls) != 1 || all.calls[0] != "OnJobSubmitted" {
		t.Fatalf("all: expected [OnJobSubmitted] despite failing hook, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ctx := context.Background()

	// None of these should panic or error.
	r.EmitJobSubmitted(ctx, &job.Job{})
	r.EmitJobStarted(ctx, &job.Job{})
	r.EmitJobCompleted(ctx, &job.Job{}, time.Second)
	r.EmitJobFailed(ctx, &job.Job{}, errors.New("x"))
	r.EmitJobRetrying(ctx, &job.Job{}, 1, errors.New("x"))
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleHooksOrderPreserved(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	h1 := &allEventsHook{}
	h2 := &allEventsHook{}
	r.Register(h1)
	r.Register(h2)

	ctx := context.Background()
	r.EmitJobSubmitted(ctx, &job.Job{})

	if len(h1.calls) != 1 {
		t.Errorf("h1: expected 1 call, got %d", len(h1.calls))
	}
	if len(h2.calls) != 1 {
		t.Errorf("h2: expected 1 call, got %d", len(h2.calls))
	}
}
