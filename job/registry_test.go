package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/conveyorhq/conveyor/job"
)

type reportPayload struct {
	Name   string `json:"name"`
	Format string `json:"format"`
}

func TestRegistryRoundTripsTypedPayload(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry()
	var seen reportPayload
	job.RegisterDefinition(r, job.NewDefinition("report", func(_ context.Context, p reportPayload) error {
		seen = p
		return nil
	}))

	h, ok := r.Get("report")
	if !ok {
		t.Fatal("Get(report) found nothing after registration")
	}

	raw, err := json.Marshal(reportPayload{Name: "monthly", Format: "csv"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := h(context.Background(), raw); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if seen.Name != "monthly" || seen.Format != "csv" {
		t.Fatalf("handler saw %+v", seen)
	}
}

func TestRegistryGetUnknownType(t *testing.T) {
	t.Parallel()

	if _, ok := job.NewRegistry().Get("never-registered"); ok {
		t.Fatal("Get returned a handler for a type nobody registered")
	}
}

func TestRegistryTypes(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry()
	for _, name := range []string{"email", "webhook", "sleep"} {
		job.RegisterDefinition(r, job.NewDefinition(name, func(context.Context, struct{}) error { return nil }))
	}

	got := r.Types()
	slices.Sort(got)
	want := []string{"email", "sleep", "webhook"}
	if !slices.Equal(got, want) {
		t.Fatalf("Types() = %v, want %v", got, want)
	}
}

func TestRegistryMalformedPayloadSkipsHandler(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("strict", func(context.Context, reportPayload) error {
		t.Error("handler ran despite undecodable payload")
		return nil
	}))

	h, _ := r.Get("strict")
	if err := h(context.Background(), []byte(`{not json`)); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestRegistryNilPayloadIsZeroValue(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry()
	var called bool
	job.RegisterDefinition(r, job.NewDefinition("bare", func(context.Context, struct{}) error {
		called = true
		return nil
	}))

	h, _ := r.Get("bare")
	if err := h(context.Background(), nil); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !called {
		t.Fatal("handler never ran for a nil payload")
	}
}

func TestRegistryHandlerErrorsSurface(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry()
	want := errors.New("upstream said no")
	job.RegisterDefinition(r, job.NewDefinition("doomed", func(context.Context, struct{}) error {
		return want
	}))

	h, _ := r.Get("doomed")
	if err := h(context.Background(), nil); !errors.Is(err, want) {
		t.Fatalf("handler error = %v, want %v", err, want)
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status   job.Status
		terminal bool
	}{
		{job.StatusPending, false},
		{job.StatusRunning, false},
		{job.StatusCompleted, true},
		{job.StatusFailed, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}
