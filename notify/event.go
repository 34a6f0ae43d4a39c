// Package notify provides the real-time status update broker. It bridges
// the hook.Registry lifecycle events to connected subscribers via
// tenant-partitioned topic pub/sub.
//
// Delivery to subscribers is best-effort at-most-once: events are dropped
// rather than buffered unboundedly when a subscriber cannot keep up. The
// durable job record in the store remains the source of truth.
package notify

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobSubmitted EventType = "job.submitted"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// TenantID is the tenant the job belongs to. Tenant topic routing
	// is derived from this field.
	TenantID string `json:"tenant_id"`

	// Topic is the job-specific channel this event was published on.
	Topic string `json:"topic,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	JobType   string `json:"job_type"`
	TenantID  string `json:"tenant_id"`
	Status    string `json:"status"`
	Attempt   int    `json:"attempt,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}
