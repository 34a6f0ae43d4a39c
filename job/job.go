package job

import (
	"encoding/json"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting in the queue for a worker.
	// It is the initial state and is re-entered on retry.
	StatusPending Status = "pending"
	// StatusRunning means a worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the job exhausted its attempt budget. Terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is a terminal status. Terminal jobs never
// transition again; a late or duplicate queue delivery for one is a no-op.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job represents a unit of work submitted by a tenant.
type Job struct {
	conveyor.Entity

	ID       id.JobID        `json:"id"`
	TenantID string          `json:"tenant_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Status   Status          `json:"status"`

	// Attempts counts started processing attempts, not failures. It only
	// ever increases.
	Attempts int `json:"attempts"`

	// LastError holds the most recent failure message. Cleared on success.
	LastError string `json:"last_error,omitempty"`
}
