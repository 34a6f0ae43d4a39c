package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("conveyor: no store configured")
	ErrStoreClosed = errors.New("conveyor: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("conveyor: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")

	// State errors.
	ErrTerminalState       = errors.New("conveyor: job is in a terminal state")
	ErrMaxAttemptsExceeded = errors.New("conveyor: max attempts exceeded")

	// Queue errors.
	ErrQueueEmpty  = errors.New("conveyor: queue empty")
	ErrQueueFull   = errors.New("conveyor: queue full")
	ErrQueueClosed = errors.New("conveyor: queue closed")

	// Limit errors.
	ErrRateLimited = errors.New("conveyor: tenant rate limited")

	// Validation errors.
	ErrMissingTenant = errors.New("conveyor: tenant id is required")
	ErrMissingType   = errors.New("conveyor: job type is required")
)
