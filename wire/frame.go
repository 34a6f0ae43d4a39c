// Package wire implements the Conveyor wire protocol, a frame-based
// protocol for producers and status consumers. It is transported over
// WebSocket (primary), SSE (read-only fallback), and HTTP (one-shot
// RPC).
package wire

import (
	"encoding/json"
	"time"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the protocol message envelope. Every message exchanged over
// the protocol is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g., "job.submit").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (typically only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// TenantID scopes the request to a tenant.
	TenantID string `json:"tenant_id,omitempty" msgpack:"tenant_id,omitempty"`

	// Data carries the method-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Topic identifies the subscription topic for event frames.
	Topic string `json:"topic,omitempty" msgpack:"topic,omitempty"`

	// Credits replenishes flow-control credits (backpressure).
	Credits int `json:"credits,omitempty" msgpack:"credits,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ── Well-known methods ──────────────────────────────

const (
	// Auth methods.
	MethodAuth = "auth"

	// Job methods.
	MethodJobSubmit = "job.submit"
	MethodJobGet    = "job.get"
	MethodJobList   = "job.list"

	// Subscription methods.
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"

	// Admin methods.
	MethodStats = "stats"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeForbidden      = 403
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeConflict       = 409
	ErrCodeInternal       = 500
)

// ── Request/Response payloads ───────────────────────

// AuthRequest is sent by clients to authenticate.
type AuthRequest struct {
	Token  string `json:"token"`
	Format string `json:"format,omitempty"` // "json" (default) or "msgpack"
}

// AuthResponse is returned after successful authentication.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// JobSubmitRequest submits a new job.
type JobSubmitRequest struct {
	TenantID string          `json:"tenant_id,omitempty"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// JobSubmitResponse confirms job creation.
type JobSubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobGetRequest retrieves a job by ID.
type JobGetRequest struct {
	JobID string `json:"job_id"`
}

// JobListRequest lists a tenant's jobs.
type JobListRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// JobListResponse carries a page of jobs and the pre-pagination total.
type JobListResponse struct {
	Jobs  []json.RawMessage `json:"jobs"`
	Total int               `json:"total"`
}

// SubscribeRequest subscribes to a topic.
type SubscribeRequest struct {
	Topic   string `json:"topic"`
	Credits int    `json:"credits,omitempty"` // Initial credits (0 = use default)
}

// UnsubscribeRequest removes a subscription.
type UnsubscribeRequest struct {
	Topic string `json:"topic"`
}

// NewRequestFrame creates a new request frame.
func NewRequestFrame(id, method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id,
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        generateFrameID(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       generateFrameID(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEventFrame creates an event frame for a subscription topic.
func NewEventFrame(topic string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        generateFrameID(),
		Type:      FrameEvent,
		Topic:     topic,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// GenerateFrameID returns a new unique frame ID.
// Uses a simple timestamp approach for performance.
func GenerateFrameID() string {
	return time.Now().UTC().Format("20060102150405.000000000")
}

func generateFrameID() string { return GenerateFrameID() }
