package wire

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/engine"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/notify"
)

// Handler dispatches protocol frames to engine operations.
type Handler struct {
	eng    *engine.Engine
	conns  *ConnectionManager
	logger *slog.Logger
}

// NewHandler creates a new protocol method handler.
func NewHandler(eng *engine.Engine, logger *slog.Logger) *Handler {
	return &Handler{eng: eng, logger: logger}
}

// SetConnections attaches a connection manager so the stats method can
// report active connection counts.
func (h *Handler) SetConnections(cm *ConnectionManager) {
	h.conns = cm
}

// Handle processes a single request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	switch frame.Method {
	case MethodJobSubmit:
		return h.handleJobSubmit(ctx, frame, conn)
	case MethodJobGet:
		return h.handleJobGet(ctx, frame, conn)
	case MethodJobList:
		return h.handleJobList(ctx, frame, conn)
	case MethodSubscribe:
		return h.handleSubscribe(ctx, frame, conn)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame)
	case MethodStats:
		return h.handleStats(ctx, frame)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame
// on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

// resolveTenant picks the effective tenant for a request. A
// tenant-scoped identity may only act as its own tenant; requesting
// another tenant is forbidden.
func resolveTenant(conn *Connection, requested string) (string, bool) {
	if conn.Identity == nil || conn.Identity.TenantID == "" {
		return requested, true
	}
	if requested != "" && requested != conn.Identity.TenantID {
		return "", false
	}
	return conn.Identity.TenantID, true
}

func (h *Handler) handleJobSubmit(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req JobSubmitRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	tenantID, ok := resolveTenant(conn, req.TenantID)
	if !ok {
		return NewErrorFrame(frame.ID, ErrCodeForbidden, "tenant mismatch")
	}

	j, err := h.eng.SubmitRaw(ctx, tenantID, req.Type, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, conveyor.ErrMissingTenant), errors.Is(err, conveyor.ErrMissingType):
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
		default:
			return NewErrorFrame(frame.ID, ErrCodeInternal, "submit failed: "+err.Error())
		}
	}

	return mustResponseFrame(frame.ID, JobSubmitResponse{
		JobID:  j.ID.String(),
		Status: string(j.Status),
	})
}

func (h *Handler) handleJobGet(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req JobGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}

	j, err := h.eng.GetJob(ctx, jobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeNotFound, "job not found")
	}

	// A tenant-scoped identity must not learn about other tenants' jobs,
	// not even their existence.
	if conn.Identity != nil && conn.Identity.TenantID != "" && j.TenantID != conn.Identity.TenantID {
		return NewErrorFrame(frame.ID, ErrCodeNotFound, "job not found")
	}

	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleJobList(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req JobListRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	tenantID, ok := resolveTenant(conn, req.TenantID)
	if !ok {
		return NewErrorFrame(frame.ID, ErrCodeForbidden, "tenant mismatch")
	}

	jobs, total, err := h.eng.ListJobs(ctx, tenantID, job.ListOpts{
		Status: job.Status(req.Status),
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		if errors.Is(err, conveyor.ErrMissingTenant) {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
		}
		return NewErrorFrame(frame.ID, ErrCodeInternal, "list failed: "+err.Error())
	}

	raw := make([]json.RawMessage, 0, len(jobs))
	for _, j := range jobs {
		data, marshalErr := json.Marshal(j)
		if marshalErr != nil {
			return NewErrorFrame(frame.ID, ErrCodeInternal, "marshal job: "+marshalErr.Error())
		}
		raw = append(raw, data)
	}

	return mustResponseFrame(frame.ID, JobListResponse{Jobs: raw, Total: total})
}

// authorizeTopic rejects subscriptions a tenant-scoped identity must
// not see: other tenants' topics, other tenants' jobs, and the
// firehose.
func (h *Handler) authorizeTopic(ctx context.Context, conn *Connection, topic string) (int, string) {
	if conn.Identity == nil || conn.Identity.TenantID == "" {
		return 0, ""
	}

	entityType, entityID := notify.ParseTopicEntity(topic)
	switch entityType {
	case "tenant":
		if entityID != conn.Identity.TenantID {
			return ErrCodeForbidden, "cannot subscribe to another tenant's topic"
		}
	case "job":
		jobID, err := id.ParseJobID(entityID)
		if err != nil {
			return ErrCodeBadRequest, "invalid job ID in topic"
		}
		j, err := h.eng.GetJob(ctx, jobID)
		if err != nil || j.TenantID != conn.Identity.TenantID {
			return ErrCodeNotFound, "job not found"
		}
	default:
		return ErrCodeForbidden, "topic requires operator credentials"
	}
	return 0, ""
}

func (h *Handler) handleSubscribe(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	if err := notify.ValidateTopic(req.Topic); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}
	if code, msg := h.authorizeTopic(ctx, conn, req.Topic); code != 0 {
		return NewErrorFrame(frame.ID, code, msg)
	}

	// Actual subscription is done in the server loop after the response
	// is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"topic":  req.Topic,
		"status": "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(frame *Frame) *Frame {
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	// Actual unsubscription is done in the server loop after the
	// response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"topic":  req.Topic,
		"status": "unsubscribed",
	})
}

func (h *Handler) handleStats(ctx context.Context, frame *Frame) *Frame {
	queueLen, err := h.eng.Queue().Length(ctx)
	if err != nil {
		queueLen = -1
	}

	connCount := 0
	if h.conns != nil {
		connCount = h.conns.Count()
	}

	return mustResponseFrame(frame.ID, map[string]any{
		"broker":       h.eng.Broker().Stats(),
		"connections":  connCount,
		"queue_length": queueLen,
	})
}
