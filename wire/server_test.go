package wire

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/conveyorhq/conveyor/engine"
	"github.com/conveyorhq/conveyor/notify"
)

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng := newTestEngine(t)
	s := NewServer(eng, append([]Option{WithLogger(testLogger())}, opts...)...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, eng
}

func postRPC(t *testing.T, srv *httptest.Server, frame *Frame) (*http.Response, *Frame) {
	t.Helper()
	body, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	resp, err := http.Post(srv.URL+"/wire/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST rpc: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck

	var out Frame
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, &out
}

func TestRPCSubmitAndGet(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	frame, err := NewRequestFrame("r1", MethodJobSubmit, JobSubmitRequest{
		TenantID: "acme",
		Type:     "email:send",
	})
	if err != nil {
		t.Fatalf("NewRequestFrame() error = %v", err)
	}
	httpResp, respFrame := postRPC(t, srv, frame)
	if httpResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, frame = %+v", httpResp.StatusCode, respFrame)
	}

	var submitted JobSubmitResponse
	if err := json.Unmarshal(respFrame.Data, &submitted); err != nil {
		t.Fatalf("unmarshal submit response: %v", err)
	}

	getFrame, err := NewRequestFrame("r2", MethodJobGet, JobGetRequest{JobID: submitted.JobID})
	if err != nil {
		t.Fatalf("NewRequestFrame() error = %v", err)
	}
	httpResp, respFrame = postRPC(t, srv, getFrame)
	if httpResp.StatusCode != http.StatusOK || respFrame.Type != FrameResponse {
		t.Errorf("get: status = %d, frame = %+v", httpResp.StatusCode, respFrame)
	}
}

func TestRPCUnauthorized(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, WithAuth(NewAPIKeyAuthenticator(
		APIKeyEntry{Token: "good", Identity: Identity{Subject: "svc", Scopes: []string{ScopeAll}}},
	)))

	frame, err := NewRequestFrame("r1", MethodJobSubmit, JobSubmitRequest{TenantID: "acme", Type: "email:send"})
	if err != nil {
		t.Fatalf("NewRequestFrame() error = %v", err)
	}
	frame.Token = "bad"
	httpResp, respFrame := postRPC(t, srv, frame)
	if httpResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 (frame = %+v)", httpResp.StatusCode, respFrame)
	}
}

func TestRPCForbiddenScope(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, WithAuth(NewAPIKeyAuthenticator(
		APIKeyEntry{Token: "reader", Identity: Identity{Subject: "svc", Scopes: []string{ScopeJobRead}}},
	)))

	frame, err := NewRequestFrame("r1", MethodJobSubmit, JobSubmitRequest{TenantID: "acme", Type: "email:send"})
	if err != nil {
		t.Fatalf("NewRequestFrame() error = %v", err)
	}
	frame.Token = "reader"
	httpResp, _ := postRPC(t, srv, frame)
	if httpResp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", httpResp.StatusCode)
	}
}

func TestSSEDeliversEvents(t *testing.T) {
	t.Parallel()
	srv, eng := newTestServer(t)

	resp, err := http.Get(srv.URL + "/wire/sse?token=dev&topic=" + notify.TenantTopic("acme"))
	if err != nil {
		t.Fatalf("GET sse: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// Wait for the subscription to register before submitting.
	deadline := time.Now().Add(2 * time.Second)
	for eng.Broker().Stats().SubscriberCount == 0 {
		if time.Now().After(deadline) {
			t.Fatal("SSE subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := eng.SubmitRaw(context.Background(), "acme", "email:send", nil); err != nil {
		t.Fatalf("SubmitRaw() error = %v", err)
	}

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			t.Fatalf("read SSE stream: %v", readErr)
		}
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimPrefix(line, "data: ")
		}
		if eventLine != "" && dataLine != "" {
			break
		}
	}

	if eventLine != string(notify.EventJobSubmitted) {
		t.Errorf("event = %q, want %q", eventLine, notify.EventJobSubmitted)
	}
	var evt notify.Event
	if err := json.Unmarshal([]byte(dataLine), &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if evt.TenantID != "acme" {
		t.Errorf("event tenant = %q, want acme", evt.TenantID)
	}
}

func TestSSERequiresTopic(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/wire/sse?token=dev")
	if err != nil {
		t.Fatalf("GET sse: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/wire"
	conn, _, _, err := ws.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("ws.Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	return &wsClient{t: t, conn: conn}
}

type wsClient struct {
	t    *testing.T
	conn net.Conn
}

func (c *wsClient) send(frame *Frame) {
	c.t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		c.t.Fatalf("marshal frame: %v", err)
	}
	if err := wsutil.WriteClientText(c.conn, data); err != nil {
		c.t.Fatalf("write frame: %v", err)
	}
}

func (c *wsClient) recv() *Frame {
	c.t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		c.t.Fatalf("set deadline: %v", err)
	}
	data, err := wsutil.ReadServerText(c.conn)
	if err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.t.Fatalf("unmarshal frame: %v", err)
	}
	return &frame
}

func (c *wsClient) authenticate() {
	c.t.Helper()
	authFrame, err := NewRequestFrame("auth-1", MethodAuth, AuthRequest{Token: "dev"})
	if err != nil {
		c.t.Fatalf("NewRequestFrame() error = %v", err)
	}
	c.send(authFrame)
	resp := c.recv()
	if resp.Type != FrameResponse {
		c.t.Fatalf("auth response = %+v", resp)
	}
}

func TestWebSocketLifecycle(t *testing.T) {
	t.Parallel()
	srv, eng := newTestServer(t)

	client := dialWS(t, srv)
	client.authenticate()

	// Subscribe to the tenant topic.
	subFrame, err := NewRequestFrame("sub-1", MethodSubscribe, SubscribeRequest{Topic: notify.TenantTopic("acme")})
	if err != nil {
		t.Fatalf("NewRequestFrame() error = %v", err)
	}
	client.send(subFrame)
	resp := client.recv()
	if resp.Type != FrameResponse {
		t.Fatalf("subscribe response = %+v", resp)
	}

	// Submit over the same socket.
	submitFrame, err := NewRequestFrame("sub-2", MethodJobSubmit, JobSubmitRequest{
		TenantID: "acme",
		Type:     "email:send",
	})
	if err != nil {
		t.Fatalf("NewRequestFrame() error = %v", err)
	}
	client.send(submitFrame)

	// Expect the submit response and the job.submitted event, in either
	// order (the forwarder goroutine races the response write).
	var sawResponse, sawEvent bool
	for range 2 {
		frame := client.recv()
		switch frame.Type {
		case FrameResponse:
			sawResponse = true
		case FrameEvent:
			sawEvent = true
			var evt notify.Event
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			if evt.Type != notify.EventJobSubmitted {
				t.Errorf("event type = %q, want %q", evt.Type, notify.EventJobSubmitted)
			}
		default:
			t.Fatalf("unexpected frame %+v", frame)
		}
	}
	if !sawResponse || !sawEvent {
		t.Errorf("sawResponse = %v, sawEvent = %v", sawResponse, sawEvent)
	}

	if eng.Broker().Stats().SubscriberCount != 1 {
		t.Errorf("subscriber count = %d, want 1", eng.Broker().Stats().SubscriberCount)
	}
}

func TestWebSocketPingPong(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	client := dialWS(t, srv)
	client.authenticate()

	client.send(&Frame{ID: "p1", Type: FramePing, Timestamp: time.Now().UTC()})
	pong := client.recv()
	if pong.Type != FramePong || pong.CorrelID != "p1" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestWebSocketRequiresAuthFirst(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	client := dialWS(t, srv)
	frame, err := NewRequestFrame("r1", MethodStats, nil)
	if err != nil {
		t.Fatalf("NewRequestFrame() error = %v", err)
	}
	client.send(frame)

	resp := client.recv()
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("response = %+v, want bad request", resp)
	}
}
