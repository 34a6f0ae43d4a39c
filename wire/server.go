package wire

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/conveyorhq/conveyor/engine"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/notify"
)

// Server exposes the Conveyor engine over the wire protocol. It handles
// WebSocket (bidirectional), SSE (read-only fallback), and one-shot
// HTTP RPC.
type Server struct {
	eng          *engine.Engine
	handler      *Handler
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	logger       *slog.Logger
	basePath     string
}

// Option configures a Server.
type Option func(*Server)

// WithAuth sets the authenticator. If not set, NoopAuthenticator is
// used (development mode).
func WithAuth(auth Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// WithCodec sets the default codec. Clients can override via the auth
// frame's format field.
func WithCodec(codec Codec) Option {
	return func(s *Server) { s.defaultCodec = codec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPath sets the base path for protocol endpoints. Default is "/wire".
func WithPath(path string) Option {
	return func(s *Server) { s.basePath = path }
}

// NewServer creates a protocol server on top of an engine.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		eng:          eng,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
		basePath:     "/wire",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	s.handler = NewHandler(eng, s.logger)
	s.handler.SetConnections(s.conns)
	return s
}

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// RegisterRoutes mounts the protocol endpoints on a mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(s.basePath, s.handleWebSocket)
	mux.HandleFunc(s.basePath+"/sse", s.handleSSE)
	mux.HandleFunc(s.basePath+"/rpc", s.handleHTTPRPC)
}

// Handler returns an http.Handler serving all protocol endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// wsSession serializes writes to a WebSocket connection: the request
// loop and the event forwarder write concurrently.
type wsSession struct {
	conn  net.Conn
	codec Codec
	mu    sync.Mutex
}

func (sess *wsSession) writeFrame(frame *Frame) error {
	data, err := sess.codec.Encode(frame)
	if err != nil {
		return err
	}
	op := ws.OpText
	if sess.codec.Name() != CodecNameJSON {
		op = ws.OpBinary
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return wsutil.WriteServerMessage(sess.conn, op, data)
}

// handleWebSocket upgrades the HTTP request and runs the frame loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close() //nolint:errcheck

	s.serveWS(r, conn)
}

func (s *Server) serveWS(r *http.Request, conn net.Conn) {
	ctx := r.Context()

	// First frame must be auth, always JSON (before codec negotiation).
	authData, _, err := wsutil.ReadClientData(conn)
	if err != nil {
		return
	}

	jsonSess := &wsSession{conn: conn, codec: &JSONCodec{}}

	var authFrame Frame
	if err := json.Unmarshal(authData, &authFrame); err != nil {
		//nolint:errcheck // best-effort error response before disconnect
		jsonSess.writeFrame(NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return
	}
	if authFrame.Method != MethodAuth {
		//nolint:errcheck // best-effort error response before disconnect
		jsonSess.writeFrame(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			//nolint:errcheck // best-effort error response before disconnect
			jsonSess.writeFrame(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return
		}
	}

	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, authErr := s.auth.Authenticate(ctx, token)
	if authErr != nil {
		//nolint:errcheck // best-effort error response before disconnect
		jsonSess.writeFrame(NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return
	}

	codec := s.defaultCodec
	if authReq.Format != "" {
		codec = GetCodec(authReq.Format)
	}
	sess := &wsSession{conn: conn, codec: codec}

	connID := id.NewSubscriberID().String()
	wireConn := NewConnection(connID, identity, codec)
	s.conns.Add(wireConn)
	defer func() {
		s.eng.RemoveSubscriber(connID)
		s.conns.Remove(connID)
		s.logger.Info("websocket disconnected", slog.String("conn_id", connID))
	}()

	resp, respErr := NewResponseFrame(authFrame.ID, AuthResponse{
		Format:    codec.Name(),
		SessionID: connID,
	})
	if respErr != nil {
		return
	}
	// The auth response is sent in the negotiated format.
	if err := sess.writeFrame(resp); err != nil {
		return
	}

	s.logger.Info("websocket authenticated",
		slog.String("conn_id", connID),
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	// Create a subscriber for this connection and forward broker events
	// to the socket.
	sub, subErr := s.eng.Subscribe(connID)
	if subErr != nil {
		return
	}
	go s.forwardEvents(sess, sub)

	for {
		data, _, readErr := wsutil.ReadClientData(conn)
		if readErr != nil {
			return // Connection closed.
		}

		wireConn.Touch()

		frame, decErr := codec.Decode(data)
		if decErr != nil {
			s.writeOrWarn(sess, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error()))
			continue
		}

		if frame.Type == FramePing {
			s.writeOrWarn(sess, &Frame{
				ID:        generateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: frame.Timestamp,
			})
			continue
		}

		if frame.Method != "" {
			reqScope := RequiredScope(frame.Method)
			if reqScope != "" && !identity.HasScope(reqScope) {
				s.writeOrWarn(sess, NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions"))
				continue
			}
		}

		// Credit replenishment frames carry no method.
		if frame.Credits > 0 && frame.Method == "" {
			sub.AddCredits(int64(frame.Credits))
			continue
		}

		respFrame := s.handler.Handle(ctx, frame, wireConn)
		if respFrame == nil {
			continue
		}

		// Subscribe/unsubscribe take effect only after the handler
		// authorized them.
		if respFrame.Type == FrameResponse {
			switch frame.Method {
			case MethodSubscribe:
				var subReq SubscribeRequest
				if json.Unmarshal(frame.Data, &subReq) == nil {
					s.eng.Broker().SubscribeTo(connID, subReq.Topic)
					wireConn.AddSubscription(subReq.Topic)
					if subReq.Credits > 0 {
						sub.AddCredits(int64(subReq.Credits))
					}
				}
			case MethodUnsubscribe:
				var unsubReq UnsubscribeRequest
				if json.Unmarshal(frame.Data, &unsubReq) == nil {
					s.eng.Unsubscribe(connID, unsubReq.Topic)
					wireConn.RemoveSubscription(unsubReq.Topic)
				}
			}
		}

		s.writeOrWarn(sess, respFrame)
	}
}

func (s *Server) writeOrWarn(sess *wsSession, frame *Frame) {
	if err := sess.writeFrame(frame); err != nil {
		s.logger.Warn("failed to write frame", slog.String("error", err.Error()))
	}
}

// forwardEvents reads from the subscriber channel and writes event
// frames to the socket until either side goes away.
func (s *Server) forwardEvents(sess *wsSession, sub *notify.Subscriber) {
	for evt := range sub.C() {
		evtFrame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if writeErr := sess.writeFrame(evtFrame); writeErr != nil {
			return // Connection gone.
		}
	}
}

// handleSSE serves read-only Server-Sent Events for clients that
// cannot establish WebSocket connections.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	identity, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "topic parameter required", http.StatusBadRequest)
		return
	}
	if err := notify.ValidateTopic(topic); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !identity.HasScope(ScopeSubscribe) && !identity.HasScope(ScopeAll) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	connID := "sse-" + generateFrameID()
	tmpConn := NewConnection(connID, identity, &JSONCodec{})
	if code, msg := s.handler.authorizeTopic(r.Context(), tmpConn, topic); code != 0 {
		http.Error(w, msg, code)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub, subErr := s.eng.Subscribe(connID, topic)
	if subErr != nil {
		return
	}
	defer s.eng.RemoveSubscriber(connID)

	for {
		select {
		case evt, chOk := <-sub.C():
			if !chOk {
				return
			}
			data, marshalErr := json.Marshal(evt)
			if marshalErr != nil {
				continue
			}
			if _, writeErr := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); writeErr != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleHTTPRPC handles one-shot HTTP RPC requests for simple
// operations.
func (s *Server) handleHTTPRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var frame Frame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorFrame("", ErrCodeBadRequest, "invalid request body"))
		return
	}

	token := frame.Token
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	identity, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		s.writeJSON(w, http.StatusUnauthorized, NewErrorFrame(frame.ID, ErrCodeUnauthorized, "unauthorized"))
		return
	}

	reqScope := RequiredScope(frame.Method)
	if reqScope != "" && !identity.HasScope(reqScope) {
		s.writeJSON(w, http.StatusForbidden, NewErrorFrame(frame.ID, ErrCodeForbidden, "forbidden"))
		return
	}

	conn := NewConnection("rpc-"+generateFrameID(), identity, &JSONCodec{})

	resp := s.handler.Handle(r.Context(), &frame, conn)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	status := http.StatusOK
	if resp.Type == FrameErr && resp.Error != nil {
		status = resp.Error.Code
		if status < 100 || status > 599 {
			status = http.StatusInternalServerError
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
