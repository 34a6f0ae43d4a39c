package wire

import (
	"sync"
	"sync/atomic"
	"time"
)

// Connection is one authenticated client session, shared by the
// WebSocket loop and the one-shot transports. The identity and codec
// are fixed at handshake time; the subscription set changes as the
// client subscribes and unsubscribes.
type Connection struct {
	ID          string
	Identity    *Identity
	Codec       Codec
	ConnectedAt time.Time

	// LastActivity holds the time.Time of the most recent frame.
	LastActivity atomic.Value

	mu   sync.RWMutex
	subs map[string]struct{}
}

// NewConnection creates a session for an authenticated identity.
func NewConnection(id string, identity *Identity, codec Codec) *Connection {
	now := time.Now().UTC()
	c := &Connection{
		ID:          id,
		Identity:    identity,
		Codec:       codec,
		ConnectedAt: now,
		subs:        make(map[string]struct{}),
	}
	c.LastActivity.Store(now)
	return c
}

// Touch marks the connection as active now.
func (c *Connection) Touch() {
	c.LastActivity.Store(time.Now().UTC())
}

// AddSubscription records that the session is subscribed to topic.
// Adding an already-present topic is a no-op.
func (c *Connection) AddSubscription(topic string) {
	c.mu.Lock()
	c.subs[topic] = struct{}{}
	c.mu.Unlock()
}

// RemoveSubscription forgets a topic subscription.
func (c *Connection) RemoveSubscription(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
}

// Subscriptions snapshots the session's topic names.
func (c *Connection) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	return topics
}

// ConnectionManager is the server's registry of live sessions.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionManager creates an empty registry.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{conns: make(map[string]*Connection)}
}

// Add registers conn under its ID, replacing any previous session with
// the same ID.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.conns[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove drops the session with the given ID, if present.
func (cm *ConnectionManager) Remove(connID string) {
	cm.mu.Lock()
	delete(cm.conns, connID)
	cm.mu.Unlock()
}

// Get looks up a session by ID.
func (cm *ConnectionManager) Get(connID string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	conn, ok := cm.conns[connID]
	return conn, ok
}

// Count reports how many sessions are live.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// All snapshots the live sessions in no particular order.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	conns := make([]*Connection, 0, len(cm.conns))
	for _, conn := range cm.conns {
		conns = append(conns, conn)
	}
	return conns
}
