package notify

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of the event stream. Delivery is pull-paced:
// the consumer grants credits, each delivered event spends one, and a
// subscriber at zero credits is skipped until it replenishes. Combined
// with the non-blocking channel send this keeps a slow consumer from
// ever stalling the publisher.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64
	dropped atomic.Int64
	closed  atomic.Bool

	mu     sync.RWMutex
	topics map[string]struct{}

	// filter, when set, suppresses events the predicate rejects.
	filter func(*Event) bool
}

// NewSubscriber creates a subscriber whose channel holds up to bufferSize
// undelivered events and which starts with initialCredits credits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	sub := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	sub.credits.Store(initialCredits)
	return sub
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C is the channel events arrive on. It is closed by Close.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits grants n additional delivery credits.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits reports the credits remaining.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Dropped reports how many events were discarded for this subscriber,
// whether for lack of credits or a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter installs a delivery predicate. Events it rejects are
// silently skipped and do not spend credits.
func (s *Subscriber) SetFilter(fn func(*Event) bool) { s.filter = fn }

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns the names of the topics this subscriber is attached to.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.topics))
	for name := range s.topics {
		names = append(names, name)
	}
	return names
}

// send offers evt to the subscriber without ever blocking. It reports
// whether the event was accepted; a false return means the event is gone
// as far as this subscriber is concerned.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	// Spend one credit, or drop if none remain.
	for {
		have := s.credits.Load()
		if have <= 0 {
			s.dropped.Add(1)
			return false
		}
		if s.credits.CompareAndSwap(have, have-1) {
			break
		}
	}

	select {
	case s.ch <- evt:
		return true
	default:
		// Buffer full. Refund the credit so the consumer's grant
		// accounting stays accurate.
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}
}

// Close closes the event channel. It is idempotent.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
