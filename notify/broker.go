package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook         = (*Broker)(nil)
	_ hook.JobSubmitted = (*Broker)(nil)
	_ hook.JobStarted   = (*Broker)(nil)
	_ hook.JobCompleted = (*Broker)(nil)
	_ hook.JobFailed    = (*Broker)(nil)
	_ hook.JobRetrying  = (*Broker)(nil)
	_ hook.Shutdown     = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time update broker. It implements the hook
// interfaces to receive lifecycle events and fans them out to
// subscribers via tenant-partitioned topic pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new update broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Hook.
func (b *Broker) Name() string { return "notify-broker" }

// Topics returns the topic registry for external use (e.g., wire server).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics. If a
// subscriber with the same ID already exists, it is returned unchanged
// after being added to any topics it is not yet on.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	if existing, loaded := b.subscribers.LoadOrStore(subscriberID, sub); loaded {
		sub = existing.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
// Removing an unknown subscriber is a no-op.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// publish broadcasts an event to all matching topics.
func (b *Broker) publish(evt *Event) {
	topics := resolveTopics(evt)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("notify: marshal event data: " + err.Error())
	}
	return data
}

func (b *Broker) publishJobEvent(evtType EventType, j *job.Job, data JobEventData) {
	data.JobID = j.ID.String()
	data.JobType = j.Type
	data.TenantID = j.TenantID
	data.Status = string(j.Status)
	b.publish(&Event{
		Type:      evtType,
		Timestamp: time.Now().UTC(),
		TenantID:  j.TenantID,
		Topic:     JobTopic(j.ID.String()),
		Data:      mustMarshal(data),
	})
}

func (b *Broker) OnJobSubmitted(_ context.Context, j *job.Job) error {
	b.publishJobEvent(EventJobSubmitted, j, JobEventData{})
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publishJobEvent(EventJobStarted, j, JobEventData{Attempt: j.Attempts})
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publishJobEvent(EventJobCompleted, j, JobEventData{
		Attempt:   j.Attempts,
		ElapsedMs: elapsed.Milliseconds(),
	})
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	b.publishJobEvent(EventJobFailed, j, JobEventData{
		Attempt: j.Attempts,
		Error:   jobErr.Error(),
	})
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, attempt int, attemptErr error) error {
	b.publishJobEvent(EventJobRetrying, j, JobEventData{
		Attempt: attempt,
		Error:   attemptErr.Error(),
	})
	return nil
}

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		b.topics.UnsubscribeAll(sub.ID())
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("notify broker shut down")
	return nil
}
