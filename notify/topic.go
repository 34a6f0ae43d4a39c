package notify

import (
	"fmt"
	"strings"
	"sync"
)

// TopicFirehose carries every event in the system. The other topic
// families are derived: TenantTopic scopes to one tenant, JobTopic to
// one job.
const TopicFirehose = "firehose"

// TenantTopic names the stream of all job events owned by tenantID.
func TenantTopic(tenantID string) string { return "tenant:" + tenantID }

// JobTopic names the stream of events for one job.
func JobTopic(jobID string) string { return "job:" + jobID }

// ParseTopicEntity splits "tenant:acme" into ("tenant", "acme"). Topics
// without a colon, such as the firehose, yield ("", "").
func ParseTopicEntity(topic string) (entityType, entityID string) {
	kind, rest, found := strings.Cut(topic, ":")
	if !found {
		return "", ""
	}
	return kind, rest
}

// ValidateTopic rejects topic names outside the three known families.
func ValidateTopic(topic string) error {
	if topic == TopicFirehose {
		return nil
	}
	entityType, entityID := ParseTopicEntity(topic)
	if entityID == "" {
		return fmt.Errorf("notify: invalid topic %q", topic)
	}
	if entityType != "tenant" && entityType != "job" {
		return fmt.Errorf("notify: unknown topic entity type %q", entityType)
	}
	return nil
}

// resolveTopics lists every topic an event fans out to: always the
// firehose, the owning tenant's stream when known, and the event's own
// job topic when set.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	if evt.TenantID != "" {
		topics = append(topics, TenantTopic(evt.TenantID))
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// TopicRegistry tracks which subscribers are attached to which topics.
// Publishing holds the read lock while it sends and Unsubscribe takes
// the write lock, so a completed Unsubscribe strictly precedes any
// later delivery. Sends never block, which keeps that safe.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

// NewTopicRegistry creates an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe attaches sub to topic, creating the topic on first use.
// Re-subscribing is a no-op.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	members := tr.topics[topic]
	if members == nil {
		members = make(map[string]*Subscriber)
		tr.topics[topic] = members
	}
	members[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe detaches the subscriber from one topic. No event reaches
// the subscriber on that topic after Unsubscribe returns.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.detach(topic, subscriberID)
}

// UnsubscribeAll detaches the subscriber from every topic it is on.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic := range tr.topics {
		tr.detach(topic, subscriberID)
	}
}

// detach removes one membership and garbage-collects the topic if it
// was the last. Caller holds the write lock.
func (tr *TopicRegistry) detach(topic, subscriberID string) {
	members, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, on := members[subscriberID]; on {
		sub.removeTopic(topic)
		delete(members, subscriberID)
	}
	if len(members) == 0 {
		delete(tr.topics, topic)
	}
}

// Publish offers evt to everyone on topic and reports how many
// subscribers accepted it.
func (tr *TopicRegistry) Publish(topic string, evt *Event) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	accepted := 0
	for _, sub := range tr.topics[topic] {
		if sub.send(evt) {
			accepted++
		}
	}
	return accepted
}

// Broadcast offers evt across several topics, delivering at most once
// to a subscriber attached to more than one of them.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	accepted := 0
	offered := make(map[string]struct{})
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			if _, done := offered[subID]; done {
				continue
			}
			offered[subID] = struct{}{}
			if sub.send(evt) {
				accepted++
			}
		}
	}
	return accepted
}

// TopicCount reports how many topics currently have subscribers.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount reports how many subscribers are on one topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}
