// Package events is the in-process change feed: mutations publish onto a
// topic bus, and subscribers fan the events out to the search cache and to
// connected sessions. Delivery is best-effort; a subscriber that cannot
// keep up loses events rather than slowing the publisher.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/metrics"
	"github.com/gantry-project/gantry/internal/models"
)

// TopicResourceChanged carries one event per successful mutation.
const TopicResourceChanged = "resource.changed"

// FeatureChangeEvents is the capability a client negotiates to receive
// $/resourceChanged notifications.
const FeatureChangeEvents = "changeEvents"

const defaultSubscriberBuffer = 16

// Event is one bus message. Seq is per-topic and assigned at publish.
type Event struct {
	Topic        string    `json:"topic"`
	ResourceType string    `json:"resourceType,omitempty"`
	ResourceID   string    `json:"resourceId,omitempty"`
	Action       string    `json:"action,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Seq          uint64    `json:"seq"`
}

// Bus provides in-memory pub/sub over named topics.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	seqs        map[string]uint64
	closed      bool
	logger      *zap.Logger
}

// NewBus returns an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]map[chan Event]struct{}),
		seqs:        make(map[string]uint64),
		logger:      logger,
	}
}

// Subscribe adds a subscriber channel for a topic; the caller must drain it
// and call Unsubscribe. The channel is closed by Unsubscribe or Close.
func (b *Bus) Subscribe(topic string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	subs := b.subscribers[topic]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		b.subscribers[topic] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (b *Bus) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[topic]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(b.subscribers, topic)
			}
		}
	}
}

// Publish numbers the event and sends it to every subscriber of the topic
// without blocking. Events for slow subscribers are dropped and counted.
func (b *Bus) Publish(topic string, evt Event) {
	evt.Topic = topic
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.seqs[topic]++
	evt.Seq = b.seqs[topic]
	subs := b.subscribers[topic]
	targets := make([]chan Event, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(topic).Inc()
	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			metrics.EventsDropped.WithLabelValues(topic).Inc()
			b.logger.Debug("Event dropped on slow subscriber",
				zap.String("topic", topic),
				zap.Uint64("seq", evt.Seq))
		}
	}
}

// PublishResourceChange reports one successful mutation. It satisfies the
// resources change-publisher hook.
func (b *Bus) PublishResourceChange(rt models.ResourceType, action, id string) {
	b.Publish(TopicResourceChanged, Event{
		ResourceType: string(rt),
		ResourceID:   id,
		Action:       action,
	})
}

// Close shuts every subscriber channel and stops accepting publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(b.subscribers, topic)
	}
}
