package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/models"
	"github.com/gantry-project/gantry/internal/protocol"
)

// ChangeParams is the payload of a $/resourceChanged notification.
type ChangeParams struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Action    string    `json:"action"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster pushes one notification to every eligible session. The
// session manager implements it.
type Broadcaster interface {
	Broadcast(feature, method string, params interface{}) int
}

// Notifier forwards resource changes to sessions that negotiated the
// changeEvents feature.
type Notifier struct {
	bus    *Bus
	target Broadcaster
	logger *zap.Logger
	ch     chan Event
	wg     sync.WaitGroup
}

// NewNotifier subscribes to the change topic and starts forwarding.
func NewNotifier(bus *Bus, target Broadcaster, logger *zap.Logger) *Notifier {
	n := &Notifier{
		bus:    bus,
		target: target,
		logger: logger,
		ch:     bus.Subscribe(TopicResourceChanged, 64),
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *Notifier) loop() {
	defer n.wg.Done()
	for evt := range n.ch {
		sent := n.target.Broadcast(FeatureChangeEvents, protocol.MethodResourceChanged, ChangeParams{
			Type:      evt.ResourceType,
			ID:        evt.ResourceID,
			Action:    evt.Action,
			Seq:       evt.Seq,
			Timestamp: evt.Timestamp,
		})
		if sent > 0 {
			n.logger.Debug("Resource change notified",
				zap.String("resource_type", evt.ResourceType),
				zap.String("action", evt.Action),
				zap.Int("sessions", sent))
		}
	}
}

// Close detaches from the bus and waits for the forward loop to end.
func (n *Notifier) Close() {
	n.bus.Unsubscribe(TopicResourceChanged, n.ch)
	n.wg.Wait()
}

// CacheInvalidator is the search engine's invalidation entry point.
type CacheInvalidator interface {
	OnResourceChanged(rt models.ResourceType, action, id string)
}

// SubscribeInvalidator pipes resource changes into a cache invalidator
// until the returned stop function runs.
func SubscribeInvalidator(bus *Bus, inv CacheInvalidator) (stop func()) {
	ch := bus.Subscribe(TopicResourceChanged, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range ch {
			inv.OnResourceChanged(models.ResourceType(evt.ResourceType), evt.Action, evt.ResourceID)
		}
	}()
	return func() {
		bus.Unsubscribe(TopicResourceChanged, ch)
		<-done
	}
}
