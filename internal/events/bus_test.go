package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gantry-project/gantry/internal/models"
	"github.com/gantry-project/gantry/internal/protocol"
)

func recvEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishFansOutInOrder(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	a := bus.Subscribe("test.topic", 8)
	b := bus.Subscribe("test.topic", 8)

	bus.Publish("test.topic", Event{Action: "first"})
	bus.Publish("test.topic", Event{Action: "second"})

	for _, ch := range []chan Event{a, b} {
		e1 := recvEvent(t, ch)
		e2 := recvEvent(t, ch)
		assert.Equal(t, uint64(1), e1.Seq)
		assert.Equal(t, "first", e1.Action)
		assert.Equal(t, uint64(2), e2.Seq)
		assert.Equal(t, "second", e2.Action)
		assert.Equal(t, "test.topic", e1.Topic)
		assert.False(t, e1.Timestamp.IsZero())
	}
}

func TestSlowSubscriberLosesEvents(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	slow := bus.Subscribe("test.topic", 1)
	fast := bus.Subscribe("test.topic", 8)

	bus.Publish("test.topic", Event{Action: "one"})
	bus.Publish("test.topic", Event{Action: "two"})
	bus.Publish("test.topic", Event{Action: "three"})

	assert.Len(t, slow, 1, "slow subscriber keeps only what fit its buffer")
	assert.Equal(t, "one", recvEvent(t, slow).Action)

	// Sequence numbers keep counting across drops.
	for i, want := range []string{"one", "two", "three"} {
		evt := recvEvent(t, fast)
		assert.Equal(t, want, evt.Action)
		assert.Equal(t, uint64(i+1), evt.Seq)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	ch := bus.Subscribe("test.topic", 2)
	bus.Unsubscribe("test.topic", ch)

	_, ok := <-ch
	assert.False(t, ok)

	// A second unsubscribe of the same channel is a no-op.
	bus.Unsubscribe("test.topic", ch)
	bus.Publish("test.topic", Event{Action: "after"})
}

func TestPublishResourceChange(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	ch := bus.Subscribe(TopicResourceChanged, 2)

	bus.PublishResourceChange(models.ResourceIssue, "create", "iss_1")

	evt := recvEvent(t, ch)
	assert.Equal(t, TopicResourceChanged, evt.Topic)
	assert.Equal(t, "issue", evt.ResourceType)
	assert.Equal(t, "create", evt.Action)
	assert.Equal(t, "iss_1", evt.ResourceID)
	assert.Equal(t, uint64(1), evt.Seq)
}

func TestCloseShutsSubscribersDown(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	ch := bus.Subscribe("test.topic", 2)
	bus.Close()

	_, ok := <-ch
	assert.False(t, ok)

	bus.Publish("test.topic", Event{Action: "late"})

	late := bus.Subscribe("test.topic", 2)
	_, ok = <-late
	assert.False(t, ok, "subscribing a closed bus yields a closed channel")
}

type captureBroadcaster struct {
	mu     sync.Mutex
	calls  []broadcastCall
	result int
}

type broadcastCall struct {
	feature string
	method  string
	params  interface{}
}

func (b *captureBroadcaster) Broadcast(feature, method string, params interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{feature, method, params})
	return b.result
}

func (b *captureBroadcaster) all() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broadcastCall, len(b.calls))
	copy(out, b.calls)
	return out
}

func TestNotifierForwardsChanges(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	target := &captureBroadcaster{result: 1}
	n := NewNotifier(bus, target, zaptest.NewLogger(t))
	defer n.Close()

	bus.PublishResourceChange(models.ResourceProject, "update", "prj_7")

	require.Eventually(t, func() bool {
		return len(target.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	call := target.all()[0]
	assert.Equal(t, FeatureChangeEvents, call.feature)
	assert.Equal(t, protocol.MethodResourceChanged, call.method)
	params, ok := call.params.(ChangeParams)
	require.True(t, ok)
	assert.Equal(t, "project", params.Type)
	assert.Equal(t, "prj_7", params.ID)
	assert.Equal(t, "update", params.Action)
	assert.Equal(t, uint64(1), params.Seq)
}

type captureInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureInvalidator) OnResourceChanged(rt models.ResourceType, action, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, string(rt)+"/"+action+"/"+id)
}

func (c *captureInvalidator) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

func TestSubscribeInvalidator(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	inv := &captureInvalidator{}
	stop := SubscribeInvalidator(bus, inv)

	bus.PublishResourceChange(models.ResourceLabel, "delete", "lbl_3")

	require.Eventually(t, func() bool {
		return len(inv.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "label/delete/lbl_3", inv.all()[0])

	stop()
	bus.PublishResourceChange(models.ResourceLabel, "delete", "lbl_4")
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, inv.all(), 1, "no deliveries after stop")
}
