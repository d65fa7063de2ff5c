package station

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/instrument-station/internal/blueprint"
)

// mockPublisher records MQTT publishes.
type mockPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	retained []bool
	err      error
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	m.payloads = append(m.payloads, payload)
	m.retained = append(m.retained, retained)
	return m.err
}

// collectSink gathers delivered events and signals each arrival.
type collectSink struct {
	mu     sync.Mutex
	events []*blueprint.ChangeEvent
	got    chan struct{}
}

func newCollectSink() *collectSink {
	return &collectSink{got: make(chan struct{}, 1024)}
}

func (c *collectSink) Deliver(_ context.Context, ev *blueprint.ChangeEvent) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func (c *collectSink) wait(t *testing.T, n int) []*blueprint.ChangeEvent {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events, want %d", i, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*blueprint.ChangeEvent(nil), c.events...)
}

func TestBroadcaster_DeliversInOrder(t *testing.T) {
	b := NewBroadcaster(64, nil)
	sink := newCollectSink()
	b.AddSink("collect", sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	for i := 0; i < 20; i++ {
		b.Publish(&blueprint.ChangeEvent{Path: "d1.x", Action: blueprint.ActionValueUpdated, Value: float64(i)})
	}

	events := sink.wait(t, 20)
	for i, ev := range events {
		if ev.Value != float64(i) {
			t.Fatalf("event %d value = %v, want %d", i, ev.Value, i)
		}
	}
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	metrics := NewMetrics("test")
	b := NewBroadcaster(2, nil)
	b.SetMetrics(metrics)

	// Run is not started, so nothing drains the queue.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(&blueprint.ChangeEvent{Path: "d1.x", Action: blueprint.ActionValueUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if got := b.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.dropped); got != 3 {
		t.Errorf("dropped metric = %v, want 3", got)
	}
}

func TestBroadcaster_SinkFailureDoesNotStopDelivery(t *testing.T) {
	b := NewBroadcaster(8, nil)
	b.AddSink("failing", SinkFunc(func(context.Context, *blueprint.ChangeEvent) error {
		return errors.New("broker down")
	}))
	b.AddSink("panicking", SinkFunc(func(context.Context, *blueprint.ChangeEvent) error {
		panic("sink bug")
	}))
	sink := newCollectSink()
	b.AddSink("collect", sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(&blueprint.ChangeEvent{Path: "a", Action: blueprint.ActionCreated})
	b.Publish(&blueprint.ChangeEvent{Path: "b", Action: blueprint.ActionCreated})

	events := sink.wait(t, 2)
	if events[0].Path != "a" || events[1].Path != "b" {
		t.Errorf("events = %v, %v", events[0].Path, events[1].Path)
	}
}

func TestBroadcaster_FlushOnCancel(t *testing.T) {
	b := NewBroadcaster(8, nil)
	sink := newCollectSink()
	b.AddSink("collect", sink)

	for _, p := range []string{"a", "b", "c"} {
		b.Publish(&blueprint.ChangeEvent{Path: p, Action: blueprint.ActionDeleted})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	// Run may deliver some events before noticing cancellation; the rest
	// are flushed, so all three arrive either way.
	if got := len(sink.wait(t, 3)); got != 3 {
		t.Errorf("delivered %d events, want 3", got)
	}
	if b.Delivered() != 3 {
		t.Errorf("Delivered() = %d, want 3", b.Delivered())
	}
}

func TestMQTTSink(t *testing.T) {
	pub := &mockPublisher{}
	sink := NewMQTTSink(pub, func(path string) string { return "station/events/" + path }, 1)

	ev := &blueprint.ChangeEvent{Path: "d1.x", Action: blueprint.ActionValueUpdated, Value: 5.0, Unit: "V"}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if len(pub.topics) != 1 || pub.topics[0] != "station/events/d1.x" {
		t.Fatalf("topics = %v", pub.topics)
	}
	if pub.retained[0] {
		t.Error("change events must not be retained")
	}
	var got map[string]any
	if err := json.Unmarshal(pub.payloads[0], &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["path"] != "d1.x" || got["action"] != "value-updated" || got["value"] != 5.0 || got["unit"] != "V" {
		t.Errorf("payload = %v", got)
	}

	pub.err = errors.New("not connected")
	if err := sink.Deliver(context.Background(), ev); err == nil {
		t.Error("Deliver() did not surface publish error")
	}
}
