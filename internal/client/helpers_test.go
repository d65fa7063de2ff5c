package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/instrument-station/internal/drivers/dummy"
	"github.com/nerrad567/instrument-station/internal/infrastructure/config"
	"github.com/nerrad567/instrument-station/internal/infrastructure/logging"
	"github.com/nerrad567/instrument-station/internal/infrastructure/mqtt"
	"github.com/nerrad567/instrument-station/internal/instrument"
	"github.com/nerrad567/instrument-station/internal/protocol"
	"github.com/nerrad567/instrument-station/internal/station"
	"github.com/nerrad567/instrument-station/internal/transport"
)

var testTopics = mqtt.Topics{Prefix: "test/events", StationID: "test"}

// memBroker is an in-process stand-in for the MQTT broker. It implements
// both station.MQTTPublisher and Source.
type memBroker struct {
	mu           sync.Mutex
	subs         map[string]mqtt.MessageHandler
	unsubscribed []string
	failTopic    string
}

func newMemBroker() *memBroker {
	return &memBroker{subs: make(map[string]mqtt.MessageHandler)}
}

func (b *memBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, h := range b.subs {
		if topicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()
	for _, h := range handlers {
		_ = h(topic, payload)
	}
	return nil
}

func (b *memBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == b.failTopic {
		return mqtt.ErrSubscribeFailed
	}
	b.subs[topic] = handler
	return nil
}

func (b *memBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
	b.unsubscribed = append(b.unsubscribed, topic)
	return nil
}

func (b *memBroker) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for t := range b.subs {
		out = append(out, t)
	}
	return out
}

// topicMatches supports the trailing multi-level wildcard only.
func topicMatches(filter, topic string) bool {
	if base, ok := strings.CutSuffix(filter, "/#"); ok {
		return topic == base || strings.HasPrefix(topic, base+"/")
	}
	return filter == topic
}

// countingConn counts instructions by operation.
type countingConn struct {
	Requester
	mu     sync.Mutex
	counts map[protocol.Operation]int
}

func (c *countingConn) Do(ctx context.Context, in protocol.Instruction) (protocol.Response, error) {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = make(map[protocol.Operation]int)
	}
	c.counts[in.Operation]++
	c.mu.Unlock()
	return c.Requester.Do(ctx, in)
}

func (c *countingConn) count(op protocol.Operation) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[op]
}

// mockLogger records warnings.
type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *mockLogger) Debug(string, ...any) {}
func (l *mockLogger) Error(string, ...any) {}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *mockLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

type testStation struct {
	url    string
	broker *memBroker
}

// setupStation serves a dispatcher over httptest with change events routed
// through memBroker.
func setupStation(t *testing.T) *testStation {
	t.Helper()

	catalog := instrument.NewCatalog()
	if err := catalog.Register(dummy.ClassID, dummy.New); err != nil {
		t.Fatalf("Register(Dummy) error = %v", err)
	}
	registry := station.NewRegistry(catalog)

	broker := newMemBroker()
	broadcaster := station.NewBroadcaster(64, nil)
	broadcaster.AddSink("mqtt", station.NewMQTTSink(broker, testTopics.Event, 0))
	ctx, cancel := context.WithCancel(context.Background())
	go broadcaster.Run(ctx)

	dispatcher := station.NewDispatcher(registry, broadcaster, nil, nil)
	srv, err := transport.New(transport.Deps{
		Config:  config.TransportConfig{Path: "/ws", MaxMessageSize: 1 << 20},
		Logger:  logging.Discard(),
		Handler: dispatcher,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		cancel()
		_ = registry.CloseAll(context.Background())
	})

	return &testStation{
		url:    "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		broker: broker,
	}
}

// newClient dials st and wraps the connection in a countingConn.
func newClient(t *testing.T, st *testStation, opts Options) (*Client, *countingConn) {
	t.Helper()
	conn, err := transport.Dial(context.Background(), st.url, transport.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	counting := &countingConn{Requester: conn}
	t.Cleanup(func() { conn.Close() })
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return New(counting, opts), counting
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitFor(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out")
	}
}
