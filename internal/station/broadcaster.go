package station

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/instrument-station/internal/blueprint"
)

// DefaultQueueSize is the Broadcaster queue capacity when none is configured.
const DefaultQueueSize = 256

// sinkTimeout bounds a single sink delivery so one slow sink cannot stall
// the queue indefinitely.
const sinkTimeout = 5 * time.Second

// Sink receives change events from the Broadcaster.
type Sink interface {
	Deliver(ctx context.Context, ev *blueprint.ChangeEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev *blueprint.ChangeEvent) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, ev *blueprint.ChangeEvent) error { return f(ctx, ev) }

type namedSink struct {
	name string
	sink Sink
}

// Broadcaster fans change events out to sinks from a single goroutine.
//
// Publish never blocks: events go into a bounded queue and are dropped when
// it is full. Run delivers queued events to every sink in FIFO order, so
// events for one path reach each sink in the order they were published.
//
// Thread Safety: Publish and AddSink are safe for concurrent use.
type Broadcaster struct {
	queue   chan *blueprint.ChangeEvent
	mu      sync.RWMutex
	sinks   []namedSink
	logger  Logger
	metrics *Metrics
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewBroadcaster creates a Broadcaster with the given queue capacity.
func NewBroadcaster(queueSize int, logger Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Broadcaster{
		queue:  make(chan *blueprint.ChangeEvent, queueSize),
		logger: logger,
	}
}

// SetMetrics attaches a metrics collector.
func (b *Broadcaster) SetMetrics(m *Metrics) {
	b.metrics = m
}

// AddSink registers a sink under a name used in logs and metrics.
func (b *Broadcaster) AddSink(name string, s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: s})
}

// Publish queues ev for delivery. It returns false, without blocking, when
// the queue is full and the event was dropped.
func (b *Broadcaster) Publish(ev *blueprint.ChangeEvent) bool {
	select {
	case b.queue <- ev:
		return true
	default:
		b.dropped.Add(1)
		if b.metrics != nil {
			b.metrics.RecordBroadcastDropped()
		}
		b.logger.Warn("change event dropped, broadcast queue full",
			"path", ev.Path, "action", ev.Action)
		return false
	}
}

// Dropped returns the number of events dropped because the queue was full.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Delivered returns the number of events handed to all sinks.
func (b *Broadcaster) Delivered() uint64 { return b.sent.Load() }

// Run delivers queued events until ctx is cancelled, then flushes what is
// already queued and returns.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		case <-ctx.Done():
			b.flush()
			return
		}
	}
}

func (b *Broadcaster) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (b *Broadcaster) deliver(ctx context.Context, ev *blueprint.ChangeEvent) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := deliverSafely(sctx, s.sink, ev)
		cancel()
		if b.metrics != nil {
			b.metrics.RecordBroadcast(s.name, err)
		}
		if err != nil {
			b.logger.Warn("change event delivery failed",
				"sink", s.name, "path", ev.Path, "action", ev.Action, "error", err)
		}
	}
	b.sent.Add(1)
}

func deliverSafely(ctx context.Context, s Sink, ev *blueprint.ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.Deliver(ctx, ev)
}

// MQTTPublisher is the subset of the MQTT client the broadcast sink needs.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// NewMQTTSink publishes events as blueprint JSON on the topic returned by
// topicFor(path).
func NewMQTTSink(pub MQTTPublisher, topicFor func(path string) string, qos byte) Sink {
	return SinkFunc(func(_ context.Context, ev *blueprint.ChangeEvent) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding change event: %w", err)
		}
		return pub.Publish(topicFor(ev.Path), payload, qos, false)
	})
}
