package client

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/instrument-station/internal/blueprint"
	"github.com/nerrad567/instrument-station/internal/infrastructure/mqtt"
)

// Subscriber defaults.
const (
	DefaultBufferSize   = 256
	DefaultPollInterval = 100 * time.Millisecond
)

// Source delivers broadcast messages. *mqtt.Client implements it.
type Source interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Observer receives change events from a Subscriber.
type Observer interface {
	Observe(ev *blueprint.ChangeEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev *blueprint.ChangeEvent)

// Observe implements Observer.
func (f ObserverFunc) Observe(ev *blueprint.ChangeEvent) { f(ev) }

// SubscriberOptions configures a Subscriber.
type SubscriberOptions struct {
	// Prefixes restricts delivery to objects under these dotted names.
	Prefixes []string

	// BufferSize is the number of events held between the broker and the
	// observers. Events arriving while it is full are dropped.
	BufferSize int

	// PollInterval bounds how long Stop waits for the delivery loop.
	PollInterval time.Duration

	// QoS for the broker subscriptions.
	QoS byte

	Logger Logger
}

// Subscriber follows a station's change broadcasts.
//
// Broker callbacks only decode and enqueue; one loop goroutine hands events
// to observers, so events for the same path are seen in arrival order.
// Delivery is at-most-once.
//
// Thread Safety: All methods are safe for concurrent use.
type Subscriber struct {
	source   Source
	topics   mqtt.Topics
	prefixes []string
	qos      byte
	poll     time.Duration
	logger   Logger

	events  chan *blueprint.ChangeEvent
	dropped atomic.Uint64

	mu         sync.Mutex
	observers  []Observer
	subscribed []string
	stop       chan struct{}
	done       chan struct{}
}

// NewSubscriber creates a subscriber reading events published under topics.
func NewSubscriber(source Source, topics mqtt.Topics, opts SubscriberOptions) *Subscriber {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Subscriber{
		source:   source,
		topics:   topics,
		prefixes: opts.Prefixes,
		qos:      opts.QoS,
		poll:     poll,
		logger:   logger,
		events:   make(chan *blueprint.ChangeEvent, size),
	}
}

// AddObserver registers o. Observers are called in registration order.
func (s *Subscriber) AddObserver(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Start subscribes on the broker and starts the delivery loop. Calling
// Start on a running subscriber is a no-op.
func (s *Subscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil
	}

	filters := []string{s.topics.AllEvents()}
	if len(s.prefixes) > 0 {
		filters = filters[:0]
		for _, p := range s.prefixes {
			filters = append(filters, s.topics.EventsUnder(p))
		}
	}
	for _, topic := range filters {
		if err := s.source.Subscribe(topic, s.qos, s.handle); err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		s.subscribed = append(s.subscribed, topic)
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	return nil
}

// Stop ends delivery and releases the broker subscriptions. Events still
// buffered are discarded.
//
// Returns ErrStopTimeout when an observer holds the loop for longer than
// one poll interval; the subscriptions are released regardless.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return nil
	}
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.unsubscribeLocked()
	s.mu.Unlock()

	close(stop)
	select {
	case <-done:
		return nil
	case <-time.After(s.poll):
		return ErrStopTimeout
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscriber) unsubscribeLocked() {
	for _, topic := range s.subscribed {
		if err := s.source.Unsubscribe(topic); err != nil {
			s.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	s.subscribed = nil
}

// handle runs on the broker's callback goroutine and never blocks.
func (s *Subscriber) handle(topic string, payload []byte) error {
	path, ok := s.topics.PathFromTopic(topic)
	if !ok {
		return nil
	}
	bp, err := blueprint.Decode(payload)
	if err != nil {
		return fmt.Errorf("decoding change event on %s: %w", topic, err)
	}
	ev, ok := bp.(*blueprint.ChangeEvent)
	if !ok {
		return fmt.Errorf("unexpected %s blueprint on %s", bp.Kind(), topic)
	}
	if ev.Path == "" {
		ev.Path = path
	}
	if !s.wanted(ev.Path) {
		return nil
	}

	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		s.logger.Debug("change event dropped", "path", ev.Path, "action", ev.Action)
	}
	return nil
}

func (s *Subscriber) wanted(path string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if blueprint.Within(path, p) {
			return true
		}
	}
	return false
}

func (s *Subscriber) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case ev := <-s.events:
			s.notify(ev)
		}
	}
}

func (s *Subscriber) notify(ev *blueprint.ChangeEvent) {
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		s.deliver(o, ev)
	}
}

func (s *Subscriber) deliver(o Observer, ev *blueprint.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panic", "path", ev.Path, "panic", r)
		}
	}()
	o.Observe(ev)
}
