package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/instrument-station/internal/infrastructure/config"
)

// mockLogger implements Logger for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "instrument-station-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// ===== Topic Tests =====

func TestTopics_Event(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		path   string
		want   string
	}{
		{"top level", "station/events", "d1", "station/events/d1"},
		{"nested", "station/events", "d1.ch1.gain", "station/events/d1/ch1/gain"},
		{"trailing slash trimmed", "lab/", "d1.x", "lab/d1/x"},
		{"default prefix", "", "d1.x", DefaultPrefix + "/d1/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Topics{Prefix: tt.prefix}.Event(tt.path)
			if got != tt.want {
				t.Errorf("Event(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestTopics_Wildcards(t *testing.T) {
	topics := Topics{Prefix: "station/events", StationID: "bench-3"}

	if got := topics.AllEvents(); got != "station/events/#" {
		t.Errorf("AllEvents() = %q", got)
	}
	if got := topics.EventsUnder("d1.ch1"); got != "station/events/d1/ch1/#" {
		t.Errorf("EventsUnder() = %q", got)
	}
	if got := topics.EventsUnder(""); got != "station/events/#" {
		t.Errorf("EventsUnder(\"\") = %q", got)
	}
	if got := topics.Status(); got != "instrument-station/bench-3/status" {
		t.Errorf("Status() = %q", got)
	}
	if got := (Topics{}).Status(); got != "instrument-station/default/status" {
		t.Errorf("Status() without station ID = %q", got)
	}
}

func TestTopics_PathFromTopic(t *testing.T) {
	topics := Topics{Prefix: "station/events"}

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"station/events/d1/ch1/gain", "d1.ch1.gain", true},
		{"station/events/d1", "d1", true},
		{"station/events/", "", false},
		{"station/eventsX/d1", "", false},
		{"instrument-station/x/status", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := topics.PathFromTopic(tt.topic)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("PathFromTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}

	// Round trip.
	path := "psu.output.voltage"
	if got, _ := topics.PathFromTopic(topics.Event(path)); got != path {
		t.Errorf("round trip = %q, want %q", got, path)
	}
}

// ===== Options Tests =====

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "station", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != cfg.Broker.ClientID {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "station" || opts.Password != "secret" {
		t.Errorf("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession || !opts.Order {
		t.Errorf("AutoReconnect=%v CleanSession=%v Order=%v", opts.AutoReconnect, opts.CleanSession, opts.Order)
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" || opts.TLSConfig == nil {
		t.Errorf("TLS not applied: %v", opts.Servers[0])
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "instrument-station/s1/status", "s1")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillTopic != "instrument-station/s1/status" {
		t.Fatalf("will = enabled:%v retained:%v topic:%q", opts.WillEnabled, opts.WillRetained, opts.WillTopic)
	}

	var payload statusPayload
	if err := json.Unmarshal(opts.WillPayload, &payload); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if payload.Status != "offline" || payload.Reason != "unexpected_disconnect" || payload.ClientID != "s1" {
		t.Errorf("will payload = %+v", payload)
	}
}

// ===== Validation Tests =====

func TestPublish_Validation(t *testing.T) {
	c := newClient(testConfig(), Topics{})

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 0, ErrInvalidTopic},
		{"bad qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"oversize", "a/b", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
		{"not connected", "a/b", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newClient(testConfig(), Topics{})
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 0, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a/#", 5, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("a/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("a/#", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes", c.SubscriptionCount())
	}
	if err := c.Unsubscribe("a/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestClient_Disconnected(t *testing.T) {
	c := newClient(testConfig(), Topics{Prefix: "p"})

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if err := c.HealthCheck(t.Context()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.Topics().Prefix != "p" {
		t.Errorf("Topics() = %+v", c.Topics())
	}
}

// ===== Handler Tests =====

func TestDispatch_RecoversPanics(t *testing.T) {
	c := newClient(testConfig(), Topics{})
	logger := &mockLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	c.dispatch(func(string, []byte) error { return nil }, "t", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v, want one panic entry", logger.errors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one handler error", logger.warns)
	}
}

func TestSetLogger(t *testing.T) {
	c := newClient(testConfig(), Topics{})
	c.SetLogger(&mockLogger{})
	if c.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}
	c.SetLogger(nil)
	if c.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}

	// Without a logger a panicking handler is still contained.
	c.dispatch(func(string, []byte) error { panic("unlogged") }, "t", nil)
}
