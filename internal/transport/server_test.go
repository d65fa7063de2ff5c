package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/instrument-station/internal/auth"
	"github.com/nerrad567/instrument-station/internal/drivers/dummy"
	"github.com/nerrad567/instrument-station/internal/infrastructure/config"
	"github.com/nerrad567/instrument-station/internal/infrastructure/logging"
	"github.com/nerrad567/instrument-station/internal/instrument"
	"github.com/nerrad567/instrument-station/internal/protocol"
	"github.com/nerrad567/instrument-station/internal/station"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// handlerFunc adapts a function to Handler.
type handlerFunc func(ctx context.Context, in protocol.Instruction) protocol.Response

func (f handlerFunc) Handle(ctx context.Context, in protocol.Instruction) protocol.Response {
	return f(ctx, in)
}

// failingCheck is a HealthChecker that always fails.
type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("broker unreachable") }

type testStation struct {
	srv     *Server
	ts      *httptest.Server
	url     string
	metrics *station.Metrics
}

// setupStation serves a real dispatcher over httptest. Extra deps may be
// adjusted by mutate before the server is created.
func setupStation(t *testing.T, mutate func(*Deps)) *testStation {
	t.Helper()

	catalog := instrument.NewCatalog()
	if err := catalog.Register(dummy.ClassID, dummy.New); err != nil {
		t.Fatalf("Register(Dummy) error = %v", err)
	}
	registry := station.NewRegistry(catalog)
	metrics := station.NewMetrics("test")
	dispatcher := station.NewDispatcher(registry, nil, metrics, nil)

	deps := Deps{
		Config: config.TransportConfig{
			Path:           "/ws",
			MaxMessageSize: 1 << 20,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  logging.Discard(),
		Handler: dispatcher,
		Metrics: metrics,
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		srv.Close()
		_ = registry.CloseAll(context.Background())
	})

	return &testStation{
		srv:     srv,
		ts:      ts,
		url:     "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		metrics: metrics,
	}
}

func dial(t *testing.T, url string, opts DialOptions) *Conn {
	t.Helper()
	conn, err := Dial(context.Background(), url, opts)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func do(t *testing.T, conn *Conn, in protocol.Instruction) protocol.Response {
	t.Helper()
	resp, err := conn.Do(context.Background(), in)
	if err != nil {
		t.Fatalf("Do(%s) error = %v", in.Operation, err)
	}
	return resp
}

// rawDial opens a WebSocket without the Conn wrapper.
func rawDial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readReply(t *testing.T, ws *websocket.Conn) (string, protocol.Response) {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	id, resp, err := protocol.DecodeReply(data)
	if err != nil {
		t.Fatalf("DecodeReply() error = %v", err)
	}
	return id, resp
}

// ===== Request Channel Tests =====

func TestServer_RoundTrip(t *testing.T) {
	st := setupStation(t, nil)
	conn := dial(t, st.url, DialOptions{})

	var names map[string]string
	if err := do(t, conn, protocol.NewEnumerate()).Into(&names); err != nil || len(names) != 0 {
		t.Fatalf("enumerate = %v, %v; want empty", names, err)
	}

	if resp := do(t, conn, protocol.NewCreate(dummy.ClassID, "d1", nil, nil)); resp.Error != nil {
		t.Fatalf("create error = %v", resp.Error)
	}
	if resp := do(t, conn, protocol.NewCall("d1.x", []any{3.0}, nil)); resp.Error != nil {
		t.Fatalf("set error = %v", resp.Error)
	}

	var x float64
	if err := do(t, conn, protocol.NewCall("d1.x", nil, nil)).Into(&x); err != nil || x != 3 {
		t.Errorf("get d1.x = %v, %v; want 3", x, err)
	}

	resp := do(t, conn, protocol.NewCall("d1.missing", nil, nil))
	if !errors.Is(resp.Err(), protocol.ErrNotFound) {
		t.Errorf("unknown path error = %v, want NotFoundError", resp.Err())
	}
}

func TestServer_MalformedRequestsNeverDispatched(t *testing.T) {
	var dispatched atomic.Int32
	st := setupStation(t, func(d *Deps) {
		inner := d.Handler
		d.Handler = handlerFunc(func(ctx context.Context, in protocol.Instruction) protocol.Response {
			dispatched.Add(1)
			return inner.Handle(ctx, in)
		})
	})
	ws := rawDial(t, st.url)

	tests := []struct {
		name    string
		msgType int
		payload []byte
		wantID  string
	}{
		{"truncated frame", websocket.BinaryMessage, []byte{0, 0, 0, 9, 'x'}, ""},
		{"one part", websocket.BinaryMessage, protocol.EncodeFrames([]byte("r1")), "r1"},
		{"bad json", websocket.BinaryMessage, protocol.EncodeFrames([]byte("r2"), []byte("{")), "r2"},
		{"unknown operation", websocket.BinaryMessage, protocol.EncodeFrames([]byte("r3"), []byte(`{"operation":"reboot"}`)), "r3"},
		{"missing payload", websocket.BinaryMessage, protocol.EncodeFrames([]byte("r4"), []byte(`{"operation":"call"}`)), "r4"},
		{"text message", websocket.TextMessage, []byte("hello"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(tt.msgType, tt.payload); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}
			id, resp := readReply(t, ws)
			if id != tt.wantID {
				t.Errorf("reply id = %q, want %q", id, tt.wantID)
			}
			if !errors.Is(resp.Err(), protocol.ErrProtocol) {
				t.Errorf("reply error = %v, want ProtocolError", resp.Err())
			}
		})
	}

	if n := dispatched.Load(); n != 0 {
		t.Errorf("dispatcher saw %d malformed requests, want 0", n)
	}
}

func TestServer_RepliesInRequestOrder(t *testing.T) {
	st := setupStation(t, nil)
	ws := rawDial(t, st.url)

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		frame, err := protocol.EncodeRequest(id, protocol.NewEnumerate())
		if err != nil {
			t.Fatalf("EncodeRequest() error = %v", err)
		}
		if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
	}
	for _, want := range ids {
		if got, _ := readReply(t, ws); got != want {
			t.Errorf("reply id = %q, want %q", got, want)
		}
	}
}

// A slow call on one instrument must not delay a call on another.
func TestServer_CrossInstrumentParallelism(t *testing.T) {
	st := setupStation(t, nil)
	admin := dial(t, st.url, DialOptions{})
	do(t, admin, protocol.NewCreate(dummy.ClassID, "d1", nil, map[string]any{"delay": 1.0}))
	do(t, admin, protocol.NewCreate(dummy.ClassID, "d2", nil, nil))

	slow := dial(t, st.url, DialOptions{})
	fast := dial(t, st.url, DialOptions{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := slow.Do(context.Background(), protocol.NewCall("d1.slow_method", nil, nil))
		if err != nil || resp.Error != nil {
			t.Errorf("slow_method = %v, %v", resp.Error, err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	do(t, fast, protocol.NewCall("d2.x", nil, nil))
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("d2.x took %v while d1 was busy, want < 300ms", elapsed)
	}
	wg.Wait()
}

// ===== Auth Tests =====

func TestServer_BearerAuth(t *testing.T) {
	st := setupStation(t, func(d *Deps) { d.JWT = config.JWTConfig{Secret: testSecret} })

	if _, err := Dial(context.Background(), st.url, DialOptions{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Dial() without token error = %v, want ErrUnauthorized", err)
	}
	if _, err := Dial(context.Background(), st.url, DialOptions{Token: "garbage"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Dial() with bad token error = %v, want ErrUnauthorized", err)
	}

	observerToken, err := auth.GenerateToken("viewer", auth.RoleObserver, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	observer := dial(t, st.url, DialOptions{Token: observerToken})

	if resp := do(t, observer, protocol.NewEnumerate()); resp.Error != nil {
		t.Errorf("observer enumerate error = %v", resp.Error)
	}
	resp := do(t, observer, protocol.NewCreate(dummy.ClassID, "d1", nil, nil))
	if !errors.Is(resp.Err(), protocol.ErrProtocol) || !strings.Contains(resp.Error.Detail, "forbidden") {
		t.Errorf("observer create error = %v, want forbidden ProtocolError", resp.Err())
	}

	adminToken, _ := auth.GenerateToken("root", auth.RoleAdmin, testSecret, time.Minute)
	admin := dial(t, st.url, DialOptions{Token: adminToken})
	if resp := do(t, admin, protocol.NewCreate(dummy.ClassID, "d1", nil, nil)); resp.Error != nil {
		t.Errorf("admin create error = %v", resp.Error)
	}
}

// ===== HTTP Endpoint Tests =====

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name       string
		health     map[string]HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"no components", nil, http.StatusOK, `"status":"ok"`},
		{"failing component", map[string]HealthChecker{"mqtt": failingCheck{}}, http.StatusServiceUnavailable, `"mqtt":"broker unreachable"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := setupStation(t, func(d *Deps) { d.Health = tt.health })

			resp, err := http.Get(st.ts.URL + "/health")
			if err != nil {
				t.Fatalf("GET /health error = %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", body, tt.wantBody)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("X-Request-ID header missing")
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	st := setupStation(t, nil)
	conn := dial(t, st.url, DialOptions{})
	do(t, conn, protocol.NewEnumerate())

	resp, err := http.Get(st.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`test_dispatcher_instructions_total{operation="enumerate-instruments",result="ok"} 1`,
		"test_transport_connections 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, err := New(Deps{
		Config:  config.TransportConfig{Host: "127.0.0.1", Port: 0, Path: "/ws"},
		Logger:  logging.Discard(),
		Handler: handlerFunc(func(context.Context, protocol.Instruction) protocol.Response { return protocol.OK("pong") }),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	conn := dial(t, "ws://"+srv.Addr()+"/ws", DialOptions{})
	var msg string
	if err := do(t, conn, protocol.NewEnumerate()).Into(&msg); err != nil || msg != "pong" {
		t.Errorf("reply = %q, %v", msg, err)
	}
	if srv.SessionCount() != 1 {
		t.Errorf("SessionCount() = %d, want 1", srv.SessionCount())
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if srv.SessionCount() != 0 {
		t.Errorf("SessionCount() after Close = %d, want 0", srv.SessionCount())
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Handler: handlerFunc(nil)}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without handler should fail")
	}
}

func TestServer_UnencodableReply(t *testing.T) {
	st := setupStation(t, func(d *Deps) {
		d.Handler = handlerFunc(func(context.Context, protocol.Instruction) protocol.Response {
			return protocol.OK(map[string]any{"bad": make(chan int)})
		})
	})
	conn := dial(t, st.url, DialOptions{})

	resp := do(t, conn, protocol.NewGetBlueprint("d1"))
	if !errors.Is(resp.Err(), protocol.ErrRemoteExecution) {
		t.Errorf("error = %v, want RemoteExecutionError", resp.Err())
	}
}

// jsonBody is a helper for decoding small JSON responses in tests.
func jsonBody(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
}

func TestServer_UnauthorizedBody(t *testing.T) {
	st := setupStation(t, func(d *Deps) { d.JWT = config.JWTConfig{Secret: testSecret} })

	resp, err := http.Get(st.ts.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body Error
	jsonBody(t, resp.Body, &body)
	if body.Code != "unauthorised" {
		t.Errorf("code = %q", body.Code)
	}
}
