package station

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/instrument-station/internal/blueprint"
	"github.com/nerrad567/instrument-station/internal/protocol"
)

func mustOK(t *testing.T, resp protocol.Response) protocol.Response {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %v", resp.Error)
	}
	return resp
}

func create(t *testing.T, d *Dispatcher, classID, name string, kwargs map[string]any) {
	t.Helper()
	mustOK(t, d.Handle(context.Background(), protocol.NewCreate(classID, name, nil, kwargs)))
}

// ===== Scenario Tests =====

func TestDispatcher_EnumerateEmpty(t *testing.T) {
	d, _ := setupDispatcher(t)
	resp := mustOK(t, d.Handle(context.Background(), protocol.NewEnumerate()))

	got, ok := resp.Message.(map[string]string)
	if !ok || len(got) != 0 {
		t.Errorf("enumerate on empty registry = %#v, want {}", resp.Message)
	}
}

func TestDispatcher_CreateThenEnumerate(t *testing.T) {
	d, events := setupDispatcher(t)
	create(t, d, "Dummy", "d1", nil)

	resp := mustOK(t, d.Handle(context.Background(), protocol.NewEnumerate()))
	got := resp.Message.(map[string]string)
	if len(got) != 1 || got["d1"] != "Dummy" {
		t.Errorf("enumerate = %v, want {d1: Dummy}", got)
	}
	if events.find("d1", blueprint.ActionCreated) == nil {
		t.Error("no created event published")
	}
}

func TestDispatcher_GetBlueprint(t *testing.T) {
	d, _ := setupDispatcher(t)
	create(t, d, "Dummy", "d1", nil)

	resp := mustOK(t, d.Handle(context.Background(), protocol.NewGetBlueprint("d1")))
	bp, ok := resp.Message.(*blueprint.ModuleBlueprint)
	if !ok {
		t.Fatalf("message = %T, want *ModuleBlueprint", resp.Message)
	}
	if bp.Parameters["x"].Unit != "V" {
		t.Errorf(`parameters["x"].unit = %q, want "V"`, bp.Parameters["x"].Unit)
	}

	t.Run("nested member", func(t *testing.T) {
		resp := mustOK(t, d.Handle(context.Background(), protocol.NewGetBlueprint("d1.ch1.gain")))
		p, ok := resp.Message.(*blueprint.ParameterBlueprint)
		if !ok || p.Path != "d1.ch1.gain" {
			t.Errorf("message = %#v", resp.Message)
		}
	})

	t.Run("method", func(t *testing.T) {
		resp := mustOK(t, d.Handle(context.Background(), protocol.NewGetBlueprint("d1.slow_method")))
		if _, ok := resp.Message.(*blueprint.MethodBlueprint); !ok {
			t.Errorf("message = %T, want *MethodBlueprint", resp.Message)
		}
	})
}

func TestDispatcher_SetThenGet(t *testing.T) {
	d, events := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Dummy", "d1", nil)

	mustOK(t, d.Handle(ctx, protocol.NewCall("d1.x", []any{5}, nil)))
	resp := mustOK(t, d.Handle(ctx, protocol.NewCall("d1.x", []any{}, nil)))
	if resp.Message != 5.0 {
		t.Errorf("get d1.x = %v, want 5", resp.Message)
	}

	ev := events.find("d1.x", blueprint.ActionValueUpdated)
	if ev == nil {
		t.Fatal("no value-updated event for d1.x")
	}
	if ev.Value != 5.0 || ev.Unit != "V" {
		t.Errorf("event = %+v, want value 5 unit V", ev)
	}
}

func TestDispatcher_CrossInstrumentParallelism(t *testing.T) {
	d, _ := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Dummy", "d1", map[string]any{"delay": 1.0})
	create(t, d, "Dummy", "d2", nil)

	slowDone := make(chan protocol.Response, 1)
	go func() { slowDone <- d.Handle(ctx, protocol.NewCall("d1.slow_method", nil, nil)) }()

	// Give the slow call time to occupy d1's worker.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	mustOK(t, d.Handle(ctx, protocol.NewCall("d2.x", nil, nil)))
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("call on d2 took %v while d1 was busy", elapsed)
	}

	resp := <-slowDone
	if resp.Error != nil || resp.Message != "done" {
		t.Errorf("slow_method = %v, %v", resp.Message, resp.Error)
	}
}

// ===== Concurrency Tests =====

func TestDispatcher_PerInstrumentExclusivity(t *testing.T) {
	d, _ := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Probe", "a", nil)
	create(t, d, "Probe", "b", nil)

	const n, m, millis = 6, 6, 40
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Handle(ctx, protocol.NewCall("a.record", []any{i, millis}, nil))
		}()
	}
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Handle(ctx, protocol.NewCall("b.record", []any{i, millis}, nil))
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	for _, name := range []string{"a", "b"} {
		inst, _, _ := d.Registry().Lookup(name)
		log, maxPar := inst.(*probe).snapshot()
		if maxPar != 1 {
			t.Errorf("%s ran %d calls at once, want 1", name, maxPar)
		}
		if len(log) != n {
			t.Errorf("%s ran %d calls, want %d", name, len(log), n)
		}
	}

	serial := time.Duration(n*millis) * time.Millisecond
	if elapsed >= 2*serial {
		t.Errorf("elapsed %v, want about %v (instruments should overlap)", elapsed, serial)
	}
}

func TestDispatcher_FIFOWithinInstrument(t *testing.T) {
	d, _ := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Probe", "a", nil)

	// Occupy the worker, then queue calls in a known order.
	busy := make(chan struct{})
	go func() {
		d.Handle(ctx, protocol.NewCall("a.record", []any{-1, 100}, nil))
		close(busy)
	}()
	time.Sleep(20 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Handle(ctx, protocol.NewCall("a.record", []any{i, 1}, nil))
		}()
		for d.Registry().QueueDepth("a") < i+1 {
			time.Sleep(100 * time.Microsecond)
		}
	}
	wg.Wait()
	<-busy

	inst, _, _ := d.Registry().Lookup("a")
	log, _ := inst.(*probe).snapshot()
	want := []int{-1, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if len(log) != len(want) {
		t.Fatalf("log = %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", log, want)
		}
	}
}

// ===== Error Shape Tests =====

func TestDispatcher_Errors(t *testing.T) {
	d, _ := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Dummy", "d1", nil)
	create(t, d, "Probe", "p1", nil)

	tests := []struct {
		name     string
		in       protocol.Instruction
		wantKind protocol.ErrorKind
		wantPath string
	}{
		{name: "unknown instrument", in: protocol.NewCall("ghost.x", nil, nil), wantKind: protocol.KindNotFound, wantPath: "ghost.x"},
		{name: "unknown member", in: protocol.NewCall("d1.nope", nil, nil), wantKind: protocol.KindNotFound, wantPath: "d1.nope"},
		{name: "unknown blueprint path", in: protocol.NewGetBlueprint("d1.ch7"), wantKind: protocol.KindNotFound, wantPath: "d1.ch7"},
		{name: "unknown class", in: protocol.NewCreate("Nope", "n1", nil, nil), wantKind: protocol.KindInstrumentClass},
		{name: "duplicate name", in: protocol.NewCreate("Probe", "d1", nil, nil), wantKind: protocol.KindDuplicateName},
		{name: "call a module", in: protocol.NewCall("d1.ch1", nil, nil), wantKind: protocol.KindNotCallable, wantPath: "d1.ch1"},
		{name: "too many parameter args", in: protocol.NewCall("d1.x", []any{1, 2}, nil), wantKind: protocol.KindArgument},
		{name: "parameter kwargs", in: protocol.NewCall("d1.x", nil, map[string]any{"v": 1}), wantKind: protocol.KindArgument},
		{name: "validator rejects", in: protocol.NewCall("d1.x", []any{1e9}, nil), wantKind: protocol.KindArgument},
		{name: "method arity", in: protocol.NewCall("d1.ramp", nil, nil), wantKind: protocol.KindArgument},
		{name: "driver error", in: protocol.NewCall("d1.fault", nil, nil), wantKind: protocol.KindRemoteExecution, wantPath: "d1.fault"},
		{name: "driver panic", in: protocol.NewCall("p1.explode", nil, nil), wantKind: protocol.KindRemoteExecution, wantPath: "p1.explode"},
		{name: "malformed instruction", in: protocol.Instruction{Operation: protocol.OpCall}, wantKind: protocol.KindProtocol},
		{name: "close a submodule", in: protocol.NewClose("d1.ch1"), wantKind: protocol.KindArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Handle(ctx, tt.in)
			if resp.Error == nil {
				t.Fatalf("Handle() succeeded with %v, want %s", resp.Message, tt.wantKind)
			}
			if resp.Message != nil {
				t.Errorf("error response carries message %v", resp.Message)
			}
			if resp.Error.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s (%v)", resp.Error.Kind, tt.wantKind, resp.Error)
			}
			if tt.wantPath != "" && resp.Error.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", resp.Error.Path, tt.wantPath)
			}
		})
	}

	// The station keeps serving p1 after its driver panicked.
	mustOK(t, d.Handle(ctx, protocol.NewCall("p1.readonly", nil, nil)))
}

func TestDispatcher_NonSettableLeavesStateUnchanged(t *testing.T) {
	d, events := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Dummy", "d1", nil)
	before := len(events.all())

	resp := d.Handle(ctx, protocol.NewCall("d1.temperature", []any{300}, nil))
	if !errors.Is(resp.Err(), protocol.ErrArgument) {
		t.Fatalf("set non-settable error = %v, want ErrArgument", resp.Err())
	}

	got := mustOK(t, d.Handle(ctx, protocol.NewCall("d1.temperature", nil, nil)))
	if got.Message != 4.2 {
		t.Errorf("temperature = %v after rejected set", got.Message)
	}
	if len(events.all()) != before {
		t.Error("rejected set published an event")
	}

	// A value rejected by the validator does not reach the instrument either.
	mustOK(t, d.Handle(ctx, protocol.NewCall("d1.x", []any{3}, nil)))
	d.Handle(ctx, protocol.NewCall("d1.x", []any{5000}, nil))
	if got := mustOK(t, d.Handle(ctx, protocol.NewCall("d1.x", nil, nil))); got.Message != 3.0 {
		t.Errorf("x = %v after rejected set, want 3", got.Message)
	}
}

// ===== Method Call Tests =====

func TestDispatcher_MethodCall(t *testing.T) {
	d, events := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Dummy", "d1", nil)

	resp := mustOK(t, d.Handle(ctx, protocol.NewCall("d1.ramp", []any{4.0}, map[string]any{"step": 2.0})))
	if resp.Message != 2 {
		t.Errorf("ramp = %v, want 2", resp.Message)
	}
	ev := events.find("d1.ramp", blueprint.ActionValueCalled)
	if ev == nil || ev.Value != 2 {
		t.Errorf("value-called event = %+v", ev)
	}

	resp = mustOK(t, d.Handle(ctx, protocol.NewCall("d1.echo", []any{"a", 1.0}, nil)))
	if vals, ok := resp.Message.([]any); !ok || len(vals) != 2 {
		t.Errorf("echo = %#v", resp.Message)
	}
}

func TestDispatcher_ShapeChangeEvents(t *testing.T) {
	d, events := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Dummy", "d1", nil)

	mustOK(t, d.Handle(ctx, protocol.NewCall("d1.add_channel", []any{"ch2"}, nil)))
	if events.find("d1.ch2", blueprint.ActionCreated) == nil {
		t.Error("no created event for d1.ch2")
	}
	if events.find("d1.ch2.gain", blueprint.ActionCreated) == nil {
		t.Error("no created event for d1.ch2.gain")
	}

	resp := mustOK(t, d.Handle(ctx, protocol.NewGetBlueprint("d1")))
	if _, ok := resp.Message.(*blueprint.ModuleBlueprint).Submodules["ch2"]; !ok {
		t.Error("blueprint does not reflect added channel")
	}

	mustOK(t, d.Handle(ctx, protocol.NewCall("d1.remove_channel", []any{"ch2"}, nil)))
	if events.find("d1.ch2", blueprint.ActionDeleted) == nil {
		t.Error("no deleted event for d1.ch2")
	}
}

// ===== Batch Tests =====

func TestDispatcher_Snapshot(t *testing.T) {
	d, _ := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Dummy", "d1", map[string]any{"x": 2})
	create(t, d, "Probe", "p1", nil)

	t.Run("whole station", func(t *testing.T) {
		resp := mustOK(t, d.Handle(ctx, protocol.NewGetSnapshot("")))
		got := resp.Message.(map[string]any)
		if got["d1.x"] != 2.0 || got["p1.readonly"] != 1.5 || got["d1.ch1.gain"] != 1.0 {
			t.Errorf("snapshot = %v", got)
		}
	})

	t.Run("one parameter", func(t *testing.T) {
		resp := mustOK(t, d.Handle(ctx, protocol.NewGetSnapshot("d1.x")))
		got := resp.Message.(map[string]any)
		if len(got) != 1 || got["d1.x"] != 2.0 {
			t.Errorf("snapshot = %v", got)
		}
	})

	t.Run("attributes", func(t *testing.T) {
		resp := mustOK(t, d.Handle(ctx, protocol.NewGetSnapshot("d1.ch1", "value", "unit")))
		got := resp.Message.(map[string]any)
		gain, ok := got["d1.ch1.gain"].(map[string]any)
		if !ok || gain["value"] != 1.0 || gain["unit"] != "" {
			t.Errorf("snapshot = %v", got)
		}
	})

	t.Run("partial failure", func(t *testing.T) {
		resp := d.Handle(ctx, protocol.NewGetSnapshot("ghost"))
		if !errors.Is(resp.Err(), protocol.ErrBatch) {
			t.Fatalf("Err() = %v, want ErrBatch", resp.Err())
		}
		if _, ok := resp.Error.Failures["ghost"]; !ok {
			t.Errorf("failures = %v", resp.Error.Failures)
		}
	})

	t.Run("bad attribute", func(t *testing.T) {
		resp := d.Handle(ctx, protocol.NewGetSnapshot("d1.x", "colour"))
		if !errors.Is(resp.Err(), protocol.ErrBatch) || resp.Error.Failures["d1.x"] == "" {
			t.Errorf("Err() = %v", resp.Err())
		}
	})
}

func TestDispatcher_SnapshotEmptyStation(t *testing.T) {
	d, _ := setupDispatcher(t)
	resp := mustOK(t, d.Handle(context.Background(), protocol.NewGetSnapshot("")))
	if got := resp.Message.(map[string]any); len(got) != 0 {
		t.Errorf("snapshot = %v, want {}", got)
	}
}

func TestDispatcher_SetParameters(t *testing.T) {
	d, events := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Dummy", "d1", nil)
	create(t, d, "Dummy", "d2", nil)

	resp := d.Handle(ctx, protocol.NewSetParameters(map[string]any{
		"d1.x":           1.0,
		"d2.x":           2.0,
		"d1.ch1.gain":    10,
		"d1.temperature": 5,    // not settable
		"d2.x2":          1,    // no such parameter
		"ghost.x":        1,    // no such instrument
		"d2.ch1.gain":    1000, // rejected by validator
	}))

	if !errors.Is(resp.Err(), protocol.ErrBatch) {
		t.Fatalf("Err() = %v, want ErrBatch", resp.Err())
	}
	ok := resp.Message.(map[string]any)
	for _, path := range []string{"d1.x", "d2.x", "d1.ch1.gain"} {
		if _, found := ok[path]; !found {
			t.Errorf("successful subset missing %s: %v", path, ok)
		}
	}
	for _, path := range []string{"d1.temperature", "d2.x2", "ghost.x", "d2.ch1.gain"} {
		if _, found := resp.Error.Failures[path]; !found {
			t.Errorf("failures missing %s: %v", path, resp.Error.Failures)
		}
	}
	if len(ok)+len(resp.Error.Failures) != 7 {
		t.Errorf("%d successes + %d failures, want 7", len(ok), len(resp.Error.Failures))
	}

	got := mustOK(t, d.Handle(ctx, protocol.NewCall("d2.x", nil, nil)))
	if got.Message != 2.0 {
		t.Errorf("d2.x = %v, want 2", got.Message)
	}
	if events.find("d1.ch1.gain", blueprint.ActionValueUpdated) == nil {
		t.Error("no value-updated event for batch entry")
	}
}

// ===== Close Tests =====

func TestDispatcher_Close(t *testing.T) {
	d, events := setupDispatcher(t)
	ctx := context.Background()
	create(t, d, "Dummy", "d1", nil)

	mustOK(t, d.Handle(ctx, protocol.NewClose("d1")))
	if events.find("d1", blueprint.ActionDeleted) == nil {
		t.Error("no deleted event")
	}
	resp := d.Handle(ctx, protocol.NewCall("d1.x", nil, nil))
	if !errors.Is(resp.Err(), protocol.ErrNotFound) {
		t.Errorf("call after close error = %v, want ErrNotFound", resp.Err())
	}
	resp = d.Handle(ctx, protocol.NewClose("d1"))
	if !errors.Is(resp.Err(), protocol.ErrNotFound) {
		t.Errorf("second close error = %v, want ErrNotFound", resp.Err())
	}
}

func TestDispatcher_CreateIdempotent(t *testing.T) {
	d, events := setupDispatcher(t)
	create(t, d, "Dummy", "d1", nil)
	create(t, d, "Dummy", "d1", nil)

	count := 0
	for _, ev := range events.all() {
		if ev.Action == blueprint.ActionCreated && ev.Path == "d1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("%d created events, want 1", count)
	}
}

// ===== Metrics Tests =====

func TestDispatcher_Metrics(t *testing.T) {
	reg := NewRegistry(testCatalog(t))
	metrics := NewMetrics("test")
	d := NewDispatcher(reg, nil, metrics, nil)
	ctx := context.Background()

	d.Handle(ctx, protocol.NewEnumerate())
	d.Handle(ctx, protocol.NewCall("ghost.x", nil, nil))
	create(t, d, "Dummy", "d1", nil)

	if got := testutil.ToFloat64(metrics.instructions.WithLabelValues("enumerate-instruments", "ok")); got != 1 {
		t.Errorf("enumerate ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.instructions.WithLabelValues("call", "NotFoundError")); got != 1 {
		t.Errorf("call NotFoundError count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.instruments); got != 1 {
		t.Errorf("instruments gauge = %v, want 1", got)
	}
	_ = reg.CloseAll(ctx)
}
