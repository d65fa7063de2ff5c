package station

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/instrument-station/internal/blueprint"
	"github.com/nerrad567/instrument-station/internal/drivers/dummy"
	"github.com/nerrad567/instrument-station/internal/instrument"
)

// probe is a test driver that records the order its calls run in.
type probe struct {
	instrument.Base

	mu     sync.Mutex
	log    []int
	active int
	maxPar int
	closed bool
}

func newProbe(name string, _ []any, _ map[string]any) (instrument.Instrument, error) {
	p := &probe{}
	p.Init(name, "call-order probe")
	if err := p.AddParameter(instrument.NewParameter("readonly", instrument.ParameterConfig{
		Unit: "A",
		Get:  func() (any, error) { return 1.5, nil },
	})); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *probe) MethodSpecs() map[string]instrument.MethodSpec {
	return map[string]instrument.MethodSpec{
		"Record": {Args: []string{"id", "millis"}},
	}
}

// Record logs id after sleeping for millis and tracks peak concurrency.
func (p *probe) Record(id, millis int) int {
	p.mu.Lock()
	p.active++
	if p.active > p.maxPar {
		p.maxPar = p.active
	}
	p.mu.Unlock()

	time.Sleep(time.Duration(millis) * time.Millisecond)

	p.mu.Lock()
	p.log = append(p.log, id)
	p.active--
	p.mu.Unlock()
	return id
}

func (p *probe) Explode() { panic("probe exploded") }

func (p *probe) Broken() error { return errors.New("bus timeout") }

func (p *probe) Close() error {
	p.closed = true
	return nil
}

func (p *probe) snapshot() ([]int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.log...), p.maxPar
}

// eventRecorder collects published change events.
type eventRecorder struct {
	mu     sync.Mutex
	events []*blueprint.ChangeEvent
}

func (r *eventRecorder) Publish(ev *blueprint.ChangeEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *eventRecorder) all() []*blueprint.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*blueprint.ChangeEvent(nil), r.events...)
}

func (r *eventRecorder) find(path string, action blueprint.Action) *blueprint.ChangeEvent {
	for _, ev := range r.all() {
		if ev.Path == path && ev.Action == action {
			return ev
		}
	}
	return nil
}

func testCatalog(t *testing.T) *instrument.Catalog {
	t.Helper()
	c := instrument.NewCatalog()
	if err := c.Register(dummy.ClassID, dummy.New); err != nil {
		t.Fatalf("Register(Dummy) error = %v", err)
	}
	if err := c.Register("Probe", newProbe); err != nil {
		t.Fatalf("Register(Probe) error = %v", err)
	}
	return c
}

// setupDispatcher returns a dispatcher over a fresh registry and the
// recorder receiving its events.
func setupDispatcher(t *testing.T) (*Dispatcher, *eventRecorder) {
	t.Helper()
	reg := NewRegistry(testCatalog(t))
	events := &eventRecorder{}
	d := NewDispatcher(reg, events, NewMetrics("test"), nil)
	t.Cleanup(func() { _ = reg.CloseAll(context.Background()) })
	return d, events
}
