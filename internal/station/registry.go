package station

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/instrument-station/internal/instrument"
	"github.com/nerrad567/instrument-station/internal/protocol"
)

// entry is one registered instrument and its worker.
type entry struct {
	inst    instrument.Instrument
	classID string
	worker  *worker
}

// Registry owns the live instruments, keyed by name.
//
// The mutex guards only the map; constructors, driver calls and Close run
// outside it.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	catalog *instrument.Catalog
	mu      sync.Mutex
	entries map[string]*entry
	logger  Logger
}

// NewRegistry creates an empty registry that resolves classes in catalog.
func NewRegistry(catalog *instrument.Catalog) *Registry {
	if catalog == nil {
		catalog = instrument.Default()
	}
	return &Registry{
		catalog: catalog,
		entries: make(map[string]*entry),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry and the workers it starts.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Create constructs an instrument of classID and registers it as name.
//
// Returns:
//   - instrument.Instrument: the registered instance
//   - bool: true when a new instance was created; false when name was
//     already registered with the same class and that instance is returned
//   - error: InstrumentClassError for an unknown class, DuplicateNameError
//     when name is taken by a different class, ArgumentError for a bad name
//     or constructor arguments, RemoteExecutionError when the constructor fails
func (r *Registry) Create(name, classID string, args []any, kwargs map[string]any) (instrument.Instrument, bool, error) {
	if err := instrument.ValidateName(name); err != nil {
		return nil, false, protocol.Argument(err.Error())
	}

	if existing, ok, err := r.existing(name, classID); ok || err != nil {
		return existing, false, err
	}

	ctor, err := r.catalog.Lookup(classID)
	if err != nil {
		return nil, false, protocol.InstrumentClass(classID)
	}

	inst, err := construct(ctor, name, args, kwargs)
	if err != nil {
		if errors.Is(err, instrument.ErrArgument) {
			return nil, false, protocol.Argument(err.Error())
		}
		return nil, false, protocol.RemoteExecution(name, err.Error())
	}
	if inst.Name() != name {
		_ = inst.Close()
		return nil, false, protocol.RemoteExecution(name, fmt.Sprintf("constructor named the instrument %q", inst.Name()))
	}

	r.mu.Lock()
	if e, taken := r.entries[name]; taken {
		// Lost a race with a concurrent create of the same name.
		r.mu.Unlock()
		_ = inst.Close()
		if e.classID != classID {
			return nil, false, protocol.DuplicateName(name)
		}
		return e.inst, false, nil
	}
	r.entries[name] = &entry{inst: inst, classID: classID}
	r.mu.Unlock()

	r.logger.Info("instrument created", "name", name, "class", classID)
	return inst, true, nil
}

func (r *Registry) existing(name, classID string) (instrument.Instrument, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false, nil
	}
	if e.classID != classID {
		return nil, false, protocol.DuplicateName(name)
	}
	return e.inst, true, nil
}

// construct calls a driver constructor, turning a panic into an error.
func construct(ctor instrument.Constructor, name string, args []any, kwargs map[string]any) (inst instrument.Instrument, err error) {
	defer func() {
		if p := recover(); p != nil {
			inst, err = nil, fmt.Errorf("%w: %v", ErrDriverPanic, p)
		}
	}()
	inst, err = ctor(name, args, kwargs)
	if err == nil && inst == nil {
		err = fmt.Errorf("constructor returned no instrument")
	}
	return inst, err
}

// Lookup returns the instrument registered as name and its class.
func (r *Registry) Lookup(name string) (instrument.Instrument, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, "", false
	}
	return e.inst, e.classID, true
}

// Enumerate returns name → class identifier for every registered instrument.
func (r *Registry) Enumerate() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.classID
	}
	return out
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered instruments.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Exec runs fn on the worker of the instrument called name, starting the
// worker if this is the instrument's first operation.
//
// The job is queued while the registry lock is held, so it is always
// ahead of the Close queued by a concurrent unregister.
func (r *Registry) Exec(ctx context.Context, name string, fn func(inst instrument.Instrument) error) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return protocol.NotFound(name)
	}
	if e.worker == nil {
		e.worker = newWorker(name, r.logger)
	}
	w, inst := e.worker, e.inst
	j, err := w.submit(func() error { return fn(inst) })
	r.mu.Unlock()

	if err == nil {
		err = w.wait(ctx, j)
	}
	if errors.Is(err, ErrWorkerStopped) {
		return protocol.NotFound(name)
	}
	return err
}

// QueueDepth returns the number of operations waiting for name's worker.
func (r *Registry) QueueDepth(name string) int {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok || e.worker == nil {
		return 0
	}
	return e.worker.Depth()
}

// Close unregisters name, waits for its queued operations, closes the
// instrument on its worker and stops the worker.
func (r *Registry) Close(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()
	if !ok {
		return protocol.NotFound(name)
	}

	var closeErr error
	if e.worker == nil {
		closeErr = e.inst.Close()
	} else {
		closeErr = e.worker.Do(ctx, e.inst.Close)
		e.worker.stop()
	}

	r.logger.Info("instrument closed", "name", name, "class", e.classID)
	if closeErr != nil {
		return protocol.RemoteExecution(name, closeErr.Error())
	}
	return nil
}

// CloseAll closes every registered instrument, returning the first error.
func (r *Registry) CloseAll(ctx context.Context) error {
	var first error
	for _, name := range r.Names() {
		if err := r.Close(ctx, name); err != nil && first == nil {
			first = err
		}
	}
	return first
}
