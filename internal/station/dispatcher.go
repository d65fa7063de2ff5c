package station

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/instrument-station/internal/blueprint"
	"github.com/nerrad567/instrument-station/internal/instrument"
	"github.com/nerrad567/instrument-station/internal/protocol"
)

// EventPublisher accepts change events without blocking.
type EventPublisher interface {
	Publish(ev *blueprint.ChangeEvent) bool
}

// Dispatcher executes instructions against the registry.
//
// Handle is a pure request/response function: it holds no per-connection
// state, so any number of connections may call it concurrently.
type Dispatcher struct {
	registry *Registry
	events   EventPublisher
	metrics  *Metrics
	logger   Logger
}

// NewDispatcher creates a dispatcher.
//
// Parameters:
//   - registry: instrument registry (required)
//   - events: change event sink, usually a *Broadcaster (may be nil)
//   - metrics: Prometheus collector (may be nil)
//   - logger: Logger instance (may be nil)
func NewDispatcher(registry *Registry, events EventPublisher, metrics *Metrics, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		registry: registry,
		events:   events,
		metrics:  metrics,
		logger:   logger,
	}
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Handle executes one instruction and returns its response.
func (d *Dispatcher) Handle(ctx context.Context, in protocol.Instruction) protocol.Response {
	start := time.Now()

	var resp protocol.Response
	if err := in.Validate(); err != nil {
		resp = protocol.Fail(protocol.Protocol(err.Error()))
	} else {
		resp = d.route(ctx, in)
	}

	if d.metrics != nil {
		result := "ok"
		if resp.Error != nil {
			result = string(resp.Error.Kind)
		}
		d.metrics.RecordInstruction(string(in.Operation), result, time.Since(start))
	}
	if resp.Error != nil {
		d.logger.Debug("instruction failed",
			"operation", in.Operation, "target", in.Target(), "error", resp.Error.Error())
	}
	return resp
}

func (d *Dispatcher) route(ctx context.Context, in protocol.Instruction) protocol.Response {
	switch in.Operation {
	case protocol.OpEnumerate:
		return protocol.OK(d.registry.Enumerate())
	case protocol.OpCreate:
		return d.create(ctx, in.Create)
	case protocol.OpGetBlueprint:
		return d.getBlueprint(ctx, in.GetBlueprint.Path)
	case protocol.OpCall:
		return d.call(ctx, in.Call)
	case protocol.OpGetSnapshot:
		return d.snapshot(ctx, in.GetSnapshot)
	case protocol.OpSetParameters:
		return d.setParameters(ctx, in.SetParams)
	case protocol.OpClose:
		return d.closeInstrument(ctx, in.Close.Path)
	}
	return protocol.Fail(protocol.Protocol(fmt.Sprintf("unknown operation %q", in.Operation)))
}

func (d *Dispatcher) create(ctx context.Context, p *protocol.CreatePayload) protocol.Response {
	_, created, err := d.registry.Create(p.Name, p.ClassID, p.Args, p.Kwargs)
	if err != nil {
		return protocol.Fail(protocol.AsRemoteError(err))
	}
	if created {
		d.publish(&blueprint.ChangeEvent{Path: p.Name, Action: blueprint.ActionCreated, Value: p.ClassID})
		if d.metrics != nil {
			d.metrics.RecordInstruments(d.registry.Len())
		}
	}
	return d.getBlueprint(ctx, p.Name)
}

func (d *Dispatcher) getBlueprint(ctx context.Context, path string) protocol.Response {
	var bp blueprint.Blueprint
	err := d.registry.Exec(ctx, blueprint.Root(path), func(inst instrument.Instrument) error {
		member, err := instrument.Resolve(inst, path)
		if err != nil {
			return err
		}
		bp, err = MemberBlueprint(member, d.logger)
		return err
	})
	if err != nil {
		return protocol.Fail(classify(path, err))
	}
	return protocol.OK(bp)
}

func (d *Dispatcher) call(ctx context.Context, p *protocol.CallPayload) protocol.Response {
	path := p.TargetPath
	var result any
	err := d.registry.Exec(ctx, blueprint.Root(path), func(inst instrument.Instrument) error {
		member, err := instrument.Resolve(inst, path)
		if err != nil {
			return err
		}
		switch {
		case member.Parameter != nil:
			result, err = d.callParameter(member.Parameter, p.Args, p.Kwargs)
			return err
		case member.Method != nil:
			before := memberPaths(inst)
			result, err = member.Method.Invoke(context.WithoutCancel(ctx), p.Args, p.Kwargs)
			if err != nil {
				return err
			}
			d.publish(&blueprint.ChangeEvent{Path: path, Action: blueprint.ActionValueCalled, Value: result})
			d.publishShapeChanges(before, memberPaths(inst))
			return nil
		}
		return protocol.NotCallable(path)
	})
	if err != nil {
		return protocol.Fail(classify(path, err))
	}
	return protocol.OK(result)
}

// callParameter reads with no arguments and writes with exactly one.
func (d *Dispatcher) callParameter(p *instrument.Parameter, args []any, kwargs map[string]any) (any, error) {
	if len(kwargs) > 0 {
		return nil, protocol.Argument(fmt.Sprintf("parameter %s takes no keyword arguments", p.FullName()))
	}
	switch len(args) {
	case 0:
		return p.Get()
	case 1:
		value, err := p.Set(args[0])
		if err != nil {
			return nil, err
		}
		d.publish(&blueprint.ChangeEvent{
			Path: p.FullName(), Action: blueprint.ActionValueUpdated, Value: value, Unit: p.Unit(),
		})
		return nil, nil
	}
	return nil, protocol.Argument(fmt.Sprintf("parameter %s takes at most 1 argument, got %d", p.FullName(), len(args)))
}

// snapshot reads parameters under one path, or under every instrument when
// the path is empty. Instruments are read in parallel, each on its worker.
func (d *Dispatcher) snapshot(ctx context.Context, p *protocol.SnapshotPayload) protocol.Response {
	attrs := p.Attrs
	flat := len(attrs) == 0 || (len(attrs) == 1 && attrs[0] == "value")

	targets := map[string][]string{}
	if p.Path == "" {
		for _, name := range d.registry.Names() {
			targets[name] = []string{name}
		}
	} else {
		targets[blueprint.Root(p.Path)] = []string{p.Path}
	}

	results := make(map[string]any)
	failures := make(map[string]string)
	var mu sync.Mutex

	d.fanOut(ctx, targets, failures, &mu, func(inst instrument.Instrument, path string) {
		member, err := instrument.Resolve(inst, path)
		if err != nil {
			mu.Lock()
			failures[path] = classify(path, err).Error()
			mu.Unlock()
			return
		}

		var params []*instrument.Parameter
		direct := false
		switch {
		case member.Parameter != nil:
			params, direct = []*instrument.Parameter{member.Parameter}, true
		case member.Module != nil:
			_ = instrument.Walk(member.Module, func(prm *instrument.Parameter) error {
				params = append(params, prm)
				return nil
			})
		default:
			mu.Lock()
			failures[path] = protocol.Argument(path + " is not a parameter or module").Error()
			mu.Unlock()
			return
		}

		for _, prm := range params {
			if flat && !prm.Gettable() && !direct {
				continue
			}
			value, err := readParameter(prm, attrs, flat)
			mu.Lock()
			if err != nil {
				failures[prm.FullName()] = classify(prm.FullName(), err).Error()
			} else {
				results[prm.FullName()] = value
			}
			mu.Unlock()
		}
	})

	return protocol.Partial(results, failures)
}

func readParameter(p *instrument.Parameter, attrs []string, flat bool) (any, error) {
	if flat {
		return p.Get()
	}
	out := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		v, err := p.Attribute(attr)
		if err != nil {
			return nil, err
		}
		out[attr] = v
	}
	return out, nil
}

// setParameters writes a batch of values, grouped by instrument so each
// group runs on its own worker while groups proceed in parallel. Entries
// within a group are applied in sorted path order.
func (d *Dispatcher) setParameters(ctx context.Context, values map[string]any) protocol.Response {
	targets := map[string][]string{}
	for path := range values {
		root := blueprint.Root(path)
		targets[root] = append(targets[root], path)
	}
	for _, paths := range targets {
		sort.Strings(paths)
	}

	results := make(map[string]any)
	failures := make(map[string]string)
	var mu sync.Mutex

	d.fanOut(ctx, targets, failures, &mu, func(inst instrument.Instrument, path string) {
		value, err := d.setOne(inst, path, values[path])
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures[path] = classify(path, err).Error()
			return
		}
		results[path] = value
	})

	return protocol.Partial(results, failures)
}

func (d *Dispatcher) setOne(inst instrument.Instrument, path string, value any) (any, error) {
	member, err := instrument.Resolve(inst, path)
	if err != nil {
		return nil, err
	}
	if member.Parameter == nil {
		return nil, protocol.Argument(path + " is not a parameter")
	}
	normalised, err := member.Parameter.Set(value)
	if err != nil {
		return nil, err
	}
	d.publish(&blueprint.ChangeEvent{
		Path: path, Action: blueprint.ActionValueUpdated, Value: normalised, Unit: member.Parameter.Unit(),
	})
	return normalised, nil
}

// fanOut runs fn for every path of every root, one errgroup goroutine per
// root, each inside that root's worker. An unknown root fails all its paths.
func (d *Dispatcher) fanOut(ctx context.Context, targets map[string][]string, failures map[string]string, mu *sync.Mutex,
	fn func(inst instrument.Instrument, path string),
) {
	g, gctx := errgroup.WithContext(ctx)
	for root, paths := range targets {
		g.Go(func() error {
			err := d.registry.Exec(gctx, root, func(inst instrument.Instrument) error {
				for _, path := range paths {
					fn(inst, path)
				}
				return nil
			})
			if err != nil {
				mu.Lock()
				for _, path := range paths {
					failures[path] = classify(path, err).Error()
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) closeInstrument(ctx context.Context, name string) protocol.Response {
	if blueprint.Root(name) != name {
		return protocol.Fail(protocol.Argument(name + " is not an instrument name"))
	}
	if err := d.registry.Close(ctx, name); err != nil {
		return protocol.Fail(classify(name, err))
	}
	d.publish(&blueprint.ChangeEvent{Path: name, Action: blueprint.ActionDeleted})
	if d.metrics != nil {
		d.metrics.RecordInstruments(d.registry.Len())
	}
	return protocol.OK(nil)
}

func (d *Dispatcher) publish(ev *blueprint.ChangeEvent) {
	if d.events != nil {
		d.events.Publish(ev)
	}
}

// publishShapeChanges emits created/deleted events for parameters and
// submodules that a method call added or removed.
func (d *Dispatcher) publishShapeChanges(before, after map[string]struct{}) {
	var created, deleted []string
	for p := range after {
		if _, ok := before[p]; !ok {
			created = append(created, p)
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(created)
	sort.Strings(deleted)
	for _, p := range deleted {
		d.publish(&blueprint.ChangeEvent{Path: p, Action: blueprint.ActionDeleted})
	}
	for _, p := range created {
		d.publish(&blueprint.ChangeEvent{Path: p, Action: blueprint.ActionCreated})
	}
}

// memberPaths lists the paths of every parameter and submodule under m.
func memberPaths(m instrument.Module) map[string]struct{} {
	out := make(map[string]struct{})
	var walk func(instrument.Module)
	walk = func(mod instrument.Module) {
		for _, name := range mod.ParameterNames() {
			out[mod.FullName()+"."+name] = struct{}{}
		}
		for _, name := range mod.SubmoduleNames() {
			sub, _ := mod.Submodule(name)
			out[sub.FullName()] = struct{}{}
			walk(sub)
		}
	}
	walk(m)
	return out
}

// classify maps an execution error onto the wire error taxonomy.
func classify(path string, err error) *protocol.RemoteError {
	var re *protocol.RemoteError
	switch {
	case errors.As(err, &re):
		if re.Kind == protocol.KindNotFound {
			return protocol.NotFound(path)
		}
		return re
	case errors.Is(err, instrument.ErrNotFound):
		return protocol.NotFound(path)
	case errors.Is(err, instrument.ErrArgument),
		errors.Is(err, instrument.ErrNotGettable),
		errors.Is(err, instrument.ErrNotSettable),
		errors.Is(err, instrument.ErrUnknownAttribute):
		return protocol.Argument(err.Error())
	case errors.Is(err, ErrUnsupportedKind):
		return protocol.NotCallable(path)
	}
	return protocol.RemoteExecution(path, err.Error())
}
