package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/instrument-station/internal/blueprint"
	"github.com/nerrad567/instrument-station/internal/protocol"
)

// ModuleProxy mirrors a remote instrument or submodule.
//
// Members are built from the blueprint. A lookup that misses refreshes the
// blueprint once with Update and retries; a second miss is ErrNoSuchMember.
//
// Thread Safety: Member maps are guarded so a Subscriber may deliver events
// concurrently, but a proxy is otherwise meant for one goroutine at a time.
type ModuleProxy struct {
	client *Client
	path   string

	mu      sync.Mutex
	bp      *blueprint.ModuleBlueprint
	params  map[string]*ParameterProxy
	methods map[string]*MethodProxy
	subs    map[string]*ModuleProxy
}

func newModuleProxy(c *Client, bp *blueprint.ModuleBlueprint) *ModuleProxy {
	m := &ModuleProxy{
		client:  c,
		path:    bp.Path,
		params:  make(map[string]*ParameterProxy),
		methods: make(map[string]*MethodProxy),
		subs:    make(map[string]*ModuleProxy),
	}
	m.reconcile(bp)
	return m
}

// Path returns the dotted path of the mirrored module.
func (m *ModuleProxy) Path() string { return m.path }

// Blueprint returns the blueprint the proxy was last reconciled against.
func (m *ModuleProxy) Blueprint() *blueprint.ModuleBlueprint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bp
}

// ParameterNames returns the local parameter names in sorted order.
func (m *ModuleProxy) ParameterNames() []string { return m.Blueprint().ParameterNames() }

// MethodNames returns the local method names in sorted order.
func (m *ModuleProxy) MethodNames() []string { return m.Blueprint().MethodNames() }

// SubmoduleNames returns the local submodule names in sorted order.
func (m *ModuleProxy) SubmoduleNames() []string { return m.Blueprint().SubmoduleNames() }

// Parameter returns the named parameter proxy.
func (m *ModuleProxy) Parameter(ctx context.Context, name string) (*ParameterProxy, error) {
	return lookup(ctx, m, name, func() (*ParameterProxy, bool) {
		p, ok := m.params[name]
		return p, ok
	})
}

// Method returns the named method proxy.
func (m *ModuleProxy) Method(ctx context.Context, name string) (*MethodProxy, error) {
	return lookup(ctx, m, name, func() (*MethodProxy, bool) {
		f, ok := m.methods[name]
		return f, ok
	})
}

// Submodule returns the named submodule proxy.
func (m *ModuleProxy) Submodule(ctx context.Context, name string) (*ModuleProxy, error) {
	return lookup(ctx, m, name, func() (*ModuleProxy, bool) {
		s, ok := m.subs[name]
		return s, ok
	})
}

// Resolve walks a path relative to this module and returns the member it
// names: a *ParameterProxy, *MethodProxy or *ModuleProxy.
func (m *ModuleProxy) Resolve(ctx context.Context, path string) (any, error) {
	segments, err := blueprint.Split(path)
	if err != nil {
		return nil, err
	}
	current := m
	for _, name := range segments[:len(segments)-1] {
		if current, err = current.Submodule(ctx, name); err != nil {
			return nil, err
		}
	}
	last := segments[len(segments)-1]
	return lookup(ctx, current, last, func() (any, bool) {
		if p, ok := current.params[last]; ok {
			return p, true
		}
		if f, ok := current.methods[last]; ok {
			return f, true
		}
		if s, ok := current.subs[last]; ok {
			return s, true
		}
		return nil, false
	})
}

// Update re-fetches the blueprint, bypassing the cache, and reconciles the
// local members: new ones are added, vanished ones removed, and surviving
// ones keep their identity so references held by callers stay valid.
func (m *ModuleProxy) Update(ctx context.Context) error {
	m.client.cache.Invalidate(m.path)
	bp, err := m.client.cache.Get(ctx, m.path)
	if err != nil {
		return m.client.settle(protocol.NewGetBlueprint(m.path), err)
	}
	mod, ok := bp.(*blueprint.ModuleBlueprint)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotModule, m.path)
	}
	m.reconcile(mod)
	return nil
}

// Observe implements Observer. Value updates for parameters under this
// module refresh their last-seen value without a round trip.
func (m *ModuleProxy) Observe(ev *blueprint.ChangeEvent) {
	if ev == nil || ev.Action != blueprint.ActionValueUpdated || !blueprint.IsDescendant(ev.Path, m.path) {
		return
	}
	if p := m.localParameter(ev.Path); p != nil {
		p.observe(ev.Value)
	}
}

// localParameter finds an already-built parameter proxy without fetching.
func (m *ModuleProxy) localParameter(path string) *ParameterProxy {
	segments, err := blueprint.Split(path[len(m.path)+1:])
	if err != nil {
		return nil
	}
	current := m
	for _, name := range segments[:len(segments)-1] {
		current.mu.Lock()
		next := current.subs[name]
		current.mu.Unlock()
		if next == nil {
			return nil
		}
		current = next
	}
	current.mu.Lock()
	defer current.mu.Unlock()
	return current.params[segments[len(segments)-1]]
}

func (m *ModuleProxy) reconcile(bp *blueprint.ModuleBlueprint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bp = bp

	for name := range m.params {
		if _, ok := bp.Parameters[name]; !ok {
			delete(m.params, name)
		}
	}
	for name, pbp := range bp.Parameters {
		if p, ok := m.params[name]; ok {
			p.setBlueprint(pbp)
			continue
		}
		m.params[name] = &ParameterProxy{client: m.client, bp: pbp}
	}

	for name := range m.methods {
		if _, ok := bp.Methods[name]; !ok {
			delete(m.methods, name)
		}
	}
	for name, fbp := range bp.Methods {
		if f, ok := m.methods[name]; ok {
			f.setBlueprint(fbp)
			continue
		}
		m.methods[name] = &MethodProxy{client: m.client, bp: fbp}
	}

	for name := range m.subs {
		if _, ok := bp.Submodules[name]; !ok {
			delete(m.subs, name)
		}
	}
	for name, sbp := range bp.Submodules {
		if s, ok := m.subs[name]; ok {
			s.reconcile(sbp)
			continue
		}
		m.subs[name] = newModuleProxy(m.client, sbp)
	}
}

// lookup runs find under m's lock, refreshing m once on a miss.
func lookup[T any](ctx context.Context, m *ModuleProxy, name string, find func() (T, bool)) (T, error) {
	get := func() (T, bool) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return find()
	}

	if v, ok := get(); ok {
		return v, nil
	}
	var zero T
	if err := m.Update(ctx); err != nil {
		return zero, err
	}
	if v, ok := get(); ok {
		return v, nil
	}
	return zero, fmt.Errorf("%w: %s", ErrNoSuchMember, blueprint.Join(m.path, name))
}

// ParameterProxy mirrors one remote parameter.
type ParameterProxy struct {
	client *Client

	mu   sync.Mutex
	bp   *blueprint.ParameterBlueprint
	last any
}

// Path returns the parameter's dotted path.
func (p *ParameterProxy) Path() string { return p.Blueprint().Path }

// Unit returns the parameter's unit.
func (p *ParameterProxy) Unit() string { return p.Blueprint().Unit }

// Blueprint returns the parameter's blueprint.
func (p *ParameterProxy) Blueprint() *blueprint.ParameterBlueprint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bp
}

// Get reads the current value from the station.
func (p *ParameterProxy) Get(ctx context.Context) (any, error) {
	bp := p.Blueprint()
	if !bp.Gettable {
		return nil, fmt.Errorf("%w: %s", ErrNotGettable, bp.Path)
	}
	in := protocol.NewCall(bp.Path, nil, nil)
	var value any
	err := p.client.exchange(ctx, in, &value)
	if err == nil {
		p.observe(value)
	}
	return value, p.client.settle(in, err)
}

// Set writes value on the station.
func (p *ParameterProxy) Set(ctx context.Context, value any) error {
	bp := p.Blueprint()
	if !bp.Settable {
		return fmt.Errorf("%w: %s", ErrNotSettable, bp.Path)
	}
	in := protocol.NewCall(bp.Path, []any{value}, nil)
	err := p.client.exchange(ctx, in, nil)
	if err == nil {
		p.observe(value)
	}
	return p.client.settle(in, err)
}

// LastValue returns the value most recently read, written or observed in a
// change event, or nil if there has been none.
func (p *ParameterProxy) LastValue() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *ParameterProxy) observe(value any) {
	p.mu.Lock()
	p.last = value
	p.mu.Unlock()
}

func (p *ParameterProxy) setBlueprint(bp *blueprint.ParameterBlueprint) {
	p.mu.Lock()
	p.bp = bp
	p.mu.Unlock()
}

// MethodProxy is a bound remote method.
type MethodProxy struct {
	client *Client

	mu sync.Mutex
	bp *blueprint.MethodBlueprint
}

// Path returns the method's dotted path.
func (f *MethodProxy) Path() string { return f.Blueprint().Path }

// Signature returns the method's human-readable signature.
func (f *MethodProxy) Signature() string { return f.Blueprint().Signature }

// Blueprint returns the method's blueprint.
func (f *MethodProxy) Blueprint() *blueprint.MethodBlueprint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bp
}

// Call invokes the method with positional arguments only.
func (f *MethodProxy) Call(ctx context.Context, args ...any) (any, error) {
	return f.Invoke(ctx, Args{Positional: args})
}

// Invoke binds args to the declared signature and calls the method.
func (f *MethodProxy) Invoke(ctx context.Context, args Args) (any, error) {
	positional, kwargs, err := f.Bind(args)
	if err != nil {
		return nil, err
	}
	return f.client.Call(ctx, f.Path(), positional, kwargs)
}

// Bind maps args onto this method's declared arguments. See Bind.
func (f *MethodProxy) Bind(args Args) ([]any, map[string]any, error) {
	bp := f.Blueprint()
	positional, kwargs, err := Bind(bp.Arguments, args)
	if err != nil {
		return nil, nil, fmt.Errorf("%s%s: %w", bp.Path, bp.Signature, err)
	}
	return positional, kwargs, nil
}

func (f *MethodProxy) setBlueprint(bp *blueprint.MethodBlueprint) {
	f.mu.Lock()
	f.bp = bp
	f.mu.Unlock()
}
