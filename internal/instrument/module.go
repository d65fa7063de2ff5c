package instrument

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Module is a named node of an instrument tree.
type Module interface {
	// Name returns the module's own name.
	Name() string

	// FullName returns the dotted path from the root instrument.
	FullName() string

	// Doc returns the module documentation.
	Doc() string

	// Parameter returns the named parameter.
	Parameter(name string) (*Parameter, bool)

	// ParameterNames returns parameter names in sorted order.
	ParameterNames() []string

	// Submodule returns the named submodule.
	Submodule(name string) (Module, bool)

	// SubmoduleNames returns submodule names in sorted order.
	SubmoduleNames() []string
}

// Instrument is a root module that owns hardware resources.
type Instrument interface {
	Module

	// Close releases the instrument's resources.
	Close() error
}

// ClassNamer lets a module report a class identifier other than its Go type name.
type ClassNamer interface {
	ClassName() string
}

// ClassName returns the display class of m.
func ClassName(m Module) string {
	if cn, ok := m.(ClassNamer); ok {
		return cn.ClassName()
	}
	t := reflect.TypeOf(m)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Base implements the bookkeeping half of Module. Drivers embed it and call
// Init before adding members.
type Base struct {
	name   string
	doc    string
	parent *Base
	params map[string]*Parameter
	subs   map[string]Module
}

// attachable is satisfied by every type embedding Base.
type attachable interface {
	base() *Base
}

func (b *Base) base() *Base { return b }

// Init sets the module's name and documentation.
func (b *Base) Init(name, doc string) {
	b.name = name
	b.doc = doc
	if b.params == nil {
		b.params = make(map[string]*Parameter)
	}
	if b.subs == nil {
		b.subs = make(map[string]Module)
	}
}

// Name implements Module.
func (b *Base) Name() string { return b.name }

// FullName implements Module.
func (b *Base) FullName() string {
	if b.parent == nil {
		return b.name
	}
	return b.parent.FullName() + "." + b.name
}

// Doc implements Module.
func (b *Base) Doc() string { return b.doc }

// Parameter implements Module.
func (b *Base) Parameter(name string) (*Parameter, bool) {
	p, ok := b.params[name]
	return p, ok
}

// ParameterNames implements Module.
func (b *Base) ParameterNames() []string { return sortedNames(b.params) }

// Submodule implements Module.
func (b *Base) Submodule(name string) (Module, bool) {
	m, ok := b.subs[name]
	return m, ok
}

// SubmoduleNames implements Module.
func (b *Base) SubmoduleNames() []string { return sortedNames(b.subs) }

// Close implements Instrument. Drivers override it to release hardware.
func (b *Base) Close() error { return nil }

// AddParameter attaches p to the module.
func (b *Base) AddParameter(p *Parameter) error {
	if err := ValidateName(p.name); err != nil {
		return err
	}
	if err := b.claim(p.name); err != nil {
		return err
	}
	if b.params == nil {
		b.params = make(map[string]*Parameter)
	}
	p.owner = b
	b.params[p.name] = p
	return nil
}

// AddSubmodule attaches sub under the module. sub must embed Base and have
// been initialised with its name.
func (b *Base) AddSubmodule(sub Module) error {
	a, ok := sub.(attachable)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotAttachable, sub)
	}
	name := sub.Name()
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := b.claim(name); err != nil {
		return err
	}
	if b.subs == nil {
		b.subs = make(map[string]Module)
	}
	a.base().parent = b
	b.subs[name] = sub
	return nil
}

// RemoveSubmodule detaches the named submodule, changing the module's shape.
func (b *Base) RemoveSubmodule(name string) bool {
	sub, ok := b.subs[name]
	if !ok {
		return false
	}
	if a, ok := sub.(attachable); ok {
		a.base().parent = nil
	}
	delete(b.subs, name)
	return true
}

// RemoveParameter detaches the named parameter.
func (b *Base) RemoveParameter(name string) bool {
	if _, ok := b.params[name]; !ok {
		return false
	}
	delete(b.params, name)
	return true
}

func (b *Base) claim(name string) error {
	if _, ok := b.params[name]; ok {
		return fmt.Errorf("%w: %s.%s is a parameter", ErrDuplicateMember, b.FullName(), name)
	}
	if _, ok := b.subs[name]; ok {
		return fmt.Errorf("%w: %s.%s is a submodule", ErrDuplicateMember, b.FullName(), name)
	}
	return nil
}

// ValidateName checks that name can be used as a path segment.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, ". \t\n/#+") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
