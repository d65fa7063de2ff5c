package instrument

import (
	"fmt"
)

// ParameterConfig describes a parameter at construction time.
type ParameterConfig struct {
	Unit string
	Doc  string

	// Get reads the value from hardware. Nil makes the parameter write-only.
	Get func() (any, error)

	// Set writes an already validated value. Nil makes the parameter read-only.
	Set func(v any) error

	// Validator checks values before Set; nil accepts anything.
	Validator Validator

	// Setpoints names the parameters an array-valued parameter is swept against.
	Setpoints []string
}

// Parameter is a named value on a module.
type Parameter struct {
	name      string
	owner     *Base
	unit      string
	doc       string
	get       func() (any, error)
	set       func(v any) error
	validator Validator
	setpoints []string
	last      any
}

// NewParameter builds a parameter; attach it with Base.AddParameter.
func NewParameter(name string, cfg ParameterConfig) *Parameter {
	v := cfg.Validator
	if v == nil {
		v = Anything{}
	}
	return &Parameter{
		name:      name,
		unit:      cfg.Unit,
		doc:       cfg.Doc,
		get:       cfg.Get,
		set:       cfg.Set,
		validator: v,
		setpoints: cfg.Setpoints,
	}
}

// ManualParameter builds a gettable and settable parameter that simply
// stores its value in memory.
func ManualParameter(name, unit string, initial any, v Validator) *Parameter {
	p := NewParameter(name, ParameterConfig{Unit: unit, Validator: v})
	p.last = initial
	p.get = func() (any, error) { return p.last, nil }
	p.set = func(any) error { return nil }
	return p
}

// Name returns the parameter's own name.
func (p *Parameter) Name() string { return p.name }

// FullName returns the dotted path including the owning module.
func (p *Parameter) FullName() string {
	if p.owner == nil {
		return p.name
	}
	return p.owner.FullName() + "." + p.name
}

// Unit returns the declared unit.
func (p *Parameter) Unit() string { return p.unit }

// Doc returns the parameter documentation.
func (p *Parameter) Doc() string { return p.doc }

// Gettable reports whether the parameter can be read.
func (p *Parameter) Gettable() bool { return p.get != nil }

// Settable reports whether the parameter can be written.
func (p *Parameter) Settable() bool { return p.set != nil }

// Validator returns the parameter's validator.
func (p *Parameter) Validator() Validator { return p.validator }

// Setpoints returns the names of setpoint parameters.
func (p *Parameter) Setpoints() []string { return p.setpoints }

// LastValue returns the value most recently read or written.
func (p *Parameter) LastValue() any { return p.last }

// Get reads the current value.
func (p *Parameter) Get() (any, error) {
	if p.get == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotGettable, p.FullName())
	}
	v, err := p.get()
	if err != nil {
		return nil, err
	}
	p.last = v
	return v, nil
}

// Set validates v and writes it. A value the validator rejects never
// reaches the setter. Returns the normalised value that was written.
func (p *Parameter) Set(v any) (any, error) {
	if p.set == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotSettable, p.FullName())
	}
	normalised, err := p.validator.Validate(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.FullName(), err)
	}
	if err := p.set(normalised); err != nil {
		return nil, err
	}
	p.last = normalised
	return normalised, nil
}

// Attribute returns a named attribute for parameter snapshots. "value"
// reads from hardware; the others are static or cached.
func (p *Parameter) Attribute(attr string) (any, error) {
	switch attr {
	case "value":
		return p.Get()
	case "last_value":
		return p.last, nil
	case "unit":
		return p.unit, nil
	case "name":
		return p.name, nil
	case "full_name":
		return p.FullName(), nil
	case "doc":
		return p.doc, nil
	case "validator":
		return p.validator.Describe(), nil
	case "gettable":
		return p.Gettable(), nil
	case "settable":
		return p.Settable(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
}
