package instrument

import (
	"fmt"
	"strings"
)

// Member is the object a path resolves to. Exactly one field is set.
type Member struct {
	Parameter *Parameter
	Method    *Method
	Module    Module
}

// Resolve walks from root down the dotted path. The first segment must be
// root's own name.
func Resolve(root Module, path string) (Member, error) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] != root.Name() {
		return Member{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	current := root
	rest := segments[1:]
	for i, name := range rest {
		last := i == len(rest)-1
		if sub, ok := current.Submodule(name); ok {
			current = sub
			continue
		}
		if !last {
			return Member{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if p, ok := current.Parameter(name); ok {
			return Member{Parameter: p}, nil
		}
		if m, ok := LookupMethod(current, name); ok {
			return Member{Method: m}, nil
		}
		return Member{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return Member{Module: current}, nil
}

// Walk calls fn for every parameter in the tree under m, depth first in
// sorted name order.
func Walk(m Module, fn func(p *Parameter) error) error {
	for _, name := range m.ParameterNames() {
		p, _ := m.Parameter(name)
		if err := fn(p); err != nil {
			return err
		}
	}
	for _, name := range m.SubmoduleNames() {
		sub, _ := m.Submodule(name)
		if err := Walk(sub, fn); err != nil {
			return err
		}
	}
	return nil
}
