package blueprint

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode serialises a blueprint to its wire form.
func Encode(b Blueprint) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil blueprint", ErrMalformed)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encoding %s blueprint: %w", b.Kind(), err)
	}
	return data, nil
}

// Decode parses a wire blueprint, dispatching on its "type" discriminant.
//
// Returns:
//   - Blueprint: one of *ParameterBlueprint, *MethodBlueprint,
//     *ModuleBlueprint or *ChangeEvent
//   - error: ErrMalformed for undecodable input, ErrUnknownKind for an
//     unrecognised discriminant
func Decode(data []byte) (Blueprint, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var target Blueprint
	switch head.Type {
	case KindParameter:
		target = &ParameterBlueprint{}
	case KindMethod:
		target = &MethodBlueprint{}
	case KindModule:
		target = &ModuleBlueprint{}
	case KindBroadcast:
		target = &ChangeEvent{}
	case "":
		return nil, fmt.Errorf("%w: missing type discriminant", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Type)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrMalformed, head.Type, err)
	}
	if err := validate(target); err != nil {
		return nil, err
	}
	return target, nil
}

// DecodeRaw decodes a blueprint held in a json.RawMessage, treating an empty
// or null message as absent.
func DecodeRaw(raw json.RawMessage) (Blueprint, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil //nolint:nilnil // absent blueprint is not an error
	}
	return Decode(raw)
}

// Equal reports whether two blueprints are structurally equal.
//
// Comparison is done on the canonical encoding, so a decoded copy compares
// equal to its source even where JSON widened number types.
func Equal(a, b Blueprint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// SameShape reports whether two module blueprints have identical key sets
// for parameters, methods and submodules, recursively.
func SameShape(a, b *ModuleBlueprint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !sameKeys(a.Parameters, b.Parameters) || !sameKeys(a.Methods, b.Methods) {
		return false
	}
	if !sameKeys(a.Submodules, b.Submodules) {
		return false
	}
	for name, sub := range a.Submodules {
		if !SameShape(sub, b.Submodules[name]) {
			return false
		}
	}
	return true
}

func sameKeys[V any](a, b map[string]V) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// validate checks the invariants a decoded blueprint must satisfy.
func validate(b Blueprint) error {
	switch v := b.(type) {
	case *MethodBlueprint:
		for _, arg := range v.Arguments {
			if !arg.Kind.Valid() {
				return fmt.Errorf("%w: method %s: argument %q has kind %q", ErrMalformed, v.Path, arg.Name, arg.Kind)
			}
		}
	case *ModuleBlueprint:
		return validateModule(v)
	case *ChangeEvent:
		switch v.Action {
		case ActionValueUpdated, ActionValueCalled, ActionCreated, ActionDeleted:
		default:
			return fmt.Errorf("%w: change event for %s has action %q", ErrMalformed, v.Path, v.Action)
		}
	}
	return nil
}

// validateModule rejects a module whose member names collide across categories.
func validateModule(m *ModuleBlueprint) error {
	seen := make(map[string]Kind, len(m.Parameters)+len(m.Methods)+len(m.Submodules))
	check := func(name string, k Kind) error {
		if prev, dup := seen[name]; dup {
			return fmt.Errorf("%w: module %s: %q is both %s and %s", ErrDuplicateMember, m.Path, name, prev, k)
		}
		seen[name] = k
		return nil
	}
	for name := range m.Parameters {
		if err := check(name, KindParameter); err != nil {
			return err
		}
	}
	for name, f := range m.Methods {
		if err := check(name, KindMethod); err != nil {
			return err
		}
		if err := validate(f); err != nil {
			return err
		}
	}
	for name, sub := range m.Submodules {
		if err := check(name, KindModule); err != nil {
			return err
		}
		if err := validateModule(sub); err != nil {
			return err
		}
	}
	return nil
}
