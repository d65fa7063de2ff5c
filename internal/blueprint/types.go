package blueprint

import (
	"encoding/json"
	"sort"
)

// Kind is the wire discriminant of a blueprint variant.
type Kind string

// Blueprint kinds.
const (
	KindParameter Kind = "parameter"
	KindMethod    Kind = "method"
	KindModule    Kind = "module"
	KindBroadcast Kind = "broadcast"
)

// Blueprint is implemented by the four blueprint variants.
type Blueprint interface {
	// Kind returns the variant discriminant.
	Kind() Kind

	// FullPath returns the dotted path of the described object.
	FullPath() string
}

// ArgKind classifies how a method argument may be supplied.
type ArgKind string

// Argument kinds.
const (
	ArgPositional    ArgKind = "positional"
	ArgVarPositional ArgKind = "var_positional"
	ArgKeywordOnly   ArgKind = "keyword_only"
	ArgVarKeyword    ArgKind = "var_keyword"
)

// Valid reports whether k is a known argument kind.
func (k ArgKind) Valid() bool {
	switch k {
	case ArgPositional, ArgVarPositional, ArgKeywordOnly, ArgVarKeyword:
		return true
	}
	return false
}

// Argument is one entry of a method's ordered argument list.
type Argument struct {
	Name string  `json:"name"`
	Kind ArgKind `json:"kind"`
}

// Action identifies what happened to the object named in a ChangeEvent.
type Action string

// Change event actions.
const (
	ActionValueUpdated Action = "value-updated"
	ActionValueCalled  Action = "value-called"
	ActionCreated      Action = "created"
	ActionDeleted      Action = "deleted"
)

// Structural reports whether the action changes the shape of the object
// tree (as opposed to a value inside it).
func (a Action) Structural() bool {
	return a == ActionCreated || a == ActionDeleted
}

// ParameterBlueprint describes a single instrument parameter.
type ParameterBlueprint struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Unit      string   `json:"unit"`
	Gettable  bool     `json:"gettable"`
	Settable  bool     `json:"settable"`
	Validator string   `json:"validator,omitempty"`
	Doc       string   `json:"doc,omitempty"`
	Setpoints []string `json:"setpoints,omitempty"`
}

// Kind implements Blueprint.
func (*ParameterBlueprint) Kind() Kind { return KindParameter }

// FullPath implements Blueprint.
func (p *ParameterBlueprint) FullPath() string { return p.Path }

// MarshalJSON adds the discriminant.
func (p ParameterBlueprint) MarshalJSON() ([]byte, error) {
	type plain ParameterBlueprint
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindParameter, plain(p)})
}

// MethodBlueprint describes a callable member.
//
// Signature is a human-readable rendering such as "(start, stop, *points, rate=...)";
// Arguments is the ordered, machine-readable form the client binds against.
type MethodBlueprint struct {
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	Signature string     `json:"signature"`
	Arguments []Argument `json:"arguments"`
	Doc       string     `json:"doc,omitempty"`
}

// Kind implements Blueprint.
func (*MethodBlueprint) Kind() Kind { return KindMethod }

// FullPath implements Blueprint.
func (m *MethodBlueprint) FullPath() string { return m.Path }

// MarshalJSON adds the discriminant.
func (m MethodBlueprint) MarshalJSON() ([]byte, error) {
	type plain MethodBlueprint
	if m.Arguments == nil {
		m.Arguments = []Argument{}
	}
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindMethod, plain(m)})
}

// ModuleBlueprint describes an instrument or one of its submodules.
//
// Class is informational only; clients never use it to pick behaviour.
type ModuleBlueprint struct {
	Name       string                         `json:"name"`
	Path       string                         `json:"path"`
	Class      string                         `json:"class"`
	Doc        string                         `json:"doc,omitempty"`
	Parameters map[string]*ParameterBlueprint `json:"parameters"`
	Methods    map[string]*MethodBlueprint    `json:"methods"`
	Submodules map[string]*ModuleBlueprint    `json:"submodules"`
}

// Kind implements Blueprint.
func (*ModuleBlueprint) Kind() Kind { return KindModule }

// FullPath implements Blueprint.
func (m *ModuleBlueprint) FullPath() string { return m.Path }

// MarshalJSON adds the discriminant and writes empty maps as {}.
func (m ModuleBlueprint) MarshalJSON() ([]byte, error) {
	type plain ModuleBlueprint
	if m.Parameters == nil {
		m.Parameters = map[string]*ParameterBlueprint{}
	}
	if m.Methods == nil {
		m.Methods = map[string]*MethodBlueprint{}
	}
	if m.Submodules == nil {
		m.Submodules = map[string]*ModuleBlueprint{}
	}
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindModule, plain(m)})
}

// ParameterNames returns the parameter keys in sorted order.
func (m *ModuleBlueprint) ParameterNames() []string { return sortedKeys(m.Parameters) }

// MethodNames returns the method keys in sorted order.
func (m *ModuleBlueprint) MethodNames() []string { return sortedKeys(m.Methods) }

// SubmoduleNames returns the submodule keys in sorted order.
func (m *ModuleBlueprint) SubmoduleNames() []string { return sortedKeys(m.Submodules) }

// Member returns the direct child called name, whichever category it is in.
func (m *ModuleBlueprint) Member(name string) (Blueprint, bool) {
	if p, ok := m.Parameters[name]; ok {
		return p, true
	}
	if f, ok := m.Methods[name]; ok {
		return f, true
	}
	if s, ok := m.Submodules[name]; ok {
		return s, true
	}
	return nil, false
}

// ChangeEvent is published after a successful mutation on the station.
type ChangeEvent struct {
	Path   string `json:"path"`
	Action Action `json:"action"`
	Value  any    `json:"value,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

// Kind implements Blueprint.
func (*ChangeEvent) Kind() Kind { return KindBroadcast }

// FullPath implements Blueprint.
func (e *ChangeEvent) FullPath() string { return e.Path }

// MarshalJSON adds the discriminant.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	type plain ChangeEvent
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
	}{KindBroadcast, plain(e)})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
