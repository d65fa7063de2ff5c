package protocol

import (
	"fmt"
)

// Operation tags an Instruction.
type Operation string

// Supported operations.
const (
	OpEnumerate     Operation = "enumerate-instruments"
	OpCreate        Operation = "create-instrument"
	OpGetBlueprint  Operation = "get-blueprint"
	OpCall          Operation = "call"
	OpGetSnapshot   Operation = "get-parameter-snapshot"
	OpSetParameters Operation = "set-parameters"
	OpClose         Operation = "close-instrument"
)

// Operations lists every operation the station understands.
var Operations = []Operation{
	OpEnumerate, OpCreate, OpGetBlueprint, OpCall, OpGetSnapshot, OpSetParameters, OpClose,
}

// Known reports whether op is a supported operation.
func (op Operation) Known() bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// CreatePayload asks the station to construct and register an instrument.
type CreatePayload struct {
	ClassID string         `json:"class_id"`
	Name    string         `json:"name"`
	Args    []any          `json:"args,omitempty"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
}

// PathPayload names a single object by its dotted path.
type PathPayload struct {
	Path string `json:"path"`
}

// CallPayload invokes a parameter or method.
type CallPayload struct {
	TargetPath string         `json:"target_path"`
	Args       []any          `json:"args,omitempty"`
	Kwargs     map[string]any `json:"kwargs,omitempty"`
}

// SnapshotPayload requests current parameter values. An empty Path means
// every registered instrument; empty Attrs means just the value.
type SnapshotPayload struct {
	Path  string   `json:"path,omitempty"`
	Attrs []string `json:"attrs,omitempty"`
}

// Instruction is a single client request.
type Instruction struct {
	Operation    Operation        `json:"operation"`
	Create       *CreatePayload   `json:"create,omitempty"`
	GetBlueprint *PathPayload     `json:"get_blueprint,omitempty"`
	Call         *CallPayload     `json:"call,omitempty"`
	GetSnapshot  *SnapshotPayload `json:"get_snapshot,omitempty"`
	SetParams    map[string]any   `json:"set_params,omitempty"`
	Close        *PathPayload     `json:"close,omitempty"`
}

// NewEnumerate builds an enumerate-instruments instruction.
func NewEnumerate() Instruction {
	return Instruction{Operation: OpEnumerate}
}

// NewCreate builds a create-instrument instruction.
func NewCreate(classID, name string, args []any, kwargs map[string]any) Instruction {
	return Instruction{
		Operation: OpCreate,
		Create:    &CreatePayload{ClassID: classID, Name: name, Args: args, Kwargs: kwargs},
	}
}

// NewGetBlueprint builds a get-blueprint instruction.
func NewGetBlueprint(path string) Instruction {
	return Instruction{Operation: OpGetBlueprint, GetBlueprint: &PathPayload{Path: path}}
}

// NewCall builds a call instruction.
func NewCall(target string, args []any, kwargs map[string]any) Instruction {
	return Instruction{
		Operation: OpCall,
		Call:      &CallPayload{TargetPath: target, Args: args, Kwargs: kwargs},
	}
}

// NewGetSnapshot builds a get-parameter-snapshot instruction.
func NewGetSnapshot(path string, attrs ...string) Instruction {
	return Instruction{Operation: OpGetSnapshot, GetSnapshot: &SnapshotPayload{Path: path, Attrs: attrs}}
}

// NewSetParameters builds a set-parameters instruction.
func NewSetParameters(values map[string]any) Instruction {
	return Instruction{Operation: OpSetParameters, SetParams: values}
}

// NewClose builds a close-instrument instruction.
func NewClose(name string) Instruction {
	return Instruction{Operation: OpClose, Close: &PathPayload{Path: name}}
}

// Validate checks that the instruction carries exactly the payload its
// operation requires. Failures wrap ErrProtocol.
func (in *Instruction) Validate() error {
	if !in.Operation.Known() {
		return fmt.Errorf("%w: unknown operation %q", ErrProtocol, in.Operation)
	}

	present := map[Operation]bool{
		OpCreate:        in.Create != nil,
		OpGetBlueprint:  in.GetBlueprint != nil,
		OpCall:          in.Call != nil,
		OpGetSnapshot:   in.GetSnapshot != nil,
		OpSetParameters: in.SetParams != nil,
		OpClose:         in.Close != nil,
	}
	for op, has := range present {
		if has && op != in.Operation {
			return fmt.Errorf("%w: %s carries a %s payload", ErrProtocol, in.Operation, op)
		}
	}

	switch in.Operation {
	case OpCreate:
		if in.Create == nil {
			return missingPayload(in.Operation)
		}
		if in.Create.ClassID == "" || in.Create.Name == "" {
			return fmt.Errorf("%w: create-instrument needs class_id and name", ErrProtocol)
		}
	case OpGetBlueprint:
		if in.GetBlueprint == nil {
			return missingPayload(in.Operation)
		}
		if in.GetBlueprint.Path == "" {
			return fmt.Errorf("%w: get-blueprint needs a path", ErrProtocol)
		}
	case OpCall:
		if in.Call == nil {
			return missingPayload(in.Operation)
		}
		if in.Call.TargetPath == "" {
			return fmt.Errorf("%w: call needs a target_path", ErrProtocol)
		}
	case OpGetSnapshot:
		if in.GetSnapshot == nil {
			in.GetSnapshot = &SnapshotPayload{}
		}
	case OpSetParameters:
		// An empty batch is a valid no-op.
	case OpClose:
		if in.Close == nil || in.Close.Path == "" {
			return missingPayload(in.Operation)
		}
	case OpEnumerate:
	}
	return nil
}

// Target returns the path an instruction is aimed at, or "" for operations
// that address the registry as a whole.
func (in *Instruction) Target() string {
	switch in.Operation {
	case OpCreate:
		if in.Create != nil {
			return in.Create.Name
		}
	case OpGetBlueprint:
		if in.GetBlueprint != nil {
			return in.GetBlueprint.Path
		}
	case OpCall:
		if in.Call != nil {
			return in.Call.TargetPath
		}
	case OpGetSnapshot:
		if in.GetSnapshot != nil {
			return in.GetSnapshot.Path
		}
	case OpClose:
		if in.Close != nil {
			return in.Close.Path
		}
	}
	return ""
}

func missingPayload(op Operation) error {
	return fmt.Errorf("%w: %s payload missing", ErrProtocol, op)
}
