package station

import (
	"fmt"

	"github.com/nerrad567/instrument-station/internal/blueprint"
	"github.com/nerrad567/instrument-station/internal/instrument"
)

// BuildBlueprint reflects a live module into a shape-only blueprint.
//
// Parameters come from the module's declared parameters, methods from its
// exported driver methods and submodules are built recursively. Methods
// with unsupported signatures are skipped and logged at debug level.
//
// Returns ErrUnsupportedKind when obj is not an instrument.Module.
func BuildBlueprint(obj any, logger Logger) (*blueprint.ModuleBlueprint, error) {
	mod, ok := obj.(instrument.Module)
	if !ok || mod == nil {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKind, obj)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return buildModule(mod, logger), nil
}

func buildModule(mod instrument.Module, logger Logger) *blueprint.ModuleBlueprint {
	bp := &blueprint.ModuleBlueprint{
		Name:       mod.Name(),
		Path:       mod.FullName(),
		Class:      instrument.ClassName(mod),
		Doc:        mod.Doc(),
		Parameters: make(map[string]*blueprint.ParameterBlueprint),
		Methods:    make(map[string]*blueprint.MethodBlueprint),
		Submodules: make(map[string]*blueprint.ModuleBlueprint),
	}

	for _, name := range mod.ParameterNames() {
		p, ok := mod.Parameter(name)
		if !ok || p == nil {
			logger.Debug("skipping attribute that is not a parameter", "path", bp.Path, "name", name)
			continue
		}
		bp.Parameters[name] = ParameterBlueprint(p)
	}

	methods, skipped := instrument.Methods(mod)
	for _, goName := range skipped {
		logger.Debug("skipping method with unsupported signature or clashing name",
			"path", bp.Path, "method", goName)
	}
	for name, m := range methods {
		bp.Methods[name] = MethodBlueprint(m)
	}

	for _, name := range mod.SubmoduleNames() {
		sub, ok := mod.Submodule(name)
		if !ok || sub == nil {
			logger.Debug("skipping attribute that is not a module", "path", bp.Path, "name", name)
			continue
		}
		bp.Submodules[name] = buildModule(sub, logger)
	}
	return bp
}

// ParameterBlueprint describes a single parameter.
func ParameterBlueprint(p *instrument.Parameter) *blueprint.ParameterBlueprint {
	var setpoints []string
	if sp := p.Setpoints(); len(sp) > 0 {
		setpoints = append(setpoints, sp...)
	}
	return &blueprint.ParameterBlueprint{
		Name:      p.Name(),
		Path:      p.FullName(),
		Unit:      p.Unit(),
		Gettable:  p.Gettable(),
		Settable:  p.Settable(),
		Validator: p.Validator().Describe(),
		Doc:       p.Doc(),
		Setpoints: setpoints,
	}
}

// MethodBlueprint describes a single bound method.
func MethodBlueprint(m *instrument.Method) *blueprint.MethodBlueprint {
	return &blueprint.MethodBlueprint{
		Name:      m.Name(),
		Path:      m.FullName(),
		Signature: m.Signature(),
		Arguments: m.Arguments(),
		Doc:       m.Doc(),
	}
}

// MemberBlueprint describes whatever a resolved path points at.
func MemberBlueprint(m instrument.Member, logger Logger) (blueprint.Blueprint, error) {
	switch {
	case m.Parameter != nil:
		return ParameterBlueprint(m.Parameter), nil
	case m.Method != nil:
		return MethodBlueprint(m.Method), nil
	case m.Module != nil:
		return BuildBlueprint(m.Module, logger)
	}
	return nil, fmt.Errorf("%w: empty member", ErrUnsupportedKind)
}
