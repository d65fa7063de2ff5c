// Package instrument defines the contract between the station and the
// drivers that control hardware.
//
// The station never depends on a driver's concrete type. Everything it
// needs is reached through the Module interface and through reflection
// over the driver's exported methods:
//
//   - Parameters are declared explicitly with AddParameter. Each has an
//     optional getter, an optional setter, a unit and a Validator.
//   - Methods are the exported Go methods of the driver type that are not
//     part of Base. Their argument kinds are derived from the Go signature
//     (see below) and may be named and documented via MethodSpecs.
//   - Submodules are nested drivers attached with AddSubmodule.
//
// # Writing a driver
//
//	type PowerSupply struct {
//	    instrument.Base
//	    volts float64
//	}
//
//	func NewPowerSupply(name string, _ []any, _ map[string]any) (instrument.Instrument, error) {
//	    ps := &PowerSupply{}
//	    ps.Init(name, "Bench power supply")
//	    err := ps.AddParameter(instrument.NewParameter("voltage", instrument.ParameterConfig{
//	        Unit:      "V",
//	        Get:       func() (any, error) { return ps.volts, nil },
//	        Set:       func(v any) error { ps.volts = v.(float64); return nil },
//	        Validator: instrument.NewNumbers(0, 30),
//	    }))
//	    return ps, err
//	}
//
//	func init() { instrument.Register("PowerSupply", NewPowerSupply) }
//
// # Method signatures
//
// A leading context.Context is supplied by the station. Ordinary parameters
// are positional (and may also be passed by keyword once named). A final
// ...T parameter collects extra positional arguments; a final Kwargs
// parameter collects keyword arguments. Results may be (), (T), (error) or
// (T, error).
//
// # Concurrency
//
// Drivers are not safe for concurrent use. The station guarantees that at
// most one operation touches an instrument tree at a time.
package instrument
