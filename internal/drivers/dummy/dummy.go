// Package dummy provides hardware-free instruments for tests, demos and
// commissioning a station without equipment attached.
//
// Importing the package registers the "Dummy" class in the default catalog.
package dummy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/nerrad567/instrument-station/internal/instrument"
)

// ClassID is the catalog identifier for Dummy.
const ClassID = "Dummy"

// DefaultDelay is how long SlowMethod blocks unless overridden.
const DefaultDelay = time.Second

// ErrFault is returned by Fault, simulating a hardware error.
var ErrFault = errors.New("dummy: simulated hardware fault")

var (
	intType       = reflect.TypeOf(0)
	floatType     = reflect.TypeOf(0.0)
	floatListType = reflect.TypeOf([]float64(nil))
)

func init() {
	instrument.Register(ClassID, New)
}

// Dummy is a fake instrument with one settable voltage, a read-only
// temperature, a swept trace and any number of channels.
type Dummy struct {
	instrument.Base

	delay  time.Duration
	closed bool
}

// Channel is a Dummy submodule.
type Channel struct {
	instrument.Base
}

// New constructs a Dummy. Recognised keyword arguments:
//   - channels: number of channel submodules (default 1)
//   - delay: SlowMethod duration in seconds (default 1)
//   - x: initial voltage (default 0)
func New(name string, _ []any, kwargs map[string]any) (instrument.Instrument, error) {
	channels := 1
	if v, ok := kwargs["channels"]; ok {
		n, err := instrument.Convert(v, intType)
		if err != nil {
			return nil, fmt.Errorf("%w: channels: %w", instrument.ErrArgument, err)
		}
		channels = int(n.Int())
	}
	delay := DefaultDelay
	if v, ok := kwargs["delay"]; ok {
		secs, err := instrument.Convert(v, floatType)
		if err != nil {
			return nil, fmt.Errorf("%w: delay: %w", instrument.ErrArgument, err)
		}
		delay = time.Duration(secs.Float() * float64(time.Second))
	}
	initial := 0.0
	if v, ok := kwargs["x"]; ok {
		x, err := instrument.Convert(v, floatType)
		if err != nil {
			return nil, fmt.Errorf("%w: x: %w", instrument.ErrArgument, err)
		}
		initial = x.Float()
	}

	d := &Dummy{delay: delay}
	d.Init(name, "Dummy instrument for testing without hardware.")

	x := instrument.ManualParameter("x", "V", initial, instrument.NewNumbers(-1000, 1000))
	temperature := instrument.NewParameter("temperature", instrument.ParameterConfig{
		Unit: "K",
		Doc:  "Simulated sensor temperature.",
		Get:  func() (any, error) { return 4.2, nil },
	})
	freq := instrument.ManualParameter("freq", "Hz", []float64{1, 2, 3, 4}, floatList{})
	trace := instrument.NewParameter("trace", instrument.ParameterConfig{
		Unit:      "V",
		Doc:       "Response measured at each freq setpoint.",
		Get:       func() (any, error) { return d.trace(), nil },
		Setpoints: []string{"freq"},
	})
	for _, p := range []*instrument.Parameter{x, temperature, freq, trace} {
		if err := d.AddParameter(p); err != nil {
			return nil, err
		}
	}

	for i := 1; i <= channels; i++ {
		if err := d.AddChannel(fmt.Sprintf("ch%d", i)); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ClassName implements instrument.ClassNamer.
func (d *Dummy) ClassName() string { return ClassID }

// MethodSpecs implements instrument.MethodSpecer.
func (d *Dummy) MethodSpecs() map[string]instrument.MethodSpec {
	return map[string]instrument.MethodSpec{
		"SlowMethod":    {Doc: "Blocks for the configured delay, like a slow hardware command."},
		"Echo":          {Doc: "Returns its arguments.", Variadic: "values"},
		"Ramp":          {Doc: "Sets x to target and reports the step count.", Args: []string{"target"}, KeywordOnly: []string{"step"}},
		"AddChannel":    {Doc: "Adds a channel submodule.", Args: []string{"name"}},
		"RemoveChannel": {Doc: "Removes a channel submodule.", Args: []string{"name"}},
		"Fault":         {Doc: "Fails with a simulated hardware fault."},
	}
}

// SlowMethod blocks for the configured delay.
func (d *Dummy) SlowMethod(ctx context.Context) (string, error) {
	timer := time.NewTimer(d.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Echo returns the values it was given.
func (d *Dummy) Echo(values ...any) []any {
	if values == nil {
		return []any{}
	}
	return values
}

// Ramp moves x to target in steps of size step (default 1).
func (d *Dummy) Ramp(target float64, opts instrument.Kwargs) (int, error) {
	step := 1.0
	if v, ok := opts["step"]; ok {
		s, err := instrument.Convert(v, floatType)
		if err != nil {
			return 0, fmt.Errorf("%w: step: %w", instrument.ErrArgument, err)
		}
		step = s.Float()
	}
	if step <= 0 {
		return 0, fmt.Errorf("%w: step must be positive", instrument.ErrArgument)
	}
	x, _ := d.Parameter("x")
	current, _ := x.Get()
	steps := int(math.Ceil(math.Abs(target-current.(float64)) / step))
	if _, err := x.Set(target); err != nil {
		return 0, err
	}
	return steps, nil
}

// AddChannel attaches a new channel, changing the instrument's shape.
func (d *Dummy) AddChannel(name string) error {
	ch := &Channel{}
	ch.Init(name, "Dummy channel.")
	if err := ch.AddParameter(instrument.ManualParameter("gain", "", 1.0, instrument.NewNumbers(0, 100))); err != nil {
		return err
	}
	if err := ch.AddParameter(instrument.ManualParameter("enabled", "", false, instrument.Bool{})); err != nil {
		return err
	}
	return d.AddSubmodule(ch)
}

// RemoveChannel detaches a channel.
func (d *Dummy) RemoveChannel(name string) error {
	if _, ok := d.Submodule(name); !ok {
		return fmt.Errorf("%w: no channel %q", instrument.ErrArgument, name)
	}
	d.RemoveSubmodule(name)
	return nil
}

// Fault always fails.
func (d *Dummy) Fault() error { return ErrFault }

// Close implements instrument.Instrument.
func (d *Dummy) Close() error {
	d.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (d *Dummy) Closed() bool { return d.closed }

// ClassName implements instrument.ClassNamer.
func (c *Channel) ClassName() string { return "DummyChannel" }

// Measure returns the channel gain.
func (c *Channel) Measure() (float64, error) {
	p, _ := c.Parameter("gain")
	v, err := p.Get()
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (d *Dummy) trace() []float64 {
	x, _ := d.Parameter("x")
	level, _ := x.LastValue().(float64)
	freq, _ := d.Parameter("freq")
	points, _ := freq.LastValue().([]float64)
	out := make([]float64, len(points))
	for i, f := range points {
		out[i] = level / f
	}
	return out
}

// floatList accepts a list of numbers.
type floatList struct{}

func (floatList) Validate(v any) (any, error) {
	out, err := instrument.Convert(v, floatListType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", instrument.ErrArgument, err)
	}
	return out.Interface(), nil
}

func (floatList) Describe() string { return "<Arrays float>" }
