package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/instrument-station/internal/blueprint"
)

// Measurement names written by the station.
const (
	MeasurementParameter = "parameter_value"
	MeasurementCall      = "method_call"
)

// WriteParameterValue records one numeric parameter reading.
//
// Parameters:
//   - path: Dotted parameter path (e.g., "psu.output.voltage")
//   - unit: Display unit, may be empty
//   - value: The numeric value
//   - ts: Observation time
//
// Example:
//
//	client.WriteParameterValue("psu.output.voltage", "V", 5.0, time.Now())
func (c *Client) WriteParameterValue(path, unit string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"station":    c.stationID,
		"instrument": blueprint.Root(path),
		"path":       path,
	}
	if unit != "" {
		tags["unit"] = unit
	}

	c.writer.WritePoint(write.NewPoint(MeasurementParameter, tags, map[string]any{"value": value}, ts))
}

// WriteMethodCall counts one method invocation.
func (c *Client) WriteMethodCall(path string, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"station":    c.stationID,
		"instrument": blueprint.Root(path),
		"path":       path,
	}
	c.writer.WritePoint(write.NewPoint(MeasurementCall, tags, map[string]any{"count": 1}, ts))
}

// Deliver mirrors change events into InfluxDB, so the client can be
// registered as a broadcaster sink.
//
// Numeric and boolean value updates become parameter points; method calls
// are counted. Structural events and non-numeric values are ignored.
func (c *Client) Deliver(_ context.Context, ev *blueprint.ChangeEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrWriteFailed)
	}
	switch ev.Action {
	case blueprint.ActionValueUpdated:
		if v, ok := numeric(ev.Value); ok {
			c.WriteParameterValue(ev.Path, ev.Unit, v, c.now())
		}
	case blueprint.ActionValueCalled:
		c.WriteMethodCall(ev.Path, c.now())
	}
	return nil
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
