// Package influxdb mirrors instrument parameter values into InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Writes are
// non-blocking and batched; failures surface through SetOnError.
//
// # Data Model
//
//	parameter_value,station=bench-3,instrument=psu,path=psu.output.voltage,unit=V value=5.0
//	method_call,station=bench-3,instrument=psu,path=psu.ramp count=1i
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Station.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	broadcaster.AddSink("influxdb", client)
package influxdb
