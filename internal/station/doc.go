// Package station hosts live instruments and executes client instructions
// against them.
//
// # Components
//
//   - Registry: the name → instrument table, plus one worker per instrument
//   - BuildBlueprint: reflects a live module into a blueprint.ModuleBlueprint
//   - Dispatcher: routes a protocol.Instruction to the registry or a worker
//     and produces exactly one protocol.Response
//   - Broadcaster: non-blocking queue that fans change events out to sinks
//   - Metrics: Prometheus collector for instruction counts and latency
//
// # Concurrency Model
//
// Every root instrument owns a worker goroutine with a FIFO queue, started
// on first use and stopped when the instrument is closed. Operations that
// touch an instrument (call, get-blueprint, parameter batches) run on its
// worker, so one instrument executes strictly one operation at a time in
// receipt order while different instruments proceed in parallel.
//
// The registry-wide mutex guards only the name → entry map. It is never
// held while a driver constructor, call or Close runs.
//
// Change events are handed to the Broadcaster, which never blocks the
// caller: when its queue is full the event is dropped and counted.
//
// # Usage
//
//	reg := station.NewRegistry(instrument.Default())
//	bc := station.NewBroadcaster(256, logger)
//	bc.AddSink(mqttSink)
//	go bc.Run(ctx)
//
//	d := station.NewDispatcher(reg, bc, metrics, logger)
//	resp := d.Handle(ctx, protocol.NewCreate("Dummy", "d1", nil, nil))
package station
