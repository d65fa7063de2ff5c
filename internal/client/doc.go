// Package client talks to an instrument station.
//
// Client sends instructions over a transport.Conn and keeps a shared
// BlueprintCache. Proxies mirror remote instruments locally so their
// parameters, methods and submodules can be used by name:
//
//	c, err := client.Connect(ctx, cfg.Client, logger)
//	dmm, err := c.FindOrCreateInstrument(ctx, "dmm", "Dummy", nil, nil)
//	x, err := dmm.Parameter(ctx, "x")
//	err = x.Set(ctx, 1.5)
//
// A Subscriber follows the station's change broadcasts over MQTT and hands
// each event to registered observers, typically the cache and live proxies.
//
// By default a remote failure is returned as a *protocol.RemoteError. With
// RaiseErrors disabled it is logged instead and the zero value returned.
// Transport failures such as transport.ErrServerTimeout are always
// returned; the connection redials on the next request.
package client
