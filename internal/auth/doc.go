// Package auth provides optional bearer-token authentication for the
// station's request channel.
//
// When a JWT secret is configured, clients present an HS256 token in the
// Authorization header of the WebSocket upgrade. The token's role decides
// which instructions the connection may send:
//
//	observer → enumerate, get-blueprint, get-parameter-snapshot
//	operator → observer + call, set-parameters
//	admin    → operator + create-instrument, close-instrument
//
// The role-permission mapping is static; no database lookup is involved.
package auth
