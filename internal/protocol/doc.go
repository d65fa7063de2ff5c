// Package protocol defines the request/response messages exchanged between
// station clients and the station dispatcher.
//
// # Messages
//
// A client sends an Instruction: an operation tag plus exactly the payload
// that operation needs. The station answers every Instruction with one
// Response, which carries a message on success or a RemoteError on failure.
// Batch operations (get-parameter-snapshot, set-parameters) are the only
// exception: a partially failed batch carries both the successful subset
// and an ErrBatch descriptor listing the failed paths.
//
// # Errors
//
// RemoteError is the wire form of a station failure. Its Unwrap method
// returns the package sentinel for its kind, so callers on either side of
// the connection can test with errors.Is:
//
//	if errors.Is(err, protocol.ErrNotFound) {
//	    // unknown instrument or path
//	}
//
// # Framing
//
// Messages travel as multi-part frames: each part is a 4-byte big-endian
// length followed by that many bytes. The request channel sends
// [request-id, instruction] and receives [request-id, response].
package protocol
