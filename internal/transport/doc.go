// Package transport carries instructions and responses between clients and
// a station over WebSocket.
//
// Each message is a binary multi-part frame (see protocol.EncodeFrames):
//
//	request: [request-id, instruction JSON]
//	reply:   [request-id, response JSON]
//
// The server side follows the same lifecycle as the other infrastructure
// components:
//
//	srv, err := transport.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
//
// The client side is Conn:
//
//	conn, err := transport.Dial(ctx, "ws://localhost:5555/ws", transport.DialOptions{})
//	resp, err := conn.Do(ctx, protocol.NewEnumerate())
//
// When a JWT secret is configured the upgrade request must carry
// "Authorization: Bearer <token>", and the token's role limits which
// operations the connection may send.
package transport
