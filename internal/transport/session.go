package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/instrument-station/internal/auth"
	"github.com/nerrad567/instrument-station/internal/infrastructure/logging"
	"github.com/nerrad567/instrument-station/internal/protocol"
)

// Fallback keepalive settings for a zero TransportConfig.
const (
	defaultPingPeriod = 30 * time.Second
	defaultPongWait   = 10 * time.Second
	defaultReadLimit  = 1 << 20
)

// session is one client connection on the request channel.
type session struct {
	id     string
	srv    *Server
	conn   *websocket.Conn
	claims *auth.Claims
	logger *logging.Logger

	send chan []byte
	done chan struct{} // closed when the write pump exits
}

// handleWebSocket authenticates the caller, upgrades the connection and
// starts its read loop and write pump.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorised", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := &session{
		id:     uuid.NewString(),
		srv:    s,
		conn:   conn,
		claims: claims,
		send:   make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	sess.logger = s.logger.With("session", sess.id)
	if claims != nil {
		sess.logger = sess.logger.With("subject", claims.Subject, "role", claims.Role)
	}

	if !s.register(sess) {
		conn.Close()
		return
	}
	sess.logger.Info("client connected", "remote", r.RemoteAddr)

	go sess.writePump()
	go func() {
		defer s.unregister(sess)
		sess.readLoop(s.ctx)
	}()
}

// authenticate returns nil claims when no JWT secret is configured.
func (s *Server) authenticate(r *http.Request) (*auth.Claims, error) {
	if s.jwt.Secret == "" {
		return nil, nil
	}
	token, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return auth.ParseToken(token, s.jwt.Secret)
}

func (s *Server) keepalive() (pingPeriod, pongWait time.Duration) {
	pingPeriod, pongWait = s.cfg.PingPeriod(), s.cfg.PongWait()
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	return pingPeriod, pongWait
}

// readLoop serves requests one at a time until the connection fails or
// the server shuts down. It owns the send channel.
func (sess *session) readLoop(ctx context.Context) {
	defer func() {
		close(sess.send)
		sess.conn.Close()
		sess.logger.Info("client disconnected")
	}()

	readLimit := int64(sess.srv.cfg.MaxMessageSize)
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	sess.conn.SetReadLimit(readLimit)

	pingPeriod, pongWait := sess.srv.keepalive()
	extend := func() error { return sess.conn.SetReadDeadline(time.Now().Add(pingPeriod + pongWait)) }
	//nolint:errcheck // Best-effort deadline on connection setup
	extend()
	sess.conn.SetPongHandler(func(string) error { return extend() })

	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var reply []byte
		if msgType != websocket.BinaryMessage {
			reply = sess.reject("", errors.New("expected a binary multi-part frame"))
		} else {
			reply = sess.serve(ctx, data)
		}

		select {
		case sess.send <- reply:
		case <-sess.done:
			return
		}

		// A long instrument call must not eat the keepalive budget.
		//nolint:errcheck // Best-effort deadline reset
		extend()
	}
}

// serve decodes, authorises and dispatches one framed request, returning
// the framed reply. Malformed or forbidden requests never reach the
// handler.
func (sess *session) serve(ctx context.Context, data []byte) []byte {
	id, in, err := protocol.DecodeRequest(data)
	if err != nil {
		return sess.reject(id, err)
	}
	if err := auth.Authorize(sess.claims, in.Operation); err != nil {
		sess.logger.Warn("instruction refused", "operation", in.Operation)
		return sess.encode(id, protocol.Fail(protocol.Protocol("forbidden: "+string(in.Operation))))
	}

	resp := sess.srv.handler.Handle(ctx, in)
	out, err := protocol.EncodeReply(id, resp)
	if err != nil {
		// The driver returned a value JSON cannot carry.
		sess.logger.Error("reply encoding failed", "operation", in.Operation, "error", err)
		return sess.encode(id, protocol.Fail(protocol.RemoteExecution(in.Target(), err.Error())))
	}
	return out
}

func (sess *session) reject(id string, err error) []byte {
	if sess.srv.metrics != nil {
		sess.srv.metrics.RecordProtocolError()
	}
	sess.logger.Debug("malformed request rejected", "error", err)
	return sess.encode(id, protocol.Fail(protocol.Protocol(err.Error())))
}

func (sess *session) encode(id string, resp protocol.Response) []byte {
	out, err := protocol.EncodeReply(id, resp)
	if err != nil {
		// Error descriptors are plain strings; this cannot fail.
		sess.logger.Error("error reply encoding failed", "error", err)
		return protocol.EncodeFrames([]byte(id))
	}
	return out
}

// writePump writes replies and keepalive pings.
func (sess *session) writePump() {
	pingPeriod, pongWait := sess.srv.keepalive()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
		close(sess.done)
	}()

	for {
		select {
		case message, ok := <-sess.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				sess.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			sess.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := sess.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			sess.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
