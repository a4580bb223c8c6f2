package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/internal/protocol"
)

// Session is the per-connection router: it authenticates its client into
// exactly one match via join, forwards subsequent messages to the
// coordinator, and carries match broadcasts back out over the socket.
type Session struct {
	id      string
	conn    *websocket.Conn
	handler *Handler

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// SessionID returns the server-generated session identity.
func (s *Session) SessionID() string {
	return s.id
}

// Send queues an outbound envelope, best-effort: a full or closed session
// drops the message rather than blocking or failing the broadcast. The
// coordinator may still be draining ops that broadcast to this session
// after it disconnected, so a send past teardown must stay a silent drop.
func (s *Session) Send(env *protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.id).Msg("failed to marshal outbound message")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
		log.Warn().
			Str("session_id", s.id).
			Str("kind", string(env.Type)).
			Msg("session send buffer full, dropping message")
	}
}

// close marks the session dead for senders and releases the write pump.
// Idempotent; the closed flag keeps Send off the channel once it is closed.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// readPump reads inbound frames and routes them. Exit means the transport
// is gone; that is an ordinary departure, never an error for the room.
func (s *Session) readPump() {
	defer func() {
		s.handler.coordinator.Leave(s)
		s.handler.unregister(s)
		s.conn.Close()
	}()

	cfg := s.handler.cfg
	s.conn.SetReadLimit(cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("session_id", s.id).Msg("unexpected WebSocket close error")
			}
			break
		}
		s.route(message)
		s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}

// route parses one inbound frame and dispatches it. Malformed frames and
// unknown kinds go to the protocol-error path: reported to this session
// only, no state touched.
func (s *Session) route(message []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.sendError("malformed message")
		return
	}

	payload, err := protocol.DecodeInbound(&env)
	if err != nil {
		log.Debug().Err(err).Str("session_id", s.id).Msg("rejecting inbound message")
		s.sendError("malformed message: " + err.Error())
		return
	}

	switch p := payload.(type) {
	case protocol.JoinPayload:
		// Room codes are case-normalized at the boundary.
		p.RoomCode = strings.ToUpper(strings.TrimSpace(p.RoomCode))
		s.handler.coordinator.Join(s, p)
	case protocol.SetReadyPayload:
		s.handler.coordinator.SetReady(s, p.Ready)
	case protocol.ChatPayload:
		s.handler.coordinator.Chat(s, protocol.TruncateText(p.Text, s.handler.cfg.ChatLimit))
	case protocol.SubmitPayload:
		s.handler.coordinator.Submit(s, p.Code)
	case protocol.RematchPayload:
		s.handler.coordinator.Rematch(s)
	case protocol.CodeUpdatePayload, protocol.CursorPayload:
		// Reserved for collaborative editing; accepted and discarded.
		log.Debug().Str("session_id", s.id).Str("kind", string(env.Type)).Msg("ignoring reserved message kind")
	}
}

func (s *Session) sendError(msg string) {
	env, err := protocol.NewEnvelope(protocol.KindError, protocol.ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	s.Send(env)
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.handler.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.handler.cfg.WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("session_id", s.id).Msg("failed to write message to WebSocket")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.handler.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
