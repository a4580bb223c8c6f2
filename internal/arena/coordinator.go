package arena

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/internal/problem"
	"github.com/mcdev12/codeclash/internal/protocol"
)

// Config holds coordinator tunables.
type Config struct {
	// RoundDuration is the wall-clock budget of one round.
	RoundDuration time.Duration
}

// DefaultConfig returns the spec defaults.
func DefaultConfig() Config {
	return Config{RoundDuration: 20 * time.Minute}
}

// membership records which room and player a session resolved to.
type membership struct {
	roomCode string
	playerID string
}

// RoomSummary is the REST-facing digest of a live room.
type RoomSummary struct {
	RoomCode   string `json:"room_code"`
	Difficulty string `json:"difficulty"`
	Topic      string `json:"topic"`
	Players    int    `json:"players"`
	Started    bool   `json:"started"`
}

// Coordinator is the single logical thread servicing every room: all
// inbound session traffic, timer ticks, and judging verdicts are funneled
// into one op loop, so match and registry state need no locking. The one
// slow operation, judging, runs off-loop; while a room's judgement is in
// flight its subsequent ops queue behind it and other rooms stay live.
type Coordinator struct {
	cfg      Config
	registry *Registry
	clock    clockwork.Clock

	ops     chan func()
	judging map[string]bool
	pending map[string][]func()
	members map[string]membership
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(cfg Config, source problem.Source, harness Harness, clock clockwork.Clock) *Coordinator {
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = DefaultConfig().RoundDuration
	}

	c := &Coordinator{
		cfg:     cfg,
		clock:   clock,
		ops:     make(chan func(), 256),
		judging: make(map[string]bool),
		pending: make(map[string][]func()),
		members: make(map[string]membership),
	}
	c.registry = NewRegistry(func(roomCode, difficulty, topic string) *Match {
		return NewMatch(roomCode, difficulty, topic, Deps{
			Source:        source,
			Harness:       harness,
			Clock:         clock,
			RoundDuration: cfg.RoundDuration,
			Post:          func(fn func()) { c.postRoom(roomCode, fn) },
			Resolve:       func(fn func()) { c.resolveRoom(roomCode, fn) },
		})
	})
	return c
}

// Run processes ops to completion, one at a time, until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	log.Info().Msg("match coordinator started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("match coordinator shutting down")
			return
		case fn := <-c.ops:
			fn()
		}
	}
}

// Join attaches a session to a room, creating the room on first join.
// A session already in a room is rejected with a domain error.
func (c *Coordinator) Join(s Sink, p protocol.JoinPayload) {
	c.ops <- func() {
		code := strings.TrimSpace(p.RoomCode)
		if code == "" {
			c.sendError(s, "room code is required")
			return
		}
		c.dispatchRoom(code, func() {
			if _, ok := c.members[s.SessionID()]; ok {
				c.sendError(s, "already in a room")
				return
			}

			m := c.registry.GetOrCreate(code, p.Difficulty, p.Topic)

			name := strings.TrimSpace(p.DisplayName)
			if name == "" {
				name = "anonymous"
			}

			pl, err := m.AddPlayer(name, s)
			if err != nil {
				if errors.Is(err, ErrRoomFull) {
					c.sendError(s, "room is full")
				} else {
					c.sendError(s, err.Error())
				}
				c.registry.RemoveIfEmpty(code)
				return
			}
			c.members[s.SessionID()] = membership{roomCode: code, playerID: pl.ID}
		})
	}
}

// Leave handles a session departure (normally transport loss). Not an
// error: the player is removed and the room discarded once empty.
func (c *Coordinator) Leave(s Sink) {
	c.ops <- func() {
		mem, ok := c.members[s.SessionID()]
		if !ok {
			return
		}
		c.dispatchRoom(mem.roomCode, func() {
			delete(c.members, s.SessionID())
			m, ok := c.registry.Get(mem.roomCode)
			if !ok {
				return
			}
			m.RemovePlayer(mem.playerID)
			c.registry.RemoveIfEmpty(mem.roomCode)
		})
	}
}

// SetReady toggles readiness and may start the round.
func (c *Coordinator) SetReady(s Sink, ready bool) {
	c.withMember(s, func(m *Match, playerID string) {
		m.SetReady(playerID, ready)
	})
}

// Chat relays a chat line. The boundary layer caps the text length before
// it gets here.
func (c *Coordinator) Chat(s Sink, text string) {
	c.withMember(s, func(m *Match, playerID string) {
		m.HandleChat(playerID, text)
	})
}

// Submit launches judging for a submission and gates the room's
// subsequent ops until the verdict lands.
func (c *Coordinator) Submit(s Sink, code string) {
	c.ops <- func() {
		mem, ok := c.members[s.SessionID()]
		if !ok {
			log.Debug().Str("session_id", s.SessionID()).Msg("submit from session not in a room")
			return
		}
		c.dispatchRoom(mem.roomCode, func() {
			m, ok := c.registry.Get(mem.roomCode)
			if !ok {
				return
			}
			if m.Submit(mem.playerID, code) {
				c.judging[mem.roomCode] = true
			}
		})
	}
}

// Rematch resets the sender's room back to the lobby.
func (c *Coordinator) Rematch(s Sink) {
	c.withMember(s, func(m *Match, _ string) {
		m.Rematch()
	})
}

// Snapshot returns a room's state through the op loop, keeping all reads
// on the coordinator goroutine.
func (c *Coordinator) Snapshot(ctx context.Context, roomCode string) (*protocol.RoomStatePayload, bool) {
	reply := make(chan *protocol.RoomStatePayload, 1)
	select {
	case c.ops <- func() {
		if m, ok := c.registry.Get(roomCode); ok {
			reply <- m.State("")
		} else {
			reply <- nil
		}
	}:
	case <-ctx.Done():
		return nil, false
	}

	select {
	case st := <-reply:
		return st, st != nil
	case <-ctx.Done():
		return nil, false
	}
}

// ActiveRooms lists summaries of every live room.
func (c *Coordinator) ActiveRooms(ctx context.Context) ([]RoomSummary, bool) {
	reply := make(chan []RoomSummary, 1)
	select {
	case c.ops <- func() {
		out := make([]RoomSummary, 0, c.registry.Len())
		c.registry.Each(func(m *Match) {
			out = append(out, RoomSummary{
				RoomCode:   m.Code(),
				Difficulty: m.Difficulty(),
				Topic:      m.Topic(),
				Players:    m.PlayerCount(),
				Started:    m.Started(),
			})
		})
		reply <- out
	}:
	case <-ctx.Done():
		return nil, false
	}

	select {
	case out := <-reply:
		return out, true
	case <-ctx.Done():
		return nil, false
	}
}

// withMember runs fn for the sender's room through the per-room gate.
// Sessions that never joined are ignored (unknown-id handlers are no-ops
// by contract).
func (c *Coordinator) withMember(s Sink, fn func(m *Match, playerID string)) {
	c.ops <- func() {
		mem, ok := c.members[s.SessionID()]
		if !ok {
			log.Debug().Str("session_id", s.SessionID()).Msg("message from session not in a room")
			return
		}
		c.dispatchRoom(mem.roomCode, func() {
			if m, ok := c.registry.Get(mem.roomCode); ok {
				fn(m, mem.playerID)
			}
		})
	}
}

// dispatchRoom runs fn now, or queues it while the room's judgement is in
// flight. Queued ops run in arrival order once the verdict lands.
func (c *Coordinator) dispatchRoom(roomCode string, fn func()) {
	if c.judging[roomCode] {
		c.pending[roomCode] = append(c.pending[roomCode], fn)
		return
	}
	fn()
}

// postRoom re-enters the loop for a room-scoped op (timer ticks).
func (c *Coordinator) postRoom(roomCode string, fn func()) {
	c.ops <- func() { c.dispatchRoom(roomCode, fn) }
}

// resolveRoom re-enters the loop with a judging verdict: it bypasses the
// gate, clears it, and drains whatever queued up behind the judgement.
func (c *Coordinator) resolveRoom(roomCode string, fn func()) {
	c.ops <- func() {
		fn()
		c.judging[roomCode] = false
		c.drain(roomCode)
	}
}

func (c *Coordinator) drain(roomCode string) {
	for len(c.pending[roomCode]) > 0 && !c.judging[roomCode] {
		fn := c.pending[roomCode][0]
		c.pending[roomCode] = c.pending[roomCode][1:]
		fn()
	}
	if len(c.pending[roomCode]) == 0 {
		delete(c.pending, roomCode)
	}
}

func (c *Coordinator) sendError(s Sink, msg string) {
	env, err := protocol.NewEnvelope(protocol.KindError, protocol.ErrorPayload{Message: msg})
	if err != nil {
		log.Error().Err(err).Msg("failed to build error message")
		return
	}
	s.Send(env)
}
