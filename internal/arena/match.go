package arena

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/internal/judge"
	"github.com/mcdev12/codeclash/internal/problem"
	"github.com/mcdev12/codeclash/internal/protocol"
)

// maxPlayers is the fixed room size: two teams of two.
const maxPlayers = 4

// ErrRoomFull rejects a join into a room already holding four players.
var ErrRoomFull = errors.New("room is full")

// Harness judges a submission against a problem's test vectors.
type Harness interface {
	Evaluate(code string, p *problem.Problem) judge.Verdict
}

// Deps wires a Match to its collaborators. Post re-enters the coordinator
// loop through the per-room gate (timer ticks); Resolve re-enters it
// bypassing the gate and marks the room's judgement finished.
type Deps struct {
	Source        problem.Source
	Harness       Harness
	Clock         clockwork.Clock
	RoundDuration time.Duration
	Post          func(fn func())
	Resolve       func(fn func())
}

// Match is the per-room state machine: Lobby (gathering and readying up)
// -> Active (problem out, timer running) -> Concluded -> Lobby via rematch.
// Every method must be called from the coordinator goroutine.
type Match struct {
	roomCode   string
	difficulty string
	topic      string

	players map[string]*Player
	started bool
	// winner is empty until a round concludes, then a team label or
	// WinnerNone; rematch clears it again.
	winner string

	problem    *problem.Problem
	roundStart time.Time
	deadline   time.Time
	tickStop   chan struct{}

	deps Deps
}

// NewMatch creates an empty room with the first joiner's category choice.
func NewMatch(roomCode, difficulty, topic string, deps Deps) *Match {
	return &Match{
		roomCode:   roomCode,
		difficulty: difficulty,
		topic:      topic,
		players:    make(map[string]*Player),
		deps:       deps,
	}
}

func (m *Match) Code() string       { return m.roomCode }
func (m *Match) Difficulty() string { return m.difficulty }
func (m *Match) Topic() string      { return m.topic }
func (m *Match) Started() bool      { return m.started }
func (m *Match) PlayerCount() int   { return len(m.players) }

// AddPlayer joins a new player, assigning them to the smaller team
// (ties go to A) so any join/leave order converges on a 2-2 split.
// Broadcasts the new room state, tagging the joiner's copy with their id.
func (m *Match) AddPlayer(name string, sink Sink) (*Player, error) {
	if len(m.players) >= maxPlayers {
		return nil, ErrRoomFull
	}

	p := &Player{
		ID:   uuid.New().String(),
		Name: name,
		Team: m.assignTeam(),
		sink: sink,
	}
	m.players[p.ID] = p

	log.Info().
		Str("room_code", m.roomCode).
		Str("player_id", p.ID).
		Str("name", p.Name).
		Str("team", string(p.Team)).
		Int("players", len(m.players)).
		Msg("player joined")

	m.broadcastState(p.ID)
	return p, nil
}

// RemovePlayer deletes a player. An Active round is deliberately not
// auto-concluded by a departure; it runs on until timeout, a winning
// submission, or a rematch. When the room empties the ticker is stopped so
// nothing fires after the registry discards the match.
func (m *Match) RemovePlayer(id string) {
	p, ok := m.players[id]
	if !ok {
		return
	}
	delete(m.players, id)

	log.Info().
		Str("room_code", m.roomCode).
		Str("player_id", id).
		Str("name", p.Name).
		Int("players", len(m.players)).
		Msg("player left")

	if len(m.players) == 0 {
		m.stopTicker()
		return
	}
	m.broadcastState("")
}

// SetReady updates a player's readiness and starts the round once all four
// players are present and ready. Unknown ids are a no-op.
func (m *Match) SetReady(id string, ready bool) {
	p, ok := m.players[id]
	if !ok {
		return
	}
	p.Ready = ready
	m.broadcastState("")
	m.maybeStart()
}

// HandleChat relays a chat line tagged with the sender's name and team.
// Text length is capped by the boundary layer before it reaches here.
func (m *Match) HandleChat(id, text string) {
	p, ok := m.players[id]
	if !ok {
		return
	}
	m.broadcast(protocol.KindChatBroadcast, protocol.ChatBroadcastPayload{
		From: p.Name,
		Team: string(p.Team),
		Text: text,
	})
}

// Submit begins judging a submission. It reports whether a judgement was
// actually launched so the coordinator can gate the room's subsequent ops
// behind it. The attempt counter increments regardless of the outcome.
func (m *Match) Submit(id, code string) bool {
	p, ok := m.players[id]
	if !ok || !m.started || m.problem == nil {
		return false
	}
	p.Attempts++

	prob := m.problem
	go func() {
		verdict := m.deps.Harness.Evaluate(code, prob)
		m.deps.Resolve(func() { m.resolveSubmit(id, verdict) })
	}()
	return true
}

// Rematch returns the room to the lobby: readiness and counters reset,
// problem and deadline cleared, teams kept. Called mid-round it aborts the
// round without a round-end message.
func (m *Match) Rematch() {
	m.stopTicker()
	m.started = false
	m.winner = ""
	m.problem = nil
	m.roundStart = time.Time{}
	m.deadline = time.Time{}

	for _, p := range m.players {
		p.Ready = false
		p.Attempts = 0
		p.Errors = 0
	}

	log.Info().Str("room_code", m.roomCode).Msg("room reset for rematch")
	m.broadcastState("")
}

// Tick fires once a second while Active: past the deadline it concludes
// the round with no winner, otherwise it rebroadcasts the absolute
// deadline so clients can resync their countdowns.
func (m *Match) Tick() {
	if !m.started {
		return
	}
	if !m.deps.Clock.Now().Before(m.deadline) {
		log.Info().Str("room_code", m.roomCode).Msg("round timed out")
		m.finish(WinnerNone)
		return
	}
	m.broadcast(protocol.KindTimerSync, protocol.TimerSyncPayload{Deadline: m.deadline})
}

// State builds the full room snapshot. selfID, when set, tags the copy so
// the receiving client learns its own identity.
func (m *Match) State(selfID string) *protocol.RoomStatePayload {
	players := make([]protocol.PlayerInfo, 0, len(m.players))
	for _, p := range m.players {
		players = append(players, p.info())
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Team != players[j].Team {
			return players[i].Team < players[j].Team
		}
		if players[i].Name != players[j].Name {
			return players[i].Name < players[j].Name
		}
		return players[i].ID < players[j].ID
	})

	return &protocol.RoomStatePayload{
		RoomCode:   m.roomCode,
		Difficulty: m.difficulty,
		Topic:      m.topic,
		Players:    players,
		Started:    m.started,
		Winner:     m.winner,
		SelfID:     selfID,
	}
}

// assignTeam picks the team with fewer members, A on ties.
func (m *Match) assignTeam() Team {
	var a, b int
	for _, p := range m.players {
		if p.Team == TeamA {
			a++
		} else {
			b++
		}
	}
	if b < a {
		return TeamB
	}
	return TeamA
}

// maybeStart begins the round iff the room is full and everyone is ready.
func (m *Match) maybeStart() {
	if m.started || len(m.players) != maxPlayers {
		return
	}
	for _, p := range m.players {
		if !p.Ready {
			return
		}
	}

	prob, err := m.deps.Source.GetRandom(m.difficulty, m.topic)
	if err != nil {
		log.Warn().
			Err(err).
			Str("room_code", m.roomCode).
			Str("difficulty", m.difficulty).
			Str("topic", m.topic).
			Msg("no problem available for room category")
		m.broadcast(protocol.KindError, protocol.ErrorPayload{Message: err.Error()})
		return
	}

	m.winner = ""
	m.problem = prob
	m.roundStart = m.deps.Clock.Now()
	m.deadline = m.roundStart.Add(m.deps.RoundDuration)
	m.started = true

	log.Info().
		Str("room_code", m.roomCode).
		Str("problem_id", prob.ID).
		Time("deadline", m.deadline).
		Msg("round started")

	m.broadcast(protocol.KindRoundStart, protocol.RoundStartPayload{
		Problem: protocol.ProblemInfo{
			ID:           prob.ID,
			Title:        prob.Title,
			Prompt:       prob.Prompt,
			Signature:    prob.Signature,
			Example:      prob.Example,
			FunctionName: prob.FunctionName,
		},
		Deadline:    m.deadline,
		StarterCode: prob.StarterCode,
	})
	m.startTicker()
}

// resolveSubmit applies a judgement that arrived from the harness. The
// round may have concluded or the submitter may have left in the meantime;
// both make the verdict moot.
func (m *Match) resolveSubmit(id string, verdict judge.Verdict) {
	if !m.started || m.problem == nil {
		log.Debug().Str("room_code", m.roomCode).Msg("dropping verdict for concluded round")
		return
	}
	p, ok := m.players[id]
	if !ok {
		return
	}

	if verdict.Passed() {
		m.broadcast(protocol.KindSubmissionResult, protocol.SubmissionResultPayload{
			OK:       true,
			PlayerID: id,
		})
		m.finish(string(p.Team))
		return
	}

	p.Errors++
	m.sendTo(p, protocol.KindSubmissionResult, protocol.SubmissionResultPayload{
		OK:       false,
		PlayerID: id,
		Message:  verdict.Message,
	})
	m.broadcastState("")
}

// finish concludes the Active round and is a no-op in any other state.
func (m *Match) finish(winner string) {
	if !m.started {
		return
	}
	m.started = false
	m.winner = winner
	m.stopTicker()

	elapsed := m.deps.Clock.Now().Sub(m.roundStart)
	if elapsed > m.deps.RoundDuration {
		elapsed = m.deps.RoundDuration
	}

	log.Info().
		Str("room_code", m.roomCode).
		Str("winner", winner).
		Dur("elapsed", elapsed).
		Msg("round concluded")

	m.broadcast(protocol.KindRoundEnd, protocol.RoundEndPayload{
		Winner:     winner,
		ElapsedSec: int(elapsed.Seconds()),
	})
	m.broadcastState("")
}

// startTicker runs the 1 Hz tick for the Active round. Exactly one ticker
// exists per Active match; every transition out of Active stops it.
func (m *Match) startTicker() {
	stop := make(chan struct{})
	m.tickStop = stop
	ticker := m.deps.Clock.NewTicker(time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				m.deps.Post(func() { m.Tick() })
			case <-stop:
				return
			}
		}
	}()
}

func (m *Match) stopTicker() {
	if m.tickStop != nil {
		close(m.tickStop)
		m.tickStop = nil
	}
}

// broadcast fans a message out to every player, best-effort.
func (m *Match) broadcast(kind protocol.Kind, payload any) {
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("room_code", m.roomCode).Msg("failed to build broadcast")
		return
	}
	for _, p := range m.players {
		p.sink.Send(env)
	}
}

func (m *Match) sendTo(p *Player, kind protocol.Kind, payload any) {
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("room_code", m.roomCode).Msg("failed to build message")
		return
	}
	p.sink.Send(env)
}

// broadcastState sends the room snapshot to everyone; the player matching
// selfID receives a copy carrying their own id.
func (m *Match) broadcastState(selfID string) {
	st := m.State("")
	env, err := protocol.NewEnvelope(protocol.KindRoomState, st)
	if err != nil {
		log.Error().Err(err).Str("room_code", m.roomCode).Msg("failed to build room state")
		return
	}

	var selfEnv *protocol.Envelope
	if selfID != "" {
		tagged := *st
		tagged.SelfID = selfID
		if selfEnv, err = protocol.NewEnvelope(protocol.KindRoomState, tagged); err != nil {
			log.Error().Err(err).Str("room_code", m.roomCode).Msg("failed to build tagged room state")
			selfEnv = nil
		}
	}

	for _, p := range m.players {
		if p.ID == selfID && selfEnv != nil {
			p.sink.Send(selfEnv)
			continue
		}
		p.sink.Send(env)
	}
}
