package arena

import "github.com/mcdev12/codeclash/internal/protocol"

// Team is one of the two labels partitioning a room's players.
type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

// WinnerNone marks a round concluded by timeout rather than a winning team.
const WinnerNone = "none"

// Sink is the outbound half of a connected session. Send is best-effort
// and must never block the caller; a send to a closed session is dropped.
type Sink interface {
	SessionID() string
	Send(env *protocol.Envelope)
}

// Player is one participant in a match. Owned exclusively by its Match:
// created on join, mutated only by that Match's handlers, removed on
// disconnect.
type Player struct {
	ID       string
	Name     string
	Team     Team
	Ready    bool
	Attempts int
	Errors   int

	sink Sink
}

func (p *Player) info() protocol.PlayerInfo {
	return protocol.PlayerInfo{
		ID:       p.ID,
		Name:     p.Name,
		Team:     string(p.Team),
		Ready:    p.Ready,
		Attempts: p.Attempts,
		Errors:   p.Errors,
	}
}
