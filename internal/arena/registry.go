package arena

import "github.com/rs/zerolog/log"

// Registry maps room codes to live matches. It is owned by the coordinator
// goroutine, the only code that ever touches it, so it carries no lock.
// At most one Match exists per room code.
type Registry struct {
	rooms   map[string]*Match
	factory func(roomCode, difficulty, topic string) *Match
}

// NewRegistry creates a registry that builds missing rooms with factory.
func NewRegistry(factory func(roomCode, difficulty, topic string) *Match) *Registry {
	return &Registry{
		rooms:   make(map[string]*Match),
		factory: factory,
	}
}

// GetOrCreate returns the room's match, constructing it on first join.
// The category arguments only matter for a new room; an existing room
// keeps its first joiner's choice.
func (r *Registry) GetOrCreate(roomCode, difficulty, topic string) *Match {
	if m, ok := r.rooms[roomCode]; ok {
		return m
	}
	m := r.factory(roomCode, difficulty, topic)
	r.rooms[roomCode] = m
	log.Info().
		Str("room_code", roomCode).
		Str("difficulty", difficulty).
		Str("topic", topic).
		Msg("room created")
	return m
}

// Get looks up an existing room.
func (r *Registry) Get(roomCode string) (*Match, bool) {
	m, ok := r.rooms[roomCode]
	return m, ok
}

// RemoveIfEmpty discards the room once its player set is empty. Called
// after every departure.
func (r *Registry) RemoveIfEmpty(roomCode string) bool {
	m, ok := r.rooms[roomCode]
	if !ok || m.PlayerCount() > 0 {
		return false
	}
	delete(r.rooms, roomCode)
	log.Info().Str("room_code", roomCode).Msg("empty room removed")
	return true
}

// Each visits every live room.
func (r *Registry) Each(fn func(m *Match)) {
	for _, m := range r.rooms {
		fn(m)
	}
}

// Len reports the number of live rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}
