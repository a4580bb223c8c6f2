package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeclash/internal/arena"
)

// Handler owns the WebSocket upgrade path, the set of live sessions, and
// the read-only REST endpoints over room state.
type Handler struct {
	coordinator *arena.Coordinator
	upgrader    websocket.Upgrader
	cfg         ConnectionConfig

	mu       sync.RWMutex
	sessions map[*Session]bool
}

// NewHandler creates a gateway handler.
func NewHandler(coordinator *arena.Coordinator, cfg ConnectionConfig) *Handler {
	return &Handler{
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		cfg:      cfg,
		sessions: make(map[*Session]bool),
	}
}

// HandleWS upgrades an HTTP request into a match session.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	s := &Session{
		id:      uuid.New().String(),
		conn:    conn,
		send:    make(chan []byte, 256),
		handler: h,
	}
	h.register(s)

	go s.writePump()
	go s.readPump()

	log.Info().
		Str("session_id", s.id).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
}

func (h *Handler) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = true
}

func (h *Handler) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		s.close()
		log.Info().Str("session_id", s.id).Msg("session closed")
	}
}

// SessionCount reports the number of live sessions.
func (h *Handler) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HandleRoomState handles GET /api/rooms/{code}/state.
func (h *Handler) HandleRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := extractRoomCodeFromPath(r.URL.Path)
	if code == "" {
		http.Error(w, "Room code is required", http.StatusBadRequest)
		return
	}
	code = strings.ToUpper(code)

	state, ok := h.coordinator.Snapshot(r.Context(), code)
	if !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to encode room state response")
	}
}

// HandleActiveRooms handles GET /api/rooms/active.
func (h *Handler) HandleActiveRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rooms, ok := h.coordinator.ActiveRooms(r.Context())
	if !ok {
		http.Error(w, "Failed to list rooms", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rooms); err != nil {
		log.Error().Err(err).Msg("failed to encode active rooms response")
	}
}

// HandleStats returns session statistics.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"sessions":%d}`, h.SessionCount())
}

// RegisterRoutes registers gateway routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWS)
	mux.HandleFunc("/ws/stats", h.HandleStats)
	mux.HandleFunc("/api/rooms/active", h.HandleActiveRooms)
	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleRoomState(w, r)
			return
		}
		http.NotFound(w, r)
	})
	log.Info().Msg("gateway routes registered")
}

// extractRoomCodeFromPath extracts the code from /api/rooms/{code}/state.
func extractRoomCodeFromPath(path string) string {
	const prefix = "/api/rooms/"
	const suffix = "/state"

	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	return path[len(prefix) : len(path)-len(suffix)]
}
