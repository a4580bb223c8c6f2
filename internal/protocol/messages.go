package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies a message variant. The set is closed: inbound kinds are
// everything a client may send, outbound kinds everything the server emits.
type Kind string

// Inbound (client -> server) kinds.
const (
	KindJoin       Kind = "join"
	KindSetReady   Kind = "set-ready"
	KindChat       Kind = "chat"
	KindCodeUpdate Kind = "code-update"
	KindCursor     Kind = "cursor"
	KindSubmit     Kind = "submit"
	KindRematch    Kind = "rematch"
)

// Outbound (server -> client) kinds.
const (
	KindRoomState        Kind = "room-state"
	KindRoundStart       Kind = "round-start"
	KindChatBroadcast    Kind = "chat"
	KindSubmissionResult Kind = "submission-result"
	KindRoundEnd         Kind = "round-end"
	KindTimerSync        Kind = "timer-sync"
	KindError            Kind = "error"
)

// Envelope is the wire framing for every message in both directions.
type Envelope struct {
	Type      Kind            `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// JoinPayload attaches the sending session to a room, creating it if absent.
// Difficulty and Topic are only honored by the first joiner of a room.
type JoinPayload struct {
	RoomCode    string `json:"room_code"`
	DisplayName string `json:"display_name"`
	Difficulty  string `json:"difficulty,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

type SetReadyPayload struct {
	Ready bool `json:"ready"`
}

type ChatPayload struct {
	Text string `json:"text"`
}

// CodeUpdatePayload is reserved for future collaborative editing.
type CodeUpdatePayload struct {
	Code string `json:"code"`
}

// CursorPayload is reserved for future collaborative cursors.
type CursorPayload struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type SubmitPayload struct {
	Code string `json:"code"`
}

// PlayerInfo is the per-player slice of a room-state snapshot.
type PlayerInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Team     string `json:"team"`
	Ready    bool   `json:"ready"`
	Attempts int    `json:"attempts"`
	Errors   int    `json:"errors"`
}

// RoomStatePayload is the full snapshot broadcast after every mutation.
// SelfID is set only on the copy sent to a freshly joined session so the
// client can learn its own server-generated identity.
type RoomStatePayload struct {
	RoomCode   string       `json:"room_code"`
	Difficulty string       `json:"difficulty"`
	Topic      string       `json:"topic"`
	Players    []PlayerInfo `json:"players"`
	Started    bool         `json:"started"`
	Winner     string       `json:"winner,omitempty"`
	SelfID     string       `json:"self_id,omitempty"`
}

// ProblemInfo is the client-visible part of a problem. Test vectors stay
// server-side.
type ProblemInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Prompt       string `json:"prompt"`
	Signature    string `json:"signature"`
	Example      string `json:"example"`
	FunctionName string `json:"function_name"`
}

type RoundStartPayload struct {
	Problem     ProblemInfo `json:"problem"`
	Deadline    time.Time   `json:"deadline"`
	StarterCode string      `json:"starter_code"`
}

type ChatBroadcastPayload struct {
	From string `json:"from"`
	Team string `json:"team"`
	Text string `json:"text"`
}

type SubmissionResultPayload struct {
	OK       bool   `json:"ok"`
	PlayerID string `json:"player_id"`
	Message  string `json:"message,omitempty"`
}

// RoundEndPayload reports the concluded round. Winner is a team label, or
// "none" when the round timed out.
type RoundEndPayload struct {
	Winner     string `json:"winner"`
	ElapsedSec int    `json:"elapsed_sec"`
}

// TimerSyncPayload carries the absolute deadline; clients derive the
// countdown locally and resync on every tick.
type TimerSyncPayload struct {
	Deadline time.Time `json:"deadline"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ErrUnknownKind marks an inbound message whose type is outside the closed
// set. Callers route it to the protocol-error path.
var ErrUnknownKind = errors.New("unknown message kind")

// DecodeInbound parses an inbound envelope's payload into its concrete type.
// Unknown kinds and malformed payloads are errors, never silent drops.
func DecodeInbound(env *Envelope) (any, error) {
	raw := env.Data
	if raw == nil {
		raw = json.RawMessage("{}")
	}

	switch env.Type {
	case KindJoin:
		var p JoinPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode join payload: %w", err)
		}
		return p, nil
	case KindSetReady:
		var p SetReadyPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode set-ready payload: %w", err)
		}
		return p, nil
	case KindChat:
		var p ChatPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode chat payload: %w", err)
		}
		return p, nil
	case KindCodeUpdate:
		var p CodeUpdatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode code-update payload: %w", err)
		}
		return p, nil
	case KindCursor:
		var p CursorPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode cursor payload: %w", err)
		}
		return p, nil
	case KindSubmit:
		var p SubmitPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode submit payload: %w", err)
		}
		return p, nil
	case KindRematch:
		return RematchPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

// RematchPayload is empty; rematch carries no fields.
type RematchPayload struct{}

// NewEnvelope wraps an outbound payload. Marshaling our own payload structs
// cannot fail, so errors are reported but produce a nil envelope.
func NewEnvelope(kind Kind, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Envelope{Type: kind, Timestamp: time.Now().UTC(), Data: data}, nil
}

// TruncateText caps user-supplied text at limit characters (runes, not
// bytes), the boundary-layer policy for chat input.
func TruncateText(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
