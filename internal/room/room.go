// internal/room/room.go
package room

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Redis key layout shared with the other service instances.
const (
	roomKeyPrefix  = "room:"
	activeRoomsKey = "active_rooms"
)

// Defaults, overridable per Service.
const (
	DefaultRoomTTL       = time.Hour
	DefaultMatchDuration = 420 * time.Second
	DefaultAbandonAfter  = 10 * time.Minute
)

var (
	// ErrNotFound means the room never existed or its record expired.
	ErrNotFound = errors.New("room: not found")
	// ErrRoomEnded means a status change was attempted on a room that is
	// already completed or abandoned.
	ErrRoomEnded = errors.New("room: already ended")
)

// Status is the room lifecycle state. Transitions are forward-only:
// waiting -> active -> completed|abandoned.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// MatchRoom is the persisted two-player session record. The Redis hash is
// the source of truth; this struct is a decoded snapshot.
type MatchRoom struct {
	MatchID      string
	Player1UID   string
	Player2UID   string
	CreatedAt    time.Time
	Status       Status
	QuestionID   string
	QuestionText string
	Player1Ready bool
	Player2Ready bool
	StartedAt    time.Time
	CompletedAt  time.Time

	// TimeRemaining is only meaningful while Status is active.
	TimeRemaining int
}

// HasPlayer reports whether uid is one of the room's two participants.
func (r *MatchRoom) HasPlayer(uid string) bool {
	return uid == r.Player1UID || uid == r.Player2UID
}

// Opponent returns the other player's uid, or "" if uid is not a participant.
func (r *MatchRoom) Opponent(uid string) string {
	switch uid {
	case r.Player1UID:
		return r.Player2UID
	case r.Player2UID:
		return r.Player1UID
	}
	return ""
}

// ReadyFor reports the ready flag belonging to uid.
func (r *MatchRoom) ReadyFor(uid string) bool {
	switch uid {
	case r.Player1UID:
		return r.Player1Ready
	case r.Player2UID:
		return r.Player2Ready
	}
	return false
}

func roomKey(matchID string) string {
	return roomKeyPrefix + matchID
}

// decodeRoom rebuilds a MatchRoom snapshot from its hash fields. Booleans and
// integers come back from the store as strings.
func decodeRoom(fields map[string]string) (*MatchRoom, error) {
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	r := &MatchRoom{
		MatchID:      fields["match_id"],
		Player1UID:   fields["player1_uid"],
		Player2UID:   fields["player2_uid"],
		Status:       Status(fields["status"]),
		QuestionID:   fields["question_id"],
		QuestionText: fields["question_text"],
		Player1Ready: fields["player1_ready"] == "true",
		Player2Ready: fields["player2_ready"] == "true",
	}

	var err error
	if r.CreatedAt, err = parseTimeField(fields, "created_at"); err != nil {
		return nil, err
	}
	if r.StartedAt, err = parseTimeField(fields, "started_at"); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = parseTimeField(fields, "completed_at"); err != nil {
		return nil, err
	}

	if raw := fields["time_remaining"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("room: bad time_remaining %q: %w", raw, err)
		}
		r.TimeRemaining = n
	}

	return r, nil
}

func parseTimeField(fields map[string]string, name string) (time.Time, error) {
	raw := fields[name]
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("room: bad %s %q: %w", name, raw, err)
	}
	return t, nil
}
