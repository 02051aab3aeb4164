// internal/room/service.go
package room

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ladderup/match-service/internal/catalog"
	"github.com/ladderup/match-service/internal/store"
)

// ReadyResult is what SetPlayerReady reports back to the caller.
type ReadyResult struct {
	BothReady bool              `json:"both_ready"`
	Question  *catalog.Question `json:"question"`
}

// Service owns the MatchRoom lifecycle: creation, readiness, status
// transitions, and the per-room countdown. All cross-process room state goes
// through field-scoped writes on the shared store; the registry and timer
// table are process-local.
type Service struct {
	store    store.Store
	catalog  catalog.Catalog
	registry *Registry
	timers   *TimerRegistry
	logger   *logrus.Logger

	// MatchDuration is the countdown length for an active session.
	MatchDuration time.Duration
	// RoomTTL bounds how long a room record survives in the store.
	RoomTTL time.Duration
	// AbandonAfter is how long a room may sit in waiting before the sweeper
	// marks it abandoned.
	AbandonAfter time.Duration

	// OnMatchEnd is invoked exactly once per room when its timer terminates,
	// whether by expiry or cancellation. The composition root points it at
	// the transcript grading pipeline.
	OnMatchEnd func(ctx context.Context, matchID string)
}

// NewService wires a room lifecycle manager with default durations.
func NewService(st store.Store, cat catalog.Catalog, reg *Registry, logger *logrus.Logger) *Service {
	return &Service{
		store:         st,
		catalog:       cat,
		registry:      reg,
		timers:        NewTimerRegistry(),
		logger:        logger,
		MatchDuration: DefaultMatchDuration,
		RoomTTL:       DefaultRoomTTL,
		AbandonAfter:  DefaultAbandonAfter,
	}
}

// Registry exposes the connection table for the WebSocket layer.
func (s *Service) Registry() *Registry { return s.registry }

// Timers exposes the timer table, mainly for tests.
func (s *Service) Timers() *TimerRegistry { return s.timers }

// CreateRoom writes a fresh waiting room for the two players, bounds it with
// the retention TTL, and adds it to the active-rooms set. Store failures
// propagate; the matchmaking queue compensates by re-queueing both players.
func (s *Service) CreateRoom(ctx context.Context, matchID, player1UID, player2UID string) (*MatchRoom, error) {
	now := time.Now().UTC()
	r := &MatchRoom{
		MatchID:    matchID,
		Player1UID: player1UID,
		Player2UID: player2UID,
		CreatedAt:  now,
		Status:     StatusWaiting,
	}

	fields := map[string]string{
		"match_id":      matchID,
		"player1_uid":   player1UID,
		"player2_uid":   player2UID,
		"created_at":    now.Format(time.RFC3339Nano),
		"status":        string(StatusWaiting),
		"player1_ready": "false",
		"player2_ready": "false",
	}
	key := roomKey(matchID)
	if err := s.store.HSet(ctx, key, fields); err != nil {
		return nil, fmt.Errorf("failed to write room %s: %w", matchID, err)
	}
	if err := s.store.Expire(ctx, key, s.RoomTTL); err != nil {
		return nil, fmt.Errorf("failed to set TTL on room %s: %w", matchID, err)
	}
	if err := s.store.SAdd(ctx, activeRoomsKey, matchID); err != nil {
		return nil, fmt.Errorf("failed to track room %s as active: %w", matchID, err)
	}

	return r, nil
}

// GetRoom returns a decoded snapshot of the room, or ErrNotFound.
func (s *Service) GetRoom(ctx context.Context, matchID string) (*MatchRoom, error) {
	fields, err := s.store.HGetAll(ctx, roomKey(matchID))
	if err != nil {
		return nil, fmt.Errorf("failed to read room %s: %w", matchID, err)
	}
	return decodeRoom(fields)
}

// VerifyAccess reports whether uid is a participant of the room. This is the
// sole authorization boundary for room operations; every HTTP and WebSocket
// entry point must pass it before doing anything else.
func (s *Service) VerifyAccess(ctx context.Context, matchID, uid string) bool {
	r, err := s.GetRoom(ctx, matchID)
	if err != nil {
		return false
	}
	return r.HasPlayer(uid)
}

// SetPlayerReady idempotently marks the calling player's ready flag. A uid
// that matches neither player leaves the record unchanged (the access check
// belongs to the caller). The first time both flags are true, the room gets
// a question, transitions to active, and its countdown starts. The flags are
// re-read after the write, so when both players ready up concurrently at
// least one call observes both flags; a double transition is still caught by
// the waiting-status guard and the timer registry.
func (s *Service) SetPlayerReady(ctx context.Context, matchID, uid string) (ReadyResult, error) {
	r, err := s.GetRoom(ctx, matchID)
	if err != nil {
		return ReadyResult{}, err
	}

	key := roomKey(matchID)
	switch uid {
	case r.Player1UID:
		if !r.Player1Ready {
			if err := s.store.HSetField(ctx, key, "player1_ready", "true"); err != nil {
				return ReadyResult{}, fmt.Errorf("failed to mark player1 ready in %s: %w", matchID, err)
			}
		}
	case r.Player2UID:
		if !r.Player2Ready {
			if err := s.store.HSetField(ctx, key, "player2_ready", "true"); err != nil {
				return ReadyResult{}, fmt.Errorf("failed to mark player2 ready in %s: %w", matchID, err)
			}
		}
	default:
		return ReadyResult{}, nil
	}

	// Fresh snapshot: the opponent may have readied up between our read and
	// our write.
	r, err = s.GetRoom(ctx, matchID)
	if err != nil {
		return ReadyResult{}, err
	}

	if !(r.Player1Ready && r.Player2Ready) {
		return ReadyResult{}, nil
	}

	// Both ready. Only the transition out of waiting selects a question and
	// starts the timer; repeat calls find the room already active.
	if r.Status != StatusWaiting {
		return ReadyResult{BothReady: true}, nil
	}

	question := s.catalog.RandomQuestion(ctx)
	if err := s.store.HSet(ctx, key, map[string]string{
		"question_id":   question.ID,
		"question_text": question.Text,
	}); err != nil {
		return ReadyResult{}, fmt.Errorf("failed to store question on %s: %w", matchID, err)
	}

	if err := s.markStatus(ctx, matchID, StatusActive); err != nil {
		return ReadyResult{}, err
	}

	if err := s.timers.Start(matchID, func(timerCtx context.Context) {
		s.runMatchTimer(timerCtx, matchID)
	}); err != nil {
		// Another path already started the countdown; the transition stands.
		s.logger.Warnf("room %s: %v", matchID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"match_id": matchID,
		"question": question.ID,
	}).Info("Match started")

	return ReadyResult{BothReady: true, Question: &question}, nil
}

// UpdateStatus applies an explicit status transition. Completing or
// abandoning a room removes it from the active set and cancels any running
// timer, waiting for the timer's grading pass to finish first. Transitions
// out of a terminal status are rejected with ErrRoomEnded.
func (s *Service) UpdateStatus(ctx context.Context, matchID string, status Status) error {
	r, err := s.GetRoom(ctx, matchID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return ErrRoomEnded
	}

	if err := s.markStatus(ctx, matchID, status); err != nil {
		return err
	}
	if status.Terminal() {
		s.timers.Cancel(matchID)
	}
	return nil
}

// markStatus performs the raw field writes for a status change without
// touching the timer table. The timer goroutine uses it directly on expiry
// so it never tries to cancel-and-wait on itself.
func (s *Service) markStatus(ctx context.Context, matchID string, status Status) error {
	key := roomKey(matchID)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.store.HSetField(ctx, key, "status", string(status)); err != nil {
		return fmt.Errorf("failed to set status on %s: %w", matchID, err)
	}
	switch {
	case status == StatusActive:
		if err := s.store.HSetField(ctx, key, "started_at", now); err != nil {
			return fmt.Errorf("failed to set started_at on %s: %w", matchID, err)
		}
	case status.Terminal():
		if err := s.store.HSetField(ctx, key, "completed_at", now); err != nil {
			return fmt.Errorf("failed to set completed_at on %s: %w", matchID, err)
		}
		if err := s.store.SRem(ctx, activeRoomsKey, matchID); err != nil {
			return fmt.Errorf("failed to untrack room %s: %w", matchID, err)
		}
	}
	return nil
}

// tickStep picks the countdown granularity: coarse early, per-second at the
// end so the final moments broadcast precisely.
func tickStep(remaining int) int {
	switch {
	case remaining > 60:
		return 30
	case remaining > 10:
		return 10
	default:
		return 1
	}
}

// runMatchTimer is the per-room countdown task. It persists the remaining
// time and broadcasts updates on each tick, and triggers end-of-match
// grading exactly once on every exit path: expiry, cancellation, or an
// unexpected store failure.
func (s *Service) runMatchTimer(ctx context.Context, matchID string) {
	remaining := int(s.MatchDuration / time.Second)
	graded := false

	grade := func() {
		if graded || s.OnMatchEnd == nil {
			graded = true
			return
		}
		graded = true
		// The timer ctx may already be cancelled; grading gets its own.
		gradeCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		s.OnMatchEnd(gradeCtx, matchID)
	}

	for remaining > 0 {
		if err := s.store.HSetField(ctx, roomKey(matchID), "time_remaining", strconv.Itoa(remaining)); err != nil {
			if ctx.Err() != nil {
				// Cancelled mid-write: the room was already completed or
				// abandoned by whoever cancelled us. Grade and stop.
				grade()
				return
			}
			// Unexpected store failure: best-effort grading, force the room
			// closed, and surface the error in the logs.
			s.logger.Errorf("room %s: timer tick failed: %v", matchID, err)
			grade()
			if endErr := s.markStatus(context.Background(), matchID, StatusCompleted); endErr != nil && !errors.Is(endErr, ErrNotFound) {
				s.logger.Errorf("room %s: failed to force completion: %v", matchID, endErr)
			}
			return
		}

		s.registry.Broadcast(matchID, map[string]interface{}{
			"type":           "time_update",
			"time_remaining": remaining,
			"minutes":        remaining / 60,
			"seconds":        remaining % 60,
		}, "")

		switch remaining {
		case 60:
			s.broadcastWarning(matchID, "1 minute remaining!", remaining)
		case 30:
			s.broadcastWarning(matchID, "30 seconds remaining!", remaining)
		case 10:
			s.broadcastWarning(matchID, "10 seconds remaining!", remaining)
		}

		wait := tickStep(remaining)
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			grade()
			return
		case <-time.After(time.Duration(wait) * time.Second):
		}
		remaining -= wait
	}

	// Expired. Close the room through the raw write path; the deferred
	// registry cleanup in TimerRegistry.Start handles unregistration.
	if err := s.markStatus(context.Background(), matchID, StatusCompleted); err != nil {
		s.logger.Errorf("room %s: failed to complete after expiry: %v", matchID, err)
	}
	s.registry.Broadcast(matchID, map[string]interface{}{
		"type":    "match_time_expired",
		"message": "Time's up! Match completed.",
	}, "")
	grade()

	s.logger.Infof("room %s: timer expired, match completed", matchID)
}

func (s *Service) broadcastWarning(matchID, message string, remaining int) {
	s.registry.Broadcast(matchID, map[string]interface{}{
		"type":           "time_warning",
		"message":        message,
		"time_remaining": remaining,
	}, "")
}
