// internal/room/sweeper.go
package room

import (
	"context"
	"errors"
	"time"
)

// SweepAbandoned walks the active-rooms set once: entries whose record has
// expired are dropped from the set, and rooms still waiting after
// AbandonAfter are marked abandoned.
func (s *Service) SweepAbandoned(ctx context.Context) error {
	matchIDs, err := s.store.SMembers(ctx, activeRoomsKey)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, matchID := range matchIDs {
		r, err := s.GetRoom(ctx, matchID)
		if errors.Is(err, ErrNotFound) {
			// Record expired out from under the set.
			if err := s.store.SRem(ctx, activeRoomsKey, matchID); err != nil {
				s.logger.Warnf("sweeper: failed to drop expired room %s: %v", matchID, err)
			}
			continue
		}
		if err != nil {
			s.logger.Warnf("sweeper: failed to read room %s: %v", matchID, err)
			continue
		}

		if r.Status == StatusWaiting && now.Sub(r.CreatedAt) > s.AbandonAfter {
			if err := s.UpdateStatus(ctx, matchID, StatusAbandoned); err != nil && !errors.Is(err, ErrRoomEnded) {
				s.logger.Warnf("sweeper: failed to abandon room %s: %v", matchID, err)
				continue
			}
			s.logger.Infof("sweeper: abandoned stale room %s", matchID)
		}
	}
	return nil
}

// RunSweeper loops SweepAbandoned at the given interval until ctx ends.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepAbandoned(ctx); err != nil {
				s.logger.Warnf("sweeper: pass failed: %v", err)
			}
		}
	}
}
