// internal/matchmaking/queue.go
package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ladderup/match-service/internal/room"
	"github.com/ladderup/match-service/internal/store"
)

// Shared key layout: a FIFO list of waiting uids and the pub/sub channel
// match announcements fan out on.
const (
	queueKey     = "match_queue"
	matchChannel = "match_channel"

	// DefaultPollInterval is how often the background loop tries to pair the
	// queue's two oldest entries.
	DefaultPollInterval = time.Second
)

// Event is one match-found announcement. Every subscriber receives every
// event and filters for its own uid.
type Event struct {
	Players [2]string `json:"players"`
	MatchID string    `json:"match_id"`
}

// Mentions reports whether uid is one of the paired players.
func (e Event) Mentions(uid string) bool {
	return e.Players[0] == uid || e.Players[1] == uid
}

// Partner returns the other paired uid.
func (e Event) Partner(uid string) string {
	if e.Players[0] == uid {
		return e.Players[1]
	}
	return e.Players[0]
}

// Queue pairs waiting players FIFO out of the shared list and announces
// matches over pub/sub. The only fairness guarantee is the list order.
type Queue struct {
	store  store.Store
	rooms  *room.Service
	logger *logrus.Logger
}

// NewQueue wires the matchmaking queue.
func NewQueue(st store.Store, rooms *room.Service, logger *logrus.Logger) *Queue {
	return &Queue{store: st, rooms: rooms, logger: logger}
}

// Enqueue appends uid to the tail of the waiting list.
func (q *Queue) Enqueue(ctx context.Context, uid string) error {
	return q.store.RPush(ctx, queueKey, uid)
}

// Dequeue removes every occurrence of uid from the waiting list, used when a
// waiting player disconnects or leaves.
func (q *Queue) Dequeue(ctx context.Context, uid string) error {
	return q.store.LRem(ctx, queueKey, uid)
}

// TryMatchPlayers runs one pairing cycle: when at least two players wait, it
// pops the two oldest, creates their room, and publishes the match event.
// If the second pop loses a race with another consumer the first uid goes
// back on the tail; if room creation fails both uids go back and no event is
// published.
func (q *Queue) TryMatchPlayers(ctx context.Context) error {
	size, err := q.store.LLen(ctx, queueKey)
	if err != nil {
		return fmt.Errorf("failed to read queue length: %w", err)
	}
	if size < 2 {
		return nil
	}

	p1, err := q.store.LPop(ctx, queueKey)
	if err != nil {
		if errors.Is(err, store.ErrNoEntry) {
			return nil
		}
		return fmt.Errorf("failed to pop first player: %w", err)
	}
	p2, err := q.store.LPop(ctx, queueKey)
	if err != nil {
		if requeueErr := q.store.RPush(ctx, queueKey, p1); requeueErr != nil {
			q.logger.Errorf("matchmaking: failed to re-queue %s after lone pop: %v", p1, requeueErr)
		}
		if errors.Is(err, store.ErrNoEntry) {
			return nil
		}
		return fmt.Errorf("failed to pop second player: %w", err)
	}

	matchID, err := q.buildMatchID(ctx, p1, p2)
	if err != nil {
		q.requeue(ctx, p1, p2)
		return err
	}

	if _, err := q.rooms.CreateRoom(ctx, matchID, p1, p2); err != nil {
		q.logger.Warnf("matchmaking: room creation failed for %s and %s, re-queueing: %v", p1, p2, err)
		q.requeue(ctx, p1, p2)
		return nil
	}

	payload, err := json.Marshal(Event{Players: [2]string{p1, p2}, MatchID: matchID})
	if err != nil {
		return fmt.Errorf("failed to marshal match event: %w", err)
	}
	if err := q.store.Publish(ctx, matchChannel, string(payload)); err != nil {
		return fmt.Errorf("failed to publish match event: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"match_id": matchID,
		"player1":  p1,
		"player2":  p2,
	}).Info("Matched players")
	return nil
}

// buildMatchID derives the room id from the two uids and the store server's
// clock, so ids agree across instances regardless of local clock skew.
func (q *Queue) buildMatchID(ctx context.Context, p1, p2 string) (string, error) {
	now, err := q.store.Time(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read store time: %w", err)
	}
	return fmt.Sprintf("match_%s_%s_%d", p1, p2, now.Unix()), nil
}

func (q *Queue) requeue(ctx context.Context, p1, p2 string) {
	if err := q.store.RPush(ctx, queueKey, p1, p2); err != nil {
		q.logger.Errorf("matchmaking: failed to re-queue %s and %s: %v", p1, p2, err)
	}
}

// Run polls the queue until ctx ends. Errors in one cycle are logged and the
// loop continues; the matchmaking loop never dies from a transient failure.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.TryMatchPlayers(ctx); err != nil {
				q.logger.Warnf("matchmaking: pairing cycle failed: %v", err)
			}
		}
	}
}

// Listen subscribes to the match channel and yields decoded events until ctx
// ends. Each call opens its own subscription, so the stream is restartable.
func (q *Queue) Listen(ctx context.Context) (<-chan Event, error) {
	sub, err := q.store.Subscribe(ctx, matchChannel)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to match channel: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-sub.Messages():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(payload), &ev); err != nil {
					q.logger.Warnf("matchmaking: dropping malformed match event: %v", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
