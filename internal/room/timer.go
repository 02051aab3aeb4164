// internal/room/timer.go
package room

import (
	"context"
	"errors"
	"sync"
)

// ErrTimerExists is returned by Start when the room already has a live timer.
var ErrTimerExists = errors.New("room: timer already running")

type matchTimer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TimerRegistry enforces the at-most-one-timer-per-room invariant and gives
// callers a way to cancel a countdown and wait until its cleanup (including
// grading) has actually run.
type TimerRegistry struct {
	mu     sync.Mutex
	timers map[string]*matchTimer
}

// NewTimerRegistry returns an empty timer table.
func NewTimerRegistry() *TimerRegistry {
	return &TimerRegistry{timers: make(map[string]*matchTimer)}
}

// Start launches run in its own goroutine under a cancellable context.
// The timer unregisters itself on every exit path.
func (tr *TimerRegistry) Start(matchID string, run func(ctx context.Context)) error {
	tr.mu.Lock()
	if _, exists := tr.timers[matchID]; exists {
		tr.mu.Unlock()
		return ErrTimerExists
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &matchTimer{cancel: cancel, done: make(chan struct{})}
	tr.timers[matchID] = t
	tr.mu.Unlock()

	go func() {
		defer close(t.done)
		defer tr.remove(matchID, t)
		defer cancel()
		run(ctx)
	}()
	return nil
}

// Cancel stops the room's timer, if any, and blocks until it has fully
// exited, so the caller observes grading as either done or skipped.
func (tr *TimerRegistry) Cancel(matchID string) {
	tr.mu.Lock()
	t, ok := tr.timers[matchID]
	tr.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// Active reports whether a timer is currently registered for the room.
func (tr *TimerRegistry) Active(matchID string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	_, ok := tr.timers[matchID]
	return ok
}

func (tr *TimerRegistry) remove(matchID string, t *matchTimer) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if cur, ok := tr.timers[matchID]; ok && cur == t {
		delete(tr.timers, matchID)
	}
}
