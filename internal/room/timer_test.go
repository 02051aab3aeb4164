// internal/room/timer_test.go
package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ladderup/match-service/internal/catalog"
	"github.com/ladderup/match-service/internal/store"
)

func TestTimerRegistrySingleTimerPerRoom(t *testing.T) {
	tr := NewTimerRegistry()
	block := make(chan struct{})

	err := tr.Start("m1", func(ctx context.Context) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	})
	require.NoError(t, err)
	assert.True(t, tr.Active("m1"))

	assert.ErrorIs(t, tr.Start("m1", func(ctx context.Context) {}), ErrTimerExists)

	close(block)
	tr.Cancel("m1")
	assert.False(t, tr.Active("m1"))

	// Slot is free again once the first timer exited.
	require.NoError(t, tr.Start("m1", func(ctx context.Context) {}))
	tr.Cancel("m1")
}

func TestTimerRegistryCancelWaitsForExit(t *testing.T) {
	tr := NewTimerRegistry()
	var finished bool

	require.NoError(t, tr.Start("m1", func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished = true
	}))

	tr.Cancel("m1")
	assert.True(t, finished)
}

func TestTimerRegistryCancelUnknownRoom(t *testing.T) {
	tr := NewTimerRegistry()
	tr.Cancel("never-started")
}

// endCounter records OnMatchEnd invocations and lets a test wait for the
// first one.
type endCounter struct {
	mu    sync.Mutex
	calls int
	first chan struct{}
	once  sync.Once
}

func newEndCounter() *endCounter {
	return &endCounter{first: make(chan struct{})}
}

func (e *endCounter) onMatchEnd(ctx context.Context, matchID string) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	e.once.Do(func() { close(e.first) })
}

func (e *endCounter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *endCounter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-e.first:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for match end callback")
	}
}

func startReadyMatch(t *testing.T, svc *Service, matchID string) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.CreateRoom(ctx, matchID, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.SetPlayerReady(ctx, matchID, "alice")
	require.NoError(t, err)
	result, err := svc.SetPlayerReady(ctx, matchID, "bob")
	require.NoError(t, err)
	require.True(t, result.BothReady)
}

func TestMatchTimerExpiryGradesOnce(t *testing.T) {
	mem := store.NewMemory()
	logger := testLogger()
	svc := NewService(mem, &stubCatalog{question: catalog.Question{ID: "q1", Text: "t"}}, NewRegistry(logger), logger)
	// Expires on the first tick boundary.
	svc.MatchDuration = time.Second

	ends := newEndCounter()
	svc.OnMatchEnd = ends.onMatchEnd

	startReadyMatch(t, svc, "m1")
	ends.wait(t)

	// The timer unregisters itself and the room ends completed.
	require.Eventually(t, func() bool {
		return !svc.Timers().Active("m1")
	}, 5*time.Second, 10*time.Millisecond)

	got, err := svc.GetRoom(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, ends.count())

	// A late cancel on an already-ended match never grades again.
	svc.Timers().Cancel("m1")
	assert.Equal(t, 1, ends.count())
}

func TestMatchTimerCancelGradesOnce(t *testing.T) {
	mem := store.NewMemory()
	logger := testLogger()
	svc := NewService(mem, &stubCatalog{question: catalog.Question{ID: "q1", Text: "t"}}, NewRegistry(logger), logger)
	svc.MatchDuration = time.Hour

	ends := newEndCounter()
	svc.OnMatchEnd = ends.onMatchEnd

	startReadyMatch(t, svc, "m1")
	require.True(t, svc.Timers().Active("m1"))

	// Ending the room cancels the countdown and waits for its grading pass.
	require.NoError(t, svc.UpdateStatus(context.Background(), "m1", StatusCompleted))
	assert.Equal(t, 1, ends.count())
	assert.False(t, svc.Timers().Active("m1"))
}

func TestMatchTimerBroadcastsTimeUpdates(t *testing.T) {
	mem := store.NewMemory()
	logger := testLogger()
	registry := NewRegistry(logger)
	svc := NewService(mem, &stubCatalog{question: catalog.Question{ID: "q1", Text: "t"}}, registry, logger)
	svc.MatchDuration = time.Hour

	conn := NewConn("m1", "alice", func() {}, logger)
	registry.Add("m1", conn)

	startReadyMatch(t, svc, "m1")

	// The first tick lands before any sleep.
	var update map[string]interface{}
	deadline := time.After(5 * time.Second)
	for update == nil {
		select {
		case msg := <-conn.Out:
			if msg["type"] == "time_update" {
				update = msg
			}
		case <-deadline:
			t.Fatal("no time_update broadcast")
		}
	}
	assert.Equal(t, 3600, update["time_remaining"])
	assert.Equal(t, 60, update["minutes"])
	assert.Equal(t, 0, update["seconds"])

	got, err := svc.GetRoom(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 3600, got.TimeRemaining)

	svc.Timers().Cancel("m1")
}
