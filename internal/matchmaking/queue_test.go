// internal/matchmaking/queue_test.go
package matchmaking

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ladderup/match-service/internal/catalog"
	"github.com/ladderup/match-service/internal/room"
	"github.com/ladderup/match-service/internal/store"
)

type fixedCatalog struct{}

func (fixedCatalog) RandomQuestion(ctx context.Context) catalog.Question {
	return catalog.DefaultQuestion
}

// brokenStore fails every hash write, which makes room creation fail while
// the queue list itself keeps working.
type brokenStore struct {
	*store.Memory
}

func (b brokenStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	return errors.New("write refused")
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestQueue(st store.Store) *Queue {
	logger := testLogger()
	rooms := room.NewService(st, fixedCatalog{}, room.NewRegistry(logger), logger)
	return NewQueue(st, rooms, logger)
}

func TestTryMatchPairsOldestTwo(t *testing.T) {
	mem := store.NewMemory()
	q := newTestQueue(mem)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "alice"))
	require.NoError(t, q.Enqueue(ctx, "bob"))
	require.NoError(t, q.Enqueue(ctx, "carol"))

	events, err := q.Listen(ctx)
	require.NoError(t, err)

	require.NoError(t, q.TryMatchPlayers(ctx))

	var ev Event
	select {
	case ev = <-events:
	case <-time.After(time.Second):
		t.Fatal("no match event published")
	}

	assert.Equal(t, [2]string{"alice", "bob"}, ev.Players)
	assert.True(t, strings.HasPrefix(ev.MatchID, "match_alice_bob_"))
	assert.True(t, ev.Mentions("alice"))
	assert.True(t, ev.Mentions("bob"))
	assert.False(t, ev.Mentions("carol"))
	assert.Equal(t, "bob", ev.Partner("alice"))

	// The paired players' room exists and carol still waits.
	fields, err := mem.HGetAll(ctx, "room:"+ev.MatchID)
	require.NoError(t, err)
	assert.Equal(t, "alice", fields["player1_uid"])
	assert.Equal(t, "bob", fields["player2_uid"])

	size, err := mem.LLen(ctx, "match_queue")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestTryMatchLeavesLonePlayerQueued(t *testing.T) {
	mem := store.NewMemory()
	q := newTestQueue(mem)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "alice"))
	require.NoError(t, q.TryMatchPlayers(ctx))

	size, err := mem.LLen(ctx, "match_queue")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestTryMatchRequeuesOnRoomFailure(t *testing.T) {
	mem := store.NewMemory()
	st := brokenStore{Memory: mem}
	q := newTestQueue(st)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "alice"))
	require.NoError(t, q.Enqueue(ctx, "bob"))

	// Room creation fails; both players go back on the list in order and no
	// event reaches subscribers.
	events, err := q.Listen(ctx)
	require.NoError(t, err)
	require.NoError(t, q.TryMatchPlayers(ctx))

	select {
	case ev := <-events:
		t.Fatalf("unexpected match event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	p1, err := mem.LPop(ctx, "match_queue")
	require.NoError(t, err)
	p2, err := mem.LPop(ctx, "match_queue")
	require.NoError(t, err)
	assert.Equal(t, "alice", p1)
	assert.Equal(t, "bob", p2)
}

func TestDequeueRemovesWaitingPlayer(t *testing.T) {
	mem := store.NewMemory()
	q := newTestQueue(mem)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "alice"))
	require.NoError(t, q.Enqueue(ctx, "bob"))
	require.NoError(t, q.Dequeue(ctx, "alice"))

	size, err := mem.LLen(ctx, "match_queue")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	remaining, err := mem.LPop(ctx, "match_queue")
	require.NoError(t, err)
	assert.Equal(t, "bob", remaining)
}

func TestListenStopsWithContext(t *testing.T) {
	mem := store.NewMemory()
	q := newTestQueue(mem)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := q.Listen(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("event channel not closed after cancel")
	}
}
