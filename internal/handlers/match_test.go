// internal/handlers/match_test.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ladderup/match-service/internal/auth"
	"github.com/ladderup/match-service/internal/catalog"
	"github.com/ladderup/match-service/internal/grading"
	"github.com/ladderup/match-service/internal/matchmaking"
	"github.com/ladderup/match-service/internal/room"
	"github.com/ladderup/match-service/internal/store"
	"github.com/ladderup/match-service/internal/stt"
)

type fixedCatalog struct{}

func (fixedCatalog) RandomQuestion(ctx context.Context) catalog.Question {
	return catalog.DefaultQuestion
}

type nopTranscriber struct{}

func (nopTranscriber) Transcribe(ctx context.Context, samples []float32, lang string) ([]string, error) {
	return nil, nil
}

type nopGrader struct{}

func (nopGrader) Grade(ctx context.Context, answer, questionID, playerUID string) (grading.Result, error) {
	return grading.Result{Score: 5}, nil
}

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()
	auth.Init() // ephemeral keys

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mem := store.NewMemory()
	registry := room.NewRegistry(logger)
	rooms := room.NewService(mem, fixedCatalog{}, registry, logger)
	rooms.MatchDuration = time.Hour
	queue := matchmaking.NewQueue(mem, rooms, logger)
	pipeline := stt.NewPipeline(rooms, registry, nopTranscriber{}, nopGrader{}, logger)
	rooms.OnMatchEnd = pipeline.FinalizeAndGrade

	return NewServer(auth.JWTSessions{}, rooms, queue, pipeline, logger), mem
}

func sessionCookie(t *testing.T, uid string) string {
	t.Helper()
	token, err := auth.CreateSessionToken(uid)
	require.NoError(t, err)
	return SessionCookieName + "=" + token
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestMatchInfoRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/match/m1/info", nil)
	w := httptest.NewRecorder()
	srv.MatchInfoHandler()(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Not authenticated", decodeBody(t, w)["error"])

	// A garbage token is just as unauthenticated as no token.
	req = httptest.NewRequest("GET", "/match/m1/info", nil)
	req.Header.Set("Cookie", SessionCookieName+"=not-a-jwt")
	w = httptest.NewRecorder()
	srv.MatchInfoHandler()(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMatchInfoUnknownRoom(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/match/missing/info", nil)
	req.Header.Set("Cookie", sessionCookie(t, "alice"))
	w := httptest.NewRecorder()
	srv.MatchInfoHandler()(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Room not found", decodeBody(t, w)["error"])
}

func TestMatchInfoDeniesNonParticipant(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.Rooms.CreateRoom(context.Background(), "m1", "alice", "bob")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/match/m1/info", nil)
	req.Header.Set("Cookie", sessionCookie(t, "mallory"))
	w := httptest.NewRecorder()
	srv.MatchInfoHandler()(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Access denied", decodeBody(t, w)["error"])
}

func TestMatchInfoWaitingRoom(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.Rooms.CreateRoom(context.Background(), "m1", "alice", "bob")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/match/m1/info", nil)
	req.Header.Set("Cookie", sessionCookie(t, "alice"))
	w := httptest.NewRecorder()
	srv.MatchInfoHandler()(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "m1", body["match_id"])
	assert.Equal(t, "waiting", body["status"])
	assert.Equal(t, "alice", body["player_uid"])
	assert.Equal(t, "bob", body["opponent_uid"])
	assert.Equal(t, false, body["is_ready"])

	// No question or clock before the match starts.
	assert.NotContains(t, body, "question")
	assert.NotContains(t, body, "time_remaining")
}

func TestMatchReadyFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	_, err := srv.Rooms.CreateRoom(ctx, "m1", "alice", "bob")
	require.NoError(t, err)

	ready := func(uid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/match/m1/ready", nil)
		req.Header.Set("Cookie", sessionCookie(t, uid))
		w := httptest.NewRecorder()
		srv.MatchReadyHandler()(w, req)
		return w
	}

	w := ready("alice")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["both_ready"])

	w = ready("bob")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, true, body["both_ready"])
	question, ok := body["question"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, catalog.DefaultQuestion.ID, question["id"])

	got, err := srv.Rooms.GetRoom(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, room.StatusActive, got.Status)

	// Info now reports the live clock and the question.
	req := httptest.NewRequest("GET", "/match/m1/info", nil)
	req.Header.Set("Cookie", sessionCookie(t, "bob"))
	infoW := httptest.NewRecorder()
	srv.MatchInfoHandler()(infoW, req)
	require.Equal(t, http.StatusOK, infoW.Code)
	infoBody := decodeBody(t, infoW)
	assert.Equal(t, "active", infoBody["status"])
	assert.Contains(t, infoBody, "time_remaining")
	assert.Contains(t, infoBody, "question")

	srv.Rooms.Timers().Cancel("m1")
}

func TestMatchReadyBroadcasts(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	_, err := srv.Rooms.CreateRoom(ctx, "m1", "alice", "bob")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	bobConn := room.NewConn("m1", "bob", func() {}, logger)
	srv.Rooms.Registry().Add("m1", bobConn)

	req := httptest.NewRequest("POST", "/match/m1/ready", nil)
	req.Header.Set("Cookie", sessionCookie(t, "alice"))
	w := httptest.NewRecorder()
	srv.MatchReadyHandler()(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case msg := <-bobConn.Out:
		assert.Equal(t, "player_ready", msg["type"])
		assert.Equal(t, "alice", msg["player"])
	default:
		t.Fatal("bob never saw the ready broadcast")
	}
}

// fieldWriteFailStore refuses field-scoped hash writes, so readiness updates
// fail while room reads and creation keep working.
type fieldWriteFailStore struct {
	*store.Memory
}

func (fieldWriteFailStore) HSetField(ctx context.Context, key, field, value string) error {
	return errors.New("write refused")
}

func TestMatchReadyStoreFailureIsNot404(t *testing.T) {
	auth.Init()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mem := store.NewMemory()
	registry := room.NewRegistry(logger)
	rooms := room.NewService(fieldWriteFailStore{Memory: mem}, fixedCatalog{}, registry, logger)
	srv := NewServer(auth.JWTSessions{}, rooms, nil, nil, logger)

	_, err := rooms.CreateRoom(context.Background(), "m1", "alice", "bob")
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/match/m1/ready", nil)
	req.Header.Set("Cookie", sessionCookie(t, "alice"))
	w := httptest.NewRecorder()
	srv.MatchReadyHandler()(w, req)

	// A transient store failure is a server error, not a missing room.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to update readiness", decodeBody(t, w)["error"])
}

func TestMatchDispatch(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/match/m1/nope", nil)
	w := httptest.NewRecorder()
	srv.MatchDispatchHandler()(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExtractCookieToken(t *testing.T) {
	assert.Equal(t, "abc", extractCookieToken("session_token=abc", "session_token"))
	assert.Equal(t, "abc", extractCookieToken("other=x; session_token=abc; more=y", "session_token"))
	assert.Equal(t, "", extractCookieToken("other=x", "session_token"))
	assert.Equal(t, "", extractCookieToken("", "session_token"))

	// Whole-name match only: a similarly named cookie must not leak in.
	assert.Equal(t, "abc", extractCookieToken("x_session_token=evil; session_token=abc", "session_token"))
	assert.Equal(t, "", extractCookieToken("x_session_token=evil", "session_token"))
}
