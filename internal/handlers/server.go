// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ladderup/match-service/internal/auth"
	"github.com/ladderup/match-service/internal/matchmaking"
	"github.com/ladderup/match-service/internal/room"
	"github.com/ladderup/match-service/internal/stt"
)

// SessionCookieName is the cookie carrying the session token on both the
// HTTP endpoints and the WebSocket handshakes.
const SessionCookieName = "session_token"

// Server bundles the collaborators the match endpoints need. It owns no
// state of its own; registries and buffers live in the injected services.
type Server struct {
	Sessions auth.SessionStore
	Rooms    *room.Service
	Queue    *matchmaking.Queue
	Pipeline *stt.Pipeline
	Logger   *logrus.Logger
}

// NewServer wires the handler layer.
func NewServer(sessions auth.SessionStore, rooms *room.Service, queue *matchmaking.Queue, pipeline *stt.Pipeline, logger *logrus.Logger) *Server {
	return &Server{
		Sessions: sessions,
		Rooms:    rooms,
		Queue:    queue,
		Pipeline: pipeline,
		Logger:   logger,
	}
}

// authenticate resolves the session cookie to a uid.
func (s *Server) authenticate(r *http.Request) (string, error) {
	token := extractCookieToken(r.Header.Get("Cookie"), SessionCookieName)
	if token == "" {
		return "", fmt.Errorf("missing session token")
	}
	uid, err := s.Sessions.Resolve(r.Context(), token)
	if err != nil {
		return "", fmt.Errorf("invalid session: %w", err)
	}
	return uid, nil
}

// writeJSON writes a JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes the standard {"error": ...} body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
