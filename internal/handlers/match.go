// internal/handlers/match.go
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ladderup/match-service/internal/room"
)

// MatchDispatchHandler routes /match/{id}/info and /match/{id}/ready to
// their handlers.
func (s *Server) MatchDispatchHandler() http.HandlerFunc {
	info := s.MatchInfoHandler()
	ready := s.MatchReadyHandler()
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/info"):
			info(w, r)
		case strings.HasSuffix(r.URL.Path, "/ready"):
			ready(w, r)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

// matchIDFromPath pulls the {id} segment out of /match/{id}/<op>.
func matchIDFromPath(path, op string) string {
	trimmed := strings.TrimPrefix(path, "/match/")
	trimmed = strings.TrimSuffix(trimmed, "/"+op)
	if strings.Contains(trimmed, "/") {
		return ""
	}
	return trimmed
}

// MatchInfoHandler serves GET /match/{id}/info: the room snapshot from the
// calling player's perspective.
func (s *Server) MatchInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		matchID := matchIDFromPath(r.URL.Path, "info")
		if matchID == "" {
			writeError(w, http.StatusBadRequest, "missing match id")
			return
		}

		uid, err := s.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		snapshot, err := s.Rooms.GetRoom(r.Context(), matchID)
		if err != nil {
			writeError(w, http.StatusNotFound, "Room not found")
			return
		}
		if !s.Rooms.VerifyAccess(r.Context(), matchID, uid) {
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}

		body := map[string]interface{}{
			"match_id":     matchID,
			"status":       snapshot.Status,
			"player_uid":   uid,
			"opponent_uid": snapshot.Opponent(uid),
			"created_at":   snapshot.CreatedAt.Format(time.RFC3339),
			"is_ready":     snapshot.ReadyFor(uid),
		}
		if snapshot.Status == room.StatusActive {
			body["time_remaining"] = snapshot.TimeRemaining
		}
		if snapshot.QuestionText != "" {
			body["question"] = map[string]string{
				"id":   snapshot.QuestionID,
				"text": snapshot.QuestionText,
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// MatchReadyHandler serves POST /match/{id}/ready: marks the caller ready,
// broadcasts the readiness change, and reports whether the match started.
func (s *Server) MatchReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		matchID := matchIDFromPath(r.URL.Path, "ready")
		if matchID == "" {
			writeError(w, http.StatusBadRequest, "missing match id")
			return
		}

		uid, err := s.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if !s.Rooms.VerifyAccess(r.Context(), matchID, uid) {
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}

		result, err := s.Rooms.SetPlayerReady(r.Context(), matchID, uid)
		if err != nil {
			s.Logger.Warnf("ready failed for %s in %s: %v", uid, matchID, err)
			if errors.Is(err, room.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Room not found")
			} else {
				writeError(w, http.StatusInternalServerError, "Failed to update readiness")
			}
			return
		}

		s.broadcastPlayerReady(matchID, uid, result)
		writeJSON(w, http.StatusOK, result)
	}
}

// broadcastPlayerReady announces a readiness change to the room, attaching
// the question and duration once both players are in.
func (s *Server) broadcastPlayerReady(matchID, uid string, result room.ReadyResult) {
	msg := map[string]interface{}{
		"type":       "player_ready",
		"player":     uid,
		"both_ready": result.BothReady,
	}
	if result.BothReady && result.Question != nil {
		msg["question"] = result.Question
		msg["match_duration_seconds"] = int(s.Rooms.MatchDuration / time.Second)
	}
	s.Rooms.Registry().Broadcast(matchID, msg, "")
}
