// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/ladderup/match-service/internal/middleware"
	"github.com/ladderup/match-service/internal/room"
)

// inboundMessage is the closed set of JSON control messages a player may
// send on the room socket. Binary frames never reach this decoder; they are
// raw audio.
type inboundMessage struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Signal  json.RawMessage `json:"signal"`
}

// RoomWSHandler serves /room/{id}: the realtime channel for an interview
// session. After auth and the access check it registers the connection,
// announces the join, and pumps messages until the socket closes.
func (s *Server) RoomWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		matchID := strings.Split(strings.TrimPrefix(r.URL.Path, "/room/"), "/")[0]
		if matchID == "" {
			http.Error(w, "missing match id", http.StatusBadRequest)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			s.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		uid, err := s.authenticate(r)
		if err != nil {
			s.Logger.Warnf("Room %s: authentication failed: %v", matchID, err)
			sendInline(r.Context(), c, map[string]interface{}{"error": "Not authenticated"})
			c.Close(websocket.StatusPolicyViolation, "Authentication failed.")
			return
		}

		if !s.Rooms.VerifyAccess(r.Context(), matchID, uid) {
			sendInline(r.Context(), c, map[string]interface{}{"error": "Access denied"})
			c.Close(websocket.StatusPolicyViolation, "Access denied.")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		conn := room.NewConn(matchID, uid, cancel, s.Logger)
		s.Rooms.Registry().Add(matchID, conn)

		middleware.LogWebSocketConnect(s.Logger, remoteAddr, r.URL.Path)

		go s.writePump(ctx, c, conn)

		s.Rooms.Registry().Broadcast(matchID, map[string]interface{}{
			"type":   "player_joined",
			"player": uid,
		}, uid)

		conn.Send(s.connectedMessage(ctx, matchID, uid))

		s.readPump(ctx, c, conn, matchID, uid)

		// ---- Cleanup after readPump exits ----
		s.Rooms.Registry().Remove(matchID, uid)
		s.Pipeline.DropBuffer(matchID, uid)
		s.Rooms.Registry().Broadcast(matchID, map[string]interface{}{
			"type":   "player_left",
			"player": uid,
		}, "")
		cancel()
		middleware.LogWebSocketDisconnect(s.Logger, remoteAddr, r.URL.Path, nil)
	}
}

// connectedMessage builds the greeting for a freshly joined player,
// including the question and clock when the session is already live.
func (s *Server) connectedMessage(ctx context.Context, matchID, uid string) map[string]interface{} {
	msg := map[string]interface{}{
		"type":       "connected",
		"match_id":   matchID,
		"player_uid": uid,
		"status":     string(room.StatusWaiting),
	}

	snapshot, err := s.Rooms.GetRoom(ctx, matchID)
	if err != nil {
		return msg
	}
	msg["status"] = snapshot.Status
	msg["is_ready"] = snapshot.ReadyFor(uid)
	if snapshot.QuestionText != "" {
		msg["question"] = map[string]string{
			"id":   snapshot.QuestionID,
			"text": snapshot.QuestionText,
		}
	}
	if snapshot.Status == room.StatusActive {
		msg["time_remaining"] = snapshot.TimeRemaining
		msg["match_duration_seconds"] = int(s.Rooms.MatchDuration / time.Second)
	}
	return msg
}

// readPump drains the socket: binary frames feed the audio pipeline, text
// frames are dispatched as control messages. Malformed JSON gets an inline
// error reply; the socket stays open.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, conn *room.Conn, matchID, uid string) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.Logger.Infof("Room %s: WebSocket closed normally for player %s.", matchID, uid)
			} else if !strings.Contains(err.Error(), "context canceled") {
				s.Logger.Warnf("Room %s: read error for player %s: %v", matchID, uid, err)
			}
			return
		}

		if typ == websocket.MessageBinary {
			s.Pipeline.Ingest(ctx, matchID, uid, data)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			conn.Send(map[string]interface{}{"error": "Invalid message format"})
			continue
		}
		s.handleRoomMessage(ctx, conn, matchID, uid, msg)
	}
}

// handleRoomMessage dispatches one control message by its type tag. Unknown
// types are answered inline, never fatal.
func (s *Server) handleRoomMessage(ctx context.Context, conn *room.Conn, matchID, uid string, msg inboundMessage) {
	switch msg.Type {
	case "ready":
		result, err := s.Rooms.SetPlayerReady(ctx, matchID, uid)
		if err != nil {
			s.Logger.Warnf("Room %s: ready failed for player %s: %v", matchID, uid, err)
			conn.SendError("Failed to mark ready")
			return
		}
		s.broadcastPlayerReady(matchID, uid, result)

	case "chat":
		if msg.Message == "" {
			return
		}
		s.Rooms.Registry().Broadcast(matchID, map[string]interface{}{
			"type":    "chat",
			"player":  uid,
			"message": msg.Message,
		}, "")

	case "signal":
		// WebRTC signaling payloads are relayed opaquely to the opponent.
		s.Rooms.Registry().Broadcast(matchID, map[string]interface{}{
			"type":   "signal",
			"from":   uid,
			"signal": msg.Signal,
		}, uid)

	case "start_audio":
		s.Rooms.Registry().Broadcast(matchID, map[string]interface{}{
			"type":     "player_speaking",
			"player":   uid,
			"speaking": true,
		}, uid)

	case "stop_audio":
		s.Rooms.Registry().Broadcast(matchID, map[string]interface{}{
			"type":     "player_speaking",
			"player":   uid,
			"speaking": false,
		}, uid)

	default:
		s.Logger.Warnf("Room %s: unknown message type %q from player %s", matchID, msg.Type, uid)
		conn.SendError("Unknown message type: " + msg.Type)
	}
}

// writePump drains the connection's outbound channel onto the socket and
// keeps the connection alive with periodic pings.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *room.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-conn.Out:
			data, err := json.Marshal(msg)
			if err != nil {
				s.Logger.Warnf("failed to marshal outgoing msg for player %s: %v", conn.UID, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.Logger.Warnf("failed to write to websocket for player %s: %v", conn.UID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				s.Logger.Warnf("failed to ping player %s, assuming disconnect: %v", conn.UID, err)
				return
			}
		}
	}
}

// sendInline writes a single JSON payload directly, used before the write
// pump exists (pre-registration failures).
func sendInline(ctx context.Context, c *websocket.Conn, msg map[string]interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = c.Write(writeCtx, websocket.MessageText, data)
}
