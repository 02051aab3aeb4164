// internal/handlers/join_ws.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// JoinQueueWSHandler serves /matchmaking/join. The player is enqueued on
// connect and held on the socket until a pairing event names them, at which
// point the match details are pushed and the socket closes. Dropping the
// socket before a match is found removes the player from the queue.
func (s *Server) JoinQueueWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
			s.Logger.Warnf("Matchmaking: authentication failed: %v", err)
			sendInline(r.Context(), c, map[string]interface{}{"error": "Not authenticated"})
			c.Close(websocket.StatusPolicyViolation, "Authentication failed.")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if err := s.Queue.Enqueue(ctx, uid); err != nil {
			s.Logger.Errorf("Matchmaking: failed to enqueue player %s: %v", uid, err)
			sendInline(ctx, c, map[string]interface{}{"error": "Failed to join queue"})
			c.Close(websocket.StatusInternalError, "enqueue failed")
			return
		}
		// Dequeue is a no-op once the player has been popped by the matcher.
		defer func() {
			dequeueCtx, dequeueCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer dequeueCancel()
			if err := s.Queue.Dequeue(dequeueCtx, uid); err != nil {
				s.Logger.Warnf("Matchmaking: failed to dequeue player %s: %v", uid, err)
			}
		}()

		s.Logger.Infof("Player %s joined the matchmaking queue", uid)
		sendInline(ctx, c, map[string]interface{}{
			"status": "queued",
			"user":   uid,
		})

		events, err := s.Queue.Listen(ctx)
		if err != nil {
			s.Logger.Errorf("Matchmaking: failed to subscribe for player %s: %v", uid, err)
			c.Close(websocket.StatusInternalError, "subscribe failed")
			return
		}

		// Reads are discarded; their only purpose is to notice the client
		// hanging up while we wait for a pairing.
		go func() {
			for {
				if _, _, err := c.Read(ctx); err != nil {
					cancel()
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				s.Logger.Infof("Player %s left the matchmaking queue", uid)
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !ev.Mentions(uid) {
					continue
				}
				sendInline(ctx, c, map[string]interface{}{
					"status":   "match_found",
					"partner":  ev.Partner(uid),
					"match_id": ev.MatchID,
				})
				c.Close(websocket.StatusNormalClosure, "match found")
				return
			}
		}
	}
}
