// internal/room/registry.go
package room

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Conn is a single player's live presence in a room: the outbound message
// channel drained by that socket's write pump, plus the cancel func that
// stops its read loop.
type Conn struct {
	UID     string
	Cancel  context.CancelFunc
	Out     chan map[string]interface{}
	logger  *logrus.Logger
	matchID string
}

// NewConn builds a connection handle with a buffered outbound channel.
func NewConn(matchID, uid string, cancel context.CancelFunc, logger *logrus.Logger) *Conn {
	return &Conn{
		UID:     uid,
		Cancel:  cancel,
		Out:     make(chan map[string]interface{}, 16),
		logger:  logger,
		matchID: matchID,
	}
}

// Send pushes a message onto the connection's outbound channel without
// blocking. A full or abandoned channel drops the message with a warning;
// one slow socket must never stall a broadcast.
func (c *Conn) Send(msg map[string]interface{}) {
	select {
	case c.Out <- msg:
	default:
		msgType, _ := msg["type"].(string)
		c.logger.Warnf("room %s: outbound channel for player %s full, dropped %q message", c.matchID, c.UID, msgType)
	}
}

// SendError is a convenience to send an inline error payload.
func (c *Conn) SendError(msg string) {
	c.Send(map[string]interface{}{"error": msg})
}

// Registry tracks live connections per room, keyed (matchID, uid). It is
// process-local: broadcast only reaches players whose sockets landed on this
// instance. Running more than one instance requires externalizing this table,
// which the service does not do today.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]map[string]*Conn
	logger *logrus.Logger
}

// NewRegistry returns an empty connection registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]*Conn),
		logger: logger,
	}
}

// Add registers a player's connection, replacing any previous handle for the
// same player. The replaced connection's read loop is cancelled.
func (reg *Registry) Add(matchID string, conn *Conn) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	conns, ok := reg.rooms[matchID]
	if !ok {
		conns = make(map[string]*Conn)
		reg.rooms[matchID] = conns
	}
	if old, ok := conns[conn.UID]; ok && old != conn {
		if old.Cancel != nil {
			old.Cancel()
		}
	}
	conns[conn.UID] = conn
}

// Remove deregisters a player. When the last player leaves, the room's entry
// is dropped from the table; the persisted room record is untouched.
func (reg *Registry) Remove(matchID, uid string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	conns, ok := reg.rooms[matchID]
	if !ok {
		return
	}
	delete(conns, uid)
	if len(conns) == 0 {
		delete(reg.rooms, matchID)
	}
}

// Get returns the connection for (matchID, uid), if present.
func (reg *Registry) Get(matchID, uid string) (*Conn, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	conn, ok := reg.rooms[matchID][uid]
	return conn, ok
}

// Broadcast sends msg to every connected player in the room except
// excludeUID (pass "" to exclude nobody). Delivery is best-effort per
// recipient; one failed send never aborts the rest.
func (reg *Registry) Broadcast(matchID string, msg map[string]interface{}, excludeUID string) {
	reg.mu.Lock()
	conns := make([]*Conn, 0, len(reg.rooms[matchID]))
	for uid, conn := range reg.rooms[matchID] {
		if excludeUID != "" && uid == excludeUID {
			continue
		}
		conns = append(conns, conn)
	}
	reg.mu.Unlock()

	for _, conn := range conns {
		conn.Send(msg)
	}
}
