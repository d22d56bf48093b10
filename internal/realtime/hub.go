// ABOUTME: In-memory room-based fan-out hub for connected websocket clients
// ABOUTME: Rooms address users, groups, and study tracks; sends never block emitters

package realtime

import (
	"log/slog"
	"sort"
	"sync"
)

const (
	// clientBufferSize is the outbound channel buffer for each client.
	clientBufferSize = 64
)

// Event is one named payload delivered to clients as a JSON envelope.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Room name constructors. Server-side emitters always address rooms through
// these, so the naming scheme lives in one place.
func UserRoom(userID string) string          { return "user:" + userID }
func GroupRoom(groupID string) string        { return "group:" + groupID }
func StudyRoom(groupID, topic string) string { return "studychat:" + groupID + ":" + topic }

// client is one websocket connection's hub-side state. send is never closed:
// emitters send to it without holding the hub lock, so closing it on
// unregister could panic a concurrent emit. done signals the write pump
// instead.
type client struct {
	userID string
	send   chan Event
	done   chan struct{}
	rooms  map[string]struct{}
}

// Hub provides in-memory pub/sub between HTTP handlers and websocket clients.
// A user may hold several connections at once; presence counts connections
// per user and reports a user online while at least one remains.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]struct{}
	clients  map[*client]struct{}
	presence map[string]int
	logger   *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:    make(map[string]map[*client]struct{}),
		clients:  make(map[*client]struct{}),
		presence: make(map[string]int),
		logger:   logger.With("component", "realtime"),
	}
}

// register adds a connection, joins its personal room, and returns the client.
func (h *Hub) register(userID string) *client {
	c := &client{
		userID: userID,
		send:   make(chan Event, clientBufferSize),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.presence[userID]++
	h.mu.Unlock()

	h.join(c, UserRoom(userID))
	h.logger.Debug("client registered", "user_id", userID)
	return c
}

// unregister removes a connection from every room and signals its write pump.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.presence[c.userID]--
	if h.presence[c.userID] <= 0 {
		delete(h.presence, c.userID)
	}
	close(c.done)
	h.mu.Unlock()

	h.logger.Debug("client unregistered", "user_id", c.userID)
}

func (h *Hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// Emit delivers an event to every client in the room. Non-blocking: the event
// is dropped for clients whose outbound buffer is full.
func (h *Hub) Emit(room string, event Event) {
	h.emit(room, "", event)
}

// EmitExcept delivers an event to the room, skipping connections belonging to
// excludeUserID. Used so a sender does not receive an echo of its own action.
func (h *Hub) EmitExcept(room, excludeUserID string, event Event) {
	h.emit(room, excludeUserID, event)
}

func (h *Hub) emit(room, excludeUserID string, event Event) {
	h.mu.RLock()
	members, ok := h.rooms[room]
	if !ok || len(members) == 0 {
		h.mu.RUnlock()
		return
	}

	// Copy targets under read lock to avoid holding it during sends.
	targets := make([]*client, 0, len(members))
	for c := range members {
		if excludeUserID != "" && c.userID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- event:
		default:
			h.logger.Debug("dropped event for slow client",
				"room", room,
				"event", event.Name,
				"user_id", c.userID)
		}
	}
}

// Broadcast delivers an event to every connected client regardless of rooms.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- event:
		default:
			h.logger.Debug("dropped broadcast for slow client",
				"event", event.Name,
				"user_id", c.userID)
		}
	}
}

// OnlineUsers returns the IDs of users with at least one open connection,
// sorted for stable output.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.presence))
	for id := range h.presence {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// broadcastPresence pushes the current online-user list to everyone.
func (h *Hub) broadcastPresence() {
	h.Broadcast(Event{Name: "getOnlineUsers", Data: h.OnlineUsers()})
}
