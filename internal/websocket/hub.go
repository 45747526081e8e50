package websocket

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	ws "github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"github.com/draftforge/api/internal/model"
)

// Conn is the subset of a websocket connection the hub needs. Both the fiber
// upgrade handler's connection and the dialer's connection satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// TokenVerifier checks a websocket auth credential and returns the user id.
type TokenVerifier func(token string) (userID string, err error)

// Broadcaster is what the workers see: a best-effort room fan-out. The
// returned count/error are discardable at the call site; a broadcast failure
// must never fail the job it is attached to.
type Broadcaster interface {
	BroadcastToRoom(room model.Room, msg model.WireMessage) (int, error)
}

// Client is one live connection. Room membership is owned by the connection
// lifecycle and torn down on close; a reconnecting client starts with zero
// rooms until it rejoins.
type Client struct {
	ID     string
	UserID string
	Conn   Conn
	Send   chan []byte

	authenticated bool
	rooms         map[string]struct{}
	closeOnce     sync.Once
	closeFrame    []byte
}

// shutdown closes the send channel exactly once. The writer pump drains any
// queued frames, emits frame as the close message, and closes the socket;
// nothing else may write to the connection.
func (c *Client) shutdown(frame []byte) {
	c.closeOnce.Do(func() {
		c.closeFrame = frame
		close(c.Send)
	})
}

// Hub maintains authenticated connections grouped into rooms.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	verify  TokenVerifier
}

func NewHub(verify TokenVerifier) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		verify:  verify,
	}
}

// Register adds a new unauthenticated client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	log.Printf("ws client %s connected", client.ID)
}

// Unregister removes a client and its room memberships.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[connID]
	if !ok {
		return
	}
	for key := range client.rooms {
		h.removeFromRoom(connID, key)
	}
	delete(h.clients, connID)
	client.shutdown(nil)
	log.Printf("ws client %s disconnected", connID)
}

// Authenticate verifies the credential and promotes the connection.
func (h *Hub) Authenticate(connID, token string) (string, error) {
	userID, err := h.verify(token)
	if err != nil {
		return "", fmt.Errorf("verify ws token: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[connID]
	if !ok {
		return "", fmt.Errorf("unknown connection %s", connID)
	}
	client.authenticated = true
	client.UserID = userID
	return userID, nil
}

// Join subscribes an authenticated connection to rooms. Unauthenticated
// joins are rejected.
func (h *Hub) Join(connID string, rooms []model.Room) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[connID]
	if !ok {
		return fmt.Errorf("unknown connection %s", connID)
	}
	if !client.authenticated {
		return fmt.Errorf("connection %s not authenticated", connID)
	}
	for _, room := range rooms {
		key := room.Key()
		client.rooms[key] = struct{}{}
		if h.rooms[key] == nil {
			h.rooms[key] = make(map[string]*Client)
		}
		h.rooms[key][connID] = client
	}
	return nil
}

// Leave unsubscribes a connection from rooms.
func (h *Hub) Leave(connID string, rooms []model.Room) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[connID]
	if !ok {
		return fmt.Errorf("unknown connection %s", connID)
	}
	if !client.authenticated {
		return fmt.Errorf("connection %s not authenticated", connID)
	}
	for _, room := range rooms {
		delete(client.rooms, room.Key())
		h.removeFromRoom(connID, room.Key())
	}
	return nil
}

// Rooms returns the room keys a connection currently holds.
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[connID]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(client.rooms))
	for key := range client.rooms {
		keys = append(keys, key)
	}
	return keys
}

// BroadcastToRoom fans a message out to every connection in the room and
// returns how many received it.
func (h *Hub) BroadcastToRoom(room model.Room, msg model.WireMessage) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, client := range h.rooms[room.Key()] {
		select {
		case client.Send <- data:
			sent++
		default:
			// Slow consumer; drop the frame rather than block the hub.
		}
	}
	return sent, nil
}

// caller holds h.mu
func (h *Hub) removeFromRoom(connID, roomKey string) {
	if members, ok := h.rooms[roomKey]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, roomKey)
		}
	}
}

// HandleConnection runs the per-connection lifecycle: a writer goroutine
// draining the send channel with keep-alive pings, and a read loop parsing
// wire messages into auth/room/ping handling.
func (h *Hub) HandleConnection(conn Conn) {
	client := &Client{
		ID:    uuid.New().String(),
		Conn:  conn,
		Send:  make(chan []byte, 256),
		rooms: make(map[string]struct{}),
	}

	h.Register(client)

	writerDone := make(chan struct{})
	defer func() { <-writerDone }()
	defer h.Unregister(client.ID)

	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					conn.WriteMessage(ws.CloseMessage, client.closeFrame)
					conn.Close()
					return
				}
				if err := conn.WriteMessage(ws.TextMessage, message); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteMessage(ws.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure, ws.CloseAbnormalClosure) {
				log.Printf("ws client %s read error: %v", client.ID, err)
			}
			return
		}

		var msg model.WireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(client, "malformed message")
			continue
		}
		if !h.dispatch(client, msg) {
			return
		}
	}
}

// dispatch handles one frame and reports whether the read loop should keep
// going. It never writes to the connection itself; frames and the close
// message all go through the writer pump.
func (h *Hub) dispatch(client *Client, msg model.WireMessage) bool {
	switch msg.Event {
	case model.WSEventAuth:
		var payload model.AuthPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(client, "malformed auth payload")
			return true
		}
		userID, err := h.Authenticate(client.ID, payload.Token)
		if err != nil {
			h.sendError(client, "authentication failed")
			client.shutdown(ws.FormatCloseMessage(ws.ClosePolicyViolation, "authentication failed"))
			return false
		}
		h.send(client, model.NewWireMessage(model.WSEventAuthenticated, model.AuthenticatedPayload{
			UserID:       userID,
			ConnectionID: client.ID,
		}))
		log.Printf("ws client %s authenticated as user %s", client.ID, userID)

	case model.WSEventJoinRoom:
		var payload model.JoinRoomPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(client, "malformed join payload")
			return true
		}
		if err := h.Join(client.ID, payload.Rooms); err != nil {
			h.sendError(client, "join rejected: not authenticated")
			return true
		}
		h.send(client, model.NewWireMessage(model.WSEventRoomsJoined, model.RoomsChangedPayload{Rooms: payload.Rooms}))

	case model.WSEventLeaveRoom:
		var payload model.LeaveRoomPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(client, "malformed leave payload")
			return true
		}
		if err := h.Leave(client.ID, payload.Rooms); err != nil {
			h.sendError(client, "leave rejected: not authenticated")
			return true
		}
		h.send(client, model.NewWireMessage(model.WSEventRoomsLeft, model.RoomsChangedPayload{Rooms: payload.Rooms}))

	case model.WSEventPing:
		h.send(client, model.NewWireMessage(model.WSEventPong, struct{}{}))

	default:
		h.sendError(client, "unknown event "+msg.Event)
	}
	return true
}

func (h *Hub) send(client *Client, msg model.WireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

func (h *Hub) sendError(client *Client, reason string) {
	h.send(client, model.NewWireMessage(model.WSEventError, model.ErrorPayload{Error: reason}))
}
