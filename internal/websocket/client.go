package websocket

import (
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	ws "github.com/fasthttp/websocket"

	"github.com/draftforge/api/internal/model"
)

// ConnectionState is the client-side connection lifecycle.
type ConnectionState string

const (
	StateDisconnected   ConnectionState = "DISCONNECTED"
	StateConnecting     ConnectionState = "CONNECTING"
	StateConnected      ConnectionState = "CONNECTED"
	StateAuthenticating ConnectionState = "AUTHENTICATING"
	StateAuthenticated  ConnectionState = "AUTHENTICATED"
	StateReconnecting   ConnectionState = "RECONNECTING"
)

// Dialer opens a websocket connection. The default implementation wraps
// fasthttp/websocket; tests substitute an in-memory pair.
type Dialer interface {
	Dial(url string) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(url string) (Conn, error) {
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	return conn, err
}

// ClientConfig tunes reconnect and heartbeat behaviour.
type ClientConfig struct {
	URL                  string
	Dialer               Dialer
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
}

// WSClient is a reconnecting, resubscribing websocket client. After an
// abnormal close it redials with capped exponential backoff plus jitter,
// re-authenticates, and rejoins the room set it held before the drop.
// Normal-closure and policy-violation closes stop it for good.
type WSClient struct {
	cfg   ClientConfig
	token string

	mu       sync.Mutex
	conn     Conn
	state    ConnectionState
	rooms    []model.Room
	attempts int
	closed   bool

	events map[string][]func(model.WireMessage)
	states []func(ConnectionState)
	stopHB chan struct{}
}

func NewWSClient(cfg ClientConfig) *WSClient {
	if cfg.Dialer == nil {
		cfg.Dialer = wsDialer{}
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &WSClient{
		cfg:    cfg,
		state:  StateDisconnected,
		events: make(map[string][]func(model.WireMessage)),
	}
}

// State returns the current connection state.
func (c *WSClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribedRooms returns a copy of the tracked room set.
func (c *WSClient) SubscribedRooms() []model.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]model.Room, len(c.rooms))
	copy(rooms, c.rooms)
	return rooms
}

// OnEvent registers a listener for an event name.
func (c *WSClient) OnEvent(event string, fn func(model.WireMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[event] = append(c.events[event], fn)
}

// OnStateChange registers a state transition listener.
func (c *WSClient) OnStateChange(fn func(ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, fn)
}

// Connect dials the server and authenticates with the given credential.
func (c *WSClient) Connect(token string) {
	c.mu.Lock()
	if c.state != StateDisconnected && c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.token = token
	c.closed = false
	c.attempts = 0
	c.mu.Unlock()

	c.dial()
}

// Close shuts the connection down for good; no reconnect follows.
func (c *WSClient) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
		conn.Close()
	}
	c.setState(StateDisconnected)
}

// JoinRooms subscribes to rooms, tracking them for resubscription after a
// reconnect. Duplicate identifiers are ignored.
func (c *WSClient) JoinRooms(rooms []model.Room) {
	c.mu.Lock()
	for _, room := range rooms {
		exists := false
		for _, have := range c.rooms {
			if have == room {
				exists = true
				break
			}
		}
		if !exists {
			c.rooms = append(c.rooms, room)
		}
	}
	authenticated := c.state == StateAuthenticated
	c.mu.Unlock()

	if authenticated {
		c.write(model.NewWireMessage(model.WSEventJoinRoom, model.JoinRoomPayload{Rooms: rooms}))
	}
}

// LeaveRooms unsubscribes from rooms.
func (c *WSClient) LeaveRooms(rooms []model.Room) {
	c.mu.Lock()
	kept := c.rooms[:0]
	for _, have := range c.rooms {
		drop := false
		for _, room := range rooms {
			if have == room {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, have)
		}
	}
	c.rooms = kept
	authenticated := c.state == StateAuthenticated
	c.mu.Unlock()

	if authenticated {
		c.write(model.NewWireMessage(model.WSEventLeaveRoom, model.LeaveRoomPayload{Rooms: rooms}))
	}
}

func (c *WSClient) dial() {
	c.setState(StateConnecting)

	conn, err := c.cfg.Dialer.Dial(c.cfg.URL)
	if err != nil {
		log.Printf("ws client dial failed: %v", err)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()

	c.setState(StateConnected)
	go c.readLoop(conn)
	c.authenticate()
}

func (c *WSClient) authenticate() {
	c.setState(StateAuthenticating)
	c.write(model.NewWireMessage(model.WSEventAuth, model.AuthPayload{Token: c.token}))
}

func (c *WSClient) readLoop(conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(err)
			return
		}
		var msg model.WireMessage
		if jsonErr := json.Unmarshal(raw, &msg); jsonErr != nil {
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *WSClient) handleMessage(msg model.WireMessage) {
	switch msg.Event {
	case model.WSEventAuthenticated:
		c.setState(StateAuthenticated)
		c.startHeartbeat()
		c.resubscribe()
	case model.WSEventPong:
		// heartbeat response
	case model.WSEventError:
		log.Printf("ws client server error: %s", msg.Payload)
	}

	c.mu.Lock()
	listeners := append([]func(model.WireMessage){}, c.events[msg.Event]...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

// resubscribe rejoins the room set held before the drop. The server holds no
// memberships for the fresh connection until this lands.
func (c *WSClient) resubscribe() {
	rooms := c.SubscribedRooms()
	if len(rooms) == 0 {
		return
	}
	c.write(model.NewWireMessage(model.WSEventJoinRoom, model.JoinRoomPayload{Rooms: rooms}))
}

func (c *WSClient) handleClose(err error) {
	c.stopHeartbeat()

	c.mu.Lock()
	closed := c.closed
	c.conn = nil
	c.mu.Unlock()

	// Explicit normal closure and policy violation never trigger reconnect.
	if closed || ws.IsCloseError(err, ws.CloseNormalClosure, ws.ClosePolicyViolation) {
		c.setState(StateDisconnected)
		return
	}
	c.scheduleReconnect()
}

func (c *WSClient) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.attempts >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		c.setState(StateDisconnected)
		return
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	delay := c.cfg.ReconnectBase << (attempt - 1)
	if delay > c.cfg.ReconnectMax {
		delay = c.cfg.ReconnectMax
	}
	delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))

	c.setState(StateReconnecting)
	log.Printf("ws client reconnecting in %s (attempt %d)", delay, attempt)

	time.AfterFunc(delay, func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		c.dial()
	})
}

func (c *WSClient) startHeartbeat() {
	c.stopHeartbeat()
	stop := make(chan struct{})
	c.mu.Lock()
	c.stopHB = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.write(model.NewWireMessage(model.WSEventPing, struct{}{}))
			}
		}
	}()
}

func (c *WSClient) stopHeartbeat() {
	c.mu.Lock()
	if c.stopHB != nil {
		close(c.stopHB)
		c.stopHB = nil
	}
	c.mu.Unlock()
}

func (c *WSClient) write(msg model.WireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
		log.Printf("ws client write failed: %v", err)
	}
}

func (c *WSClient) setState(state ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	listeners := append([]func(ConnectionState){}, c.states...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}
