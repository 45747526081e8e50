package websocket

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"github.com/draftforge/api/internal/model"
)

func testVerifier(token string) (string, error) {
	if token == "good" {
		return "user-1", nil
	}
	return "", fmt.Errorf("bad token")
}

func addClient(t *testing.T, h *Hub) *Client {
	t.Helper()
	client := &Client{
		ID:    uuid.New().String(),
		Send:  make(chan []byte, 16),
		rooms: make(map[string]struct{}),
	}
	h.Register(client)
	return client
}

func recvEvent(t *testing.T, client *Client) model.WireMessage {
	t.Helper()
	select {
	case raw := <-client.Send:
		var msg model.WireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return model.WireMessage{}
	}
}

type hubFrame struct {
	messageType int
	data        []byte
}

// hubConn fakes a server-side connection and flags any two goroutines
// writing at the same time, which the underlying websocket Conn forbids.
type hubConn struct {
	inbound chan []byte
	frames  chan hubFrame
	writers int32
	overlap int32
	once    sync.Once
	done    chan struct{}
}

func newHubConn() *hubConn {
	return &hubConn{
		inbound: make(chan []byte, 8),
		frames:  make(chan hubFrame, 8),
		done:    make(chan struct{}),
	}
}

func (c *hubConn) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-c.inbound:
		return ws.TextMessage, raw, nil
	case <-c.done:
		return 0, nil, &ws.CloseError{Code: ws.CloseAbnormalClosure}
	}
}

func (c *hubConn) WriteMessage(messageType int, data []byte) error {
	if atomic.AddInt32(&c.writers, 1) > 1 {
		atomic.StoreInt32(&c.overlap, 1)
	}
	time.Sleep(time.Millisecond)
	c.frames <- hubFrame{messageType: messageType, data: data}
	atomic.AddInt32(&c.writers, -1)
	return nil
}

func (c *hubConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func TestJoinRequiresAuthentication(t *testing.T) {
	h := NewHub(testVerifier)
	client := addClient(t, h)

	err := h.Join(client.ID, []model.Room{{Type: model.RoomSession, ID: "A"}})
	if err == nil {
		t.Fatal("unauthenticated join was honored")
	}

	if _, err := h.Authenticate(client.ID, "good"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := h.Join(client.ID, []model.Room{{Type: model.RoomSession, ID: "A"}}); err != nil {
		t.Fatalf("join after auth: %v", err)
	}
}

// TestFailedAuthClosesViaWriterPump covers the full connection lifecycle on
// a bad credential: the error frame and the policy-violation close must both
// come out of the single writer goroutine, never the read loop.
func TestFailedAuthClosesViaWriterPump(t *testing.T) {
	h := NewHub(testVerifier)
	conn := newHubConn()

	frame, err := json.Marshal(model.NewWireMessage(model.WSEventAuth, model.AuthPayload{Token: "bad"}))
	if err != nil {
		t.Fatalf("marshal auth frame: %v", err)
	}
	conn.inbound <- frame

	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		h.HandleConnection(conn)
	}()

	var got []hubFrame
	for {
		select {
		case f := <-conn.frames:
			got = append(got, f)
		case <-time.After(time.Second):
			t.Fatal("connection never closed")
		}
		if got[len(got)-1].messageType == ws.CloseMessage {
			break
		}
	}

	select {
	case <-handlerDone:
	case <-time.After(time.Second):
		t.Fatal("handler did not return")
	}

	if atomic.LoadInt32(&conn.overlap) != 0 {
		t.Fatal("two goroutines wrote to the connection concurrently")
	}
	if len(got) != 2 {
		t.Fatalf("frames written = %d, want error frame then close", len(got))
	}
	var errMsg model.WireMessage
	if err := json.Unmarshal(got[0].data, &errMsg); err != nil || errMsg.Event != model.WSEventError {
		t.Fatalf("first frame = %s, want %s", got[0].data, model.WSEventError)
	}
	closeFrame := got[1]
	if len(closeFrame.data) < 2 {
		t.Fatalf("close frame carries no status code: %v", closeFrame.data)
	}
	if code := binary.BigEndian.Uint16(closeFrame.data); code != ws.ClosePolicyViolation {
		t.Fatalf("close code = %d, want %d", code, ws.ClosePolicyViolation)
	}
}

func TestBroadcastFanOut(t *testing.T) {
	h := NewHub(testVerifier)
	roomA := model.Room{Type: model.RoomSession, ID: "A"}
	roomB := model.Room{Type: model.RoomSession, ID: "B"}

	inA1 := addClient(t, h)
	inA2 := addClient(t, h)
	inB := addClient(t, h)
	for _, c := range []*Client{inA1, inA2, inB} {
		if _, err := h.Authenticate(c.ID, "good"); err != nil {
			t.Fatalf("authenticate: %v", err)
		}
	}
	h.Join(inA1.ID, []model.Room{roomA})
	h.Join(inA2.ID, []model.Room{roomA})
	h.Join(inB.ID, []model.Room{roomB})

	sent, err := h.BroadcastToRoom(roomA, model.NewWireMessage("plan:generated", map[string]string{"planId": "p1"}))
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if sent != 2 {
		t.Fatalf("delivered to %d connections, want 2", sent)
	}

	for _, c := range []*Client{inA1, inA2} {
		msg := recvEvent(t, c)
		if msg.Event != "plan:generated" {
			t.Fatalf("event = %s", msg.Event)
		}
	}

	select {
	case raw := <-inB.Send:
		t.Fatalf("room B client received stray frame: %s", raw)
	default:
	}
}

func TestUnregisterTearsDownRooms(t *testing.T) {
	h := NewHub(testVerifier)
	room := model.Room{Type: model.RoomSession, ID: "A"}

	client := addClient(t, h)
	h.Authenticate(client.ID, "good")
	h.Join(client.ID, []model.Room{room})

	h.Unregister(client.ID)

	sent, _ := h.BroadcastToRoom(room, model.NewWireMessage("plan:generated", struct{}{}))
	if sent != 0 {
		t.Fatalf("broadcast reached %d closed connections", sent)
	}
	if rooms := h.Rooms(client.ID); rooms != nil {
		t.Fatalf("rooms survive unregister: %v", rooms)
	}
}

func TestLeaveRoom(t *testing.T) {
	h := NewHub(testVerifier)
	roomA := model.Room{Type: model.RoomSession, ID: "A"}
	roomB := model.Room{Type: model.RoomSession, ID: "B"}

	client := addClient(t, h)
	h.Authenticate(client.ID, "good")
	h.Join(client.ID, []model.Room{roomA, roomB})
	if err := h.Leave(client.ID, []model.Room{roomA}); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if sent, _ := h.BroadcastToRoom(roomA, model.NewWireMessage("x", struct{}{})); sent != 0 {
		t.Fatal("client still in left room")
	}
	if sent, _ := h.BroadcastToRoom(roomB, model.NewWireMessage("x", struct{}{})); sent != 1 {
		t.Fatal("client lost room it did not leave")
	}
}
