package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// WebSocket event names. Stage events follow the <artifact>:<event> pattern.
const (
	WSEventAuth          = "auth"
	WSEventAuthenticated = "authenticated"
	WSEventError         = "error"
	WSEventPing          = "ping"
	WSEventPong          = "pong"

	WSEventJoinRoom    = "join_room"
	WSEventLeaveRoom   = "leave_room"
	WSEventRoomsJoined = "rooms_joined"
	WSEventRoomsLeft   = "rooms_left"

	WSEventSessionStageChanged = "session:stage_changed"
	WSEventSourceIngested      = "source:ingested"

	WSEventJobCreated   = "job:created"
	WSEventJobStarted   = "job:started"
	WSEventJobCompleted = "job:completed"
	WSEventJobFailed    = "job:failed"
)

// StageEvent builds an artifact-scoped event name, e.g. "plan:critic_started".
func StageEvent(artifactType ArtifactType, event string) string {
	return string(artifactType) + ":" + event
}

const (
	EventGenerated      = "generated"
	EventCriticStarted  = "critic_started"
	EventCriticComplete = "critic_complete"
)

// RoomType scopes a broadcast room.
type RoomType string

const (
	RoomUser    RoomType = "user"
	RoomSession RoomType = "session"
)

// Room identifies a broadcast room.
type Room struct {
	Type RoomType `json:"type"`
	ID   string   `json:"id"`
}

// Key is the canonical map key for a room, e.g. "session:abc".
func (r Room) Key() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// WireMessage is the framing for every message on the socket, both
// directions.
type WireMessage struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewWireMessage marshals the payload into a timestamped frame. Marshal
// errors surface as an error payload rather than a dropped frame.
func NewWireMessage(event string, payload any) WireMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return WireMessage{Event: event, Payload: data, Timestamp: time.Now().UTC()}
}

// Client-to-server payloads

type AuthPayload struct {
	Token string `json:"token"`
}

type JoinRoomPayload struct {
	Rooms []Room `json:"rooms"`
}

type LeaveRoomPayload struct {
	Rooms []Room `json:"rooms"`
}

// Server-to-client payloads

type AuthenticatedPayload struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

type RoomsChangedPayload struct {
	Rooms []Room `json:"rooms"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type StageChangedPayload struct {
	SessionID     string       `json:"sessionId"`
	PreviousStage SessionStage `json:"previousStage"`
	CurrentStage  SessionStage `json:"currentStage"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

type GeneratedPayload struct {
	SessionID  string         `json:"sessionId"`
	ArtifactID string         `json:"artifactId"`
	Version    int            `json:"version"`
	Status     ArtifactStatus `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type CriticStartedPayload struct {
	SessionID  string  `json:"sessionId"`
	ArtifactID string  `json:"artifactId"`
	Iteration  int     `json:"iteration"`
	Progress   float64 `json:"progress"`
}

type CriticCompletePayload struct {
	SessionID  string         `json:"sessionId"`
	ArtifactID string         `json:"artifactId"`
	Approved   bool           `json:"approved"`
	Iteration  int            `json:"iteration"`
	Status     ArtifactStatus `json:"status"`
}

type SourceIngestedPayload struct {
	SessionID string `json:"sessionId"`
	SourceID  string `json:"sourceId"`
	Title     string `json:"title"`
}

type JobEventPayload struct {
	JobID     string `json:"jobId"`
	QueueName string `json:"queueName"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}
