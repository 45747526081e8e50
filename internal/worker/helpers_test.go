package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
)

type oracleResponse struct {
	content string
	err     error
}

// scriptedOracle replays a fixed sequence of responses and records every
// request it saw.
type scriptedOracle struct {
	mu        sync.Mutex
	responses []oracleResponse
	calls     [][]client.ChatMessage
}

func (o *scriptedOracle) Evaluate(_ context.Context, messages []client.ChatMessage, _ client.CompletionOptions) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, messages)
	if len(o.responses) == 0 {
		return "", &client.OracleError{Status: 500, Err: context.Canceled}
	}
	resp := o.responses[0]
	o.responses = o.responses[1:]
	return resp.content, resp.err
}

func (o *scriptedOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

type broadcastRecord struct {
	room model.Room
	msg  model.WireMessage
}

// recordingHub captures broadcasts for assertion.
type recordingHub struct {
	mu   sync.Mutex
	sent []broadcastRecord
}

func (h *recordingHub) BroadcastToRoom(room model.Room, msg model.WireMessage) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, broadcastRecord{room, msg})
	return 1, nil
}

func (h *recordingHub) events(name string) []model.WireMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.WireMessage
	for _, rec := range h.sent {
		if rec.msg.Event == name {
			out = append(out, rec.msg)
		}
	}
	return out
}

type fixture struct {
	client    *redis.Client
	queue     *queue.Queue
	sessions  store.Sessions
	artifacts store.Artifacts
	hub       *recordingHub
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return &fixture{
		client:    rc,
		queue:     queue.New(rc, queue.Retention{}),
		sessions:  store.NewRedisSessions(rc),
		artifacts: store.NewRedisArtifacts(rc),
		hub:       &recordingHub{},
	}
}

func (f *fixture) seedSession(t *testing.T, id string) *model.Session {
	t.Helper()
	now := time.Now().UTC()
	session := &model.Session{
		ID:               id,
		CurrentStage:     model.StagePlan,
		OutputSelections: []string{"Blog post"},
		ClarifyingAnswers: map[string]string{
			"tone":     "Casual",
			"audience": "Developers",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.sessions.Create(context.Background(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session
}

func (f *fixture) seedArtifact(t *testing.T, sessionID string, typ model.ArtifactType, content string) *model.Artifact {
	t.Helper()
	now := time.Now().UTC()
	artifact := &model.Artifact{
		ID:        string(typ) + "-" + sessionID,
		SessionID: sessionID,
		Type:      typ,
		Version:   1,
		Content:   content,
		Status:    model.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.artifacts.Create(context.Background(), artifact); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	return artifact
}

func testJob(t *testing.T, queueName string, payload any) *model.Job {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &model.Job{
		ID:          "job-1",
		QueueName:   queueName,
		Payload:     data,
		Priority:    model.PriorityNormal,
		Attempt:     1,
		MaxAttempts: 3,
		State:       model.JobStateActive,
	}
}
