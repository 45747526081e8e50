package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
	"github.com/draftforge/api/internal/websocket"
)

// maxSourceBytes caps how much of a fetched document is kept as parsed
// content.
const maxSourceBytes = 1 << 20

// SourceWorker fetches a reference document and attaches its content to the
// session so later plan generation can draw on it.
type SourceWorker struct {
	sessions   store.Sessions
	httpClient *http.Client
	hub        websocket.Broadcaster
}

func NewSourceWorker(sessions store.Sessions, hub websocket.Broadcaster) *SourceWorker {
	return &SourceWorker{
		sessions:   sessions,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		hub:        hub,
	}
}

func (w *SourceWorker) Handle(ctx context.Context, job *model.Job) error {
	var payload model.SourceIngestionPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("decode source payload: %w", err))
	}
	log.Printf("source ingestion job %s started for source %s", job.ID, payload.SourceID)

	session, err := w.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return queue.Terminal(fmt.Errorf("session %s: %w", payload.SessionID, err))
		}
		return fmt.Errorf("load session %s: %w", payload.SessionID, err)
	}

	idx := -1
	for i := range session.Sources {
		if session.Sources[i].ID == payload.SourceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return queue.Terminal(fmt.Errorf("source %s not attached to session %s", payload.SourceID, payload.SessionID))
	}

	content, err := w.fetch(ctx, payload.URL)
	if err != nil {
		return fmt.Errorf("fetch source %s: %w", payload.SourceID, err)
	}

	now := time.Now().UTC()
	session.Sources[idx].ParsedContent = content
	session.Sources[idx].IngestedAt = now
	session.UpdatedAt = now
	if err := w.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("persist session %s: %w", payload.SessionID, err)
	}

	room := model.Room{Type: model.RoomSession, ID: payload.SessionID}
	_, _ = w.hub.BroadcastToRoom(room, model.NewWireMessage(model.WSEventSourceIngested, model.SourceIngestedPayload{
		SessionID: payload.SessionID,
		SourceID:  payload.SourceID,
		Title:     session.Sources[idx].Title,
	}))
	return nil
}

func (w *SourceWorker) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", queue.Terminal(fmt.Errorf("build request: %w", err))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Client errors will not heal on retry; server errors might.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", queue.Terminal(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
