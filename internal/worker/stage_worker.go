package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
	"github.com/draftforge/api/internal/websocket"
)

// stageWorker carries the collaborators every generation worker needs. Each
// stage worker fills a placeholder artifact with generated content and hands
// the draft to the critic queue.
type stageWorker struct {
	sessions  store.Sessions
	artifacts store.Artifacts
	queue     *queue.Queue
	oracle    client.Oracle
	hub       websocket.Broadcaster
	opts      queue.Options
}

// loadSession resolves the session or flags the job as non-retryable when it
// no longer exists.
func (w *stageWorker) loadSession(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := w.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, queue.Terminal(fmt.Errorf("session %s: %w", sessionID, err))
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return session, nil
}

func (w *stageWorker) loadArtifact(ctx context.Context, artifactID string) (*model.Artifact, error) {
	artifact, err := w.artifacts.Get(ctx, artifactID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, queue.Terminal(fmt.Errorf("artifact %s: %w", artifactID, err))
		}
		return nil, fmt.Errorf("load artifact %s: %w", artifactID, err)
	}
	return artifact, nil
}

// finishDraft persists the generated content into the placeholder, announces
// it to the session room, and queues the critic review.
func (w *stageWorker) finishDraft(ctx context.Context, artifact *model.Artifact, content string) error {
	artifact.Content = content
	artifact.Status = model.StatusDraft
	artifact.UpdatedAt = time.Now().UTC()
	if err := w.artifacts.Update(ctx, artifact); err != nil {
		return fmt.Errorf("persist %s draft: %w", artifact.Type, err)
	}

	room := model.Room{Type: model.RoomSession, ID: artifact.SessionID}
	_, _ = w.hub.BroadcastToRoom(room, model.NewWireMessage(
		model.StageEvent(artifact.Type, model.EventGenerated),
		model.GeneratedPayload{
			SessionID:  artifact.SessionID,
			ArtifactID: artifact.ID,
			Version:    artifact.Version,
			Status:     artifact.Status,
			CreatedAt:  artifact.CreatedAt,
		}))

	jobID, err := w.queue.Enqueue(ctx, model.QueueCriticReview, model.CriticReviewPayload{
		SessionID:    artifact.SessionID,
		ArtifactType: artifact.Type,
		ArtifactID:   artifact.ID,
	}, model.PriorityHigh, w.opts)
	if err != nil {
		return fmt.Errorf("enqueue critic review: %w", err)
	}

	_, _ = w.hub.BroadcastToRoom(room, model.NewWireMessage(model.WSEventJobCreated, model.JobEventPayload{
		JobID:     jobID,
		QueueName: model.QueueCriticReview,
		SessionID: artifact.SessionID,
	}))
	return nil
}
