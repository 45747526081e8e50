package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
	"github.com/draftforge/api/internal/websocket"
)

// ContentWorker writes the final piece from the approved outline.
type ContentWorker struct {
	stageWorker
}

func NewContentWorker(sessions store.Sessions, artifacts store.Artifacts, q *queue.Queue, oracle client.Oracle, hub websocket.Broadcaster, opts queue.Options) *ContentWorker {
	return &ContentWorker{stageWorker{
		sessions:  sessions,
		artifacts: artifacts,
		queue:     q,
		oracle:    oracle,
		hub:       hub,
		opts:      opts,
	}}
}

func (w *ContentWorker) Handle(ctx context.Context, job *model.Job) error {
	var payload model.ContentGenerationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("decode content payload: %w", err))
	}
	log.Printf("content generation job %s started for session %s", job.ID, payload.SessionID)

	session, err := w.loadSession(ctx, payload.SessionID)
	if err != nil {
		return err
	}
	artifact, err := w.loadArtifact(ctx, payload.ArtifactID)
	if err != nil {
		return err
	}
	outline, err := w.loadArtifact(ctx, payload.OutlineID)
	if err != nil {
		return err
	}

	content, err := w.oracle.Evaluate(ctx, contentMessages(session, outline.Content), client.CompletionOptions{
		Temperature: 0.7,
		MaxTokens:   8192,
	})
	if err != nil {
		return fmt.Errorf("generate content: %w", err)
	}

	return w.finishDraft(ctx, artifact, content)
}
