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

// PlanWorker generates the content plan for a session.
type PlanWorker struct {
	stageWorker
}

func NewPlanWorker(sessions store.Sessions, artifacts store.Artifacts, q *queue.Queue, oracle client.Oracle, hub websocket.Broadcaster, opts queue.Options) *PlanWorker {
	return &PlanWorker{stageWorker{
		sessions:  sessions,
		artifacts: artifacts,
		queue:     q,
		oracle:    oracle,
		hub:       hub,
		opts:      opts,
	}}
}

func (w *PlanWorker) Handle(ctx context.Context, job *model.Job) error {
	var payload model.PlanGenerationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("decode plan payload: %w", err))
	}
	log.Printf("plan generation job %s started for session %s", job.ID, payload.SessionID)

	session, err := w.loadSession(ctx, payload.SessionID)
	if err != nil {
		return err
	}
	artifact, err := w.loadArtifact(ctx, payload.ArtifactID)
	if err != nil {
		return err
	}

	content, err := w.oracle.Evaluate(ctx, planMessages(session), client.CompletionOptions{
		Temperature: 0.7,
		MaxTokens:   4096,
	})
	if err != nil {
		return fmt.Errorf("generate plan: %w", err)
	}

	return w.finishDraft(ctx, artifact, content)
}
