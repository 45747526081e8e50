package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
	"github.com/draftforge/api/internal/websocket"
)

// maxCriticIterations bounds the review loop. An artifact still rejected at
// the last iteration is accepted as-is rather than looping forever; the
// feedback log keeps the critic's dissent on record.
const maxCriticIterations = 5

// criticVerdict is the JSON shape the critic responds with. The approved
// flag is authoritative; the score is advisory context for the user.
type criticVerdict struct {
	Approved    bool     `json:"approved"`
	Score       int      `json:"score"`
	Objections  []string `json:"objections"`
	Suggestions []string `json:"suggestions"`
	Summary     string   `json:"summary"`
}

// CriticWorker runs the review loop for one artifact: critique, and on
// rejection revise and critique again, up to maxCriticIterations times.
type CriticWorker struct {
	sessions  store.Sessions
	artifacts store.Artifacts
	oracle    client.Oracle
	hub       websocket.Broadcaster
}

func NewCriticWorker(sessions store.Sessions, artifacts store.Artifacts, oracle client.Oracle, hub websocket.Broadcaster) *CriticWorker {
	return &CriticWorker{
		sessions:  sessions,
		artifacts: artifacts,
		oracle:    oracle,
		hub:       hub,
	}
}

func (w *CriticWorker) Handle(ctx context.Context, job *model.Job) error {
	var payload model.CriticReviewPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Terminal(fmt.Errorf("decode critic payload: %w", err))
	}
	log.Printf("critic review job %s started for %s %s", job.ID, payload.ArtifactType, payload.ArtifactID)

	session, err := w.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return queue.Terminal(fmt.Errorf("session %s: %w", payload.SessionID, err))
		}
		return fmt.Errorf("load session %s: %w", payload.SessionID, err)
	}
	artifact, err := w.artifacts.Get(ctx, payload.ArtifactID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return queue.Terminal(fmt.Errorf("artifact %s: %w", payload.ArtifactID, err))
		}
		return fmt.Errorf("load artifact %s: %w", payload.ArtifactID, err)
	}

	// Re-delivery after a crash or retry must not re-review a settled
	// artifact.
	if artifact.Status == model.StatusCriticApproved || artifact.Status == model.StatusUserApproved {
		return nil
	}

	room := model.Room{Type: model.RoomSession, ID: payload.SessionID}
	sessionContext := session.PromptContext()

	// A retried job resumes after the last persisted iteration instead of
	// starting over; each iteration's feedback is persisted before the next
	// oracle call.
	for iteration := artifact.CriticIterations + 1; iteration <= maxCriticIterations; iteration++ {
		_, _ = w.hub.BroadcastToRoom(room, model.NewWireMessage(
			model.StageEvent(payload.ArtifactType, model.EventCriticStarted),
			model.CriticStartedPayload{
				SessionID:  payload.SessionID,
				ArtifactID: payload.ArtifactID,
				Iteration:  iteration,
				Progress:   float64(iteration) / maxCriticIterations,
			}))

		var verdict criticVerdict
		err := client.EvaluateJSON(ctx, w.oracle,
			criticMessages(payload.ArtifactType, artifact.Content, sessionContext),
			client.CompletionOptions{Temperature: 0.3, MaxTokens: 2048},
			&verdict)
		if err != nil {
			return fmt.Errorf("critique %s iteration %d: %w", payload.ArtifactType, iteration, err)
		}

		entry := model.CriticFeedback{
			Iteration:   iteration,
			Approved:    verdict.Approved,
			Score:       verdict.Score,
			Objections:  verdict.Objections,
			Suggestions: verdict.Suggestions,
			Summary:     verdict.Summary,
			Timestamp:   time.Now().UTC(),
		}
		artifact.CriticIterations = iteration
		artifact.CriticFeedback = append(artifact.CriticFeedback, entry)

		if verdict.Approved || iteration == maxCriticIterations {
			artifact.Status = model.StatusCriticApproved
			artifact.UpdatedAt = time.Now().UTC()
			if err := w.artifacts.Update(ctx, artifact); err != nil {
				return fmt.Errorf("persist approved %s: %w", payload.ArtifactType, err)
			}

			_, _ = w.hub.BroadcastToRoom(room, model.NewWireMessage(
				model.StageEvent(payload.ArtifactType, model.EventCriticComplete),
				model.CriticCompletePayload{
					SessionID:  payload.SessionID,
					ArtifactID: payload.ArtifactID,
					Approved:   verdict.Approved,
					Iteration:  iteration,
					Status:     artifact.Status,
				}))

			if verdict.Approved {
				log.Printf("critic approved %s %s at iteration %d", payload.ArtifactType, payload.ArtifactID, iteration)
			} else {
				log.Printf("critic iteration cap reached for %s %s, accepting as-is", payload.ArtifactType, payload.ArtifactID)
			}
			return nil
		}

		log.Printf("critic rejected %s %s at iteration %d (score %d), revising",
			payload.ArtifactType, payload.ArtifactID, iteration, verdict.Score)

		revised, err := w.revise(ctx, payload.ArtifactType, artifact.Content, sessionContext, entry)
		if err != nil {
			// Keep the feedback already gathered so a retry resumes here.
			artifact.Status = model.StatusCriticReviewing
			artifact.UpdatedAt = time.Now().UTC()
			if uerr := w.artifacts.Update(ctx, artifact); uerr != nil {
				log.Printf("persist feedback for %s before retry: %v", payload.ArtifactID, uerr)
			}
			return fmt.Errorf("revise %s iteration %d: %w", payload.ArtifactType, iteration, err)
		}

		artifact.Content = revised
		artifact.Status = model.StatusCriticReviewing
		artifact.UpdatedAt = time.Now().UTC()
		if err := w.artifacts.Update(ctx, artifact); err != nil {
			return fmt.Errorf("persist revised %s: %w", payload.ArtifactType, err)
		}
	}
	return nil
}

// revise asks the oracle for a full rewrite addressing the feedback. Final
// content is revised as free text; plan and outline revisions come back as
// structured JSON, so an undecodable response fails the attempt.
func (w *CriticWorker) revise(ctx context.Context, typ model.ArtifactType, content, sessionContext string, feedback model.CriticFeedback) (string, error) {
	msgs := revisionMessages(typ, content, sessionContext, feedback)
	if typ == model.ArtifactContent {
		return w.oracle.Evaluate(ctx, msgs, client.CompletionOptions{Temperature: 0.5, MaxTokens: 8192})
	}
	out, err := w.oracle.Evaluate(ctx, msgs, client.CompletionOptions{Temperature: 0.5, MaxTokens: 4096, JSONMode: true})
	if err != nil {
		return "", err
	}
	var raw json.RawMessage
	if err := client.DecodeJSON(out, &raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
