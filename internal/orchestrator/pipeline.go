package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
	"github.com/draftforge/api/internal/websocket"
)

var (
	// ErrGenerationInFlight means the session already has a draft of this
	// type moving through generation or critic review.
	ErrGenerationInFlight = errors.New("generation already in flight")

	// ErrWrongStage means the session is not at the workflow stage this
	// operation belongs to.
	ErrWrongStage = errors.New("operation not valid for current stage")

	// ErrParentNotReady means the upstream artifact this stage builds on is
	// missing or not yet approved.
	ErrParentNotReady = errors.New("upstream artifact not approved")

	// ErrNotApproved means the artifact has not passed critic review.
	ErrNotApproved = errors.New("artifact not critic-approved")

	// ErrAtBoundary means the stage cannot move further in that direction.
	ErrAtBoundary = errors.New("no stage in that direction")
)

var stageForType = map[model.ArtifactType]model.SessionStage{
	model.ArtifactPlan:    model.StagePlan,
	model.ArtifactOutline: model.StageOutline,
	model.ArtifactContent: model.StageGeneration,
}

var queueForType = map[model.ArtifactType]string{
	model.ArtifactPlan:    model.QueuePlanGeneration,
	model.ArtifactOutline: model.QueueOutlineGeneration,
	model.ArtifactContent: model.QueueContentGeneration,
}

// parentForType names the artifact a stage builds on. Plans have none.
var parentForType = map[model.ArtifactType]model.ArtifactType{
	model.ArtifactOutline: model.ArtifactPlan,
	model.ArtifactContent: model.ArtifactOutline,
}

// Pipeline coordinates the session workflow: stage transitions, generation
// kickoff with its one-draft-per-type invariant, user approval, and source
// ingestion.
type Pipeline struct {
	sessions  store.Sessions
	artifacts store.Artifacts
	queue     *queue.Queue
	hub       websocket.Broadcaster
	opts      queue.Options
}

func New(sessions store.Sessions, artifacts store.Artifacts, q *queue.Queue, hub websocket.Broadcaster, opts queue.Options) *Pipeline {
	return &Pipeline{
		sessions:  sessions,
		artifacts: artifacts,
		queue:     q,
		hub:       hub,
		opts:      opts,
	}
}

// CreateSession starts a new workflow session at the first stage.
func (p *Pipeline) CreateSession(ctx context.Context) (*model.Session, error) {
	now := time.Now().UTC()
	session := &model.Session{
		ID:                uuid.New().String(),
		CurrentStage:      model.StageOrder[0],
		ClarifyingAnswers: make(map[string]string),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := p.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Printf("session %s created", session.ID)
	return session, nil
}

// StartGeneration creates a placeholder artifact and queues the generation
// job for it. At most one draft per session and type may be in flight; a
// regeneration of an already approved artifact starts a new version.
func (p *Pipeline) StartGeneration(ctx context.Context, sessionID string, typ model.ArtifactType, priority model.Priority) (*model.Artifact, string, error) {
	stage, ok := stageForType[typ]
	if !ok {
		return nil, "", fmt.Errorf("unknown artifact type %q", typ)
	}

	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if session.CurrentStage != stage {
		return nil, "", fmt.Errorf("%w: session at %s, %s generation needs %s",
			ErrWrongStage, session.CurrentStage, typ, stage)
	}

	var parent *model.Artifact
	if parentType, needsParent := parentForType[typ]; needsParent {
		parent, err = p.artifacts.FindLatestVersion(ctx, sessionID, parentType)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, "", fmt.Errorf("%w: no %s exists", ErrParentNotReady, parentType)
			}
			return nil, "", err
		}
		if parent.Status != model.StatusUserApproved {
			return nil, "", fmt.Errorf("%w: %s %s is %s", ErrParentNotReady, parentType, parent.ID, parent.Status)
		}
	}

	version := 1
	latest, err := p.artifacts.FindLatestVersion(ctx, sessionID, typ)
	switch {
	case err == nil:
		if latest.Status.InFlight() {
			return nil, "", fmt.Errorf("%w: %s %s is %s", ErrGenerationInFlight, typ, latest.ID, latest.Status)
		}
		version = latest.Version + 1
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, "", err
	}

	now := time.Now().UTC()
	placeholder := &model.Artifact{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      typ,
		Version:   version,
		Status:    model.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if parent != nil {
		placeholder.ParentArtifactID = parent.ID
	}
	if err := p.artifacts.Create(ctx, placeholder); err != nil {
		return nil, "", fmt.Errorf("create placeholder: %w", err)
	}

	jobID, err := p.queue.Enqueue(ctx, queueForType[typ], p.payloadFor(typ, sessionID, placeholder, parent), priority, p.opts)
	if err != nil {
		return nil, "", fmt.Errorf("enqueue %s generation: %w", typ, err)
	}

	room := model.Room{Type: model.RoomSession, ID: sessionID}
	_, _ = p.hub.BroadcastToRoom(room, model.NewWireMessage(model.WSEventJobCreated, model.JobEventPayload{
		JobID:     jobID,
		QueueName: queueForType[typ],
		SessionID: sessionID,
	}))

	log.Printf("queued %s generation for session %s (artifact %s v%d, job %s)",
		typ, sessionID, placeholder.ID, version, jobID)
	return placeholder, jobID, nil
}

func (p *Pipeline) payloadFor(typ model.ArtifactType, sessionID string, placeholder, parent *model.Artifact) any {
	switch typ {
	case model.ArtifactOutline:
		return model.OutlineGenerationPayload{
			SessionID:  sessionID,
			ArtifactID: placeholder.ID,
			PlanID:     parent.ID,
		}
	case model.ArtifactContent:
		return model.ContentGenerationPayload{
			SessionID:  sessionID,
			ArtifactID: placeholder.ID,
			OutlineID:  parent.ID,
		}
	default:
		return model.PlanGenerationPayload{
			SessionID:  sessionID,
			ArtifactID: placeholder.ID,
		}
	}
}

// Approve records the user's sign-off on a critic-approved artifact and
// advances the session to the next stage.
func (p *Pipeline) Approve(ctx context.Context, sessionID, artifactID string) (*model.Artifact, error) {
	artifact, err := p.artifacts.Get(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if artifact.SessionID != sessionID {
		return nil, fmt.Errorf("artifact %s does not belong to session %s: %w", artifactID, sessionID, store.ErrNotFound)
	}
	if artifact.Status != model.StatusCriticApproved {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotApproved, artifactID, artifact.Status)
	}

	artifact.Status = model.StatusUserApproved
	artifact.UpdatedAt = time.Now().UTC()
	if err := p.artifacts.Update(ctx, artifact); err != nil {
		return nil, fmt.Errorf("persist approval: %w", err)
	}

	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CurrentStage == stageForType[artifact.Type] {
		if _, err := p.advance(ctx, session); err != nil && !errors.Is(err, ErrAtBoundary) {
			return nil, err
		}
	}
	return artifact, nil
}

// AdvanceStage moves the session forward one stage.
func (p *Pipeline) AdvanceStage(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return p.advance(ctx, session)
}

// RetreatStage moves the session back exactly one stage.
func (p *Pipeline) RetreatStage(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prev := model.PreviousStage(session.CurrentStage)
	if prev == "" {
		return nil, fmt.Errorf("%w: already at %s", ErrAtBoundary, session.CurrentStage)
	}
	return p.transition(ctx, session, prev)
}

func (p *Pipeline) advance(ctx context.Context, session *model.Session) (*model.Session, error) {
	next := model.NextStage(session.CurrentStage)
	if next == "" {
		return nil, fmt.Errorf("%w: already at %s", ErrAtBoundary, session.CurrentStage)
	}
	return p.transition(ctx, session, next)
}

func (p *Pipeline) transition(ctx context.Context, session *model.Session, to model.SessionStage) (*model.Session, error) {
	from := session.CurrentStage
	session.CurrentStage = to
	session.UpdatedAt = time.Now().UTC()
	if err := p.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("persist stage change: %w", err)
	}

	room := model.Room{Type: model.RoomSession, ID: session.ID}
	_, _ = p.hub.BroadcastToRoom(room, model.NewWireMessage(model.WSEventSessionStageChanged, model.StageChangedPayload{
		SessionID:     session.ID,
		PreviousStage: from,
		CurrentStage:  to,
		UpdatedAt:     session.UpdatedAt,
	}))
	log.Printf("session %s moved %s -> %s", session.ID, from, to)
	return session, nil
}

// AddSource attaches a reference document to the session and queues its
// ingestion.
func (p *Pipeline) AddSource(ctx context.Context, sessionID, title, sourceType, url string) (*model.Source, string, error) {
	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}

	source := model.Source{
		ID:    uuid.New().String(),
		Title: title,
		Type:  sourceType,
		URL:   url,
	}
	session.Sources = append(session.Sources, source)
	session.UpdatedAt = time.Now().UTC()
	if err := p.sessions.Update(ctx, session); err != nil {
		return nil, "", fmt.Errorf("persist source: %w", err)
	}

	jobID, err := p.queue.Enqueue(ctx, model.QueueSourceIngestion, model.SourceIngestionPayload{
		SessionID: sessionID,
		SourceID:  source.ID,
		URL:       url,
	}, model.PriorityLow, p.opts)
	if err != nil {
		return nil, "", fmt.Errorf("enqueue source ingestion: %w", err)
	}

	room := model.Room{Type: model.RoomSession, ID: sessionID}
	_, _ = p.hub.BroadcastToRoom(room, model.NewWireMessage(model.WSEventJobCreated, model.JobEventPayload{
		JobID:     jobID,
		QueueName: model.QueueSourceIngestion,
		SessionID: sessionID,
	}))
	return &source, jobID, nil
}
