package store

import (
	"context"
	"errors"

	"github.com/draftforge/api/internal/model"
)

// ErrNotFound is returned when an entity id or index lookup has no match.
var ErrNotFound = errors.New("entity not found")

// Artifacts is the durable store for plan/outline/content documents. Updates
// are whole-document replacements keyed by id; the single-writer-per-artifact
// invariant makes read-then-write appends to the feedback log safe.
type Artifacts interface {
	Get(ctx context.Context, id string) (*model.Artifact, error)
	FindLatestVersion(ctx context.Context, sessionID string, typ model.ArtifactType) (*model.Artifact, error)
	Create(ctx context.Context, artifact *model.Artifact) error
	Update(ctx context.Context, artifact *model.Artifact) error
}

// Sessions is the durable store for workflow sessions.
type Sessions interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Create(ctx context.Context, session *model.Session) error
	Update(ctx context.Context, session *model.Session) error
}
