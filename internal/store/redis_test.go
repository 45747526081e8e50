package store

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/draftforge/api/internal/model"
)

func setupClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestArtifactLatestVersion(t *testing.T) {
	ctx := context.Background()
	artifacts := NewRedisArtifacts(setupClient(t))

	for v := 1; v <= 3; v++ {
		err := artifacts.Create(ctx, &model.Artifact{
			SessionID: "s1",
			Type:      model.ArtifactPlan,
			Version:   v,
			Content:   "plan",
			Status:    model.StatusCriticApproved,
		})
		if err != nil {
			t.Fatalf("create v%d: %v", v, err)
		}
	}

	latest, err := artifacts.FindLatestVersion(ctx, "s1", model.ArtifactPlan)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 3 {
		t.Fatalf("latest version = %d, want 3", latest.Version)
	}

	// Same session, different type, stays independent.
	if _, err := artifacts.FindLatestVersion(ctx, "s1", model.ArtifactOutline); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for outline, got %v", err)
	}
}

func TestArtifactUpdateReplacesDocument(t *testing.T) {
	ctx := context.Background()
	artifacts := NewRedisArtifacts(setupClient(t))

	a := &model.Artifact{SessionID: "s1", Type: model.ArtifactContent, Version: 1, Status: model.StatusDraft}
	if err := artifacts.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	a.Content = "revised"
	a.Status = model.StatusCriticReviewing
	a.CriticFeedback = append(a.CriticFeedback, model.CriticFeedback{Iteration: 1, Score: 5})
	if err := artifacts.Update(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := artifacts.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "revised" || got.Status != model.StatusCriticReviewing {
		t.Fatalf("update not persisted: %+v", got)
	}
	if len(got.CriticFeedback) != 1 {
		t.Fatalf("feedback log length = %d, want 1", len(got.CriticFeedback))
	}
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	sessions := NewRedisSessions(setupClient(t))

	s := &model.Session{
		CurrentStage:      model.StagePlan,
		OutputSelections:  []string{"blog_post"},
		ClarifyingAnswers: map[string]string{"tone": "casual"},
	}
	if err := sessions.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := sessions.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentStage != model.StagePlan || got.ClarifyingAnswers["tone"] != "casual" {
		t.Fatalf("session round trip mismatch: %+v", got)
	}

	if _, err := sessions.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
