package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
)

func rejection(score int) oracleResponse {
	return oracleResponse{content: `{"approved":false,"score":` + strconv.Itoa(score) + `,"objections":["too thin"],"suggestions":["add detail"],"summary":"needs work"}`}
}

func approval(score int) oracleResponse {
	return oracleResponse{content: `{"approved":true,"score":` + strconv.Itoa(score) + `,"objections":[],"suggestions":[],"summary":"ready"}`}
}

func TestCriticLoopApprovesAfterRevisions(t *testing.T) {
	f := setupFixture(t)
	session := f.seedSession(t, "s1")
	artifact := f.seedArtifact(t, session.ID, model.ArtifactPlan, "draft v1")

	oracle := &scriptedOracle{responses: []oracleResponse{
		rejection(4),
		{content: `{"plan":"draft v2"}`},
		rejection(6),
		{content: `{"plan":"draft v3"}`},
		approval(8),
	}}
	w := NewCriticWorker(f.sessions, f.artifacts, oracle, f.hub)

	job := testJob(t, model.QueueCriticReview, model.CriticReviewPayload{
		SessionID:    session.ID,
		ArtifactType: model.ArtifactPlan,
		ArtifactID:   artifact.ID,
	})
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := f.artifacts.Get(context.Background(), artifact.ID)
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if got.Status != model.StatusCriticApproved {
		t.Fatalf("status = %s, want %s", got.Status, model.StatusCriticApproved)
	}
	if got.CriticIterations != 3 {
		t.Fatalf("iterations = %d, want 3", got.CriticIterations)
	}
	if len(got.CriticFeedback) != 3 {
		t.Fatalf("feedback entries = %d, want 3", len(got.CriticFeedback))
	}
	if got.Content != `{"plan":"draft v3"}` {
		t.Fatalf("content = %q, want final revision", got.Content)
	}
	for i, fb := range got.CriticFeedback {
		if fb.Iteration != i+1 {
			t.Fatalf("feedback[%d].Iteration = %d", i, fb.Iteration)
		}
	}
	if !got.CriticFeedback[2].Approved {
		t.Fatal("final feedback entry not approved")
	}

	started := f.hub.events("plan:critic_started")
	if len(started) != 3 {
		t.Fatalf("critic_started events = %d, want 3", len(started))
	}
	completes := f.hub.events("plan:critic_complete")
	if len(completes) != 1 {
		t.Fatalf("critic_complete events = %d, want 1", len(completes))
	}
	var complete model.CriticCompletePayload
	if err := json.Unmarshal(completes[0].Payload, &complete); err != nil {
		t.Fatalf("decode complete payload: %v", err)
	}
	if !complete.Approved || complete.Iteration != 3 || complete.Status != model.StatusCriticApproved {
		t.Fatalf("complete payload = %+v", complete)
	}
}

func TestCriticLoopAcceptsAtIterationCap(t *testing.T) {
	f := setupFixture(t)
	session := f.seedSession(t, "s2")
	artifact := f.seedArtifact(t, session.ID, model.ArtifactOutline, "draft v1")

	// 5 rejections, 4 revisions in between; the 5th rejection forces
	// acceptance.
	oracle := &scriptedOracle{responses: []oracleResponse{
		rejection(3), {content: `{"outline":"v2"}`},
		rejection(3), {content: `{"outline":"v3"}`},
		rejection(4), {content: `{"outline":"v4"}`},
		rejection(5), {content: `{"outline":"v5"}`},
		rejection(5),
	}}
	w := NewCriticWorker(f.sessions, f.artifacts, oracle, f.hub)

	job := testJob(t, model.QueueCriticReview, model.CriticReviewPayload{
		SessionID:    session.ID,
		ArtifactType: model.ArtifactOutline,
		ArtifactID:   artifact.ID,
	})
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := f.artifacts.Get(context.Background(), artifact.ID)
	if got.Status != model.StatusCriticApproved {
		t.Fatalf("status = %s, want forced approval", got.Status)
	}
	if got.CriticIterations != maxCriticIterations {
		t.Fatalf("iterations = %d, want %d", got.CriticIterations, maxCriticIterations)
	}
	if got.Content != `{"outline":"v5"}` {
		t.Fatalf("content = %q, want last revision", got.Content)
	}
	if oracle.callCount() != 9 {
		t.Fatalf("oracle calls = %d, want 9", oracle.callCount())
	}

	completes := f.hub.events("outline:critic_complete")
	if len(completes) != 1 {
		t.Fatalf("critic_complete events = %d, want 1", len(completes))
	}
	var complete model.CriticCompletePayload
	json.Unmarshal(completes[0].Payload, &complete)
	if complete.Approved {
		t.Fatal("forced acceptance must report approved=false")
	}
	if complete.Status != model.StatusCriticApproved {
		t.Fatalf("complete status = %s", complete.Status)
	}
}

func TestCriticResumesAfterPersistedIterations(t *testing.T) {
	f := setupFixture(t)
	session := f.seedSession(t, "s3")
	artifact := f.seedArtifact(t, session.ID, model.ArtifactPlan, "draft v3")
	artifact.CriticIterations = 2
	artifact.Status = model.StatusCriticReviewing
	artifact.CriticFeedback = []model.CriticFeedback{
		{Iteration: 1, Approved: false, Score: 4},
		{Iteration: 2, Approved: false, Score: 5},
	}
	if err := f.artifacts.Update(context.Background(), artifact); err != nil {
		t.Fatalf("update artifact: %v", err)
	}

	oracle := &scriptedOracle{responses: []oracleResponse{approval(9)}}
	w := NewCriticWorker(f.sessions, f.artifacts, oracle, f.hub)

	job := testJob(t, model.QueueCriticReview, model.CriticReviewPayload{
		SessionID:    session.ID,
		ArtifactType: model.ArtifactPlan,
		ArtifactID:   artifact.ID,
	})
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	started := f.hub.events("plan:critic_started")
	if len(started) != 1 {
		t.Fatalf("critic_started events = %d, want 1", len(started))
	}
	var payload model.CriticStartedPayload
	json.Unmarshal(started[0].Payload, &payload)
	if payload.Iteration != 3 {
		t.Fatalf("resumed at iteration %d, want 3", payload.Iteration)
	}

	got, _ := f.artifacts.Get(context.Background(), artifact.ID)
	if got.CriticIterations != 3 || len(got.CriticFeedback) != 3 {
		t.Fatalf("iterations = %d, feedback = %d", got.CriticIterations, len(got.CriticFeedback))
	}
}

func TestCriticSettledArtifactIsNoOp(t *testing.T) {
	f := setupFixture(t)
	session := f.seedSession(t, "s4")
	artifact := f.seedArtifact(t, session.ID, model.ArtifactPlan, "done")
	artifact.Status = model.StatusCriticApproved
	if err := f.artifacts.Update(context.Background(), artifact); err != nil {
		t.Fatalf("update artifact: %v", err)
	}

	oracle := &scriptedOracle{}
	w := NewCriticWorker(f.sessions, f.artifacts, oracle, f.hub)

	job := testJob(t, model.QueueCriticReview, model.CriticReviewPayload{
		SessionID:    session.ID,
		ArtifactType: model.ArtifactPlan,
		ArtifactID:   artifact.ID,
	})
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if oracle.callCount() != 0 {
		t.Fatalf("oracle consulted %d times for settled artifact", oracle.callCount())
	}
}

func TestCriticContentRevisionIsFreeText(t *testing.T) {
	f := setupFixture(t)
	session := f.seedSession(t, "s6")
	artifact := f.seedArtifact(t, session.ID, model.ArtifactContent, "first draft prose")

	oracle := &scriptedOracle{responses: []oracleResponse{
		rejection(5),
		{content: "tighter prose"},
		approval(8),
	}}
	w := NewCriticWorker(f.sessions, f.artifacts, oracle, f.hub)

	job := testJob(t, model.QueueCriticReview, model.CriticReviewPayload{
		SessionID:    session.ID,
		ArtifactType: model.ArtifactContent,
		ArtifactID:   artifact.ID,
	})
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := f.artifacts.Get(context.Background(), artifact.ID)
	if got.Content != "tighter prose" {
		t.Fatalf("content = %q, want revision stored verbatim", got.Content)
	}
}

func TestCriticMalformedPlanRevisionIsRetryable(t *testing.T) {
	f := setupFixture(t)
	session := f.seedSession(t, "s7")
	artifact := f.seedArtifact(t, session.ID, model.ArtifactPlan, "draft v1")

	oracle := &scriptedOracle{responses: []oracleResponse{
		rejection(4),
		{content: "not json at all"},
	}}
	w := NewCriticWorker(f.sessions, f.artifacts, oracle, f.hub)

	job := testJob(t, model.QueueCriticReview, model.CriticReviewPayload{
		SessionID:    session.ID,
		ArtifactType: model.ArtifactPlan,
		ArtifactID:   artifact.ID,
	})
	err := w.Handle(context.Background(), job)
	if err == nil {
		t.Fatal("expected error for malformed revision")
	}
	var parseErr *client.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("want ParseError, got %v", err)
	}
	if errors.Is(err, queue.ErrSkipRetry) {
		t.Fatalf("parse failure must stay retryable: %v", err)
	}

	// The rejection feedback survives the failed attempt, so a retry
	// resumes at iteration 2.
	got, _ := f.artifacts.Get(context.Background(), artifact.ID)
	if got.CriticIterations != 1 || len(got.CriticFeedback) != 1 {
		t.Fatalf("iterations = %d, feedback = %d", got.CriticIterations, len(got.CriticFeedback))
	}
	if got.Content != "draft v1" {
		t.Fatalf("content changed on failed revision: %q", got.Content)
	}
}

func TestCriticMissingArtifactIsTerminal(t *testing.T) {
	f := setupFixture(t)
	session := f.seedSession(t, "s5")

	w := NewCriticWorker(f.sessions, f.artifacts, &scriptedOracle{}, f.hub)
	job := testJob(t, model.QueueCriticReview, model.CriticReviewPayload{
		SessionID:    session.ID,
		ArtifactType: model.ArtifactPlan,
		ArtifactID:   "missing",
	})

	err := w.Handle(context.Background(), job)
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}
	if !errors.Is(err, queue.ErrSkipRetry) {
		t.Fatalf("missing artifact should not be retried: %v", err)
	}
}
