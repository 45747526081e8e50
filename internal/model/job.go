package model

import (
	"encoding/json"
	"time"
)

// Job represents one unit of queued work. A job is owned by its queue until a
// worker claims it, then by that worker until ack/fail. Everything except
// Attempt, State and NextVisibleAt is immutable after enqueue.
type Job struct {
	ID            string          `json:"id"`
	QueueName     string          `json:"queueName"`
	Payload       json.RawMessage `json:"payload"`
	Priority      Priority        `json:"priority"`
	Attempt       int             `json:"attempt"`
	MaxAttempts   int             `json:"maxAttempts"`
	NextVisibleAt time.Time       `json:"nextVisibleAt"`
	BackoffBase   time.Duration   `json:"backoffBase"`
	State         JobState        `json:"state"`
	LastError     string          `json:"lastError,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

// Stage job payloads. Each generation job carries the session it belongs to
// and the placeholder artifact it fills in.

type SourceIngestionPayload struct {
	SessionID string `json:"sessionId"`
	SourceID  string `json:"sourceId"`
	URL       string `json:"url"`
}

type PlanGenerationPayload struct {
	SessionID  string `json:"sessionId"`
	ArtifactID string `json:"artifactId"`
}

type OutlineGenerationPayload struct {
	SessionID  string `json:"sessionId"`
	ArtifactID string `json:"artifactId"`
	PlanID     string `json:"planId"`
}

type ContentGenerationPayload struct {
	SessionID  string `json:"sessionId"`
	ArtifactID string `json:"artifactId"`
	OutlineID  string `json:"outlineId"`
}

type CriticReviewPayload struct {
	SessionID    string       `json:"sessionId"`
	ArtifactType ArtifactType `json:"artifactType"`
	ArtifactID   string       `json:"artifactId"`
}
