package model

import "time"

// CriticFeedback is one entry of an artifact's feedback log, one per critic
// iteration. The log is append-only and ordered by iteration.
type CriticFeedback struct {
	Iteration   int       `json:"iteration"`
	Approved    bool      `json:"approved"`
	Score       int       `json:"score"` // 1-10
	Objections  []string  `json:"objections"`
	Suggestions []string  `json:"suggestions"`
	Summary     string    `json:"summary"`
	Timestamp   time.Time `json:"timestamp"`
}

// Artifact is a versioned generated document attached to a session. Plan and
// outline artifacts hold structured JSON in Content; final content holds
// plain text. Version is monotonically increasing per session and type; a new
// version is created on regeneration, never by mutating an approved one.
type Artifact struct {
	ID               string           `json:"id"`
	SessionID        string           `json:"sessionId"`
	Type             ArtifactType     `json:"type"`
	ParentArtifactID string           `json:"parentArtifactId,omitempty"`
	Version          int              `json:"version"`
	Content          string           `json:"content"`
	Status           ArtifactStatus   `json:"status"`
	CriticIterations int              `json:"criticIterations"`
	CriticFeedback   []CriticFeedback `json:"criticFeedback"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}
