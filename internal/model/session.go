package model

import "time"

// Persona describes a writing persona attached to a session.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tone        string `json:"tone,omitempty"`
	Formality   string `json:"formality,omitempty"`
}

// Source is a reference document the plan draws from.
type Source struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Type          string    `json:"type"`
	URL           string    `json:"url,omitempty"`
	ParsedContent string    `json:"parsedContent,omitempty"`
	IngestedAt    time.Time `json:"ingestedAt,omitempty"`
}

// Session is one user's pass through the content workflow. It is created by
// the user-facing layer and mutated by stage-completion events.
type Session struct {
	ID                string            `json:"id"`
	CurrentStage      SessionStage      `json:"currentStage"`
	OutputSelections  []string          `json:"outputSelections"`
	ClarifyingAnswers map[string]string `json:"clarifyingAnswers"`
	Personas          []Persona         `json:"personas"`
	Sources           []Source          `json:"sources"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// PromptContext flattens the session fields the oracle prompts care about.
func (s *Session) PromptContext() string {
	ctx := "Output types: "
	if len(s.OutputSelections) > 0 {
		for i, o := range s.OutputSelections {
			if i > 0 {
				ctx += ", "
			}
			ctx += o
		}
	} else {
		ctx += "General"
	}

	tone := s.ClarifyingAnswers["tone"]
	if tone == "" {
		tone = "Professional"
	}
	audience := s.ClarifyingAnswers["audience"]
	if audience == "" {
		audience = "General"
	}
	ctx += "\nTone: " + tone
	ctx += "\nAudience: " + audience
	if kw := s.ClarifyingAnswers["keywords"]; kw != "" {
		ctx += "\nKeywords: " + kw
	}
	if len(s.Personas) > 0 {
		ctx += "\nPersona: " + s.Personas[0].Name
	}
	return ctx
}
