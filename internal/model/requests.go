package model

// UpdateSessionRequest carries the user-editable session fields. Absent
// fields leave the stored value untouched.
type UpdateSessionRequest struct {
	OutputSelections  []string          `json:"outputSelections"`
	ClarifyingAnswers map[string]string `json:"clarifyingAnswers"`
	Personas          []Persona         `json:"personas" validate:"dive"`
}

// AddSourceRequest attaches a reference document to a session.
type AddSourceRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
	Type  string `json:"type" validate:"required,oneof=url file note"`
	URL   string `json:"url" validate:"required,url"`
}

// StartGenerationRequest tunes a generation kickoff. Priority defaults to
// normal when omitted.
type StartGenerationRequest struct {
	Priority Priority `json:"priority" validate:"omitempty,min=1,max=4"`
}
