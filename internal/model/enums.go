package model

// Session stages
type SessionStage string

const (
	StageOutputSelection SessionStage = "OUTPUT_SELECTION"
	StageClarifying      SessionStage = "CLARIFYING"
	StagePersona         SessionStage = "PERSONA"
	StagePlan            SessionStage = "PLAN"
	StageOutline         SessionStage = "OUTLINE"
	StageGeneration      SessionStage = "GENERATION"
	StageComplete        SessionStage = "COMPLETE"
)

// StageOrder is the fixed workflow. Advancement is strictly sequential and
// going back one stage is the only permitted regression.
var StageOrder = []SessionStage{
	StageOutputSelection,
	StageClarifying,
	StagePersona,
	StagePlan,
	StageOutline,
	StageGeneration,
	StageComplete,
}

func stageIndex(stage SessionStage) int {
	for i, s := range StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// NextStage returns the stage after the given one, or "" at the end.
func NextStage(stage SessionStage) SessionStage {
	i := stageIndex(stage)
	if i < 0 || i >= len(StageOrder)-1 {
		return ""
	}
	return StageOrder[i+1]
}

// PreviousStage returns the stage before the given one, or "" at the start.
func PreviousStage(stage SessionStage) SessionStage {
	i := stageIndex(stage)
	if i <= 0 {
		return ""
	}
	return StageOrder[i-1]
}

// Artifact types
type ArtifactType string

const (
	ArtifactPlan    ArtifactType = "plan"
	ArtifactOutline ArtifactType = "outline"
	ArtifactContent ArtifactType = "content"
)

var ValidArtifactTypes = []ArtifactType{ArtifactPlan, ArtifactOutline, ArtifactContent}

// Artifact status
type ArtifactStatus string

const (
	StatusDraft           ArtifactStatus = "DRAFT"
	StatusCriticReviewing ArtifactStatus = "CRITIC_REVIEWING"
	StatusCriticApproved  ArtifactStatus = "CRITIC_APPROVED"
	StatusUserApproved    ArtifactStatus = "USER_APPROVED"
)

// InFlight reports whether the status counts against the
// one-draft-per-session-and-type invariant.
func (s ArtifactStatus) InFlight() bool {
	return s == StatusDraft || s == StatusCriticReviewing
}

// Job states
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Queue priorities; a lower value is served first.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
)

// Queue names
const (
	QueueSourceIngestion   = "source-ingestion"
	QueuePlanGeneration    = "plan-generation"
	QueueOutlineGeneration = "outline-generation"
	QueueContentGeneration = "content-generation"
	QueueCriticReview      = "critic-review"
)
