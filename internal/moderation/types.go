package moderation

import (
	"time"

	"github.com/google/uuid"
)

// Classification is the verdict of the content classifier
type Classification string

const (
	ClassSafe   Classification = "safe"
	ClassNSFW   Classification = "nsfw"
	ClassUnsafe Classification = "unsafe"
)

// Valid reports whether c is one of the three known classes
func (c Classification) Valid() bool {
	switch c {
	case ClassSafe, ClassNSFW, ClassUnsafe:
		return true
	}
	return false
}

// PublicationState governs who can see a theory
type PublicationState string

const (
	// StatusSafe is visible to everyone
	StatusSafe PublicationState = "safe"
	// StatusShadowbanned is visible only to its author
	StatusShadowbanned PublicationState = "shadowbanned"
	// StatusUnsafe is never persisted as content, only recorded in the log
	StatusUnsafe PublicationState = "unsafe"
)

// Action is what the pipeline did with a piece of content
type Action string

const (
	ActionBlocked            Action = "blocked"
	ActionShadowbanned       Action = "shadowbanned"
	ActionPublished          Action = "published"
	ActionShadowbannedRescan Action = "shadowbanned_rescan"
)

// ActorClassifier identifies system-generated entries in the moderation trail
const ActorClassifier = "system:classifier"

// Result is the output of a single classification call
type Result struct {
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
}

// LogEntry is an immutable record of one classification decision.
// TheoryID is nil only for content blocked before persistence.
type LogEntry struct {
	ID             uuid.UUID      `json:"id"`
	TheoryID       *uuid.UUID     `json:"theory_id"`
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Action         Action         `json:"action_taken"`
	Reasoning      string         `json:"reasoning"`
	Actor          string         `json:"actor"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Theory is a user-submitted content item
type Theory struct {
	ID               uuid.UUID        `json:"id"`
	UserID           uuid.UUID        `json:"user_id"`
	Title            string           `json:"title"`
	Body             string           `json:"body"`
	Refs             *string          `json:"refs,omitempty"`
	ModerationStatus PublicationState `json:"moderation_status"`
	ComplexityScore  int              `json:"complexity_score"`
	IsMature         bool             `json:"is_mature"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Submission is a theory as received from its author
type Submission struct {
	AuthorID uuid.UUID
	Title    string
	Body     string
	Refs     *string
}

// Decision is the outcome of an accepted submission
type Decision struct {
	Theory  *Theory
	State   PublicationState
	Action  Action
	Result  Result
	Entry   *LogEntry
	Message string
}

// RescanOutcome describes what a rescan did with one theory
type RescanOutcome string

const (
	OutcomeUnchanged RescanOutcome = "unchanged"
	OutcomeDemoted   RescanOutcome = "demoted"
	OutcomeSkipped   RescanOutcome = "skipped"
	OutcomeFailed    RescanOutcome = "failed"
)

const (
	MessagePublished = "Theory published successfully"
	MessageFlagged   = "Theory submitted but flagged for review"
)
