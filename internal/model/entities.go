package model

import "time"

// EpicStatus is the lifecycle state of an Epic.
type EpicStatus string

const (
	EpicPlanned   EpicStatus = "planned"
	EpicActive    EpicStatus = "active"
	EpicCompleted EpicStatus = "completed"
	EpicAbandoned EpicStatus = "abandoned"
)

// Epic is a unit of work containing one or more stories.
type Epic struct {
	EpicNum          int
	Project          string
	FeatureName      string
	ScaleLevel       int
	Status           EpicStatus
	TotalStories     int
	StoriesCompleted int
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// Valid reports whether the epic satisfies its data-model invariant:
// 0 <= stories_completed <= total_stories, and completed implies the
// counters match and completed_at is set.
func (e Epic) Valid() bool {
	if e.StoriesCompleted < 0 || e.StoriesCompleted > e.TotalStories {
		return false
	}
	if e.Status == EpicCompleted {
		return e.StoriesCompleted == e.TotalStories && e.CompletedAt != nil
	}
	return true
}

// StoryStatus is the lifecycle state of a Story.
type StoryStatus string

const (
	StoryDraft      StoryStatus = "draft"
	StoryReady      StoryStatus = "ready"
	StoryInProgress StoryStatus = "in_progress"
	StoryReview     StoryStatus = "review"
	StoryDone       StoryStatus = "done"
	StoryFailed     StoryStatus = "failed"
)

// Terminal reports whether the story can no longer change state.
func (s StoryStatus) Terminal() bool { return s == StoryDone || s == StoryFailed }

// QualityGates is a tri-state pass/fail signal, unknown until evaluated.
type QualityGates string

const (
	GatesUnknown QualityGates = "unknown"
	GatesPassed  QualityGates = "true"
	GatesFailed  QualityGates = "false"
)

// Story is a unit of work within an Epic, identified by (EpicNum, StoryNum).
type Story struct {
	EpicNum            int
	StoryNum           int
	Title              string
	Status             StoryStatus
	CycleTimeSeconds   int64
	ReworkCount        int
	QualityGatesPassed QualityGates
	Cost               AgentCost
}

// AgentCost is the token/cost usage an AgentRunner reports for a single
// step or ceremony execution. Zero when the backend cannot measure it.
type AgentCost struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// CeremonyType is one of the three structured interaction kinds.
type CeremonyType string

const (
	CeremonyPlanning      CeremonyType = "planning"
	CeremonyStandup       CeremonyType = "standup"
	CeremonyRetrospective CeremonyType = "retrospective"
)

// Outcome is the tri-state result of a ceremony, workflow step, or
// learning application.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Ceremony is a structured, recorded interaction producing a transcript,
// action items, and learnings.
type Ceremony struct {
	ID             int64
	EpicNum        int
	StoryNum       *int
	Type           CeremonyType
	HeldAt         time.Time
	DurationMS     int64
	Participants   []string
	Transcript     string
	Summary        string
	Outcome        Outcome
	Phase          string
	IdempotencyKey string
	Cost           AgentCost
}

// ActionItemPriority ranks urgency; high/critical become story candidates.
type ActionItemPriority string

const (
	PriorityLow      ActionItemPriority = "low"
	PriorityMedium   ActionItemPriority = "medium"
	PriorityHigh     ActionItemPriority = "high"
	PriorityCritical ActionItemPriority = "critical"
)

// PromotionCandidate reports whether this priority is eligible for
// auto-promotion to a story on the next planning step. Critical items are
// included alongside high: excluding them while low/medium items expire
// would leave the most urgent work with no escalation path.
func (p ActionItemPriority) PromotionCandidate() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// ActionItemStatus is the lifecycle state of an ActionItem.
type ActionItemStatus string

const (
	ActionItemOpen       ActionItemStatus = "open"
	ActionItemInProgress ActionItemStatus = "in_progress"
	ActionItemDone       ActionItemStatus = "done"
	ActionItemCancelled  ActionItemStatus = "cancelled"
	ActionItemExpired    ActionItemStatus = "expired"
)

// ActionItemTTL is how long an open low- or medium-priority item lives
// before it auto-expires.
const ActionItemTTL = 30 * 24 * time.Hour

// ActionItem is a follow-up surfaced by a ceremony.
type ActionItem struct {
	ID                 int64
	CeremonyID         int64
	EpicNum            int
	Priority           ActionItemPriority
	Description        string
	Status             ActionItemStatus
	AutoPromoteToStory bool
	CreatedAt          time.Time
	ClosedAt           *time.Time
}

// LearningCategory groups learnings for similarity scoring and the
// category-universal bonus in the LearningService scoring formula.
type LearningCategory string

const (
	CategoryQuality       LearningCategory = "quality"
	CategoryProcess       LearningCategory = "process"
	CategoryArchitectural LearningCategory = "architectural"
	CategoryOperational   LearningCategory = "operational"
)

// Learning is a durable lesson extracted from a retrospective.
type Learning struct {
	ID               int64
	Category         LearningCategory
	Text             string
	Tags             []string
	ScaleLevel       int
	ProjectType      string
	Project          string
	BaseRelevance    float64
	ApplicationCount int
	SuccessRate      float64
	ConfidenceScore  float64
	IndexedAt        time.Time
	SupersededBy     *int64
}

// Scored reports whether this learning participates in selection: a
// superseded learning is never scored (data-model invariant).
func (l Learning) Scored() bool { return l.SupersededBy == nil }

// LearningApplication records one use of a Learning against a work item.
type LearningApplication struct {
	ID         int64
	LearningID int64
	EpicNum    int
	StoryNum   *int
	Outcome    Outcome
	AppliedAt  time.Time
	Context    string
}

// SafetyState is per (epic, ceremony type) bookkeeping for SafetyGuard.
type SafetyState struct {
	EpicNum                 int
	CeremonyType            CeremonyType
	LastHeldAt              *time.Time
	ConsecutiveFailures     int
	CircuitOpen             bool
	TotalCeremoniesThisEpic int
}

// MaxCeremoniesPerEpic is the hard cap on SafetyState.TotalCeremoniesThisEpic.
const MaxCeremoniesPerEpic = 10

// CircuitOpenThreshold is the number of consecutive same-type failures
// within an epic that trips the breaker.
const CircuitOpenThreshold = 3
