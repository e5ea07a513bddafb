// Package ceremony implements the ceremony orchestrator: the glue between
// SafetyGuard, the learning/action-item context a ceremony needs, the
// AgentRunner that actually holds it, and the coordinator that persists
// the result. One guard-then-dispatch-then-record flow covers all three
// ceremony types; only the failure policy differs per type.
package ceremony

import (
	"context"
	"fmt"
	"time"

	"github.com/gao-dev/gaodev/internal/coordinator"
	"github.com/gao-dev/gaodev/internal/learning"
	"github.com/gao-dev/gaodev/internal/model"
	"github.com/gao-dev/gaodev/internal/safety"
	"github.com/gao-dev/gaodev/internal/store"
)

// DefaultDeadline is the ceremony execution timeout.
const DefaultDeadline = 10 * time.Minute

// Store is the read/write surface the orchestrator needs beyond what it
// delegates to Coordinator and SafetyGuard.
type Store interface {
	OpenActionItems(project string, epicNum int) ([]model.ActionItem, error)
	Begin() (*store.Tx, error)
	Commit(tx *store.Tx) error
	Rollback(tx *store.Tx) error
}

// Coordinator is the narrow StateCoordinator surface a ceremony needs.
type Coordinator interface {
	RecordCeremony(p coordinator.RecordCeremonyParams) (model.Ceremony, error)
}

// SafetyGuard is the narrow SafetyGuard surface a ceremony needs.
type SafetyGuard interface {
	CanHold(epicNum int, ctype model.CeremonyType, manual bool, now time.Time) (safety.Decision, error)
	RecordOutcome(tx *store.Tx, epicNum int, ctype model.CeremonyType, outcome model.Outcome, heldAt time.Time) error
}

// LearningSelector is the narrow LearningService surface a ceremony needs
// to pull its top-K relevant learnings into context.
type LearningSelector interface {
	Select(q learning.Query) ([]learning.Scored, error)
}

// Runner is the AgentRunner surface a ceremony needs: holding the
// ceremony itself and returning its raw transcript.
type Runner interface {
	ExecuteCeremony(ctx context.Context, req Request) (Result, error)
}

// Request is the context handed to the AgentRunner for a single ceremony.
type Request struct {
	Type            model.CeremonyType
	Project         string
	EpicNum         int
	StoryNum        *int
	FeatureName     string
	RecentActivity  string
	OpenActionItems []model.ActionItem
	TopLearnings    []model.Learning
}

// Result is what the AgentRunner returns for a ceremony hold.
type Result struct {
	Transcript   string
	DurationMS   int64
	Participants []string
	Cost         model.AgentCost
}

// TopK is how many learnings are offered to the agent as ceremony context.
const TopK = 5

// Orchestrator is the CeremonyOrchestrator implementation.
type Orchestrator struct {
	store    Store
	coord    Coordinator
	guard    SafetyGuard
	learning LearningSelector
	runner   Runner
	project  string
	deadline time.Duration
}

// New constructs a ceremony Orchestrator.
func New(s Store, coord Coordinator, guard SafetyGuard, learn LearningSelector, runner Runner, project string) *Orchestrator {
	return &Orchestrator{store: s, coord: coord, guard: guard, learning: learn, runner: runner, project: project, deadline: DefaultDeadline}
}

// SetDeadline overrides the default ceremony execution timeout; the
// composition root applies the configured ceremony_deadline here.
func (o *Orchestrator) SetDeadline(d time.Duration) {
	if d > 0 {
		o.deadline = d
	}
}

// HoldRequest describes a ceremony to attempt. Phase distinguishes
// recurring retrospectives of the same epic ("mid", "epic-end", or a
// workflow phase name) so the once-per-boundary rules can check whether
// this particular boundary's ceremony already ran.
type HoldRequest struct {
	Type        model.CeremonyType
	EpicNum     int
	StoryNum    *int
	FeatureName string
	ScaleLevel  int
	ProjectType string
	Phase       string
	Tags        []string
	Manual      bool
	Now         time.Time
}

// HoldResult is what Hold returns: the persisted ceremony (if one was
// recorded), its final outcome, and whether the caller's plan execution
// must abort as a result.
type HoldResult struct {
	Ceremony model.Ceremony
	Outcome  model.Outcome
	Abort    bool
	Denied   bool
	Reason   string
}

// Hold runs the full ceremony lifecycle: SafetyGuard admission check,
// context assembly, AgentRunner invocation (retried once for a failed
// retrospective, per the type-specific failure policy), transcript
// parsing, StateCoordinator persistence, and SafetyGuard outcome
// recording. Only infrastructure errors (store/coordinator failures) are
// returned as err; a ceremony that ran but produced a failed or partial
// outcome is reported through HoldResult, not err.
func (o *Orchestrator) Hold(ctx context.Context, req HoldRequest) (HoldResult, error) {
	decision, err := o.guard.CanHold(req.EpicNum, req.Type, req.Manual, req.Now)
	if err != nil {
		return HoldResult{}, err
	}
	if !decision.Allow {
		return HoldResult{Denied: true, Reason: decision.Reason}, nil
	}

	openItems, err := o.store.OpenActionItems(o.project, req.EpicNum)
	if err != nil {
		return HoldResult{}, err
	}
	var topLearnings []model.Learning
	if o.learning != nil {
		scored, err := o.learning.Select(learning.Query{ScaleLevel: req.ScaleLevel, ProjectType: req.ProjectType, Tags: req.Tags, Now: req.Now})
		if err != nil {
			return HoldResult{}, err
		}
		for i, s := range scored {
			if i >= TopK {
				break
			}
			topLearnings = append(topLearnings, s.Learning)
		}
	}

	agentReq := Request{
		Type: req.Type, Project: o.project, EpicNum: req.EpicNum, StoryNum: req.StoryNum,
		FeatureName: req.FeatureName, OpenActionItems: openItems, TopLearnings: topLearnings,
	}

	parsed, result, outcome := o.attempt(ctx, agentReq)
	if outcome == model.OutcomeFailed && req.Type == model.CeremonyRetrospective {
		parsed, result, outcome = o.attempt(ctx, agentReq)
	}

	// The parser only knows what the transcript says; the ceremony's own
	// coordinates (epic, time, scale, project type) are stamped here so
	// the persisted rows are queryable and scorable.
	for i := range parsed.ActionItems {
		parsed.ActionItems[i].EpicNum = req.EpicNum
		parsed.ActionItems[i].CreatedAt = req.Now
	}
	for i := range parsed.Learnings {
		parsed.Learnings[i].ScaleLevel = req.ScaleLevel
		parsed.Learnings[i].ProjectType = req.ProjectType
		parsed.Learnings[i].IndexedAt = req.Now
	}

	phase := req.Phase
	if phase == "" {
		phase = string(req.Type)
	}
	idempotencyKey := fmt.Sprintf("%s-%d-%s", req.Type, req.EpicNum, req.Now.UTC().Format("20060102T150405Z"))
	ceremony, err := o.coord.RecordCeremony(coordinator.RecordCeremonyParams{
		Type: req.Type, EpicNum: req.EpicNum, StoryNum: req.StoryNum, Phase: phase,
		HeldAt: req.Now, DurationMS: result.DurationMS, Participants: result.Participants,
		Transcript: result.Transcript, Summary: parsed.Summary, Outcome: outcome,
		IdempotencyKey: idempotencyKey, Cost: result.Cost,
		ActionItems: parsed.ActionItems, Learnings: parsed.Learnings,
		FeatureName: req.FeatureName,
	})
	if err != nil {
		return HoldResult{}, err
	}

	tx, err := o.store.Begin()
	if err != nil {
		return HoldResult{}, err
	}
	if err := o.guard.RecordOutcome(tx, req.EpicNum, req.Type, outcome, req.Now); err != nil {
		o.store.Rollback(tx)
		return HoldResult{}, err
	}
	if err := o.store.Commit(tx); err != nil {
		return HoldResult{}, err
	}

	return HoldResult{Ceremony: ceremony, Outcome: outcome, Abort: abortOn(req.Type, outcome)}, nil
}

// attempt runs the agent once and classifies the result, downgrading to
// partial a transcript that yields nothing at all, or one containing any
// bullet that failed a minimum-quality check (an action item without a
// priority, a learning without text, category, or tags) — the well-formed
// remainder is still kept.
func (o *Orchestrator) attempt(ctx context.Context, req Request) (ParsedCeremony, Result, model.Outcome) {
	runCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	result, err := o.runner.ExecuteCeremony(runCtx, req)
	if err != nil {
		return ParsedCeremony{}, Result{}, model.OutcomeFailed
	}

	parsed := ParseTranscript(result.Transcript)
	if parsed.Malformed > 0 {
		return parsed, result, model.OutcomePartial
	}
	if parsed.Summary == "" && len(parsed.ActionItems) == 0 && len(parsed.Learnings) == 0 {
		return parsed, result, model.OutcomePartial
	}
	return parsed, result, model.OutcomeSuccess
}

// abortOn applies the type-specific failure policy: a failed planning
// ceremony aborts the enclosing plan outright; a failed retrospective
// (after the one retry already attempted in Hold) or standup never does —
// the plan continues on the next scheduled step.
func abortOn(ctype model.CeremonyType, outcome model.Outcome) bool {
	return ctype == model.CeremonyPlanning && outcome == model.OutcomeFailed
}
