package temporalflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gao-dev/gaodev/internal/agentrunner"
	"github.com/gao-dev/gaodev/internal/ceremony"
	"github.com/gao-dev/gaodev/internal/coordinator"
	"github.com/gao-dev/gaodev/internal/model"
	"github.com/gao-dev/gaodev/internal/workflow"
)

// StepRunner is the AgentRunner surface an activity needs; identical in
// shape to internal/orchestrator.StepRunner, declared separately so this
// package never imports internal/orchestrator (the two backends must stay
// independent — a caller picks exactly one at startup).
type StepRunner interface {
	Execute(ctx context.Context, req agentrunner.StepRequest) (agentrunner.StepResult, error)
}

// Coordinator is the narrow StateCoordinator surface RecordStepOutcomeActivity needs.
type Coordinator interface {
	AdvanceStory(p coordinator.AdvanceStoryParams) error
}

// Activities holds the real dependencies Temporal worker registration
// binds activity methods to: an AgentRunner, the CeremonyOrchestrator,
// and the StateCoordinator.
type Activities struct {
	Runner   StepRunner
	Ceremony *ceremony.Orchestrator
	Coord    Coordinator
	WorkDir  string
}

// BuildPlanActivity wraps internal/workflow.BuildPlan so the plan itself
// lands in Temporal's workflow history: a worker replay after a crash
// gets the identical plan back without re-running the selector (which is
// pure and deterministic, but recording it avoids ever depending on that
// fact across a binary upgrade).
func (a *Activities) BuildPlanActivity(ctx context.Context, req PlanRequest) (model.Plan, error) {
	return workflow.BuildPlan(workflow.Request{
		EpicNum: req.EpicNum, ScaleLevel: req.ScaleLevel,
		RequestPlanning: req.RequestPlanning, Learnings: req.Learnings,
	})
}

// StepActivityRequest is ExecuteStepActivity's input.
type StepActivityRequest struct {
	Plan PlanRequest
	Step model.WorkflowStep
}

// StepActivityResult is ExecuteStepActivity's output.
type StepActivityResult struct {
	Outcome model.Outcome
	Abort   bool
}

// ExecuteStepActivity runs one non-ceremony plan step through the
// AgentRunner and, for a story-scoped step, persists its outcome through
// the StateCoordinator — the same two calls
// internal/orchestrator.Orchestrator.runStep makes inline.
func (a *Activities) ExecuteStepActivity(ctx context.Context, req StepActivityRequest) (StepActivityResult, error) {
	result, err := a.Runner.Execute(ctx, agentrunner.StepRequest{
		Step: req.Step, Project: req.Plan.Project, EpicNum: req.Plan.EpicNum, StoryNum: req.Plan.StoryNum,
		FeatureName: req.Plan.FeatureName,
		Prompt:      fmt.Sprintf("Execute workflow step %q for epic %d.", req.Step.Name, req.Plan.EpicNum),
		WorkDir:     a.WorkDir,
	})
	if err != nil {
		return StepActivityResult{}, err
	}

	if req.Plan.StoryNum != nil {
		newStatus := model.StoryInProgress
		gates := model.GatesUnknown
		switch result.Outcome {
		case model.OutcomeSuccess:
			newStatus, gates = model.StoryDone, model.GatesPassed
		case model.OutcomeFailed:
			newStatus, gates = model.StoryFailed, model.GatesFailed
		}
		if err := a.Coord.AdvanceStory(coordinator.AdvanceStoryParams{
			EpicNum: req.Plan.EpicNum, StoryNum: *req.Plan.StoryNum, Title: req.Step.Name,
			NewStatus: newStatus, QualityGates: gates, Cost: result.Cost,
			ScaleLevel: req.Plan.ScaleLevel, Artifacts: result.Artifacts, Now: time.Now(),
		}); err != nil {
			return StepActivityResult{}, err
		}
	}

	return StepActivityResult{Outcome: result.Outcome, Abort: req.Step.Required && result.Outcome == model.OutcomeFailed}, nil
}

// CeremonyActivityRequest is HoldCeremonyActivity's input.
type CeremonyActivityRequest struct {
	Plan         PlanRequest
	CeremonyType model.CeremonyType
}

// CeremonyActivityResult is HoldCeremonyActivity's output.
type CeremonyActivityResult struct {
	Outcome model.Outcome
	Abort   bool
}

// HoldCeremonyActivity delegates to internal/ceremony.Orchestrator.Hold,
// the exact same call internal/orchestrator makes inline; only the
// surrounding retry/timeout policy differs between the two backends.
func (a *Activities) HoldCeremonyActivity(ctx context.Context, req CeremonyActivityRequest) (CeremonyActivityResult, error) {
	res, err := a.Ceremony.Hold(ctx, ceremony.HoldRequest{
		Type: req.CeremonyType, EpicNum: req.Plan.EpicNum, StoryNum: req.Plan.StoryNum,
		FeatureName: req.Plan.FeatureName, ScaleLevel: req.Plan.ScaleLevel, ProjectType: req.Plan.ProjectType,
		Tags: req.Plan.Tags, Now: time.Now(),
	})
	if err != nil {
		return CeremonyActivityResult{}, err
	}
	if res.Denied {
		return CeremonyActivityResult{Outcome: model.OutcomeSuccess}, nil
	}
	return CeremonyActivityResult{Outcome: res.Outcome, Abort: res.Abort}, nil
}

// RecordStepOutcomeActivity is a cheap, idempotent bookkeeping activity
// kept separate from the (expensive, non-idempotent) execution activities
// so Temporal can retry it freely without re-running an agent. The
// mutating work is already durable by the time this runs (ExecuteStepActivity
// and HoldCeremonyActivity both commit through the StateCoordinator before
// returning); this exists purely to leave a structured audit trail in the
// worker's own logs alongside the workflow history Temporal already keeps.
func (a *Activities) RecordStepOutcomeActivity(ctx context.Context, plan PlanRequest, stepName string, outcome model.Outcome) error {
	slog.Info("plan step recorded", "project", plan.Project, "epic", plan.EpicNum, "step", stepName, "outcome", outcome)
	return nil
}
