// Package temporalflow implements the durable backend of the
// Orchestrator: the plan's steps run as a Temporal workflow so a crashed
// worker resumes mid-plan instead of re-running completed steps. Each
// model.WorkflowStep becomes one activity invocation instead of a fixed
// phase sequence, so the step loop generalizes to any scale level's plan
// shape. Unlike internal/orchestrator, it holds only the ceremony steps
// baked into the plan: it does not consult internal/trigger between
// steps, does not fan "implement-stories" out over several stories, and
// does not retry a failed step activity.
package temporalflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/gao-dev/gaodev/internal/model"
)

// PlanRequest is the Temporal workflow's input: everything RunPlanWorkflow
// needs to reconstruct internal/workflow.BuildPlan's Request without
// importing anything non-serializable.
type PlanRequest struct {
	Project         string
	EpicNum         int
	StoryNum        *int
	FeatureName     string
	ScaleLevel      int
	ProjectType     string
	Tags            []string
	RequestPlanning bool
	Learnings       []model.Learning
}

// StepOutcome mirrors orchestrator.StepOutcome so both backends report
// the same shape to callers.
type StepOutcome struct {
	StepName string
	Outcome  model.Outcome
	Aborted  bool
}

// PlanResult is the workflow's return value.
type PlanResult struct {
	Steps     []StepOutcome
	Aborted   bool
	AbortedAt string
}

var (
	buildPlanOpts = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
	stepOpts = workflow.ActivityOptions{
		StartToCloseTimeout: 20 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1}, // retries are a ceremony-type policy decision, not blind backoff
	}
	ceremonyOpts = workflow.ActivityOptions{
		StartToCloseTimeout: 12 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	recordOpts = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
)

// RunPlanWorkflow is the Temporal entry point: it builds the plan via
// BuildPlanActivity (so the plan itself is recorded in workflow history
// and survives a worker crash), then walks the steps in order,
// delegating each one to either HoldCeremonyActivity or
// ExecuteStepActivity and stopping at the first step that aborts.
func RunPlanWorkflow(ctx workflow.Context, req PlanRequest) (PlanResult, error) {
	logger := workflow.GetLogger(ctx)

	var a *Activities
	planCtx := workflow.WithActivityOptions(ctx, buildPlanOpts)
	var plan model.Plan
	if err := workflow.ExecuteActivity(planCtx, a.BuildPlanActivity, req).Get(ctx, &plan); err != nil {
		return PlanResult{}, fmt.Errorf("temporalflow: build plan: %w", err)
	}

	result := PlanResult{}
	for _, step := range plan.Steps {
		logger.Info("executing plan step", "step", step.Name, "ceremony", step.Ceremony)

		var outcome model.Outcome
		var abort bool
		var err error

		if step.Ceremony != "" {
			ceremonyCtx := workflow.WithActivityOptions(ctx, ceremonyOpts)
			var res CeremonyActivityResult
			err = workflow.ExecuteActivity(ceremonyCtx, a.HoldCeremonyActivity, CeremonyActivityRequest{
				Plan: req, CeremonyType: step.Ceremony,
			}).Get(ctx, &res)
			outcome, abort = res.Outcome, res.Abort
		} else {
			stepCtx := workflow.WithActivityOptions(ctx, stepOpts)
			var res StepActivityResult
			err = workflow.ExecuteActivity(stepCtx, a.ExecuteStepActivity, StepActivityRequest{
				Plan: req, Step: step,
			}).Get(ctx, &res)
			outcome, abort = res.Outcome, res.Abort
		}

		if err != nil {
			return result, fmt.Errorf("temporalflow: step %s: %w", step.Name, err)
		}

		recordCtx := workflow.WithActivityOptions(ctx, recordOpts)
		_ = workflow.ExecuteActivity(recordCtx, a.RecordStepOutcomeActivity, req, step.Name, outcome).Get(ctx, nil)

		result.Steps = append(result.Steps, StepOutcome{StepName: step.Name, Outcome: outcome, Aborted: abort})
		if abort {
			result.Aborted = true
			result.AbortedAt = step.Name
			return result, nil
		}
	}
	return result, nil
}
