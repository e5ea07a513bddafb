// Package orchestrator implements the inline plan-execution backend: a
// single-process state machine that walks a model.Plan step by
// step, delegating ceremony steps to internal/ceremony and work steps to
// an AgentRunner, persisting every outcome through internal/coordinator,
// and consulting internal/trigger before and after each step for
// ceremonies the static plan didn't already schedule. The durable
// alternative backend lives in internal/temporalflow; it runs the same
// plan steps but holds only the plan's own ceremony steps, without trigger
// evaluation between steps or step retries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gao-dev/gaodev/internal/agentrunner"
	"github.com/gao-dev/gaodev/internal/ceremony"
	"github.com/gao-dev/gaodev/internal/coordinator"
	"github.com/gao-dev/gaodev/internal/model"
	"github.com/gao-dev/gaodev/internal/trigger"
	"github.com/gao-dev/gaodev/internal/workflow"
)

// StepRunner is the AgentRunner surface the Orchestrator needs for
// non-ceremony steps.
type StepRunner interface {
	Execute(ctx context.Context, req agentrunner.StepRequest) (agentrunner.StepResult, error)
}

// Coordinator is the narrow StateCoordinator surface the Orchestrator
// needs for recording story progress between steps and for seeding a
// multi-story epic's total-story count before the first trigger
// evaluation runs.
type Coordinator interface {
	AdvanceStory(p coordinator.AdvanceStoryParams) error
	CreateEpic(epicNum int, feature string, scale int, totalStories int, artifacts []model.Artifact, now time.Time) (model.Epic, error)
}

// TriggerStore is the narrow read surface the Orchestrator needs to
// assemble a live model.TriggerContext between steps. internal/store.Store
// implements this directly; the Orchestrator never writes through it.
type TriggerStore interface {
	GetEpic(project string, epicNum int) (model.Epic, error)
	ListStories(project string, epicNum int) ([]model.Story, error)
	PlanningExists(project string, epicNum int) (bool, error)
	MidRetroExists(project string, epicNum int) (bool, error)
	PhaseRetroExists(project string, epicNum int, phase string) (bool, error)
	LastCeremony(project string, epicNum int, ctype model.CeremonyType) (model.Ceremony, bool, error)
}

// Clock lets tests control "now" instead of depending on time.Now.
type Clock func() time.Time

// maxStepRetries bounds how often a transient AgentRunner failure is
// retried before the step is given up; the backoff doubles each attempt.
const (
	maxStepRetries   = 2
	retryBackoffBase = 2 * time.Second
)

// StoryItem is one story in a multi-story epic run: the "implement-stories"
// step fans out over these instead of doing a single AgentRunner call, so
// an epic can be driven through all of its stories in one Run.
type StoryItem struct {
	StoryNum int
	Title    string
}

// Request describes one plan run: the epic it drives and the inputs the
// workflow selector needs to build it. A scale 0/1 request
// sets StoryNum for its single chore/bugfix story; a scale 2+ request
// sets Stories so the "implement-stories" step can loop over each one,
// re-evaluating the trigger engine after every story's outcome is persisted.
type Request struct {
	EpicNum         int
	StoryNum        *int
	Stories         []StoryItem
	FeatureName     string
	ScaleLevel      int
	ProjectType     string
	Tags            []string
	RequestPlanning bool
	Learnings       []model.Learning
	Profile         *workflow.AgentProfile
	WorkDir         string
}

// StepOutcome records what happened when a single plan step ran.
type StepOutcome struct {
	StepName string
	Outcome  model.Outcome
	Aborted  bool
}

// Status is the terminal result of a Run call: every step's outcome, in
// order, plus whether the whole plan completed or was aborted early.
type Status struct {
	Plan      model.Plan
	Steps     []StepOutcome
	Aborted   bool
	AbortedAt string
}

// Orchestrator drives one project's plan executions.
type Orchestrator struct {
	runner       StepRunner
	ceremony     *ceremony.Orchestrator
	coord        Coordinator
	triggers     TriggerStore
	project      string
	now          Clock
	retryBackoff time.Duration
}

// New constructs an inline Orchestrator.
func New(runner StepRunner, ceremonyOrch *ceremony.Orchestrator, coord Coordinator, triggers TriggerStore, project string, now Clock) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		runner: runner, ceremony: ceremonyOrch, coord: coord, triggers: triggers,
		project: project, now: now, retryBackoff: retryBackoffBase,
	}
}

// Run builds a plan for req and executes it to completion or abort.
// Cancelling ctx stops execution before the next step starts; the step in
// flight when ctx is cancelled is allowed to finish so its outcome is
// still recorded.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Status, error) {
	plan, err := workflow.BuildPlan(workflow.Request{
		EpicNum: req.EpicNum, ScaleLevel: req.ScaleLevel,
		RequestPlanning: req.RequestPlanning, Learnings: req.Learnings,
	})
	if err != nil {
		return Status{}, err
	}
	if err := workflow.ValidateDAG(plan); err != nil {
		return Status{}, err
	}

	if len(req.Stories) > 0 {
		if err := o.ensureEpic(req); err != nil {
			return Status{}, err
		}
	}

	status := Status{Plan: plan}
	for i, step := range plan.Steps {
		select {
		case <-ctx.Done():
			status.Aborted = true
			status.AbortedAt = step.Name
			return status, nil
		default:
		}

		// A multi-story "implement-stories" step runs its own pre/post
		// trigger evaluation once per story below; every other step is
		// evaluated once, immediately around the step itself.
		multiStory := step.Name == "implement-stories" && len(req.Stories) > 0

		if step.Ceremony == "" && !multiStory {
			if aborted, err := o.evaluateTriggers(ctx, req, step.Phase, false, false); err != nil {
				return status, err
			} else if aborted {
				status.Aborted = true
				status.AbortedAt = step.Name
				return status, nil
			}
		}

		outcome, aborted, err := o.runStep(ctx, req, step)
		if err != nil {
			return status, err
		}
		status.Steps = append(status.Steps, StepOutcome{StepName: step.Name, Outcome: outcome, Aborted: aborted})
		if aborted {
			status.Aborted = true
			status.AbortedAt = step.Name
			return status, nil
		}

		if step.Ceremony == "" && !multiStory {
			nextPhase := ""
			if i+1 < len(plan.Steps) {
				nextPhase = plan.Steps[i+1].Phase
			}
			phaseTransition := step.Phase != "" && nextPhase != "" && nextPhase != step.Phase
			storyCompleted := outcome == model.OutcomeSuccess && req.StoryNum != nil
			if aborted, err := o.evaluateTriggers(ctx, req, step.Phase, storyCompleted, phaseTransition); err != nil {
				return status, err
			} else if aborted {
				status.Aborted = true
				status.AbortedAt = step.Name
				return status, nil
			}
		}
	}
	return status, nil
}

// HoldCeremony runs a manual, user-requested ceremony outside any plan.
// Manual holds skip the cooldown check but still respect the per-epic cap
// and an open circuit.
func (o *Orchestrator) HoldCeremony(ctx context.Context, ctype model.CeremonyType, req Request) (ceremony.HoldResult, error) {
	return o.ceremony.Hold(ctx, ceremony.HoldRequest{
		Type: ctype, EpicNum: req.EpicNum, StoryNum: req.StoryNum,
		FeatureName: req.FeatureName, ScaleLevel: req.ScaleLevel, ProjectType: req.ProjectType,
		Tags: req.Tags, Manual: true, Now: o.now(),
	})
}

// Status returns the current persisted snapshot of an epic.
func (o *Orchestrator) Status(epicNum int) (model.Epic, error) {
	return o.triggers.GetEpic(o.project, epicNum)
}

// ensureEpic creates the epic row a multi-story run needs before the
// first trigger evaluation, so the trigger engine's total/completed story
// counts and its epic-completion check have something to read. A second
// Run call against an already-created epic is a no-op here.
func (o *Orchestrator) ensureEpic(req Request) error {
	_, err := o.triggers.GetEpic(o.project, req.EpicNum)
	if err == nil {
		return nil
	}
	if derr, ok := err.(*model.Error); !ok || derr.Code != "E013" {
		return err
	}
	_, err = o.coord.CreateEpic(req.EpicNum, req.FeatureName, req.ScaleLevel, len(req.Stories), nil, o.now())
	return err
}

// runStep executes a single step: a ceremony injection is delegated to
// internal/ceremony, a multi-story "implement-stories" step fans out over
// req.Stories, and anything else goes to the AgentRunner with its
// resulting artifacts persisted as a story advancement.
func (o *Orchestrator) runStep(ctx context.Context, req Request, step model.WorkflowStep) (model.Outcome, bool, error) {
	if step.Ceremony != "" {
		return o.runCeremonyStep(ctx, req, step)
	}
	if step.Name == "implement-stories" && len(req.Stories) > 0 {
		return o.runStoryLoop(ctx, req, step)
	}
	return o.runWorkStep(ctx, req, step)
}

// runCeremonyStep holds a ceremony statically baked into the plan by
// workflow.BuildPlan (the once-per-scale planning/standup/retrospective
// markers used for DAG ordering), gated by SafetyGuard exactly as any
// other ceremony hold is.
func (o *Orchestrator) runCeremonyStep(ctx context.Context, req Request, step model.WorkflowStep) (model.Outcome, bool, error) {
	holdPhase := ""
	if step.Ceremony == model.CeremonyRetrospective {
		// The statically-injected retrospective marker is the epic-end one.
		holdPhase = "epic-end"
	}
	res, err := o.ceremony.Hold(ctx, ceremony.HoldRequest{
		Type: step.Ceremony, EpicNum: req.EpicNum, StoryNum: req.StoryNum,
		FeatureName: req.FeatureName, ScaleLevel: req.ScaleLevel, ProjectType: req.ProjectType,
		Phase: holdPhase, Tags: req.Tags, Now: o.now(),
	})
	if err != nil {
		return "", false, err
	}
	if res.Denied {
		// A SafetyGuard denial is not a failure: the ceremony is simply
		// skipped for this step and the plan continues.
		return model.OutcomeSuccess, false, nil
	}
	return res.Outcome, res.Abort, nil
}

// runStoryLoop drives every story in req.Stories through the
// "implement-stories" step in turn, persisting each one's outcome and
// re-evaluating the trigger engine immediately afterward — the only way a
// standup tied to a story-completion count, or a retrospective tied to
// epic completion, can fire mid-step instead of only at the static
// ceremony markers around it.
func (o *Orchestrator) runStoryLoop(ctx context.Context, req Request, step model.WorkflowStep) (model.Outcome, bool, error) {
	last := model.OutcomeSuccess
	for _, s := range req.Stories {
		select {
		case <-ctx.Done():
			return last, true, nil
		default:
		}

		if aborted, err := o.evaluateTriggers(ctx, req, step.Phase, false, false); err != nil {
			return "", false, err
		} else if aborted {
			return last, true, nil
		}

		storyNum := s.StoryNum
		storyReq := req
		storyReq.StoryNum = &storyNum
		outcome, workAborted, err := o.runWorkStep(ctx, storyReq, model.WorkflowStep{
			Name: s.Title, Phase: step.Phase, Required: step.Required, Metadata: step.Metadata,
		})
		if err != nil {
			return "", false, err
		}
		last = outcome

		if aborted, err := o.evaluateTriggers(ctx, req, step.Phase, outcome == model.OutcomeSuccess, false); err != nil {
			return "", false, err
		} else if aborted {
			return last, true, nil
		}
		if workAborted {
			return last, true, nil
		}
	}
	return last, false, nil
}

// runWorkStep calls the AgentRunner for a single non-ceremony step and, if
// the request carries a story number, persists the resulting status and
// artifacts through StateCoordinator.AdvanceStory.
func (o *Orchestrator) runWorkStep(ctx context.Context, req Request, step model.WorkflowStep) (model.Outcome, bool, error) {
	role := ""
	prompt := ""
	if req.Profile != nil {
		if stage := findStage(req.Profile, step.Name); stage != nil {
			role = stage.Role
			prompt = stage.PromptTemplate
		}
	}

	stepReq := agentrunner.StepRequest{
		Step: step, Project: o.project, EpicNum: req.EpicNum, StoryNum: req.StoryNum,
		FeatureName: req.FeatureName, Role: role, PromptTemplate: prompt,
		Prompt: fmt.Sprintf("Execute workflow step %q for epic %d.", step.Name, req.EpicNum),
		WorkDir: req.WorkDir,
	}

	var result agentrunner.StepResult
	backoff := o.retryBackoff
	for attempt := 0; ; attempt++ {
		var err error
		result, err = o.runner.Execute(ctx, stepReq)
		if err == nil {
			break
		}
		var merr *model.Error
		if !errors.As(err, &merr) || merr.Kind != model.KindTransient || attempt >= maxStepRetries {
			return "", false, err
		}
		select {
		case <-ctx.Done():
			return "", true, nil
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	if req.StoryNum != nil {
		newStatus := model.StoryInProgress
		if result.Outcome == model.OutcomeSuccess {
			newStatus = model.StoryDone
		} else if result.Outcome == model.OutcomeFailed {
			newStatus = model.StoryFailed
		}
		gates := model.GatesUnknown
		if result.Outcome == model.OutcomeSuccess {
			gates = model.GatesPassed
		} else if result.Outcome == model.OutcomeFailed {
			gates = model.GatesFailed
		}
		if err := o.coord.AdvanceStory(coordinator.AdvanceStoryParams{
			EpicNum: req.EpicNum, StoryNum: *req.StoryNum, Title: step.Name,
			NewStatus: newStatus, QualityGates: gates, Cost: result.Cost,
			ScaleLevel: req.ScaleLevel, Artifacts: result.Artifacts, Now: o.now(),
		}); err != nil {
			return "", false, err
		}
	}

	return result.Outcome, stepAbortsOn(step, result.Outcome), nil
}

// evaluateTriggers builds a live model.TriggerContext from the persisted
// epic/story/ceremony state and asks the trigger engine which ceremonies, if
// any, the current state requires beyond what the static plan already
// scheduled. Each returned ceremony type is fed through SafetyGuard and
// ceremony.Hold in the trigger engine's own order (planning, standup,
// retrospective); a SafetyGuard denial simply skips that ceremony for
// this evaluation rather than aborting.
func (o *Orchestrator) evaluateTriggers(ctx context.Context, req Request, phase string, storyJustCompleted, phaseJustTransitioned bool) (bool, error) {
	now := o.now()
	tc, err := o.buildTriggerContext(req, phase, storyJustCompleted, phaseJustTransitioned, now)
	if err != nil {
		return false, err
	}

	for _, ctype := range trigger.Evaluate(tc) {
		holdPhase := ""
		if ctype == model.CeremonyRetrospective {
			// Recurring retrospectives are disambiguated by boundary so
			// the once-per-boundary checks can find this one later.
			switch {
			case tc.ScaleLevel == 1:
				holdPhase = "failure-recovery"
			case tc.TotalStories > 0 && tc.StoriesCompleted == tc.TotalStories:
				holdPhase = "epic-end"
			case tc.PhaseJustTransitioned:
				holdPhase = phase
			default:
				holdPhase = "mid"
			}
		}
		res, err := o.ceremony.Hold(ctx, ceremony.HoldRequest{
			Type: ctype, EpicNum: req.EpicNum, StoryNum: req.StoryNum,
			FeatureName: req.FeatureName, ScaleLevel: req.ScaleLevel, ProjectType: req.ProjectType,
			Phase: holdPhase, Tags: req.Tags, Now: now,
		})
		if err != nil {
			return false, err
		}
		if res.Denied {
			continue
		}
		if res.Abort {
			return true, nil
		}
	}
	return false, nil
}

// buildTriggerContext reads the epic, its stories, and its ceremony
// history to assemble the pure input the trigger engine evaluates against. A
// scale 0/1 run never creates an epic row, so a not-found GetEpic is
// tolerated as an all-zero epic rather than an error.
func (o *Orchestrator) buildTriggerContext(req Request, phase string, storyJustCompleted, phaseJustTransitioned bool, now time.Time) (model.TriggerContext, error) {
	tc := model.TriggerContext{
		EpicNum: req.EpicNum, StoryNum: req.StoryNum, ScaleLevel: req.ScaleLevel,
		Phase: phase, ProjectType: req.ProjectType, RequestPlanning: req.RequestPlanning,
		StoryJustCompleted: storyJustCompleted, PhaseJustTransitioned: phaseJustTransitioned,
		QualityGatesPassed: true, Now: now,
	}

	epic, err := o.triggers.GetEpic(o.project, req.EpicNum)
	if err != nil {
		if derr, ok := err.(*model.Error); !ok || derr.Code != "E013" {
			return model.TriggerContext{}, err
		}
	} else {
		tc.TotalStories = epic.TotalStories
		tc.StoriesCompleted = epic.StoriesCompleted
	}

	stories, err := o.triggers.ListStories(o.project, req.EpicNum)
	if err != nil {
		return model.TriggerContext{}, err
	}
	for i := len(stories) - 1; i >= 0; i-- {
		if stories[i].Status != model.StoryFailed {
			break
		}
		tc.ConsecutiveStoryFailures++
	}
	if n := len(stories); n > 0 && stories[n-1].QualityGatesPassed == model.GatesFailed {
		tc.QualityGatesPassed = false
	}

	if tc.PlanningExists, err = o.triggers.PlanningExists(o.project, req.EpicNum); err != nil {
		return model.TriggerContext{}, err
	}
	if tc.MidRetroExists, err = o.triggers.MidRetroExists(o.project, req.EpicNum); err != nil {
		return model.TriggerContext{}, err
	}
	if tc.PhaseRetroExists, err = o.triggers.PhaseRetroExists(o.project, req.EpicNum, phase); err != nil {
		return model.TriggerContext{}, err
	}
	if last, ok, err := o.triggers.LastCeremony(o.project, req.EpicNum, model.CeremonyStandup); err != nil {
		return model.TriggerContext{}, err
	} else if ok {
		t := last.HeldAt
		tc.LastStandupAt = &t
	}

	return tc, nil
}

// stepAbortsOn applies the non-ceremony failure policy: a required step
// that fails aborts the plan; an optional one does not.
func stepAbortsOn(step model.WorkflowStep, outcome model.Outcome) bool {
	return step.Required && outcome == model.OutcomeFailed
}

func findStage(p *workflow.AgentProfile, name string) *workflow.Stage {
	if i := p.StageIndex(name); i >= 0 {
		return &p.Stages[i]
	}
	return nil
}
