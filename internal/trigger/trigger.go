// Package trigger implements the ceremony trigger engine: a pure
// function of TriggerContext and scale level that decides which ceremony
// types, if any, should fire. It performs no I/O and has no side effects —
// SafetyGuard and the Orchestrator are responsible for turning a decision
// into an actual held ceremony.
package trigger

import (
	"time"

	"github.com/gao-dev/gaodev/internal/model"
)

// standupMaxStaleness is the scale-4 wall-clock ceiling between standups
// when no story has completed in the meantime.
const standupMaxStaleness = 24 * time.Hour

// Evaluate returns the set of ceremony types the given context requires,
// in a fixed evaluation order (planning, standup, retrospective): at most
// one planning per epic, and a standup on the same boundary as a
// retrospective always precedes it.
func Evaluate(ctx model.TriggerContext) []model.CeremonyType {
	var out []model.CeremonyType
	if shouldPlan(ctx) {
		out = append(out, model.CeremonyPlanning)
	}
	if shouldStandup(ctx) {
		out = append(out, model.CeremonyStandup)
	}
	if shouldRetro(ctx) {
		out = append(out, model.CeremonyRetrospective)
	}
	return out
}

func shouldPlan(ctx model.TriggerContext) bool {
	switch {
	case ctx.ScaleLevel <= 1:
		return false
	case ctx.ScaleLevel == 2:
		return ctx.RequestPlanning && !ctx.PlanningExists
	default: // scale 3-4: required once at epic start
		return !ctx.PlanningExists
	}
}

func shouldStandup(ctx model.TriggerContext) bool {
	if ctx.ScaleLevel <= 1 {
		return false
	}
	// A failed quality gate always forces a standup at scale 2+, regardless
	// of the per-level cadence rule below.
	if !ctx.QualityGatesPassed {
		return true
	}
	switch ctx.ScaleLevel {
	case 2:
		return ctx.TotalStories > 3 && ctx.StoriesCompleted > 0 && ctx.StoriesCompleted%3 == 0
	case 3:
		return ctx.StoriesCompleted > 0 && ctx.StoriesCompleted%2 == 0
	case 4:
		if ctx.LastStandupAt == nil {
			return true
		}
		if ctx.Now.Sub(*ctx.LastStandupAt) >= standupMaxStaleness {
			return true
		}
		return ctx.StoryJustCompleted
	default:
		return false
	}
}

func shouldRetro(ctx model.TriggerContext) bool {
	switch {
	case ctx.ScaleLevel == 0:
		return false
	case ctx.ScaleLevel == 1:
		return ctx.ConsecutiveStoryFailures >= 2
	}

	// scale 2+: epic completion always triggers a retrospective. A
	// zero-story epic never auto-completes, so it can never trigger one
	// this way either.
	if epicCompleting(ctx) {
		return true
	}

	if ctx.ScaleLevel >= 3 && midEpicBoundaryReached(ctx) && !ctx.MidRetroExists {
		return true
	}

	if ctx.ScaleLevel == 4 && ctx.PhaseJustTransitioned && !ctx.PhaseRetroExists {
		return true
	}

	return false
}

func epicCompleting(ctx model.TriggerContext) bool {
	return ctx.TotalStories > 0 && ctx.StoriesCompleted == ctx.TotalStories
}

// midEpicBoundaryReached rounds the epic's midpoint to the nearest whole
// story and fires exactly there; a completion-ratio window would be
// unreachable for many odd total_stories counts. Epics with fewer than
// two stories have no meaningful midpoint and never trigger a mid-epic
// retrospective.
func midEpicBoundaryReached(ctx model.TriggerContext) bool {
	if ctx.TotalStories < 2 {
		return false
	}
	mid := (ctx.TotalStories + 1) / 2 // round-half-up
	return ctx.StoriesCompleted == mid
}
