package workflow

import (
	"fmt"

	"github.com/gao-dev/gaodev/internal/model"
)

// LearningTopK is the number of top-scored learnings WorkflowSelector
// inspects for plan adjustments.
const LearningTopK = 5

// MaxAdjustmentDepth bounds the cause-chain length of learning-driven
// adjustments (learning -> adjustment -> learning-triggered adjustment ->
// ...) so a dense learnings index can never produce a runaway plan.
const MaxAdjustmentDepth = 3

// Request is WorkflowSelector's input: the scale level plus whatever
// context a ceremony-injection rule needs, and the already-scored top-K
// learnings the caller (the Orchestrator, backed by LearningService)
// selected for this epic.
type Request struct {
	EpicNum         int
	ScaleLevel      int
	RequestPlanning bool
	Learnings       []model.Learning
}

type stepBuilder struct {
	steps []model.WorkflowStep
	depth []int // cause-chain depth per step index, for the adjustment cap
}

func (b *stepBuilder) add(step model.WorkflowStep, depth int) int {
	b.steps = append(b.steps, step)
	b.depth = append(b.depth, depth)
	return len(b.steps) - 1
}

// baseStep is a (name, phase) pair in a scale's base sequence before any
// ceremony injection or learning adjustment runs.
type baseStep struct {
	name  string
	phase string
}

func baseSequence(scaleLevel int) []baseStep {
	switch scaleLevel {
	case 0:
		return []baseStep{{"implement-chore", "implementation"}, {"commit", "implementation"}}
	case 1:
		return []baseStep{{"reproduce-bug", "analysis"}, {"fix", "implementation"}, {"test", "implementation"}}
	case 2:
		return []baseStep{
			{"draft-prd", "planning"}, {"create-stories", "planning"},
			{"implement-stories", "implementation"}, {"test-feature", "implementation"},
		}
	case 3:
		return []baseStep{
			{"draft-prd", "planning"}, {"draft-architecture", "solutioning"}, {"create-epics", "solutioning"},
			{"create-stories", "planning"}, {"implement-stories", "implementation"}, {"test-feature", "implementation"},
		}
	default: // scale 4
		return []baseStep{
			{"elicit-vision", "analysis"}, {"draft-prd", "planning"}, {"draft-architecture", "solutioning"},
			{"create-epics", "solutioning"}, {"create-stories", "planning"},
			{"implement-stories", "implementation"}, {"integration-test", "implementation"},
		}
	}
}

// BuildPlan selects and assembles an ordered, acyclic Plan for a work
// request: the scale's base sequence, ceremonies injected at the usual
// planning/standup/retrospective transitions, and learning-driven
// adjustments from the request's already-scored top learnings.
func BuildPlan(req Request) (model.Plan, error) {
	b := &stepBuilder{}
	base := baseSequence(req.ScaleLevel)

	for _, bs := range base {
		idx := b.add(model.WorkflowStep{Name: bs.name, Phase: bs.phase, Required: true, Metadata: map[string]string{}}, 0)

		switch bs.name {
		case "draft-prd", "create-epics":
			if req.ScaleLevel >= 3 || (req.ScaleLevel == 2 && req.RequestPlanning) {
				b.add(model.WorkflowStep{
					Name: "ceremony-planning", Phase: "planning", Required: true,
					DependsOn: []int{idx}, Ceremony: model.CeremonyPlanning, Metadata: map[string]string{},
				}, 0)
			}
		case "implement-stories":
			b.add(model.WorkflowStep{
				Name: "ceremony-standup", Phase: "implementation", Required: false,
				DependsOn: []int{idx}, Ceremony: model.CeremonyStandup, Metadata: map[string]string{},
			}, 0)
		case "test-feature", "integration-test":
			b.add(model.WorkflowStep{
				Name: "ceremony-retrospective", Phase: "retrospective", Required: req.ScaleLevel >= 2,
				DependsOn: []int{idx}, Ceremony: model.CeremonyRetrospective, Metadata: map[string]string{},
			}, 0)
		}
	}

	applyLearningAdjustments(b, req)

	plan := model.Plan{EpicNum: req.EpicNum, ScaleLevel: req.ScaleLevel, Steps: b.steps}
	if err := ValidateDAG(plan); err != nil {
		return model.Plan{}, err
	}
	return plan, nil
}

// applyLearningAdjustments inspects up to LearningTopK learnings and
// mutates the in-progress plan per the per-category rules below,
// refusing any adjustment whose cause-chain depth would exceed
// MaxAdjustmentDepth.
func applyLearningAdjustments(b *stepBuilder, req Request) {
	n := len(req.Learnings)
	if n > LearningTopK {
		n = LearningTopK
	}

	implementIdx := indexOf(b.steps, "implement-stories")

	for _, l := range req.Learnings[:n] {
		switch l.Category {
		case model.CategoryQuality:
			if idx := lastIndexOf(b.steps, "test-feature"); idx >= 0 {
				if b.depth[idx]+1 > MaxAdjustmentDepth {
					continue
				}
				b.steps[idx].Metadata["quality_gate_strengthened"] = "true"
			} else {
				b.add(model.WorkflowStep{Name: "test-feature", Phase: "implementation", Required: true, Metadata: map[string]string{"inserted_by": "learning:quality"}}, 1)
			}
		case model.CategoryProcess:
			for i := range b.steps {
				if b.steps[i].Ceremony == model.CeremonyStandup {
					if b.depth[i]+1 > MaxAdjustmentDepth {
						continue
					}
					b.steps[i].Metadata["standup_interval_halved"] = "true"
				}
			}
		case model.CategoryArchitectural:
			if implementIdx >= 0 {
				if b.depth[implementIdx]+1 > MaxAdjustmentDepth {
					continue
				}
				deps := append([]int(nil), b.steps[implementIdx].DependsOn...)
				newIdx := b.add(model.WorkflowStep{
					Name: "design-review", Phase: "solutioning", Required: false,
					DependsOn: deps, Metadata: map[string]string{"inserted_by": "learning:architectural"},
				}, b.depth[implementIdx]+1)
				b.steps[implementIdx].DependsOn = append(b.steps[implementIdx].DependsOn, newIdx)
			}
		case model.CategoryOperational:
			for i := range b.steps {
				b.steps[i].Metadata["operational_guardrails"] = "true"
			}
		}
	}
}

func indexOf(steps []model.WorkflowStep, name string) int {
	for i, s := range steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func lastIndexOf(steps []model.WorkflowStep, name string) int {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Name == name {
			return i
		}
	}
	return -1
}

// ValidateDAG walks the plan's DependsOn edges and reports
// model.ErrPlanCycle if they form a cycle. This is the "arena + index"
// linear pass from the design notes: steps are a flat array, edges are
// integer indices, so cycle detection never needs pointer-chasing.
func ValidateDAG(plan model.Plan) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(plan.Steps))

	var visit func(i int) error
	visit = func(i int) error {
		if i < 0 || i >= len(plan.Steps) {
			return model.DataInvariant("E011", fmt.Sprintf("workflow step depends on out-of-range index %d", i), nil)
		}
		switch color[i] {
		case black:
			return nil
		case gray:
			return model.ErrPlanCycle
		}
		color[i] = gray
		for _, dep := range plan.Steps[i].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[i] = black
		return nil
	}

	for i := range plan.Steps {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}
