package temporalflow

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/gao-dev/gaodev/internal/model"
)

func TestRunPlanWorkflowScale0CompletesAndRecords(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	req := PlanRequest{Project: "demo", EpicNum: 1, ScaleLevel: 0, FeatureName: "bugfix"}
	plan := model.Plan{EpicNum: 1, ScaleLevel: 0, Steps: []model.WorkflowStep{
		{Name: "implement-chore", Phase: "implementation", Required: true},
		{Name: "commit", Phase: "implementation", Required: true},
	}}

	env.OnActivity(a.BuildPlanActivity, mock.Anything, req).Return(plan, nil)
	env.OnActivity(a.ExecuteStepActivity, mock.Anything, mock.Anything).Return(StepActivityResult{Outcome: model.OutcomeSuccess}, nil)
	env.OnActivity(a.RecordStepOutcomeActivity, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(RunPlanWorkflow, req)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result PlanResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.False(t, result.Aborted)
	require.Len(t, result.Steps, 2)
}

func TestRunPlanWorkflowAbortsOnFailedRequiredStep(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	req := PlanRequest{Project: "demo", EpicNum: 1, ScaleLevel: 0, FeatureName: "bugfix"}
	plan := model.Plan{EpicNum: 1, ScaleLevel: 0, Steps: []model.WorkflowStep{
		{Name: "implement-chore", Phase: "implementation", Required: true},
		{Name: "commit", Phase: "implementation", Required: true},
	}}

	env.OnActivity(a.BuildPlanActivity, mock.Anything, req).Return(plan, nil)
	env.OnActivity(a.ExecuteStepActivity, mock.Anything, mock.Anything).Return(StepActivityResult{Outcome: model.OutcomeFailed, Abort: true}, nil)
	env.OnActivity(a.RecordStepOutcomeActivity, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(RunPlanWorkflow, req)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result PlanResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Aborted)
	require.Equal(t, "implement-chore", result.AbortedAt)
	require.Len(t, result.Steps, 1)
}

func TestRunPlanWorkflowDelegatesCeremonySteps(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	req := PlanRequest{Project: "demo", EpicNum: 1, ScaleLevel: 3, FeatureName: "checkout"}
	plan := model.Plan{EpicNum: 1, ScaleLevel: 3, Steps: []model.WorkflowStep{
		{Name: "draft-prd", Phase: "planning", Required: true},
		{Name: "ceremony-planning", Phase: "planning", Required: true, Ceremony: model.CeremonyPlanning},
	}}

	env.OnActivity(a.BuildPlanActivity, mock.Anything, req).Return(plan, nil)
	env.OnActivity(a.ExecuteStepActivity, mock.Anything, mock.Anything).Return(StepActivityResult{Outcome: model.OutcomeSuccess}, nil)
	env.OnActivity(a.HoldCeremonyActivity, mock.Anything, mock.Anything).Return(CeremonyActivityResult{Outcome: model.OutcomeSuccess}, nil)
	env.OnActivity(a.RecordStepOutcomeActivity, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(RunPlanWorkflow, req)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}
