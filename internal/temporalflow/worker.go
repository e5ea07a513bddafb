package temporalflow

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// NewWorker builds a Temporal worker for the gao-dev task queue with the
// plan workflow and every activity registered. The caller owns the
// worker's lifecycle: Start it before executing RunPlanWorkflow and Stop
// it when the run finishes (a long-lived deployment runs it under
// worker.InterruptCh instead).
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(RunPlanWorkflow)

	w.RegisterActivity(acts.BuildPlanActivity)
	w.RegisterActivity(acts.ExecuteStepActivity)
	w.RegisterActivity(acts.HoldCeremonyActivity)
	w.RegisterActivity(acts.RecordStepOutcomeActivity)

	return w
}
