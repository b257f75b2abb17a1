package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// DefaultTaskQueue is the task queue used when none is configured.
const DefaultTaskQueue = "kbadmin-reconcile"

// StartWorker creates and starts a Temporal worker.
func StartWorker(c client.Client, taskQueue string) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(ReconcileWorkflow)
	w.RegisterActivity(PlanActivity)
	w.RegisterActivity(ApplyActivity)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}
