package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/efebarandurmaz/kbadmin/internal/metasync"
)

// ReconcileInput holds the workflow parameters.
type ReconcileInput struct {
	Request metasync.Request
}

// ReconcileWorkflow plans a reconciliation in one activity and applies it
// in a second one. Dry runs and empty plans stop after planning.
func ReconcileWorkflow(ctx workflow.Context, input ReconcileInput) (*metasync.Report, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	req := input.Request
	if req.RunID == "" {
		req.RunID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}

	report := &metasync.Report{
		RunID:       req.RunID,
		Source:      req.Source,
		Destination: req.Destination,
		DryRun:      req.DryRun,
		StartedAt:   workflow.Now(ctx).UTC(),
	}

	// Step 1: plan
	var planned PlanResult
	if err := workflow.ExecuteActivity(ctx, PlanActivity, req).Get(ctx, &planned); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	plan, err := planned.Plan()
	if err != nil {
		return nil, err
	}

	report.Key = planned.Key
	report.Copy = planned.Copy
	report.Summary = planned.Summary
	report.Skipped = planned.Skipped
	report.Plan = plan
	report.Planned = len(plan)
	report.PlannedFields = plan.FieldCount()
	logger.Info("Reconciliation planned", "run_id", req.RunID, "planned", report.Planned)

	// Step 2: apply
	if !req.DryRun && len(plan) > 0 {
		applyStart := workflow.Now(ctx)
		in := ApplyInput{RunID: req.RunID, Collection: planned.Destination, PlanJSON: planned.PlanJSON}
		if err := workflow.ExecuteActivity(ctx, ApplyActivity, in).Get(ctx, &report.Written); err != nil {
			return nil, fmt.Errorf("apply: %w", err)
		}
		report.ApplyMS = workflow.Now(ctx).Sub(applyStart).Milliseconds()
	}

	report.FinishedAt = workflow.Now(ctx).UTC()
	return report, nil
}
