package temporal

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/kbadmin/internal/metasync"
	"github.com/efebarandurmaz/kbadmin/internal/reconcile"
	"github.com/efebarandurmaz/kbadmin/internal/store"
)

// PlanResult is the serializable output of PlanActivity. The plan travels
// as JSON so numeric field values keep their integer type on the way to
// ApplyActivity.
type PlanResult struct {
	Destination string
	Key         []string
	Copy        []string
	Summary     reconcile.Summary
	Skipped     []reconcile.Skip
	PlanJSON    string
}

// Plan decodes the carried plan.
func (r PlanResult) Plan() (reconcile.UpdatePlan, error) {
	return reconcile.DecodePlan(r.PlanJSON)
}

// ApplyInput is the input of ApplyActivity.
type ApplyInput struct {
	RunID      string
	Collection string
	PlanJSON   string
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Service *metasync.Service
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

// PlanActivity normalizes the request and computes its update plan.
func PlanActivity(ctx context.Context, req metasync.Request) (PlanResult, error) {
	if deps == nil || deps.Service == nil {
		return PlanResult{}, temporal.NewNonRetryableApplicationError("activity dependencies not set", "Configuration", nil)
	}

	req, err := deps.Service.Normalize(req)
	if err != nil {
		return PlanResult{}, classify(err)
	}
	result, fields, err := deps.Service.PlanFields(ctx, req)
	if err != nil {
		return PlanResult{}, classify(err)
	}

	planJSON, err := reconcile.EncodePlan(result.Plan)
	if err != nil {
		return PlanResult{}, err
	}

	activity.GetLogger(ctx).Info("Plan computed",
		"source", req.Source, "destination", req.Destination, "planned", len(result.Plan))

	return PlanResult{
		Destination: req.Destination,
		Key:         req.Key,
		Copy:        fields,
		Summary:     result.Summary,
		Skipped:     result.Skipped,
		PlanJSON:    planJSON,
	}, nil
}

// ApplyActivity writes a plan produced by PlanActivity. Writes set
// absolute values, so a retried attempt converges to the same state.
func ApplyActivity(ctx context.Context, in ApplyInput) (int, error) {
	if deps == nil || deps.Service == nil {
		return 0, temporal.NewNonRetryableApplicationError("activity dependencies not set", "Configuration", nil)
	}

	plan, err := reconcile.DecodePlan(in.PlanJSON)
	if err != nil {
		return 0, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidPlan", err)
	}
	return deps.Service.ApplyRun(ctx, in.RunID, in.Collection, plan)
}

// classify marks errors that a retry cannot fix as non-retryable.
func classify(err error) error {
	switch {
	case errors.Is(err, metasync.ErrInvalidRequest):
		return temporal.NewNonRetryableApplicationError(err.Error(), "InvalidRequest", err)
	case errors.Is(err, reconcile.ErrInvalidSpecification):
		return temporal.NewNonRetryableApplicationError(err.Error(), "InvalidSpecification", err)
	case errors.Is(err, store.ErrCollectionNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), "CollectionNotFound", err)
	default:
		return err
	}
}
