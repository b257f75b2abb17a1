// Package metasync plans and applies metadata reconciliation between two
// collections of a document store.
package metasync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/kbadmin/internal/observability"
	"github.com/efebarandurmaz/kbadmin/internal/reconcile"
	"github.com/efebarandurmaz/kbadmin/internal/store"
)

// ErrInvalidRequest is returned when a request names no source or
// destination collection.
var ErrInvalidRequest = errors.New("invalid reconcile request")

// Request describes one reconciliation.
type Request struct {
	Source      string   `json:"source_collection"`
	Destination string   `json:"dest_collection"`
	Key         []string `json:"key,omitempty"`
	Copy        []string `json:"copy,omitempty"`
	// CopyAll copies every metadata field found on the source records.
	CopyAll bool `json:"copy_all,omitempty"`
	DryRun  bool `json:"dry_run,omitempty"`
	// RunID names the run in reports and the audit log. Run generates
	// one when empty.
	RunID string `json:"run_id,omitempty"`
}

// Defaults fill in a request's key and copy fields when it leaves them out.
type Defaults struct {
	Key  []string
	Copy []string
}

// Report is the outcome of Run.
type Report struct {
	RunID         string               `json:"run_id"`
	Source        string               `json:"source_collection"`
	Destination   string               `json:"dest_collection"`
	Key           []string             `json:"key"`
	Copy          []string             `json:"copy"`
	DryRun        bool                 `json:"dry_run"`
	Summary       reconcile.Summary    `json:"summary"`
	Skipped       []reconcile.Skip     `json:"skipped,omitempty"`
	Plan          reconcile.UpdatePlan `json:"plan,omitempty"`
	Planned       int                  `json:"planned"`
	PlannedFields int                  `json:"planned_fields"`
	Written       int                  `json:"written"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
	PlanMS        int64                `json:"plan_ms"`
	ApplyMS       int64                `json:"apply_ms"`
	Error         string               `json:"error,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records run metrics on m.
func WithMetrics(m *observability.KBMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit appends every write to the audit log.
func WithAudit(a *observability.AuditLogger) Option {
	return func(s *Service) { s.audit = a }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service runs reconciliations against a store.
type Service struct {
	store    store.Store
	defaults Defaults
	metrics  *observability.KBMetrics
	audit    *observability.AuditLogger
	logger   *slog.Logger
	lockDir  string
	now      func() time.Time
}

// New creates a Service over st.
func New(st store.Store, defaults Defaults, opts ...Option) *Service {
	s := &Service{
		store:    st,
		defaults: defaults,
		metrics:  observability.Metrics(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() store.Store {
	return s.store
}

// Normalize validates req and fills in defaults. Field names are trimmed
// and empty names dropped.
func (s *Service) Normalize(req Request) (Request, error) {
	req.RunID = strings.TrimSpace(req.RunID)
	req.Source = strings.TrimSpace(req.Source)
	req.Destination = strings.TrimSpace(req.Destination)
	if req.Source == "" || req.Destination == "" {
		return req, fmt.Errorf("%w: source and destination collections are required", ErrInvalidRequest)
	}
	req.Key = cleanFields(req.Key)
	if len(req.Key) == 0 {
		req.Key = cleanFields(s.defaults.Key)
	}
	req.Copy = cleanFields(req.Copy)
	if len(req.Copy) == 0 && !req.CopyAll {
		req.Copy = cleanFields(s.defaults.Copy)
	}
	return req, nil
}

// Plan fetches both collections and computes the update plan. When
// req.CopyAll is set, req.Copy is replaced by every source field.
func (s *Service) Plan(ctx context.Context, req Request) (*reconcile.Result, error) {
	req, err := s.Normalize(req)
	if err != nil {
		return nil, err
	}
	result, _, err := s.plan(ctx, req)
	return result, err
}

// PlanFields is Plan that also returns the effective copy fields, which
// differ from req.Copy when req.CopyAll is set.
func (s *Service) PlanFields(ctx context.Context, req Request) (*reconcile.Result, []string, error) {
	req, err := s.Normalize(req)
	if err != nil {
		return nil, nil, err
	}
	result, fields, err := s.plan(ctx, req)
	return result, []string(fields), err
}

func (s *Service) plan(ctx context.Context, req Request) (*reconcile.Result, reconcile.CopySpec, error) {
	ctx, span := observability.StartReconcileSpan(ctx, req.Source, req.Destination, req.Key)
	defer span.End()

	srcDocs, err := s.store.ListDocuments(ctx, req.Source)
	if err != nil {
		observability.RecordError(span, err)
		return nil, nil, fmt.Errorf("loading source %s: %w", req.Source, err)
	}
	dstDocs, err := s.store.ListDocuments(ctx, req.Destination)
	if err != nil {
		observability.RecordError(span, err)
		return nil, nil, fmt.Errorf("loading destination %s: %w", req.Destination, err)
	}

	source := store.Records(srcDocs)
	destination := store.Records(dstDocs)

	fields := reconcile.CopySpec(req.Copy)
	if req.CopyAll {
		fields = reconcile.AllFields(source)
	}
	if len(fields) == 0 {
		s.logger.Warn("No fields to copy; plan will be empty",
			"source", req.Source, "destination", req.Destination)
	}

	result, err := reconcile.Reconcile(source, destination, reconcile.KeySpec(req.Key), fields)
	if err != nil {
		observability.RecordError(span, err)
		return nil, nil, err
	}

	sum := result.Summary
	observability.RecordReconcileSummary(span, sum.Matched, sum.Unchanged, sum.Skipped(), len(result.Plan))
	if s.metrics != nil {
		s.metrics.RecordPlan(sum.Matched, sum.Unchanged, sum.SkippedMissingKey, sum.SkippedNoMatch, sum.SkippedAmbiguous)
	}
	s.logger.Info("Planned reconciliation",
		"source", req.Source,
		"destination", req.Destination,
		"source_records", len(source),
		"destination_records", len(destination),
		"matched", sum.Matched,
		"unchanged", sum.Unchanged,
		"skipped", sum.Skipped(),
		"planned", len(result.Plan))

	return result, fields, nil
}

// Apply writes plan to collection and returns the number of documents
// updated.
func (s *Service) Apply(ctx context.Context, collection string, plan reconcile.UpdatePlan) (int, error) {
	return s.apply(ctx, "", collection, plan)
}

// ApplyRun is Apply with audit events attributed to runID.
func (s *Service) ApplyRun(ctx context.Context, runID, collection string, plan reconcile.UpdatePlan) (int, error) {
	return s.apply(ctx, runID, collection, plan)
}

func (s *Service) apply(ctx context.Context, runID, collection string, plan reconcile.UpdatePlan) (int, error) {
	if len(plan) == 0 {
		return 0, nil
	}
	ctx, span := observability.StartApplySpan(ctx, collection, len(plan))
	defer span.End()

	release, err := s.lockCollection(collection)
	defer release()
	if err != nil {
		observability.RecordError(span, err)
		return 0, err
	}

	start := s.now()
	ids, err := s.store.ApplyUpdates(ctx, collection, plan)
	elapsed := s.now().Sub(start)
	written := len(ids)

	fields := 0
	for _, id := range ids {
		fields += len(plan[id])
		s.audit.LogDocument(runID, collection, id, plan[id])
	}
	if s.metrics != nil {
		s.metrics.RecordApply(elapsed, written, fields)
	}

	if err != nil {
		observability.RecordError(span, err)
		s.logger.Warn("Apply stopped partway",
			"collection", collection,
			"planned", len(plan),
			"written", written,
			"error", err)
		return written, fmt.Errorf("applying updates to %s: %w", collection, err)
	}
	observability.RecordApplyResult(span, written)
	s.audit.LogApply(runID, collection, written, elapsed)

	s.logger.Info("Applied reconciliation plan",
		"collection", collection,
		"planned", len(plan),
		"written", written,
		"duration", elapsed)
	return written, nil
}

// Run plans a reconciliation and applies it unless req.DryRun is set.
// Skipped records never fail a run; an invalid key specification or a
// store error does. The returned report is non-nil whenever the request
// was valid, even on error.
func (s *Service) Run(ctx context.Context, req Request) (*Report, error) {
	req, err := s.Normalize(req)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ActiveRuns.Inc()
		defer s.metrics.ActiveRuns.Dec()
	}

	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	report := &Report{
		RunID:       req.RunID,
		Source:      req.Source,
		Destination: req.Destination,
		Key:         req.Key,
		Copy:        req.Copy,
		DryRun:      req.DryRun,
		StartedAt:   s.now().UTC(),
	}

	err = s.run(ctx, req, report)
	report.FinishedAt = s.now().UTC()
	if err != nil {
		report.Error = err.Error()
		s.audit.LogError(report.RunID, req.Source, req.Destination, err)
		s.logger.Error("Reconciliation failed", "run_id", report.RunID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordRun(report.FinishedAt.Sub(report.StartedAt), req.DryRun, err)
	}
	return report, err
}

func (s *Service) run(ctx context.Context, req Request, report *Report) error {
	planStart := s.now()
	result, fields, err := s.plan(ctx, req)
	report.PlanMS = s.now().Sub(planStart).Milliseconds()
	if err != nil {
		return err
	}

	report.Copy = []string(fields)
	report.Summary = result.Summary
	report.Skipped = result.Skipped
	report.Plan = result.Plan
	report.Planned = len(result.Plan)
	report.PlannedFields = result.Plan.FieldCount()
	s.audit.LogPlan(report.RunID, req.Source, req.Destination, req.Key, report.Planned, result.Summary.Skipped())

	if req.DryRun {
		return nil
	}

	applyStart := s.now()
	written, err := s.apply(ctx, report.RunID, req.Destination, result.Plan)
	report.ApplyMS = s.now().Sub(applyStart).Milliseconds()
	report.Written = written
	return err
}

func cleanFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
