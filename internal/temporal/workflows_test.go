package temporal

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/efebarandurmaz/kbadmin/internal/metasync"
	"github.com/efebarandurmaz/kbadmin/internal/observability"
	"github.com/efebarandurmaz/kbadmin/internal/store"
)

func setupDeps(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	m.Put("src",
		store.Document{ID: "s1", Metadata: map[string]any{"name": "a", "start_index": 0, "author": "alice", "year": 2020}},
	)
	m.Put("dst",
		store.Document{ID: "d1", Metadata: map[string]any{"name": "a", "start_index": 0, "author": "unknown"}},
		store.Document{ID: "d2", Metadata: map[string]any{"name": "b", "start_index": 0}},
	)
	svc := metasync.New(m,
		metasync.Defaults{Key: []string{"name", "start_index"}, Copy: []string{"author"}},
		metasync.WithMetrics(observability.NewKBMetrics()),
		metasync.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	SetDependencies(&Dependencies{Service: svc})
	t.Cleanup(func() { SetDependencies(nil) })
	return m
}

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ReconcileWorkflow)
	env.RegisterActivity(PlanActivity)
	env.RegisterActivity(ApplyActivity)
	return env
}

func TestReconcileWorkflow_Applies(t *testing.T) {
	m := setupDeps(t)
	env := newEnv(t)

	env.ExecuteWorkflow(ReconcileWorkflow, ReconcileInput{Request: metasync.Request{Source: "src", Destination: "dst", RunID: "run-1"}})
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}

	var report metasync.Report
	if err := env.GetWorkflowResult(&report); err != nil {
		t.Fatalf("result: %v", err)
	}
	if report.RunID != "run-1" {
		t.Errorf("expected run id run-1, got %s", report.RunID)
	}
	if report.Planned != 1 || report.Written != 1 {
		t.Errorf("expected 1 planned and 1 written, got %d/%d", report.Planned, report.Written)
	}
	if report.Summary.Matched != 1 || report.Summary.SkippedNoMatch != 1 {
		t.Errorf("unexpected summary: %+v", report.Summary)
	}
	if d, _ := m.Get("dst", "d1"); d.Metadata["author"] != "alice" {
		t.Errorf("expected author alice, got %v", d.Metadata["author"])
	}
}

func TestReconcileWorkflow_DryRunSkipsApply(t *testing.T) {
	m := setupDeps(t)
	env := newEnv(t)

	env.ExecuteWorkflow(ReconcileWorkflow, ReconcileInput{Request: metasync.Request{Source: "src", Destination: "dst", DryRun: true}})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}

	var report metasync.Report
	if err := env.GetWorkflowResult(&report); err != nil {
		t.Fatalf("result: %v", err)
	}
	if report.RunID == "" {
		t.Error("expected run id from workflow id")
	}
	if report.Planned != 1 || report.Written != 0 {
		t.Errorf("expected 1 planned and 0 written, got %d/%d", report.Planned, report.Written)
	}
	if d, _ := m.Get("dst", "d1"); d.Metadata["author"] != "unknown" {
		t.Errorf("dry run wrote: %v", d.Metadata)
	}
}

func TestReconcileWorkflow_CopyAllKeepsIntegers(t *testing.T) {
	m := setupDeps(t)
	env := newEnv(t)

	env.ExecuteWorkflow(ReconcileWorkflow, ReconcileInput{Request: metasync.Request{Source: "src", Destination: "dst", CopyAll: true}})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}

	d, _ := m.Get("dst", "d1")
	year, ok := d.Metadata["year"]
	if !ok {
		t.Fatalf("year not copied: %v", d.Metadata)
	}
	if s, ok := year.(interface{ String() string }); !ok || s.String() != "2020" {
		t.Errorf("expected integer 2020, got %#v", year)
	}
}

func TestReconcileWorkflow_MissingCollectionIsNonRetryable(t *testing.T) {
	setupDeps(t)
	env := newEnv(t)

	env.ExecuteWorkflow(ReconcileWorkflow, ReconcileInput{Request: metasync.Request{Source: "nope", Destination: "dst"}})
	err := env.GetWorkflowError()
	if err == nil {
		t.Fatal("expected workflow error")
	}
	appErr := findApplicationError(err, "CollectionNotFound")
	if appErr == nil {
		t.Fatalf("expected CollectionNotFound in error chain, got %v", err)
	}
	if !appErr.NonRetryable() {
		t.Error("expected non-retryable error")
	}
}

// findApplicationError walks the cause chain for an application error of
// the given type. Workflow failures wrap activity failures in further
// application errors.
func findApplicationError(err error, errType string) *temporal.ApplicationError {
	for err != nil {
		var appErr *temporal.ApplicationError
		if !errors.As(err, &appErr) {
			return nil
		}
		if appErr.Type() == errType {
			return appErr
		}
		err = appErr.Unwrap()
	}
	return nil
}

func TestPlanActivity_WithoutDependencies(t *testing.T) {
	SetDependencies(nil)
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(PlanActivity)

	_, err := env.ExecuteActivity(PlanActivity, metasync.Request{Source: "src", Destination: "dst"})
	if err == nil {
		t.Fatal("expected error without dependencies")
	}
}

func TestPlanActivity_InvalidRequest(t *testing.T) {
	setupDeps(t)
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(PlanActivity)

	_, err := env.ExecuteActivity(PlanActivity, metasync.Request{Source: "src"})
	if findApplicationError(err, "InvalidRequest") == nil {
		t.Fatalf("expected InvalidRequest application error, got %v", err)
	}
}

func TestApplyActivity(t *testing.T) {
	m := setupDeps(t)
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(ApplyActivity)

	val, err := env.ExecuteActivity(ApplyActivity, ApplyInput{
		RunID:      "r",
		Collection: "dst",
		PlanJSON:   `{"d2":{"author":"carol"},"missing":{"author":"x"}}`,
	})
	if err != nil {
		t.Fatalf("ApplyActivity failed: %v", err)
	}
	var written int
	if err := val.Get(&written); err != nil {
		t.Fatal(err)
	}
	if written != 1 {
		t.Errorf("expected 1 written, got %d", written)
	}
	if d, _ := m.Get("dst", "d2"); d.Metadata["author"] != "carol" {
		t.Errorf("expected carol, got %v", d.Metadata["author"])
	}
}

func TestApplyActivity_BadPlan(t *testing.T) {
	setupDeps(t)
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(ApplyActivity)

	_, err := env.ExecuteActivity(ApplyActivity, ApplyInput{Collection: "dst", PlanJSON: "{"})
	if findApplicationError(err, "InvalidPlan") == nil {
		t.Fatalf("expected InvalidPlan application error, got %v", err)
	}
}
