package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/efebarandurmaz/kbadmin/internal/knowledge"
	"github.com/efebarandurmaz/kbadmin/internal/metasync"
	"github.com/efebarandurmaz/kbadmin/internal/reconcile"
	"github.com/efebarandurmaz/kbadmin/internal/store"
)

func TestRun_DryRunIncludesPlan(t *testing.T) {
	r := &metasync.Report{
		RunID:       "run-1",
		Source:      "src",
		Destination: "dst",
		Key:         []string{"name", "start_index"},
		Copy:        []string{"author"},
		DryRun:      true,
		Summary:     reconcile.Summary{Matched: 1, SkippedNoMatch: 1},
		Skipped:     []reconcile.Skip{{ID: "d2", Side: reconcile.SideDestination, Reason: reconcile.ReasonNoMatch}},
		Plan:        reconcile.UpdatePlan{"d1": {"author": "alice"}},
		Planned:     1,
	}

	var buf bytes.Buffer
	Run(&buf, r)
	out := buf.String()

	for _, want := range []string{"run-1", "dry run", "src -> dst", "name,start_index", "no_match", "d2", "alice"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRun_AppliedOmitsPlan(t *testing.T) {
	r := &metasync.Report{
		RunID:   "run-2",
		Plan:    reconcile.UpdatePlan{"d1": {"author": "alice"}},
		Written: 1,
		Error:   "boom",
	}
	var buf bytes.Buffer
	Run(&buf, r)
	out := buf.String()
	if strings.Contains(out, "alice") {
		t.Errorf("applied run should not print the plan:\n%s", out)
	}
	if !strings.Contains(out, "Error: boom") {
		t.Errorf("expected error line:\n%s", out)
	}
	if !strings.Contains(out, "Copy: -") {
		t.Errorf("expected dash for empty copy:\n%s", out)
	}
}

func TestSkips_DestinationFirst(t *testing.T) {
	out := Skips([]reconcile.Skip{
		{ID: "s9", Side: reconcile.SideSource, Reason: reconcile.ReasonAmbiguous},
		{ID: "d1", Side: reconcile.SideDestination, Reason: reconcile.ReasonMissingKey},
	})
	if strings.Index(out, "d1") > strings.Index(out, "s9") {
		t.Errorf("expected destination skips first:\n%s", out)
	}
}

func TestPlan_Ordered(t *testing.T) {
	out := Plan(reconcile.UpdatePlan{
		"b": {"z": 1, "a": map[string]any{"k": "v"}},
		"a": {"x": "y"},
	})
	ia, ib := strings.Index(out, "│ a "), strings.Index(out, "│ b ")
	if ia < 0 || ib < 0 || ia > ib {
		t.Errorf("expected documents ordered by id:\n%s", out)
	}
	if !strings.Contains(out, `{"k":"v"}`) {
		t.Errorf("expected nested value as JSON:\n%s", out)
	}
}

func TestCollections(t *testing.T) {
	out := Collections([]store.CollectionInfo{
		{Collection: store.Collection{Name: "kb-1"}, Count: 12},
		{Collection: store.Collection{Name: "kb-2", Metadata: map[string]any{"hnsw:space": "cosine"}}, Count: 0},
	})
	for _, want := range []string{"kb-1", "12", "cosine"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestKnowledgeBase(t *testing.T) {
	kb := &knowledge.KnowledgeBase{
		ID:      "kb-1",
		Columns: map[string]any{"id": "kb-1", "name": "Docs", "created_at": int64(1700000000)},
	}
	out := KnowledgeBase(kb, nil)
	if !strings.Contains(out, "No related collections.") || !strings.Contains(out, "1700000000") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out = KnowledgeBases([]knowledge.KnowledgeBase{{ID: "kb-1", Name: "Docs", FileCount: 3}})
	if !strings.Contains(out, "Docs") || !strings.Contains(out, "3") {
		t.Errorf("unexpected list output:\n%s", out)
	}
}

func TestDump(t *testing.T) {
	vec := make([]float32, 12)
	for i := range vec {
		vec[i] = float32(i)
	}
	docs := []store.Document{
		{ID: "a", Content: "first", Vector: vec, Metadata: map[string]any{"name": "x"}},
		{ID: "b", Content: "second", Metadata: map[string]any{"name": "y"}},
	}

	var buf bytes.Buffer
	if err := Dump(&buf, "kb", docs); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Collection Data: kb", "IDs:", "Number of embeddings: 1", `"..."`, "Metadata:", `"second"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in dump:\n%s", want, out)
		}
	}
	if strings.Contains(out, "  10,") {
		t.Errorf("preview should stop at %d dimensions:\n%s", previewDims, out)
	}
}

func TestDump_NoEmbeddings(t *testing.T) {
	var buf bytes.Buffer
	if err := Dump(&buf, "kb", []store.Document{{ID: "a"}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No embeddings found.") {
		t.Errorf("expected no-embeddings message:\n%s", buf.String())
	}
}

func TestSetASCII(t *testing.T) {
	defer SetASCII(false)

	rounded := renderTable([]string{"A"}, [][]string{{"x"}}, nil)
	if !strings.Contains(rounded, "╭") {
		t.Errorf("expected rounded borders by default:\n%s", rounded)
	}

	SetASCII(true)
	plain := renderTable([]string{"A"}, [][]string{{"x"}}, nil)
	if strings.ContainsAny(plain, "╭│") || !strings.Contains(plain, "+") {
		t.Errorf("expected ASCII borders:\n%s", plain)
	}
}

func TestIsTerminal_Buffer(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}
}
