package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/efebarandurmaz/kbadmin/internal/knowledge"
	"github.com/efebarandurmaz/kbadmin/internal/metasync"
	"github.com/efebarandurmaz/kbadmin/internal/reconcile"
	"github.com/efebarandurmaz/kbadmin/internal/store"
)

// previewDims is how many embedding dimensions Dump prints.
const previewDims = 10

// Run writes the summary of a reconciliation run, followed by its skipped
// records and, for dry runs, the planned updates.
func Run(w io.Writer, r *metasync.Report) {
	mode := "applied"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "Run %s (%s): %s -> %s\n", r.RunID, mode, r.Source, r.Destination)
	fmt.Fprintf(w, "Key: %s  Copy: %s\n", strings.Join(r.Key, ","), joinOrDash(r.Copy))

	rows := [][]string{
		{"matched", strconv.Itoa(r.Summary.Matched)},
		{"unchanged", strconv.Itoa(r.Summary.Unchanged)},
		{"skipped (missing key)", strconv.Itoa(r.Summary.SkippedMissingKey)},
		{"skipped (no match)", strconv.Itoa(r.Summary.SkippedNoMatch)},
		{"skipped (ambiguous)", strconv.Itoa(r.Summary.SkippedAmbiguous)},
		{"planned documents", strconv.Itoa(r.Planned)},
		{"planned fields", strconv.Itoa(r.PlannedFields)},
		{"written", strconv.Itoa(r.Written)},
	}
	fmt.Fprintln(w, renderTable([]string{"Outcome", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(r.Skipped) > 0 {
		fmt.Fprintln(w, Skips(r.Skipped))
	}
	if r.DryRun && len(r.Plan) > 0 {
		fmt.Fprintln(w, Plan(r.Plan))
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
}

// Skips renders skipped records, destination side first.
func Skips(skips []reconcile.Skip) string {
	rows := make([][]string, 0, len(skips))
	for _, side := range []reconcile.Side{reconcile.SideDestination, reconcile.SideSource} {
		for _, s := range skips {
			if s.Side == side {
				rows = append(rows, []string{string(s.Side), s.ID, string(s.Reason)})
			}
		}
	}
	return renderTable([]string{"Side", "ID", "Reason"}, rows, nil)
}

// Plan renders one row per planned field write, ordered by document id
// then field name.
func Plan(plan reconcile.UpdatePlan) string {
	var rows [][]string
	for _, id := range plan.IDs() {
		fields := plan[id]
		for _, name := range sortedFieldNames(fields) {
			rows = append(rows, []string{id, name, formatValue(fields[name])})
		}
	}
	return renderTable([]string{"Document", "Field", "New value"}, rows, nil)
}

// Collections renders collection names with document counts.
func Collections(cols []store.CollectionInfo) string {
	rows := make([][]string, 0, len(cols))
	for _, c := range cols {
		rows = append(rows, []string{c.Name, strconv.Itoa(c.Count), formatValue(c.Metadata)})
	}
	return renderTable([]string{"Collection", "Documents", "Metadata"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft})
}

// KnowledgeBases renders the knowledge table.
func KnowledgeBases(kbs []knowledge.KnowledgeBase) string {
	rows := make([][]string, 0, len(kbs))
	for _, kb := range kbs {
		rows = append(rows, []string{kb.ID, kb.Name, kb.Description, kb.UserID, strconv.Itoa(kb.FileCount)})
	}
	return renderTable([]string{"ID", "Name", "Description", "User", "Files"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
}

// KnowledgeBase renders every column of one knowledge base followed by
// its related collections.
func KnowledgeBase(kb *knowledge.KnowledgeBase, related []store.CollectionInfo) string {
	rows := make([][]string, 0, len(kb.Columns))
	for _, name := range sortedFieldNames(kb.Columns) {
		rows = append(rows, []string{name, formatValue(kb.Columns[name])})
	}
	var b strings.Builder
	b.WriteString(renderTable([]string{"Column", "Value"}, rows, nil))
	b.WriteString("\n")
	if len(related) == 0 {
		b.WriteString("No related collections.")
		return b.String()
	}
	b.WriteString(Collections(related))
	return b.String()
}

// Dump writes the raw contents of a collection: ids, an embedding
// preview, metadata and document text, each section as indented JSON.
func Dump(w io.Writer, collection string, docs []store.Document) error {
	ids := make([]string, len(docs))
	metadatas := make([]map[string]any, len(docs))
	documents := make([]string, len(docs))
	var embeddings [][]float32
	for i, d := range docs {
		ids[i] = d.ID
		metadatas[i] = d.Metadata
		documents[i] = d.Content
		if len(d.Vector) > 0 {
			embeddings = append(embeddings, d.Vector)
		}
	}

	fmt.Fprintf(w, "Collection Data: %s\n", collection)
	fmt.Fprintln(w, strings.Repeat("=", 50))

	if err := writeSection(w, "IDs", ids); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nEmbeddings:")
	if len(embeddings) == 0 {
		fmt.Fprintln(w, "No embeddings found.")
	} else {
		fmt.Fprintf(w, "Number of embeddings: %d\n", len(embeddings))
		first := embeddings[0]
		preview := make([]any, 0, previewDims+1)
		for i := 0; i < len(first) && i < previewDims; i++ {
			preview = append(preview, first[i])
		}
		if len(first) > previewDims {
			preview = append(preview, "...")
		}
		if err := writeSection(w, "First embedding", preview); err != nil {
			return err
		}
	}

	if err := writeSection(w, "\nMetadata", metadatas); err != nil {
		return err
	}
	return writeSection(w, "\nDocuments", documents)
}

func writeSection(w io.Writer, title string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", strings.TrimSpace(title), err)
	}
	_, err = fmt.Fprintf(w, "%s:\n%s\n", title, data)
	return err
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any:
		if len(x) == 0 {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func sortedFieldNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func joinOrDash(fields []string) string {
	if len(fields) == 0 {
		return "-"
	}
	return strings.Join(fields, ",")
}
