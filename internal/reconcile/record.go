// Package reconcile matches records between two collections on a composite
// key and plans the field copies that bring destination records in line with
// their source counterparts.
package reconcile

import (
	"sort"
	"strings"
)

// Record is an immutable snapshot of one stored document: an opaque
// identifier plus its metadata fields. Field values are JSON-compatible.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Has reports whether the record carries the named field. A field holding
// nil is present.
func (r Record) Has(field string) bool {
	_, ok := r.Fields[field]
	return ok
}

// Get returns the value of field and whether it is present.
func (r Record) Get(field string) (any, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// KeySpec is the ordered list of fields forming the composite lookup key.
type KeySpec []string

// CopySpec lists the fields copied from a matched source record.
type CopySpec []string

// UpdatePlan maps a destination record id to the field values to overwrite.
type UpdatePlan map[string]map[string]any

// IDs returns the destination ids in the plan, sorted.
func (p UpdatePlan) IDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FieldCount returns the total number of field writes queued in the plan.
func (p UpdatePlan) FieldCount() int {
	n := 0
	for _, fields := range p {
		n += len(fields)
	}
	return n
}

// AllFields returns the sorted union of field names across records.
func AllFields(records []Record) CopySpec {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r.Fields {
			seen[k] = struct{}{}
		}
	}
	fields := make(CopySpec, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// ParseFieldList splits a comma-separated field list, trimming blanks and
// dropping empty entries.
func ParseFieldList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
