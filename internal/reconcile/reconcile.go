package reconcile

import (
	"errors"
	"fmt"
)

// ErrInvalidSpecification is returned when the key specification cannot be
// used to match records.
var ErrInvalidSpecification = errors.New("invalid specification")

// Side identifies which input collection a skipped record came from.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// SkipReason explains why a record produced no update.
type SkipReason string

const (
	ReasonMissingKey SkipReason = "missing_key"
	ReasonNoMatch    SkipReason = "no_match"
	ReasonAmbiguous  SkipReason = "ambiguous"
)

// Skip records one record that was left untouched.
type Skip struct {
	ID     string     `json:"id"`
	Side   Side       `json:"side"`
	Reason SkipReason `json:"reason"`
}

// Summary counts the outcome of a reconciliation.
type Summary struct {
	Matched           int `json:"matched"`
	SkippedMissingKey int `json:"skipped_missing_key"`
	SkippedNoMatch    int `json:"skipped_no_match"`
	SkippedAmbiguous  int `json:"skipped_ambiguous"`
	// Unchanged counts matched destinations whose copy fields already
	// equal the source values. They are included in Matched.
	Unchanged int `json:"unchanged"`
}

// Skipped returns the total number of skipped records.
func (s Summary) Skipped() int {
	return s.SkippedMissingKey + s.SkippedNoMatch + s.SkippedAmbiguous
}

// Result is the output of Reconcile.
type Result struct {
	Plan    UpdatePlan `json:"plan"`
	Summary Summary    `json:"summary"`
	Skipped []Skip     `json:"skipped,omitempty"`
}

// bucket holds the source records sharing one key. A source id listed
// twice counts once.
type bucket struct {
	ids    map[string]struct{}
	record Record
}

// Reconcile matches destination records to source records on key and plans
// copying fields from each uniquely matched source onto its destination.
//
// Records lacking any key field are skipped on either side. A destination
// key shared by more than one distinct source record is ambiguous and skipped, even
// if the candidates agree on every copied value. Only fields that exist on
// the source and differ from the destination's current value are planned.
func Reconcile(source, destination []Record, key KeySpec, fields CopySpec) (*Result, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: key specification is empty", ErrInvalidSpecification)
	}

	res := &Result{Plan: UpdatePlan{}}

	index := make(map[string]*bucket, len(source))
	for _, rec := range source {
		k, ok := compositeKey(rec, key)
		if !ok {
			res.Summary.SkippedMissingKey++
			res.Skipped = append(res.Skipped, Skip{ID: rec.ID, Side: SideSource, Reason: ReasonMissingKey})
			continue
		}
		if b, exists := index[k]; exists {
			b.ids[rec.ID] = struct{}{}
			continue
		}
		index[k] = &bucket{ids: map[string]struct{}{rec.ID: {}}, record: rec}
	}

	for _, dst := range destination {
		k, ok := compositeKey(dst, key)
		if !ok {
			res.Summary.SkippedMissingKey++
			res.Skipped = append(res.Skipped, Skip{ID: dst.ID, Side: SideDestination, Reason: ReasonMissingKey})
			continue
		}

		b, found := index[k]
		switch {
		case !found:
			res.Summary.SkippedNoMatch++
			res.Skipped = append(res.Skipped, Skip{ID: dst.ID, Side: SideDestination, Reason: ReasonNoMatch})
			continue
		case len(b.ids) > 1:
			res.Summary.SkippedAmbiguous++
			res.Skipped = append(res.Skipped, Skip{ID: dst.ID, Side: SideDestination, Reason: ReasonAmbiguous})
			continue
		}

		res.Summary.Matched++
		changes := diffFields(b.record, dst, fields)
		if len(changes) == 0 {
			res.Summary.Unchanged++
			continue
		}
		if existing, ok := res.Plan[dst.ID]; ok {
			// The same destination id listed twice: later entries add to
			// the earlier changes.
			for f, v := range changes {
				existing[f] = v
			}
			continue
		}
		res.Plan[dst.ID] = changes
	}

	return res, nil
}

// diffFields returns the copy fields present on src whose values differ
// from dst.
func diffFields(src, dst Record, fields CopySpec) map[string]any {
	var changes map[string]any
	for _, f := range fields {
		v, ok := src.Fields[f]
		if !ok {
			continue
		}
		if cur, has := dst.Fields[f]; has && Equal(cur, v) {
			continue
		}
		if changes == nil {
			changes = make(map[string]any)
		}
		changes[f] = v
	}
	return changes
}
