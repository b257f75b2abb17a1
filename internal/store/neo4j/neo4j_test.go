package neo4j

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"github.com/efebarandurmaz/kbadmin/internal/reconcile"
)

func TestToProperties(t *testing.T) {
	props, err := toProperties(map[string]any{
		"author":      "alice",
		"start_index": json.Number("3"),
		"score":       json.Number("0.5"),
		"tags":        []any{"a", "b"},
		"mixed":       []any{"a", int64(1)},
		"nested":      map[string]any{"k": "v"},
		"id":          "overwrite-attempt",
		"content":     "ignored",
	})
	if err != nil {
		t.Fatalf("toProperties failed: %v", err)
	}

	if props["start_index"] != int64(3) {
		t.Errorf("expected int64 3, got %v (%T)", props["start_index"], props["start_index"])
	}
	if props["score"] != 0.5 {
		t.Errorf("expected 0.5, got %v", props["score"])
	}
	if _, ok := props["tags"].([]any); !ok {
		t.Errorf("homogeneous list should stay a list, got %T", props["tags"])
	}
	if props["mixed"] != `["a",1]` {
		t.Errorf("mixed list should become JSON text, got %v", props["mixed"])
	}
	if props["nested"] != `{"k":"v"}` {
		t.Errorf("map should become JSON text, got %v", props["nested"])
	}
	for _, k := range []string{"id", "collection", "content"} {
		if _, ok := props[k]; ok {
			t.Errorf("reserved property %s must not be written", k)
		}
	}
}

func TestToProperties_ListAfterPlanCodec(t *testing.T) {
	encoded, err := reconcile.EncodePlan(reconcile.UpdatePlan{
		"d1": {"pages": []any{int64(1), int64(2)}, "weights": []any{0.5, 1.5}},
	})
	if err != nil {
		t.Fatalf("EncodePlan failed: %v", err)
	}
	plan, err := reconcile.DecodePlan(encoded)
	if err != nil {
		t.Fatalf("DecodePlan failed: %v", err)
	}

	props, err := toProperties(plan["d1"])
	if err != nil {
		t.Fatalf("toProperties failed: %v", err)
	}
	if want := []any{int64(1), int64(2)}; !reflect.DeepEqual(props["pages"], want) {
		t.Errorf("expected %v, got %#v", want, props["pages"])
	}
	if want := []any{0.5, 1.5}; !reflect.DeepEqual(props["weights"], want) {
		t.Errorf("expected %v, got %#v", want, props["weights"])
	}
}

func TestToProperty_Numbers(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 7, int64(7)},
		{"uint small", uint64(9), int64(9)},
		{"uint above int64", uint64(math.MaxUint64), float64(math.MaxUint64)},
		{"float32", float32(0.5), 0.5},
		{"int list", []any{1, int32(2)}, []any{int64(1), int64(2)}},
		{"list with null", []any{"a", nil}, `["a",null]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toProperty(tt.in)
			if err != nil {
				t.Fatalf("toProperty failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestDocumentFromProps(t *testing.T) {
	doc := documentFromProps(map[string]any{
		"id":         "d1",
		"collection": "kb",
		"content":    "text",
		"name":       "a.pdf",
	})
	if doc.ID != "d1" || doc.Content != "text" {
		t.Errorf("unexpected document: %+v", doc)
	}
	if len(doc.Metadata) != 1 || doc.Metadata["name"] != "a.pdf" {
		t.Errorf("unexpected metadata: %v", doc.Metadata)
	}
}
