package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodePlan serialises a plan to JSON.
func EncodePlan(p UpdatePlan) (string, error) {
	if p == nil {
		p = UpdatePlan{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	return string(data), nil
}

// DecodePlan parses a plan produced by EncodePlan. Numbers decode as
// json.Number so integer fields keep their integer type when written back
// to a store.
func DecodePlan(s string) (UpdatePlan, error) {
	plan := UpdatePlan{}
	if s == "" {
		return plan, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

// DecodeRecords parses a JSON array of records, keeping numbers as
// json.Number.
func DecodeRecords(data []byte) ([]Record, error) {
	var records []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

func decodeValue(data []byte) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
