// Package neo4j implements store.Store over a Neo4j graph, keeping each
// document as a (:Document {collection, id, content, ...}) node.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/efebarandurmaz/kbadmin/internal/reconcile"
	"github.com/efebarandurmaz/kbadmin/internal/store"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// reserved properties are stored on every node and never exposed as
// metadata.
var reserved = map[string]bool{"collection": true, "id": true, store.ContentKey: true}

// Repository implements store.Store using Neo4j.
type Repository struct {
	driver neo4j.DriverWithContext
}

// New creates a Neo4j-backed repository and verifies connectivity.
func New(ctx context.Context, uri, username, password string) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Repository{driver: driver}, nil
}

func (r *Repository) ListCollections(ctx context.Context) ([]store.Collection, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx,
			"MATCH (d:Document) RETURN DISTINCT d.collection AS name ORDER BY name", nil)
		if err != nil {
			return nil, err
		}
		var cols []store.Collection
		for records.Next(ctx) {
			name, _ := records.Record().Get("name")
			if s, ok := name.(string); ok {
				cols = append(cols, store.Collection{Name: s})
			}
		}
		return cols, records.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return result.([]store.Collection), nil
}

func (r *Repository) ListDocuments(ctx context.Context, collection string) ([]store.Document, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx,
			"MATCH (d:Document {collection: $collection}) RETURN properties(d) AS props ORDER BY d.id",
			map[string]any{"collection": collection})
		if err != nil {
			return nil, err
		}
		var docs []store.Document
		for records.Next(ctx) {
			raw, _ := records.Record().Get("props")
			props, _ := raw.(map[string]any)
			docs = append(docs, documentFromProps(props))
		}
		return docs, records.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list documents %s: %w", collection, err)
	}
	docs := result.([]store.Document)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrCollectionNotFound, collection)
	}
	return docs, nil
}

// ApplyUpdates sets the planned properties, one write transaction per
// document. Ids with no matching node are not reported as written.
func (r *Repository) ApplyUpdates(ctx context.Context, collection string, plan reconcile.UpdatePlan) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	var written []string
	for _, id := range plan.IDs() {
		props, err := toProperties(plan[id])
		if err != nil {
			return written, fmt.Errorf("encode %s: %w", id, err)
		}
		matched, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx,
				"MATCH (d:Document {collection: $collection, id: $id}) SET d += $props RETURN count(d) AS n",
				map[string]any{"collection": collection, "id": id, "props": props})
			if err != nil {
				return nil, err
			}
			rec, err := res.Single(ctx)
			if err != nil {
				return nil, err
			}
			n, _ := rec.Get("n")
			return n, nil
		})
		if err != nil {
			return written, fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
		if n, ok := matched.(int64); ok && n > 0 {
			written = append(written, id)
		}
	}
	return written, nil
}

func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

func documentFromProps(props map[string]any) store.Document {
	doc := store.Document{Metadata: make(map[string]any, len(props))}
	for k, v := range props {
		switch k {
		case "id":
			doc.ID = fmt.Sprint(v)
		case store.ContentKey:
			doc.Content, _ = v.(string)
		case "collection":
		default:
			doc.Metadata[k] = v
		}
	}
	return doc
}

// toProperties converts fields into values Neo4j can store. Maps, mixed
// lists and lists of non-primitive values have no property representation
// and are stored as JSON text. Reserved node properties are never written.
func toProperties(fields map[string]any) (map[string]any, error) {
	props := make(map[string]any, len(fields))
	for k, v := range fields {
		if reserved[k] {
			continue
		}
		pv, err := toProperty(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		props[k] = pv
	}
	return props, nil
}

func toProperty(v any) (any, error) {
	if p, ok := toScalar(v); ok {
		return p, nil
	}
	if list, ok := v.([]any); ok {
		if p, ok := primitiveList(list); ok {
			return p, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// toScalar maps a value onto the property types Neo4j stores natively:
// nil, bool, string, int64 and float64.
func toScalar(v any) (any, bool) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint:
		return unsignedProperty(uint64(x)), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return unsignedProperty(x), true
	case float32:
		return float64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		if f, err := x.Float64(); err == nil {
			return f, true
		}
		return x.String(), true
	}
	return nil, false
}

// unsignedProperty keeps values above MaxInt64 as floats instead of
// letting them wrap negative.
func unsignedProperty(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// primitiveList converts a list whose elements share one scalar type.
// Neo4j rejects nulls and mixed types inside list properties.
func primitiveList(values []any) ([]any, bool) {
	out := make([]any, len(values))
	var first string
	for i, e := range values {
		p, ok := toScalar(e)
		if !ok {
			return nil, false
		}
		var kind string
		switch p.(type) {
		case bool:
			kind = "bool"
		case string:
			kind = "string"
		case int64:
			kind = "int"
		case float64:
			kind = "float"
		default:
			return nil, false
		}
		if i == 0 {
			first = kind
		} else if kind != first {
			return nil, false
		}
		out[i] = p
	}
	return out, true
}

var _ store.Store = (*Repository)(nil)
