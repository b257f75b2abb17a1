// Package store defines the document-store collaborator used by the
// reconciliation tooling, plus an in-memory implementation.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/efebarandurmaz/kbadmin/internal/reconcile"
)

// ErrCollectionNotFound is returned when a named collection does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// ContentKey is the payload key holding a document's text in stores that
// keep content alongside metadata.
const ContentKey = "content"

// Document is one stored chunk: text, embedding and metadata.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"document"`
	Vector   []float32      `json:"embedding,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// Collection describes a named set of documents.
type Collection struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CollectionInfo pairs a collection with its document count.
type CollectionInfo struct {
	Collection
	Count int `json:"count"`
}

// Store provides access to document collections.
type Store interface {
	// ListCollections enumerates the available collections.
	ListCollections(ctx context.Context) ([]Collection, error)
	// ListDocuments fetches every document of a collection.
	ListDocuments(ctx context.Context, collection string) ([]Document, error)
	// ApplyUpdates writes the planned field values per document id and
	// returns the ids actually written, in plan order. Ids that no longer
	// exist are left out. Each document is updated atomically; there is
	// no atomicity across documents. On error the ids written so far are
	// still returned.
	ApplyUpdates(ctx context.Context, collection string, plan reconcile.UpdatePlan) ([]string, error)
	// Close releases resources.
	Close() error
}

// Records projects documents onto reconciliation records.
func Records(docs []Document) []reconcile.Record {
	records := make([]reconcile.Record, len(docs))
	for i, d := range docs {
		records[i] = reconcile.Record{ID: d.ID, Fields: d.Metadata}
	}
	return records
}

// CollectionNames returns just the names of cols.
func CollectionNames(cols []Collection) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Describe lists every collection with its document count.
func Describe(ctx context.Context, s Store) ([]CollectionInfo, error) {
	cols, err := s.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	infos := make([]CollectionInfo, 0, len(cols))
	for _, c := range cols {
		docs, err := s.ListDocuments(ctx, c.Name)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.Name, err)
		}
		infos = append(infos, CollectionInfo{Collection: c, Count: len(docs)})
	}
	return infos, nil
}

// Lookup returns the named collections that exist, with their documents.
func Lookup(ctx context.Context, s Store, names []string) (map[string][]Document, error) {
	out := make(map[string][]Document, len(names))
	for _, name := range names {
		docs, err := s.ListDocuments(ctx, name)
		if errors.Is(err, ErrCollectionNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", name, err)
		}
		out[name] = docs
	}
	return out, nil
}
