package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/efebarandurmaz/kbadmin/internal/reconcile"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	metadata map[string]any
	order    []string
	docs     map[string]Document
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

// fixture is the on-disk layout accepted by LoadMemory.
type fixture struct {
	Collections []struct {
		Name      string         `json:"name"`
		Metadata  map[string]any `json:"metadata"`
		Documents []Document     `json:"documents"`
	} `json:"collections"`
}

// LoadMemory reads a JSON fixture file into a new in-memory store.
func LoadMemory(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}

	var fx fixture
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}

	m := NewMemory()
	for _, c := range fx.Collections {
		m.CreateCollection(c.Name, c.Metadata)
		m.Put(c.Name, c.Documents...)
	}
	return m, nil
}

// CreateCollection adds an empty collection. Existing collections are left
// untouched.
func (m *Memory) CreateCollection(name string, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return
	}
	m.collections[name] = &memCollection{
		metadata: metadata,
		docs:     make(map[string]Document),
	}
}

// Put inserts or replaces documents, creating the collection if needed.
func (m *Memory) Put(collection string, docs ...Document) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		c = &memCollection{docs: make(map[string]Document)}
		m.collections[collection] = c
	}
	for _, d := range docs {
		if _, exists := c.docs[d.ID]; !exists {
			c.order = append(c.order, d.ID)
		}
		d.Metadata = copyFields(d.Metadata)
		c.docs[d.ID] = d
	}
}

// Get returns a copy of one document.
func (m *Memory) Get(collection, id string) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return Document{}, false
	}
	d, ok := c.docs[id]
	if !ok {
		return Document{}, false
	}
	d.Metadata = copyFields(d.Metadata)
	return d, true
}

func (m *Memory) ListCollections(ctx context.Context) ([]Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cols := make([]Collection, 0, len(m.collections))
	for name, c := range m.collections {
		cols = append(cols, Collection{Name: name, Metadata: c.metadata})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols, nil
}

func (m *Memory) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	docs := make([]Document, 0, len(c.order))
	for _, id := range c.order {
		d := c.docs[id]
		d.Metadata = copyFields(d.Metadata)
		docs = append(docs, d)
	}
	return docs, nil
}

func (m *Memory) ApplyUpdates(ctx context.Context, collection string, plan reconcile.UpdatePlan) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	var written []string
	for _, id := range plan.IDs() {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		d, ok := c.docs[id]
		if !ok {
			continue
		}
		fields := copyFields(d.Metadata)
		for k, v := range plan[id] {
			fields[k] = v
		}
		d.Metadata = fields
		c.docs[id] = d
		written = append(written, id)
	}
	return written, nil
}

func (m *Memory) Close() error { return nil }

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Store = (*Memory)(nil)
