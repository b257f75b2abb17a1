package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webui.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE knowledge (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			name TEXT,
			description TEXT,
			data TEXT,
			created_at INTEGER
		)`,
		`INSERT INTO knowledge VALUES ('kb-2', 'u1', 'Zeta docs', NULL, '{"file_ids":["f1","f2","f3"]}', 1700000000)`,
		`INSERT INTO knowledge VALUES ('kb-1', 'u2', 'Alpha docs', 'manuals', 'not json', 1700000001)`,
		`INSERT INTO knowledge VALUES ('kb-3', 'u2', 'Beta docs', '', NULL, 1700000002)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed %q: %v", s, err)
		}
	}
	return path
}

func TestReader_List(t *testing.T) {
	r, err := Open(seedDB(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	kbs, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(kbs) != 3 {
		t.Fatalf("expected 3 knowledge bases, got %d", len(kbs))
	}

	want := map[string]int{"kb-1": 0, "kb-2": 3, "kb-3": 0}
	for _, kb := range kbs {
		if kb.FileCount != want[kb.ID] {
			t.Errorf("%s: expected %d files, got %d", kb.ID, want[kb.ID], kb.FileCount)
		}
	}
	if kbs[0].Name != "Alpha docs" {
		t.Errorf("expected ordering by name, first is %s", kbs[0].Name)
	}
	if kbs[0].Description != "manuals" {
		t.Errorf("unexpected description %q", kbs[0].Description)
	}
}

func TestReader_Get(t *testing.T) {
	r, err := Open(seedDB(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	kb, err := r.Get(context.Background(), "kb-2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if kb.Name != "Zeta docs" || kb.FileCount != 3 || kb.UserID != "u1" {
		t.Errorf("unexpected kb: %+v", kb)
	}
	if _, ok := kb.Columns["created_at"]; !ok {
		t.Errorf("expected all columns, got %v", kb.Columns)
	}

	_, err = r.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReader_ReadOnly(t *testing.T) {
	r, err := Open(seedDB(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if _, err := r.db.Exec("DELETE FROM knowledge"); err == nil {
		t.Error("expected write to fail on read-only connection")
	}
}

func TestRelatedCollections(t *testing.T) {
	names := []string{"kb-1", "file-kb-1-abc", "kb-2", "other"}
	got := RelatedCollections("kb-1", names)
	want := []string{"kb-1", "file-kb-1-abc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RelatedCollections = %v, want %v", got, want)
	}
	if len(RelatedCollections("", names)) != 0 {
		t.Error("empty id should match nothing")
	}
}

func TestFileCount(t *testing.T) {
	tests := []struct {
		data string
		want int
	}{
		{"", 0},
		{"{}", 0},
		{"garbage", 0},
		{`{"file_ids":[]}`, 0},
		{`{"file_ids":["a","b"]}`, 2},
	}
	for _, tt := range tests {
		if got := fileCount(tt.data); got != tt.want {
			t.Errorf("fileCount(%q) = %d, want %d", tt.data, got, tt.want)
		}
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	if isSQLiteBusy(nil) {
		t.Error("nil is not busy")
	}
	if !isSQLiteBusy(errors.New("database is locked")) {
		t.Error("expected locked message to be busy")
	}
	if isSQLiteBusy(errors.New("no such table")) {
		t.Error("unexpected busy classification")
	}
}

func TestOpen_BusyTimeoutOnEveryConnection(t *testing.T) {
	r, err := Open(seedDB(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	var conns []*sql.Conn
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for i := 0; i < 3; i++ {
		c, err := r.db.Conn(ctx)
		if err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		conns = append(conns, c)

		var timeout int
		if err := c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("conn %d: read busy_timeout: %v", i, err)
		}
		if timeout != busyTimeoutMS {
			t.Errorf("conn %d: expected busy_timeout %d, got %d", i, busyTimeoutMS, timeout)
		}
	}
}

func TestOpen_ReadOnly(t *testing.T) {
	r, err := Open(seedDB(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if _, err := r.db.Exec("DELETE FROM knowledge"); err == nil {
		t.Error("expected write to a read-only database to fail")
	}
}
