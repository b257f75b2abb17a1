// Package knowledge reads knowledge-base rows from the web UI's SQLite
// database.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a knowledge base id does not exist.
var ErrNotFound = errors.New("knowledge base not found")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// KnowledgeBase is one row of the knowledge table.
type KnowledgeBase struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	UserID      string `json:"user_id"`
	FileCount   int    `json:"file_count"`
	// Columns holds every column of the row, populated by Get.
	Columns map[string]any `json:"columns,omitempty"`
}

// Reader queries the knowledge table.
type Reader struct {
	db   *sql.DB
	path string
}

// busyTimeoutMS is how long SQLite itself waits on a locked database
// before reporting SQLITE_BUSY.
const busyTimeoutMS = 5000

// Open connects to the database at path in read-only mode.
func Open(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return &Reader{db: db, path: path}, nil
}

// dsn carries the pragmas in the connection string so every pooled
// connection gets them, not only the first.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(%d)", path, busyTimeoutMS)
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Ping checks the database is reachable.
func (r *Reader) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// List returns every knowledge base, ordered by name.
func (r *Reader) List(ctx context.Context) ([]KnowledgeBase, error) {
	var kbs []KnowledgeBase
	err := retryOnBusy(ctx, func() error {
		kbs = kbs[:0]
		rows, err := r.db.QueryContext(ctx,
			"SELECT id, name, description, data, user_id FROM knowledge ORDER BY name")
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				kb                       KnowledgeBase
				name, desc, data, userID sql.NullString
			)
			if err := rows.Scan(&kb.ID, &name, &desc, &data, &userID); err != nil {
				return err
			}
			kb.Name = name.String
			kb.Description = desc.String
			kb.UserID = userID.String
			kb.FileCount = fileCount(data.String)
			kbs = append(kbs, kb)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}
	return kbs, nil
}

// Get returns one knowledge base with all of its columns.
func (r *Reader) Get(ctx context.Context, id string) (*KnowledgeBase, error) {
	var kb *KnowledgeBase
	err := retryOnBusy(ctx, func() error {
		rows, err := r.db.QueryContext(ctx, "SELECT * FROM knowledge WHERE id = ?", id)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return err
			}
			return ErrNotFound
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}

		kb = &KnowledgeBase{Columns: make(map[string]any, len(cols))}
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			kb.Columns[col] = v
		}
		kb.ID = asString(kb.Columns["id"])
		kb.Name = asString(kb.Columns["name"])
		kb.Description = asString(kb.Columns["description"])
		kb.UserID = asString(kb.Columns["user_id"])
		kb.FileCount = fileCount(asString(kb.Columns["data"]))
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge base %s: %w", id, err)
	}
	return kb, nil
}

// RelatedCollections returns the collection names that embed the
// knowledge base id.
func RelatedCollections(kbID string, names []string) []string {
	var related []string
	if kbID == "" {
		return related
	}
	for _, n := range names {
		if strings.Contains(n, kbID) {
			related = append(related, n)
		}
	}
	return related
}

// fileCount returns len(data.file_ids). Empty or malformed data counts as
// zero files.
func fileCount(data string) int {
	if data == "" {
		return 0
	}
	var payload struct {
		FileIDs []json.RawMessage `json:"file_ids"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return 0
	}
	return len(payload.FileIDs)
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
