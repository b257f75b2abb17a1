package metasync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// ErrCollectionLocked is returned when another process, or another run in
// this one, is writing to the same destination collection.
var ErrCollectionLocked = errors.New("destination collection is locked by another run")

// WithLockDir serialises writes per destination collection through lock
// files in dir. An empty dir disables locking.
func WithLockDir(dir string) Option {
	return func(s *Service) { s.lockDir = dir }
}

// lockCollection takes the write lock for collection. The returned release
// function is never nil.
func (s *Service) lockCollection(collection string) (func(), error) {
	if s.lockDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(s.lockDir, 0o755); err != nil {
		return func() {}, fmt.Errorf("create lock dir: %w", err)
	}

	path := filepath.Join(s.lockDir, lockFileName(collection))
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return func() {}, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return func() {}, fmt.Errorf("%w: %s", ErrCollectionLocked, collection)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("Failed to release collection lock", "path", path, "error", err)
		}
	}, nil
}

func lockFileName(collection string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, collection)
	return "kbadmin-" + safe + ".lock"
}
