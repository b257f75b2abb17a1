package explorer

import (
	"sort"
	"sync"
	"time"

	"github.com/efebarandurmaz/kbadmin/internal/metasync"
)

const maxRuns = 100

// RunStatus is the state of a reconciliation started from the explorer.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is one reconciliation in the explorer history.
type Run struct {
	ID          string           `json:"id"`
	Status      RunStatus        `json:"status"`
	Request     metasync.Request `json:"request"`
	Report      *metasync.Report `json:"report,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// RunStore keeps the most recent runs in memory. It is safe for
// concurrent use.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRunStore creates an empty run history.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*Run)}
}

// Create adds a run, evicting the oldest finished runs beyond maxRuns.
func (s *RunStore) Create(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	s.evictOldRuns()
}

// Get returns a copy of the run with id.
func (s *RunStore) Get(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns copies of all runs, newest first.
func (s *RunStore) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// Finish records the outcome of a run.
func (s *RunStore) Finish(id string, report *metasync.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return
	}
	now := time.Now()
	run.CompletedAt = &now
	run.Report = report
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		return
	}
	run.Status = StatusCompleted
}

// Len returns the number of runs held.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// evictOldRuns removes the oldest finished runs while over maxRuns.
// Must be called with lock held.
func (s *RunStore) evictOldRuns() {
	if len(s.runs) <= maxRuns {
		return
	}

	type runTime struct {
		id   string
		time time.Time
	}

	var finished []runTime
	for id, run := range s.runs {
		if run.Status == StatusRunning {
			continue
		}
		t := run.StartedAt
		if run.CompletedAt != nil {
			t = *run.CompletedAt
		}
		finished = append(finished, runTime{id: id, time: t})
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].time.Before(finished[j].time)
	})

	toDelete := len(s.runs) - maxRuns
	for i := 0; i < toDelete && i < len(finished); i++ {
		delete(s.runs, finished[i].id)
	}
}
