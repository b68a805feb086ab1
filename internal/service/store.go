package service

import (
	"sync"

	"github.com/lei/cross-ci/internal/models"
)

// RunStore keeps runs in memory for the lifetime of the process.
// Readers always get deep copies, so in-flight mutation by the
// orchestrator never races an API read.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]*models.Run
	order []string
}

// NewRunStore creates an empty run store
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*models.Run)}
}

// Create registers a new run
func (s *RunStore) Create(run *models.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
	s.order = append(s.order, run.RunID)
}

// Update applies a mutation to the stored run under the store lock.
// Implements the orchestrator's Recorder.
func (s *RunStore) Update(runID string, fn func(*models.Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		fn(run)
	}
}

// Get returns a snapshot of the run, if present
func (s *RunStore) Get(runID string) (*models.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return run.Clone(), true
}

// List returns snapshots of all runs in creation order
func (s *RunStore) List() []*models.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Run, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id].Clone())
	}
	return out
}

// Len returns the number of stored runs
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
