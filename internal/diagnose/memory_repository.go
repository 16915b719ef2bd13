package diagnose

import (
	"context"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository for
// tests and local development.
type InMemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]*Run

	// writes counts repository writes, useful for asserting the
	// one-write-per-transition persistence contract.
	writes int
}

// NewInMemoryRepository creates a new in-memory diagnostic run repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{runs: make(map[string]*Run)}
}

// CreateRun stores the initial run record.
func (r *InMemoryRepository) CreateRun(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = snapshot(run)
	r.writes++
	return nil
}

// UpdateStage stores one stage transition.
func (r *InMemoryRepository) UpdateStage(_ context.Context, runID string, stage StageResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if existing := run.StageByName(stage.Stage); existing != nil {
		*existing = stage
	} else {
		run.Stages = append(run.Stages, stage)
	}
	r.writes++
	return nil
}

// FinishRun stores the final run state.
func (r *InMemoryRepository) FinishRun(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	r.runs[run.ID] = snapshot(run)
	r.writes++
	return nil
}

// GetRun retrieves a run by id.
func (r *InMemoryRepository) GetRun(_ context.Context, id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return snapshot(run), nil
}

// WriteCount returns the number of repository writes so far.
func (r *InMemoryRepository) WriteCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
