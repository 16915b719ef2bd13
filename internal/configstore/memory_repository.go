package configstore

import (
	"context"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository for
// tests and local development.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	audit   []AuditRecord
}

// NewInMemoryRepository creates a new in-memory config repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{entries: make(map[string]*Entry)}
}

// Get retrieves an entry by key.
func (r *InMemoryRepository) Get(_ context.Context, key string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *entry
	return &cp, nil
}

// SetWithAudit stores an entry and appends the audit row.
func (r *InMemoryRepository) SetWithAudit(_ context.Context, entry *Entry, audit *AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries[entry.Key] = &cp
	r.audit = append(r.audit, *audit)
	return nil
}

// ListAudit returns audit rows for a target, newest first.
func (r *InMemoryRepository) ListAudit(_ context.Context, targetType, targetID string, limit int) ([]AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AuditRecord
	for i := len(r.audit) - 1; i >= 0 && len(out) < limit; i-- {
		rec := r.audit[i]
		if rec.TargetType == targetType && (targetID == "" || rec.TargetID == targetID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// AuditCount returns the total number of audit rows recorded.
func (r *InMemoryRepository) AuditCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.audit)
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
