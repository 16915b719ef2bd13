// Package configstore provides a generic key-value configuration store
// with a mandatory audit-log side effect on every write.
package configstore

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a configuration key is not found.
var ErrKeyNotFound = errors.New("config key not found")

// Entry is one configuration value. Value is any JSON-serializable shape.
type Entry struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// AuditRecord is one append-only audit-log row. Audit rows are never
// pruned by the core.
type AuditRecord struct {
	ID         string      `json:"id"`
	Action     string      `json:"action"`
	Actor      string      `json:"actor"`
	TargetType string      `json:"target_type"`
	TargetID   string      `json:"target_id"`
	OldValue   interface{} `json:"old_value,omitempty"`
	NewValue   interface{} `json:"new_value,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Repository defines storage for configuration entries and their audit
// trail. SetWithAudit must persist the entry and the audit row together.
type Repository interface {
	Get(ctx context.Context, key string) (*Entry, error)
	SetWithAudit(ctx context.Context, entry *Entry, audit *AuditRecord) error
	ListAudit(ctx context.Context, targetType, targetID string, limit int) ([]AuditRecord, error)
}
