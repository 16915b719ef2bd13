package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WriteInput describes one audited configuration write.
type WriteInput struct {
	Key        string
	Value      interface{}
	Action     string
	Actor      string
	TargetType string
	TargetID   string
	Reason     string
}

// StoreConfig holds configuration for the config store.
type StoreConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Store is the narrow get/set-with-audit interface over the repository.
// Every write appends an audit row capturing the old and new value, the
// actor, and the reason.
type Store struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates a new config store.
func NewStore(cfg StoreConfig) *Store {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{repo: cfg.Repository, logger: cfg.Logger, now: now}
}

// GetJSON reads the value stored under key into dest via a JSON
// round-trip. Returns ErrKeyNotFound when the key has never been written.
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) error {
	entry, err := s.repo.Get(ctx, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(entry.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// SetJSON writes the value under key and appends the audit row. The old
// value is read first so the audit row records the full transition; a
// missing old value is recorded as nil.
func (s *Store) SetJSON(ctx context.Context, input WriteInput) error {
	var oldValue interface{}
	existing, err := s.repo.Get(ctx, input.Key)
	switch {
	case err == nil:
		oldValue = existing.Value
	case errors.Is(err, ErrKeyNotFound):
		// First write for this key.
	default:
		return err
	}

	now := s.now()
	entry := &Entry{Key: input.Key, Value: input.Value, UpdatedAt: now}
	audit := &AuditRecord{
		ID:         "aud_" + uuid.New().String()[:22],
		Action:     input.Action,
		Actor:      input.Actor,
		TargetType: input.TargetType,
		TargetID:   input.TargetID,
		OldValue:   oldValue,
		NewValue:   input.Value,
		Reason:     input.Reason,
		CreatedAt:  now,
	}

	if err := s.repo.SetWithAudit(ctx, entry, audit); err != nil {
		return err
	}

	s.logger.Debug().
		Str("key", input.Key).
		Str("action", input.Action).
		Str("actor", input.Actor).
		Msg("config value written")

	return nil
}

// ListAudit returns the most recent audit rows for a target, newest first.
func (s *Store) ListAudit(ctx context.Context, targetType, targetID string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListAudit(ctx, targetType, targetID, limit)
}
