package configstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL config repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves a single config entry by key.
func (r *PostgresRepository) Get(ctx context.Context, key string) (*Entry, error) {
	query := `
		SELECT key, value, updated_at
		FROM system_config
		WHERE key = $1
	`

	var (
		entry     Entry
		valueJSON []byte
	)
	err := r.pool.QueryRow(ctx, query, key).Scan(&entry.Key, &valueJSON, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(valueJSON, &entry.Value); err != nil {
		return nil, err
	}
	return &entry, nil
}

// SetWithAudit upserts a config entry and appends the audit row in one
// transaction.
func (r *PostgresRepository) SetWithAudit(ctx context.Context, entry *Entry, audit *AuditRecord) error {
	valueJSON, err := json.Marshal(entry.Value)
	if err != nil {
		return err
	}
	oldJSON, err := json.Marshal(audit.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(audit.NewValue)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback error is not critical

	query := `
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.Exec(ctx, query, entry.Key, valueJSON, entry.UpdatedAt); err != nil {
		return err
	}

	auditQuery := `
		INSERT INTO config_audit_log (id, action, actor, target_type, target_id, old_value, new_value, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.Exec(ctx, auditQuery,
		audit.ID, audit.Action, audit.Actor, audit.TargetType, audit.TargetID,
		oldJSON, newJSON, audit.Reason, audit.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListAudit returns audit rows for a target, newest first.
func (r *PostgresRepository) ListAudit(ctx context.Context, targetType, targetID string, limit int) ([]AuditRecord, error) {
	query := `
		SELECT id, action, actor, target_type, target_id, old_value, new_value, reason, created_at
		FROM config_audit_log
		WHERE target_type = $1 AND ($2 = '' OR target_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, targetType, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var (
			rec     AuditRecord
			oldJSON []byte
			newJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.Actor, &rec.TargetType, &rec.TargetID, &oldJSON, &newJSON, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(oldJSON) > 0 {
			if err := json.Unmarshal(oldJSON, &rec.OldValue); err != nil {
				return nil, err
			}
		}
		if len(newJSON) > 0 {
			if err := json.Unmarshal(newJSON, &rec.NewValue); err != nil {
				return nil, err
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
