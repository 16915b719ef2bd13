package diagnose

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL diagnostic run repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// CreateRun inserts the initial run record and its pending stages.
func (r *PostgresRepository) CreateRun(ctx context.Context, run *Run) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback error is not critical

	query := `
		INSERT INTO diagnostic_runs (id, request_id, service, site_id, status, config, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.Exec(ctx, query,
		run.ID, run.RequestID, run.Service, run.SiteID, run.Status, configJSON, run.StartedAt,
	)
	if err != nil {
		return err
	}

	stageQuery := `
		INSERT INTO diagnostic_run_stages (run_id, position, stage, status)
		VALUES ($1, $2, $3, $4)
	`
	for i, s := range run.Stages {
		if _, err := tx.Exec(ctx, stageQuery, run.ID, i, s.Stage, s.Status); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// UpdateStage persists one stage transition.
func (r *PostgresRepository) UpdateStage(ctx context.Context, runID string, stage StageResult) error {
	detailsJSON, err := json.Marshal(stage.Details)
	if err != nil {
		return err
	}

	query := `
		UPDATE diagnostic_run_stages
		SET status = $3,
			message = $4,
			bucket = $5,
			suggested_fix = $6,
			details = $7,
			started_at = $8,
			finished_at = $9,
			duration_ms = $10
		WHERE run_id = $1 AND stage = $2
	`
	tag, err := r.pool.Exec(ctx, query,
		runID, stage.Stage, stage.Status, stage.Message, nullString(string(stage.Bucket)),
		nullString(stage.SuggestedFix), detailsJSON, nullTime(stage.StartedAt),
		nullTime(stage.FinishedAt), stage.Duration.Milliseconds(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// FinishRun persists the final run status and duration.
func (r *PostgresRepository) FinishRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE diagnostic_runs
		SET status = $2, finished_at = $3, duration_ms = $4
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		run.ID, run.Status, run.FinishedAt, run.Duration.Milliseconds(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run and its stages by id.
func (r *PostgresRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, request_id, service, site_id, status, config, started_at, finished_at, duration_ms
		FROM diagnostic_runs
		WHERE id = $1
	`

	var (
		run        Run
		configJSON []byte
		finishedAt *time.Time
		durationMS int64
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.RequestID, &run.Service, &run.SiteID, &run.Status,
		&configJSON, &run.StartedAt, &finishedAt, &durationMS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &run.Config); err != nil {
			return nil, err
		}
	}

	stageQuery := `
		SELECT stage, status, message, bucket, suggested_fix, details, started_at, finished_at, duration_ms
		FROM diagnostic_run_stages
		WHERE run_id = $1
		ORDER BY position
	`
	rows, err := r.pool.Query(ctx, stageQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s           StageResult
			message     *string
			bucket      *string
			fix         *string
			detailsJSON []byte
			startedAt   *time.Time
			stageFin    *time.Time
			stageDurMS  int64
		)
		if err := rows.Scan(&s.Stage, &s.Status, &message, &bucket, &fix, &detailsJSON, &startedAt, &stageFin, &stageDurMS); err != nil {
			return nil, err
		}
		if message != nil {
			s.Message = *message
		}
		if bucket != nil {
			s.Bucket = FailureBucket(*bucket)
		}
		if fix != nil {
			s.SuggestedFix = *fix
		}
		if startedAt != nil {
			s.StartedAt = *startedAt
		}
		if stageFin != nil {
			s.FinishedAt = *stageFin
		}
		s.Duration = time.Duration(stageDurMS) * time.Millisecond
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &s.Details); err != nil {
				return nil, err
			}
		}
		run.Stages = append(run.Stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &run, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
