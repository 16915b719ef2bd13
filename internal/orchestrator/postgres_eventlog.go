package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresEventLog is a PostgreSQL implementation of EventLog.
type PostgresEventLog struct {
	pool *pgxpool.Pool
}

// NewPostgresEventLog creates a new PostgreSQL event log.
func NewPostgresEventLog(pool *pgxpool.Pool) *PostgresEventLog {
	return &PostgresEventLog{pool: pool}
}

// Append inserts an event row.
func (l *PostgresEventLog) Append(ctx context.Context, event *Event) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orchestration_events (id, job_id, run_id, site_id, service, type, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = l.pool.Exec(ctx, query,
		event.ID, event.JobID, event.RunID, event.SiteID, event.Service,
		event.Type, event.Status, payloadJSON, event.CreatedAt,
	)
	return err
}

// ListByJob returns all events for a job id.
func (l *PostgresEventLog) ListByJob(ctx context.Context, jobID string) ([]Event, error) {
	query := `
		SELECT id, job_id, run_id, site_id, service, type, status, payload, created_at
		FROM orchestration_events
		WHERE job_id = $1
	`
	return l.list(ctx, query, jobID)
}

// ListByRun returns all events for a run id.
func (l *PostgresEventLog) ListByRun(ctx context.Context, runID string) ([]Event, error) {
	query := `
		SELECT id, job_id, run_id, site_id, service, type, status, payload, created_at
		FROM orchestration_events
		WHERE run_id = $1
	`
	return l.list(ctx, query, runID)
}

func (l *PostgresEventLog) list(ctx context.Context, query, arg string) ([]Event, error) {
	rows, err := l.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e           Event
			payloadJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.RunID, &e.SiteID, &e.Service, &e.Type, &e.Status, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// Ensure PostgresEventLog implements EventLog interface.
var _ EventLog = (*PostgresEventLog)(nil)
