package orchestrator

import (
	"context"
	"time"
)

// EventType identifies the kind of an orchestration event.
type EventType string

// Event types.
const (
	// EventResult carries a worker's result payload for one job.
	EventResult EventType = "result"

	// EventJobStatus carries a job lifecycle transition (queued,
	// running, failed).
	EventJobStatus EventType = "job_status"

	// EventRunStatus carries a run lifecycle transition (started,
	// completed, failed).
	EventRunStatus EventType = "run_status"
)

// Job status values carried by EventJobStatus events.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobFailed  = "failed"
)

// Run status values carried by EventRunStatus events.
const (
	RunStarted   = "started"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Event is one append-only orchestration event. Events are written by
// the orchestrator (queued, run status) and by workers (running, result,
// failed); readers derive the latest relevant state, order is not
// guaranteed.
type Event struct {
	ID        string                 `json:"id"`
	JobID     string                 `json:"job_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	SiteID    string                 `json:"site_id,omitempty"`
	Service   string                 `json:"service,omitempty"`
	Type      EventType              `json:"type"`
	Status    string                 `json:"status,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// EventLog is the append-only event log collaborator, readable by job id
// or run id.
type EventLog interface {
	Append(ctx context.Context, event *Event) error
	ListByJob(ctx context.Context, jobID string) ([]Event, error)
	ListByRun(ctx context.Context, runID string) ([]Event, error)
}
