// Package orchestrator dispatches analysis jobs to workers over a
// durable queue and derives their outcomes from an append-only event log.
package orchestrator

import (
	"errors"
	"time"
)

// ErrJobNotFound is returned when no events exist for a job id.
var ErrJobNotFound = errors.New("job not found")

// ErrRunNotFound is returned when a run's events belong to a different
// site than the one requested.
var ErrRunNotFound = errors.New("orchestration run not found")

// BlockedError is returned when the safety gate denies a dispatch. It is
// a normal control-flow outcome, carried as an error so callers cannot
// accidentally ignore the denial.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "dispatch blocked: " + e.Reason
}

// Job is one unit of dispatched work. The orchestrator never mutates a
// job after publishing; completion is observed through the event log.
type Job struct {
	ID          string                 `json:"id"`
	Service     string                 `json:"service"`
	SiteID      string                 `json:"site_id"`
	RunID       string                 `json:"run_id"`
	Domain      string                 `json:"domain"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Priority    int                    `json:"priority"`
	MaxAttempts int                    `json:"max_attempts"`
}

// CallStatus is the terminal status of one worker call.
type CallStatus string

// Worker call statuses.
const (
	CallSuccess CallStatus = "success"
	CallFailed  CallStatus = "failed"
	CallTimeout CallStatus = "timeout"
	CallSkipped CallStatus = "skipped"
)

// WorkerCallResult is the orchestrator's view of one job's outcome.
// Terminal and immutable once produced.
type WorkerCallResult struct {
	Service     string                 `json:"service"`
	Status      CallStatus             `json:"status"`
	Duration    time.Duration          `json:"duration"`
	Result      map[string]interface{} `json:"result,omitempty"`
	ErrorCode   string                 `json:"error_code,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
	JobID       string                 `json:"job_id"`
}

// Result aggregates all worker call results for one sequential
// orchestration run.
type Result struct {
	RunID        string             `json:"run_id"`
	SiteID       string             `json:"site_id"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	SuccessCount int                `json:"success_count"`
	FailedCount  int                `json:"failed_count"`
	Workers      []WorkerCallResult `json:"workers"`
}

// RunStatusInfo is the aggregate status of one orchestration run,
// derived from the event log.
type RunStatusInfo struct {
	RunID     string `json:"run_id"`
	SiteID    string `json:"site_id"`
	Status    string `json:"status"`
	TotalJobs int    `json:"total_jobs"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}
