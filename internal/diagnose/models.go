// Package diagnose provides instrumented diagnostic runs and failure
// classification for connector and setup checks.
package diagnose

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned when a diagnostic run is not found.
var ErrRunNotFound = errors.New("diagnostic run not found")

// RunStatus is the overall status of a diagnostic run.
type RunStatus string

// Run statuses.
const (
	RunPending RunStatus = "pending"
	RunPass    RunStatus = "pass"
	RunPartial RunStatus = "partial"
	RunFail    RunStatus = "fail"
)

// StageStatus is the status of a single stage within a run.
type StageStatus string

// Stage statuses.
const (
	StagePending StageStatus = "pending"
	StagePass    StageStatus = "pass"
	StageFail    StageStatus = "fail"
	StageSkipped StageStatus = "skipped"
)

// Stage is the name of one step of a diagnostic run.
type Stage string

// Default stages for a connector check, evaluated in declared order.
const (
	StageResolveConfig      Stage = "resolve_config"
	StageConnectivity       Stage = "connectivity"
	StageResponseValidation Stage = "response_validation"
)

// DefaultStages returns the default ordered stage list for connector checks.
func DefaultStages() []Stage {
	return []Stage{StageResolveConfig, StageConnectivity, StageResponseValidation}
}

// StageResult holds the outcome of one stage.
type StageResult struct {
	Stage        Stage                  `json:"stage"`
	Status       StageStatus            `json:"status"`
	Message      string                 `json:"message,omitempty"`
	Bucket       FailureBucket          `json:"bucket,omitempty"`
	SuggestedFix string                 `json:"suggested_fix,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	StartedAt    time.Time              `json:"started_at,omitempty"`
	FinishedAt   time.Time              `json:"finished_at,omitempty"`

	// Duration is measured from the previous stage's finish time (or the
	// run start for the first stage), not from this stage's own start.
	Duration time.Duration `json:"duration"`
}

// Run is one instrumented check of a single service/site pair.
type Run struct {
	ID         string                 `json:"id"`
	RequestID  string                 `json:"request_id"`
	Service    string                 `json:"service"`
	SiteID     string                 `json:"site_id"`
	Stages     []StageResult          `json:"stages"`
	Status     RunStatus              `json:"status"`
	Config     map[string]interface{} `json:"config,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at,omitempty"`
	Duration   time.Duration          `json:"duration"`
}

// StageByName returns a pointer to the stage result with the given name,
// or nil if the run has no such stage.
func (r *Run) StageByName(stage Stage) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Stage == stage {
			return &r.Stages[i]
		}
	}
	return nil
}

// DeriveStatus computes the overall run status from the stage results:
// fail if any stage failed, pass if every stage passed or was skipped,
// partial otherwise.
func (r *Run) DeriveStatus() RunStatus {
	allTerminal := true
	for _, s := range r.Stages {
		switch s.Status {
		case StageFail:
			return RunFail
		case StagePending:
			allTerminal = false
		}
	}
	if allTerminal {
		return RunPass
	}
	return RunPartial
}

// Repository defines persistence for diagnostic runs. Runs are written
// incrementally, one write per stage transition, so a crash mid-run
// leaves a consistent last-known state.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateStage(ctx context.Context, runID string, stage StageResult) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
}
