package diagnose

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunnerConfig holds configuration for creating a Runner.
type RunnerConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// Stages is the ordered stage list. Defaults to DefaultStages.
	Stages []Stage

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Runner drives a diagnostic run through its stage state machine. A
// Runner owns at most one active run at a time; stage transitions on an
// inactive runner log and no-op rather than failing, since
// instrumentation must never crash the work it observes.
type Runner struct {
	repo   Repository
	logger zerolog.Logger
	stages []Stage
	now    func() time.Time

	mu  sync.Mutex
	run *Run
}

// NewRunner creates a new diagnostic runner.
func NewRunner(cfg RunnerConfig) *Runner {
	stages := cfg.Stages
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		repo:   cfg.Repository,
		logger: cfg.Logger,
		stages: stages,
		now:    now,
	}
}

// StartInput holds the parameters for starting a run.
type StartInput struct {
	Service   string
	SiteID    string
	RequestID string

	// Config is a snapshot of the configuration under test. It is
	// redacted before being stored.
	Config map[string]interface{}
}

// Start allocates a new run, initializes every declared stage to pending,
// and persists the initial record. It returns the run id.
func (r *Runner) Start(ctx context.Context, input StartInput) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run != nil {
		r.logger.Warn().
			Str("run_id", r.run.ID).
			Msg("starting diagnostic run while another is active; previous run abandoned")
	}

	requestID := input.RequestID
	if requestID == "" {
		requestID = "req_" + uuid.New().String()[:22]
	}

	run := &Run{
		ID:        "run_" + uuid.New().String()[:22],
		RequestID: requestID,
		Service:   input.Service,
		SiteID:    input.SiteID,
		Status:    RunPending,
		Config:    Redact(input.Config),
		StartedAt: r.now(),
		Stages:    make([]StageResult, 0, len(r.stages)),
	}
	for _, s := range r.stages {
		run.Stages = append(run.Stages, StageResult{Stage: s, Status: StagePending})
	}
	r.run = run

	if err := r.repo.CreateRun(ctx, run); err != nil {
		r.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist diagnostic run")
	}

	r.logger.Info().
		Str("run_id", run.ID).
		Str("request_id", run.RequestID).
		Str("service", run.Service).
		Str("site_id", run.SiteID).
		Msg("diagnostic run started")

	return run.ID
}

// PassStage marks a stage as passed.
func (r *Runner) PassStage(ctx context.Context, stage Stage, message string, details map[string]interface{}) {
	r.transition(ctx, stage, StagePass, message, details)
}

// FailStage marks a stage as failed. The stored details are classified
// into a failure bucket with a suggested fix.
func (r *Runner) FailStage(ctx context.Context, stage Stage, message string, details map[string]interface{}) {
	r.transition(ctx, stage, StageFail, message, details)
}

// SkipStage marks a stage as skipped.
func (r *Runner) SkipStage(ctx context.Context, stage Stage, message string) {
	r.transition(ctx, stage, StageSkipped, message, nil)
}

func (r *Runner) transition(ctx context.Context, stage Stage, status StageStatus, message string, details map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run == nil {
		r.logger.Warn().
			Str("stage", string(stage)).
			Str("status", string(status)).
			Msg("stage transition with no active diagnostic run; ignoring")
		return
	}

	result := r.run.StageByName(stage)
	if result == nil {
		r.logger.Warn().
			Str("run_id", r.run.ID).
			Str("stage", string(stage)).
			Msg("stage transition for unknown stage; ignoring")
		return
	}

	now := r.now()
	result.Status = status
	result.Message = message
	result.StartedAt = r.previousFinish(stage)
	result.FinishedAt = now
	result.Duration = now.Sub(result.StartedAt)
	result.Details = Redact(details)

	if status == StageFail {
		cls := Classify(Evidence(details))
		result.Bucket = cls.Bucket
		result.SuggestedFix = cls.SuggestedFix
	}

	if err := r.repo.UpdateStage(ctx, r.run.ID, *result); err != nil {
		r.logger.Error().Err(err).
			Str("run_id", r.run.ID).
			Str("stage", string(stage)).
			Msg("failed to persist stage transition")
	}

	evt := r.logger.Info()
	if status == StageFail {
		evt = r.logger.Warn()
	}
	evt.
		Str("run_id", r.run.ID).
		Str("stage", string(stage)).
		Str("status", string(status)).
		Str("bucket", string(result.Bucket)).
		Dur("duration", result.Duration).
		Msg("diagnostic stage finished")
}

// previousFinish returns the finish time of the nearest preceding stage
// that has finished, or the run start time. Stage durations are deltas
// between consecutive finish times, which slightly understates per-stage
// work when time passes between transitions; keep the arithmetic stable
// so historical runs stay comparable.
func (r *Runner) previousFinish(stage Stage) time.Time {
	prev := r.run.StartedAt
	for i := range r.run.Stages {
		if r.run.Stages[i].Stage == stage {
			break
		}
		if !r.run.Stages[i].FinishedAt.IsZero() {
			prev = r.run.Stages[i].FinishedAt
		}
	}
	return prev
}

// Finish derives the overall status, persists it with the total duration,
// releases the active run, and returns an immutable snapshot. Calling
// Finish with no active run returns nil.
func (r *Runner) Finish(ctx context.Context) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run == nil {
		r.logger.Warn().Msg("finish with no active diagnostic run; ignoring")
		return nil
	}

	run := r.run
	run.FinishedAt = r.now()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)
	run.Status = run.DeriveStatus()

	if err := r.repo.FinishRun(ctx, run); err != nil {
		r.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist finished diagnostic run")
	}

	r.logger.Info().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Dur("duration", run.Duration).
		Msg("diagnostic run finished")

	r.run = nil
	return snapshot(run)
}

// Instrument runs fn under a fresh diagnostic run. If fn panics or
// returns an error before all stages have finished, the first
// still-pending stage is failed with the error so the run always reaches
// a terminal state. The finished run snapshot is returned along with
// fn's error.
func (r *Runner) Instrument(ctx context.Context, input StartInput, fn func(ctx context.Context) error) (run *Run, err error) {
	r.Start(ctx, input)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during instrumented work: %v", rec)
		}
		if err != nil {
			r.failFirstPending(ctx, err)
		}
		run = r.Finish(ctx)
	}()

	err = fn(ctx)
	return run, err
}

// failFirstPending fails the first stage still pending, recording the
// error as evidence.
func (r *Runner) failFirstPending(ctx context.Context, cause error) {
	r.mu.Lock()
	var pending Stage
	if r.run != nil {
		for _, s := range r.run.Stages {
			if s.Status == StagePending {
				pending = s.Stage
				break
			}
		}
	}
	r.mu.Unlock()

	if pending != "" {
		r.FailStage(ctx, pending, cause.Error(), map[string]interface{}{
			"error": cause.Error(),
		})
	}
}

// snapshot returns a deep copy of a run so callers cannot mutate the
// persisted record.
func snapshot(run *Run) *Run {
	out := *run
	out.Stages = make([]StageResult, len(run.Stages))
	copy(out.Stages, run.Stages)
	out.Config = copyMap(run.Config)
	for i := range out.Stages {
		out.Stages[i].Details = copyMap(out.Stages[i].Details)
	}
	return &out
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = copyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
