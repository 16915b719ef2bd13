package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitemend/sitemend/internal/safety"
)

// Default polling parameters for WaitForCompletion.
const (
	DefaultCallTimeout  = 2 * time.Minute
	DefaultPollInterval = 2 * time.Second
)

// ServiceConfig holds configuration for the orchestrator.
type ServiceConfig struct {
	Queue  Queue
	Events EventLog
	Logger zerolog.Logger

	// Safety, when set, is consulted before every publish. A tripped
	// switch blocks dispatch with a BlockedError.
	Safety *safety.Service

	// CallTimeout bounds each worker call. Default: DefaultCallTimeout.
	CallTimeout time.Duration

	// PollInterval is the sleep between completion polls.
	// Default: DefaultPollInterval.
	PollInterval time.Duration

	// Now is the clock used for timestamps and durations.
	// Defaults to time.Now.
	Now func() time.Time

	// Sleep waits for the given duration or until the context is done.
	// Injectable for tests. Defaults to a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Service publishes jobs to the queue and derives their outcomes by
// polling the event log. One owned instance per process; Close releases
// the queue.
type Service struct {
	queue        Queue
	events       EventLog
	safety       *safety.Service
	logger       zerolog.Logger
	callTimeout  time.Duration
	pollInterval time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	tracer       trace.Tracer
}

// NewService creates a new orchestrator.
func NewService(cfg ServiceConfig) *Service {
	callTimeout := cfg.CallTimeout
	if callTimeout == 0 {
		callTimeout = DefaultCallTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	return &Service{
		queue:        cfg.Queue,
		events:       cfg.Events,
		safety:       cfg.Safety,
		logger:       cfg.Logger,
		callTimeout:  callTimeout,
		pollInterval: pollInterval,
		now:          now,
		sleep:        sleep,
		tracer:       otel.Tracer("orchestrator"),
	}
}

// Close releases the underlying queue client.
func (s *Service) Close() error {
	if s.queue == nil {
		return nil
	}
	return s.queue.Close()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Publish writes a job to the durable queue and an initial queued status
// event, returning the job id. The safety gate is consulted first when
// configured.
func (s *Service) Publish(ctx context.Context, service, siteID, runID, domain string, params map[string]interface{}) (string, error) {
	if err := s.checkSafety(ctx, service, siteID, params); err != nil {
		return "", err
	}

	job := &Job{
		ID:          "job_" + uuid.New().String()[:22],
		Service:     service,
		SiteID:      siteID,
		RunID:       runID,
		Domain:      domain,
		Params:      params,
		Priority:    5,
		MaxAttempts: 3,
	}

	messageID, err := s.queue.Publish(ctx, job)
	if err != nil {
		return "", fmt.Errorf("publish job for service %s: %w", service, err)
	}

	s.appendEvent(ctx, &Event{
		JobID:   job.ID,
		RunID:   runID,
		SiteID:  siteID,
		Service: service,
		Type:    EventJobStatus,
		Status:  JobQueued,
		Payload: map[string]interface{}{
			"provider_message_id": messageID,
			"domain":              domain,
		},
	})

	s.logger.Info().
		Str("job_id", job.ID).
		Str("run_id", runID).
		Str("service", service).
		Str("site_id", siteID).
		Msg("job queued")

	return job.ID, nil
}

func (s *Service) checkSafety(ctx context.Context, service, siteID string, params map[string]interface{}) error {
	if s.safety == nil {
		return nil
	}
	requiresChanges, _ := params["requires_changes"].(bool)
	check := s.safety.PerformSafetyCheck(ctx, safety.CheckInput{
		ServiceName:     service,
		SiteID:          siteID,
		RequiresChanges: requiresChanges,
	})
	if !check.Allowed {
		s.logger.Warn().
			Str("service", service).
			Str("site_id", siteID).
			Str("reason", check.Reason).
			Msg("dispatch blocked by safety gate")
		return &BlockedError{Reason: check.Reason}
	}
	return nil
}

// WaitForCompletion polls the event log for the job's outcome: a result
// event means success, a failed job status means failure, and exhausting
// the bounded attempt budget means timeout. The poll loop exits early
// when the context is cancelled.
func (s *Service) WaitForCompletion(ctx context.Context, jobID string, timeout, pollInterval time.Duration) WorkerCallResult {
	if timeout <= 0 {
		timeout = s.callTimeout
	}
	if pollInterval <= 0 {
		pollInterval = s.pollInterval
	}

	start := s.now()
	attempts := int(timeout / pollInterval)
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		events, err := s.events.ListByJob(ctx, jobID)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to read job events")
		}

		for _, e := range events {
			switch {
			case e.Type == EventResult:
				return WorkerCallResult{
					Service:  e.Service,
					Status:   CallSuccess,
					Duration: s.now().Sub(start),
					Result:   e.Payload,
					JobID:    jobID,
				}
			case e.Type == EventJobStatus && e.Status == JobFailed:
				return WorkerCallResult{
					Service:     e.Service,
					Status:      CallFailed,
					Duration:    s.now().Sub(start),
					ErrorCode:   stringFromPayload(e.Payload, "error_code", "worker_failed"),
					ErrorDetail: stringFromPayload(e.Payload, "error_detail", ""),
					JobID:       jobID,
				}
			}
		}

		if err := s.sleep(ctx, pollInterval); err != nil {
			return WorkerCallResult{
				Status:      CallFailed,
				Duration:    s.now().Sub(start),
				ErrorCode:   "cancelled",
				ErrorDetail: err.Error(),
				JobID:       jobID,
			}
		}
	}

	return WorkerCallResult{
		Status:      CallTimeout,
		Duration:    s.now().Sub(start),
		ErrorCode:   "timeout",
		ErrorDetail: fmt.Sprintf("no completion event within %s", timeout),
		JobID:       jobID,
	}
}

func stringFromPayload(payload map[string]interface{}, key, fallback string) string {
	if s, ok := payload[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// CallWorker publishes a job and waits for its completion. Any error
// during either step is converted into a failed WorkerCallResult;
// callers never need error handling to process orchestration results.
func (s *Service) CallWorker(ctx context.Context, service, siteID, runID, domain string, params map[string]interface{}) WorkerCallResult {
	ctx, span := s.tracer.Start(ctx, "orchestrator.CallWorker",
		trace.WithAttributes(
			attribute.String("service", service),
			attribute.String("site_id", siteID),
			attribute.String("run_id", runID),
		))
	defer span.End()

	start := s.now()
	jobID, err := s.Publish(ctx, service, siteID, runID, domain, params)
	if err != nil {
		var blocked *BlockedError
		errorCode := "publish_failed"
		if errors.As(err, &blocked) {
			errorCode = "blocked"
		}
		return WorkerCallResult{
			Service:     service,
			Status:      CallFailed,
			Duration:    s.now().Sub(start),
			ErrorCode:   errorCode,
			ErrorDetail: err.Error(),
		}
	}

	result := s.WaitForCompletion(ctx, jobID, s.callTimeout, s.pollInterval)
	result.Service = service
	span.SetAttributes(attribute.String("status", string(result.Status)))
	return result
}

// RunOrchestration runs each service sequentially against a site,
// accumulating results. Sequential ordering bounds worst-case load on
// downstream workers and gives consumers deterministic per-service
// result ordering.
func (s *Service) RunOrchestration(ctx context.Context, siteID, domain string, services []string, params map[string]interface{}) (*Result, error) {
	if err := s.checkSafety(ctx, "", siteID, nil); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "orchestrator.RunOrchestration",
		trace.WithAttributes(
			attribute.String("site_id", siteID),
			attribute.Int("services", len(services)),
		))
	defer span.End()

	runID := "orun_" + uuid.New().String()[:22]
	result := &Result{
		RunID:     runID,
		SiteID:    siteID,
		StartedAt: s.now(),
	}

	s.appendEvent(ctx, &Event{
		RunID:  runID,
		SiteID: siteID,
		Type:   EventRunStatus,
		Status: RunStarted,
		Payload: map[string]interface{}{
			"domain":   domain,
			"services": services,
		},
	})

	s.logger.Info().
		Str("run_id", runID).
		Str("site_id", siteID).
		Strs("services", services).
		Msg("orchestration started")

	for _, service := range services {
		call := s.CallWorker(ctx, service, siteID, runID, domain, params)
		result.Workers = append(result.Workers, call)
		if call.Status == CallSuccess {
			result.SuccessCount++
		} else {
			result.FailedCount++
		}
	}

	result.FinishedAt = s.now()
	runStatus := RunCompleted
	if result.FailedCount > 0 {
		runStatus = RunFailed
	}

	s.appendEvent(ctx, &Event{
		RunID:  runID,
		SiteID: siteID,
		Type:   EventRunStatus,
		Status: runStatus,
		Payload: map[string]interface{}{
			"success_count": result.SuccessCount,
			"failed_count":  result.FailedCount,
		},
	})

	s.logger.Info().
		Str("run_id", runID).
		Str("status", runStatus).
		Int("successful", result.SuccessCount).
		Int("failed", result.FailedCount).
		Dur("duration", result.FinishedAt.Sub(result.StartedAt)).
		Msg("orchestration finished")

	return result, nil
}

// RunAsyncOrchestration publishes one job per service concurrently and
// returns the job ids without waiting for completion. All publishes are
// awaited before returning; partial publish failures surface as an
// aggregate error alongside the ids that did publish. Callers poll
// GetRunStatus separately.
func (s *Service) RunAsyncOrchestration(ctx context.Context, siteID, domain string, services []string, params map[string]interface{}) (string, []string, error) {
	if err := s.checkSafety(ctx, "", siteID, nil); err != nil {
		return "", nil, err
	}

	runID := "orun_" + uuid.New().String()[:22]
	s.appendEvent(ctx, &Event{
		RunID:  runID,
		SiteID: siteID,
		Type:   EventRunStatus,
		Status: RunStarted,
		Payload: map[string]interface{}{
			"domain":   domain,
			"services": services,
			"async":    true,
		},
	})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		jobIDs []string
		errs   []error
	)
	for _, service := range services {
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			jobID, err := s.Publish(ctx, service, siteID, runID, domain, params)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("service %s: %w", service, err))
				return
			}
			jobIDs = append(jobIDs, jobID)
		}(service)
	}
	wg.Wait()

	if len(errs) > 0 {
		s.logger.Error().
			Str("run_id", runID).
			Int("published", len(jobIDs)).
			Int("failed", len(errs)).
			Msg("async orchestration published partially")
		return runID, jobIDs, errors.Join(errs...)
	}

	s.logger.Info().
		Str("run_id", runID).
		Str("site_id", siteID).
		Int("jobs", len(jobIDs)).
		Msg("async orchestration dispatched")

	return runID, jobIDs, nil
}

// GetRunStatus derives the aggregate status of a run from its events:
// per-job completions and failures are counted against the distinct job
// ids seen for the run.
func (s *Service) GetRunStatus(ctx context.Context, siteID, runID string) (*RunStatusInfo, error) {
	events, err := s.events.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}

	info := &RunStatusInfo{RunID: runID, SiteID: siteID, Status: "pending"}
	if len(events) == 0 {
		return info, nil
	}

	// Events carry the dispatching site; a run id requested under
	// another site is reported as absent rather than leaked.
	for _, e := range events {
		if e.SiteID != "" && e.SiteID != siteID {
			return nil, ErrRunNotFound
		}
	}

	jobs := make(map[string]struct{})
	completed := make(map[string]struct{})
	failed := make(map[string]struct{})
	for _, e := range events {
		if e.JobID != "" {
			jobs[e.JobID] = struct{}{}
		}
		switch {
		case e.Type == EventResult:
			completed[e.JobID] = struct{}{}
		case e.Type == EventJobStatus && e.Status == JobFailed:
			failed[e.JobID] = struct{}{}
		}
	}

	info.TotalJobs = len(jobs)
	info.Completed = len(completed)
	info.Failed = len(failed)

	switch {
	case info.TotalJobs == 0:
		info.Status = "pending"
	case info.Completed+info.Failed < info.TotalJobs:
		info.Status = "running"
	case info.Failed > 0:
		info.Status = "failed"
	default:
		info.Status = "completed"
	}

	return info, nil
}

// appendEvent writes an event, logging rather than propagating failures;
// event log writes are best-effort bookkeeping around dispatch.
func (s *Service) appendEvent(ctx context.Context, event *Event) {
	event.ID = "evt_" + uuid.New().String()[:22]
	event.CreatedAt = s.now()
	if err := s.events.Append(ctx, event); err != nil {
		s.logger.Error().Err(err).
			Str("type", string(event.Type)).
			Str("run_id", event.RunID).
			Msg("failed to append orchestration event")
	}
}
