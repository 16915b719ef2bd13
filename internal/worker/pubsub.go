package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sitemend/sitemend/internal/diagnose"
	"github.com/sitemend/sitemend/internal/orchestrator"
)

// PubSubHandler consumes diagnostic job messages and executes them
// through the checker registry, recording progress in the orchestration
// event log.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	registry         *Registry
	runs             diagnose.Repository
	events           orchestrator.EventLog
	config           Config
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Registry         *Registry
	Runs             diagnose.Repository
	Events           orchestrator.EventLog
	Checks           Config
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Configure receive settings.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		registry:         cfg.Registry,
		runs:             cfg.Runs,
		events:           cfg.Events,
		config:           cfg.Checks.withDefaults(),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Strs("services", h.registry.Services()).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	var jobMsg orchestrator.JobMessage
	if err := json.Unmarshal(msg.Data, &jobMsg); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		msg.Nack()
		return
	}

	if jobMsg.Type != orchestrator.JobMessageType || jobMsg.Payload == nil {
		logger.Warn().Str("type", jobMsg.Type).Msg("unknown message type")
		msg.Ack() // Ack unknown messages to prevent redelivery
		return
	}

	job := jobMsg.Payload
	logger = logger.With().
		Str("job_id", job.ID).
		Str("service", job.Service).
		Str("site_id", job.SiteID).
		Logger()

	checker, ok := h.registry.Resolve(job.Service)
	if !ok {
		logger.Warn().Msg("no checker registered for service")
		h.appendJobStatus(ctx, job, orchestrator.JobFailed, map[string]interface{}{
			"error_code":   "unknown_service",
			"error_detail": fmt.Sprintf("no checker registered for service %q", job.Service),
		})
		msg.Ack() // Retrying cannot help an unregistered service
		return
	}

	h.appendJobStatus(ctx, job, orchestrator.JobRunning, nil)

	run, err := h.executeCheck(ctx, job, checker)
	if err != nil {
		logger.Error().Err(err).Msg("check execution failed")
		if h.shouldRetry(msg, job) {
			msg.Nack()
			return
		}
		h.appendJobStatus(ctx, job, orchestrator.JobFailed, map[string]interface{}{
			"error_code":   "check_error",
			"error_detail": err.Error(),
		})
		msg.Ack()
		return
	}

	h.appendResult(ctx, job, run)

	logger.Info().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Dur("duration", time.Since(startTime)).
		Msg("job completed")

	msg.Ack()
}

// executeCheck runs one instrumented check with a bounded deadline.
func (h *PubSubHandler) executeCheck(ctx context.Context, job *orchestrator.Job, checker Checker) (*diagnose.Run, error) {
	checkCtx, cancel := context.WithTimeout(ctx, h.config.CheckTimeout)
	defer cancel()

	runner := diagnose.NewRunner(diagnose.RunnerConfig{
		Repository: h.runs,
		Logger:     h.logger,
	})

	return runner.Instrument(checkCtx, diagnose.StartInput{
		Service:   job.Service,
		SiteID:    job.SiteID,
		RequestID: job.ID,
		Config:    job.Params,
	}, func(ctx context.Context) error {
		return checker.Check(ctx, job, runner)
	})
}

// shouldRetry reports whether the message has delivery attempts left
// within the job's budget.
func (h *PubSubHandler) shouldRetry(msg *pubsub.Message, job *orchestrator.Job) bool {
	if job.MaxAttempts <= 0 {
		return false
	}
	if msg.DeliveryAttempt == nil {
		return false
	}
	return *msg.DeliveryAttempt < job.MaxAttempts
}

// appendResult records the completed diagnostic as a result event. A
// run that found a broken site is still a completed worker call; the
// findings travel in the event payload.
func (h *PubSubHandler) appendResult(ctx context.Context, job *orchestrator.Job, run *diagnose.Run) {
	payload := map[string]interface{}{
		"run_id":      run.ID,
		"status":      string(run.Status),
		"duration_ms": run.Duration.Milliseconds(),
	}
	for _, stage := range run.Stages {
		if stage.Status == diagnose.StageFail {
			payload["failure_bucket"] = string(stage.Bucket)
			payload["suggested_fix"] = stage.SuggestedFix
			payload["failed_stage"] = string(stage.Stage)
			break
		}
	}

	h.append(ctx, &orchestrator.Event{
		JobID:   job.ID,
		RunID:   job.RunID,
		SiteID:  job.SiteID,
		Service: job.Service,
		Type:    orchestrator.EventResult,
		Status:  string(run.Status),
		Payload: payload,
	})
}

func (h *PubSubHandler) appendJobStatus(ctx context.Context, job *orchestrator.Job, status string, payload map[string]interface{}) {
	h.append(ctx, &orchestrator.Event{
		JobID:   job.ID,
		RunID:   job.RunID,
		SiteID:  job.SiteID,
		Service: job.Service,
		Type:    orchestrator.EventJobStatus,
		Status:  status,
		Payload: payload,
	})
}

// append writes an event best-effort; a full event log never blocks job
// processing.
func (h *PubSubHandler) append(ctx context.Context, event *orchestrator.Event) {
	event.ID = "evt_" + uuid.New().String()[:22]
	event.CreatedAt = time.Now()
	if err := h.events.Append(ctx, event); err != nil {
		h.logger.Error().Err(err).Str("job_id", event.JobID).Msg("failed to append orchestration event")
	}
}
