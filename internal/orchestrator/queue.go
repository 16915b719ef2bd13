package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Queue is the durable queue collaborator. Publish hands a job to the
// queue and returns the provider's message id; it never blocks on worker
// execution.
type Queue interface {
	Publish(ctx context.Context, job *Job) (string, error)
	Close() error
}

// JobMessage is the queue envelope for a dispatched job.
type JobMessage struct {
	Type        string `json:"type"`
	Payload     *Job   `json:"payload"`
	Priority    int    `json:"priority"`
	MaxAttempts int    `json:"max_attempts"`
}

// JobMessageType is the envelope type for diagnostic jobs.
const JobMessageType = "diagnostic_job"

// PubSubQueueConfig holds configuration for the Pub/Sub queue.
type PubSubQueueConfig struct {
	ProjectID string
	TopicName string
	Logger    zerolog.Logger
}

// PubSubQueue publishes jobs to a Google Cloud Pub/Sub topic.
type PubSubQueue struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicName string
	logger    zerolog.Logger
}

// NewPubSubQueue creates a new Pub/Sub-backed job queue.
func NewPubSubQueue(ctx context.Context, cfg PubSubQueueConfig) (*PubSubQueue, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &PubSubQueue{
		client:    client,
		publisher: client.Publisher(cfg.TopicName),
		topicName: cfg.TopicName,
		logger:    cfg.Logger,
	}, nil
}

// Publish serializes the job envelope and publishes it, blocking until
// the provider acknowledges the message.
func (q *PubSubQueue) Publish(ctx context.Context, job *Job) (string, error) {
	msg := JobMessage{
		Type:        JobMessageType,
		Payload:     job,
		Priority:    job.Priority,
		MaxAttempts: job.MaxAttempts,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshaling job message: %w", err)
	}

	result := q.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id":  job.ID,
			"service": job.Service,
			"site_id": job.SiteID,
		},
	})

	messageID, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publishing job %s: %w", job.ID, err)
	}

	q.logger.Debug().
		Str("job_id", job.ID).
		Str("message_id", messageID).
		Str("topic", q.topicName).
		Msg("job published")

	return messageID, nil
}

// Close stops the publisher and closes the underlying client.
func (q *PubSubQueue) Close() error {
	q.publisher.Stop()
	return q.client.Close()
}

// Ensure PubSubQueue implements Queue interface.
var _ Queue = (*PubSubQueue)(nil)
