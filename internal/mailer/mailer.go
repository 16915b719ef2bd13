// Package mailer sends transactional notification email through an
// HTTP mail provider, with retries and a circuit breaker so a flapping
// provider degrades deliveries instead of stalling event processing.
package mailer

import (
	"errors"
	"fmt"
	"time"
)

// Predefined errors for mail delivery.
var (
	// ErrProviderUnavailable is returned when the provider circuit is
	// open and no request was attempted.
	ErrProviderUnavailable = errors.New("mail provider unavailable")
)

// RejectedError is a non-retryable provider rejection (4xx).
type RejectedError struct {
	StatusCode int
	Detail     string
}

func (e *RejectedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("mail provider rejected message (status %d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("mail provider rejected message (status %d)", e.StatusCode)
}

// RequestMetrics observes individual provider requests. Satisfied by
// the API middleware's provider metrics.
type RequestMetrics interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
}

// Config holds configuration for the HTTP mailer.
type Config struct {
	// BaseURL is the provider's send endpoint, e.g.
	// "https://api.mailprovider.example/v1/send".
	BaseURL string

	// APIKey authenticates requests to the provider.
	APIKey string

	// FromAddress is the sender address on outgoing mail.
	FromAddress string

	// Timeout is the per-request timeout. Default: 10 seconds.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts on transient
	// failures. Default: 3.
	MaxRetries uint64

	// InitialInterval is the initial retry backoff. Default: 100ms.
	InitialInterval time.Duration

	// MaxInterval caps the retry backoff. Default: 5 seconds.
	MaxInterval time.Duration

	// BreakerTimeout is how long the circuit stays open before a
	// half-open probe. Default: 60 seconds.
	BreakerTimeout time.Duration

	// Metrics, when set, records every provider request. Optional.
	Metrics RequestMetrics
}

// DefaultConfig returns sensible defaults for the given provider
// endpoint.
func DefaultConfig(baseURL, apiKey, from string) Config {
	return Config{
		BaseURL:         baseURL,
		APIKey:          apiKey,
		FromAddress:     from,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		BreakerTimeout:  60 * time.Second,
	}
}
