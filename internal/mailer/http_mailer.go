package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// providerName labels the mail provider in breaker state and request
// metrics.
const providerName = "mail-provider"

// sendRequest is the provider's JSON send payload.
type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// sendResponse is the provider's JSON send response.
type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// transientError marks a provider failure worth retrying (5xx, 429,
// network errors).
type transientError struct {
	statusCode int
}

func (e *transientError) Error() string {
	return "transient mail provider error: " + http.StatusText(e.statusCode)
}

// Health is a point-in-time view of the provider circuit, surfaced by
// the operational endpoints.
type Health struct {
	CircuitState  string     `json:"circuit_state"`
	Requests      uint32     `json:"requests"`
	TotalFailures uint32     `json:"total_failures"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Healthy reports whether the provider circuit is closed.
func (h Health) Healthy() bool {
	return h.CircuitState == gobreaker.StateClosed.String()
}

// HTTPMailer sends mail through an HTTP provider. Each send runs
// through a circuit breaker and retries transient failures with
// exponential backoff; provider rejections (4xx) fail immediately.
type HTTPMailer struct {
	config     Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
	logger     zerolog.Logger

	mu            sync.Mutex
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewHTTPMailer creates an HTTP mailer. Zero-value config fields fall
// back to the DefaultConfig values.
func NewHTTPMailer(cfg Config, logger zerolog.Logger) *HTTPMailer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}

	mailer := &HTTPMailer{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}

	mailer.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        providerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Mail provider circuit state changed")
		},
	})

	return mailer
}

// Send delivers one message and returns the provider's message id.
func (m *HTTPMailer) Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error) {
	payload, err := json.Marshal(sendRequest{
		From:    m.config.FromAddress,
		To:      to,
		Subject: subject,
		HTML:    htmlBody,
		Text:    textBody,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling send request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.config.InitialInterval
	bo.MaxInterval = m.config.MaxInterval
	bo.MaxElapsedTime = 0

	var messageID string
	operation := func() error {
		id, err := m.breaker.Execute(func() (string, error) {
			return m.attempt(ctx, payload)
		})
		if err != nil {
			m.recordFailure(err)
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrProviderUnavailable)
			}
			var rejected *RejectedError
			if errors.As(err, &rejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		m.recordSuccess()
		messageID = id
		return nil
	}

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, m.config.MaxRetries), ctx))
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// attempt performs one provider request, recording it in the request
// metrics when configured.
func (m *HTTPMailer) attempt(ctx context.Context, payload []byte) (id string, err error) {
	if m.config.Metrics != nil {
		start := time.Now()
		defer func() {
			m.config.Metrics.RecordRequest(providerName, "send", time.Since(start), err)
		}()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.config.APIKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", &transientError{statusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		var parsed sendResponse
		_ = json.Unmarshal(body, &parsed)
		return "", &RejectedError{StatusCode: resp.StatusCode, Detail: parsed.Error}
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding send response: %w", err)
	}
	return parsed.MessageID, nil
}

func (m *HTTPMailer) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.lastSuccessAt = &now
}

func (m *HTTPMailer) recordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.lastFailureAt = &now
	m.lastError = err.Error()
}

// Health returns the current provider health view.
func (m *HTTPMailer) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := m.breaker.Counts()
	return Health{
		CircuitState:  m.breaker.State().String(),
		Requests:      counts.Requests,
		TotalFailures: counts.TotalFailures,
		LastSuccessAt: m.lastSuccessAt,
		LastFailureAt: m.lastFailureAt,
		LastError:     m.lastError,
	}
}
