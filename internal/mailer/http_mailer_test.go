package mailer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitemend/sitemend/internal/mailer"
)

func testConfig(url string) mailer.Config {
	cfg := mailer.DefaultConfig(url, "test-key", "alerts@sitemend.example")
	cfg.InitialInterval = 10 * time.Millisecond
	cfg.MaxInterval = 50 * time.Millisecond
	return cfg
}

func TestHTTPMailer_SendSuccess(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id":"prov-123"}`))
	}))
	defer server.Close()

	m := mailer.NewHTTPMailer(testConfig(server.URL), zerolog.Nop())

	messageID, err := m.Send(context.Background(), "owner@example.com", "Site down", "<p>down</p>", "down")
	require.NoError(t, err)

	assert.Equal(t, "prov-123", messageID)
	assert.Equal(t, "alerts@sitemend.example", received["from"])
	assert.Equal(t, "owner@example.com", received["to"])
	assert.Equal(t, "Site down", received["subject"])
	assert.True(t, m.Health().Healthy())
}

func TestHTTPMailer_RetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id":"prov-456"}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 5
	m := mailer.NewHTTPMailer(cfg, zerolog.Nop())

	messageID, err := m.Send(context.Background(), "owner@example.com", "s", "", "t")
	require.NoError(t, err)

	assert.Equal(t, "prov-456", messageID)
	assert.Equal(t, int32(3), attempts.Load(), "should have retried until success")
}

func TestHTTPMailer_RejectionIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid recipient address"}`))
	}))
	defer server.Close()

	m := mailer.NewHTTPMailer(testConfig(server.URL), zerolog.Nop())

	_, err := m.Send(context.Background(), "not-an-address", "s", "", "t")
	require.Error(t, err)

	var rejected *mailer.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusUnprocessableEntity, rejected.StatusCode)
	assert.Equal(t, "invalid recipient address", rejected.Detail)
	assert.Equal(t, int32(1), attempts.Load(), "4xx must not be retried")
}

func TestHTTPMailer_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 1
	m := mailer.NewHTTPMailer(cfg, zerolog.Nop())

	// Burn through enough failures to trip the breaker.
	for i := 0; i < 5; i++ {
		_, _ = m.Send(context.Background(), "owner@example.com", "s", "", "t")
	}

	_, err := m.Send(context.Background(), "owner@example.com", "s", "", "t")
	require.ErrorIs(t, err, mailer.ErrProviderUnavailable)

	health := m.Health()
	assert.False(t, health.Healthy())
	assert.Equal(t, "open", health.CircuitState)
	assert.NotNil(t, health.LastFailureAt)
}

func TestHTTPMailer_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id":"late"}`))
	}))
	defer server.Close()

	m := mailer.NewHTTPMailer(testConfig(server.URL), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Send(ctx, "owner@example.com", "s", "", "t")
	require.Error(t, err)
}

type recordedRequest struct {
	provider  string
	operation string
	err       error
}

// capturingMetrics collects RecordRequest calls for assertions.
type capturingMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (c *capturingMetrics) RecordRequest(provider, operation string, _ time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, recordedRequest{provider: provider, operation: operation, err: err})
}

func TestHTTPMailer_RecordsProviderMetricsPerAttempt(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id":"prov-789"}`))
	}))
	defer server.Close()

	metrics := &capturingMetrics{}
	cfg := testConfig(server.URL)
	cfg.MaxRetries = 5
	cfg.Metrics = metrics
	m := mailer.NewHTTPMailer(cfg, zerolog.Nop())

	_, err := m.Send(context.Background(), "owner@example.com", "s", "", "t")
	require.NoError(t, err)

	require.Len(t, metrics.requests, 3, "each attempt records one request")
	for _, req := range metrics.requests[:2] {
		assert.Equal(t, "mail-provider", req.provider)
		assert.Equal(t, "send", req.operation)
		assert.Error(t, req.err)
	}
	assert.NoError(t, metrics.requests[2].err)
}
