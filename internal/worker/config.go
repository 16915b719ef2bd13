// Package worker consumes diagnostic jobs from the queue and runs
// instrumented site checks.
package worker

import (
	"time"
)

// Config holds configuration for check execution.
type Config struct {
	// CheckTimeout bounds a single site check, covering every stage.
	// Default: 15 seconds
	CheckTimeout time.Duration

	// UserAgent is sent on outgoing diagnostic requests so site owners
	// can identify probe traffic in their access logs.
	// Default: "SiteMend-Diagnostics/1.0"
	UserAgent string

	// MaxBodySnippet is the maximum number of response body bytes
	// captured as failure evidence.
	// Default: 2048
	MaxBodySnippet int
}

// DefaultConfig returns the default check configuration.
func DefaultConfig() Config {
	return Config{
		CheckTimeout:   15 * time.Second,
		UserAgent:      "SiteMend-Diagnostics/1.0",
		MaxBodySnippet: 2048,
	}
}

// withDefaults fills zero-value fields from DefaultConfig.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.CheckTimeout == 0 {
		c.CheckTimeout = defaults.CheckTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaults.UserAgent
	}
	if c.MaxBodySnippet == 0 {
		c.MaxBodySnippet = defaults.MaxBodySnippet
	}
	return c
}
