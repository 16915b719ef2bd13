package orchestrator

import (
	"context"
	"sync"
)

// InMemoryEventLog is an in-memory implementation of EventLog for tests
// and local development.
type InMemoryEventLog struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemoryEventLog creates a new in-memory event log.
func NewInMemoryEventLog() *InMemoryEventLog {
	return &InMemoryEventLog{}
}

// Append stores an event.
func (l *InMemoryEventLog) Append(_ context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *event)
	return nil
}

// ListByJob returns all events for a job id.
func (l *InMemoryEventLog) ListByJob(_ context.Context, jobID string) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, e := range l.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListByRun returns all events for a run id.
func (l *InMemoryEventLog) ListByRun(_ context.Context, runID string) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, e := range l.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Ensure InMemoryEventLog implements EventLog interface.
var _ EventLog = (*InMemoryEventLog)(nil)
