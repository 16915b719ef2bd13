package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/sitemend/sitemend/internal/diagnose"
	"github.com/sitemend/sitemend/internal/orchestrator"
)

// Checker runs one service's site check, reporting progress through the
// diagnostic runner's stages. Expected check failures (a broken site)
// are expressed as failed stages and a nil return; a non-nil error
// means the check itself could not run.
type Checker interface {
	Check(ctx context.Context, job *orchestrator.Job, runner *diagnose.Runner) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, job *orchestrator.Job, runner *diagnose.Runner) error

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context, job *orchestrator.Job, runner *diagnose.Runner) error {
	return f(ctx, job, runner)
}

// Registry maps worker service names to their checkers. Jobs for
// unregistered services are rejected rather than silently dropped.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry creates an empty checker registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a checker for a service name, replacing any existing
// registration.
func (r *Registry) Register(service string, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[service] = checker
}

// Resolve returns the checker for a service name.
func (r *Registry) Resolve(service string) (Checker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	checker, ok := r.checkers[service]
	return checker, ok
}

// Services returns the registered service names, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
