package diagnose_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitemend/sitemend/internal/diagnose"
)

// stubClock returns a clock advancing by step on every call.
func stubClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func newTestRunner(repo *diagnose.InMemoryRepository, stages []diagnose.Stage) *diagnose.Runner {
	return diagnose.NewRunner(diagnose.RunnerConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		Stages:     stages,
		Now:        stubClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), time.Second),
	})
}

func TestRunner_OverallStatus(t *testing.T) {
	stages := []diagnose.Stage{"a", "b", "c"}

	tests := []struct {
		name string
		run  func(ctx context.Context, r *diagnose.Runner)
		want diagnose.RunStatus
	}{
		{
			name: "one failure yields fail",
			run: func(ctx context.Context, r *diagnose.Runner) {
				r.PassStage(ctx, "a", "ok", nil)
				r.FailStage(ctx, "b", "boom", nil)
				r.SkipStage(ctx, "c", "aborted")
			},
			want: diagnose.RunFail,
		},
		{
			name: "all passed yields pass",
			run: func(ctx context.Context, r *diagnose.Runner) {
				r.PassStage(ctx, "a", "ok", nil)
				r.PassStage(ctx, "b", "ok", nil)
				r.PassStage(ctx, "c", "ok", nil)
			},
			want: diagnose.RunPass,
		},
		{
			name: "passed or skipped yields pass",
			run: func(ctx context.Context, r *diagnose.Runner) {
				r.PassStage(ctx, "a", "ok", nil)
				r.SkipStage(ctx, "b", "not applicable")
				r.PassStage(ctx, "c", "ok", nil)
			},
			want: diagnose.RunPass,
		},
		{
			name: "pending stage without failure yields partial",
			run: func(ctx context.Context, r *diagnose.Runner) {
				r.PassStage(ctx, "a", "ok", nil)
			},
			want: diagnose.RunPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := diagnose.NewInMemoryRepository()
			runner := newTestRunner(repo, stages)

			runner.Start(ctx, diagnose.StartInput{Service: "woocommerce", SiteID: "site_1"})
			tt.run(ctx, runner)
			run := runner.Finish(ctx)

			if run == nil {
				t.Fatal("expected finished run")
			}
			if run.Status != tt.want {
				t.Errorf("status = %q, want %q", run.Status, tt.want)
			}
		})
	}
}

func TestRunner_FailStageClassifies(t *testing.T) {
	ctx := context.Background()
	repo := diagnose.NewInMemoryRepository()
	runner := newTestRunner(repo, nil)

	runner.Start(ctx, diagnose.StartInput{Service: "shopify", SiteID: "site_1"})
	runner.PassStage(ctx, diagnose.StageResolveConfig, "ok", nil)
	runner.FailStage(ctx, diagnose.StageConnectivity, "probe failed", map[string]interface{}{
		"http_status": 404,
		"api_token":   "tok_live_abc",
	})
	run := runner.Finish(ctx)

	stage := run.StageByName(diagnose.StageConnectivity)
	if stage == nil {
		t.Fatal("expected connectivity stage")
	}
	if stage.Bucket != diagnose.BucketWrongEndpoint {
		t.Errorf("bucket = %q, want %q", stage.Bucket, diagnose.BucketWrongEndpoint)
	}
	if stage.SuggestedFix == "" {
		t.Error("expected suggested fix on failed stage")
	}
	if stage.Details["api_token"] != diagnose.RedactionMarker {
		t.Errorf("api_token = %v, want redacted", stage.Details["api_token"])
	}
}

func TestRunner_TransitionsNeverPanic(t *testing.T) {
	ctx := context.Background()
	repo := diagnose.NewInMemoryRepository()
	runner := newTestRunner(repo, nil)

	// No active run: must log and no-op.
	runner.PassStage(ctx, diagnose.StageConnectivity, "ok", nil)
	runner.FailStage(ctx, diagnose.StageConnectivity, "boom", nil)
	runner.SkipStage(ctx, diagnose.StageConnectivity, "skip")
	if run := runner.Finish(ctx); run != nil {
		t.Error("expected nil run when finishing with no active run")
	}

	// Unknown stage: must log and no-op.
	runner.Start(ctx, diagnose.StartInput{Service: "magento", SiteID: "site_1"})
	runner.PassStage(ctx, "no_such_stage", "ok", nil)
	run := runner.Finish(ctx)
	if run.StageByName("no_such_stage") != nil {
		t.Error("unknown stage should not be recorded")
	}
}

func TestRunner_FinishIsTerminal(t *testing.T) {
	ctx := context.Background()
	repo := diagnose.NewInMemoryRepository()
	runner := newTestRunner(repo, nil)

	runner.Start(ctx, diagnose.StartInput{Service: "woocommerce", SiteID: "site_1"})
	first := runner.Finish(ctx)
	if first == nil {
		t.Fatal("expected finished run")
	}

	// Subsequent transitions after finish are no-ops.
	runner.PassStage(ctx, diagnose.StageResolveConfig, "late", nil)
	if second := runner.Finish(ctx); second != nil {
		t.Error("second finish should return nil")
	}

	stored, err := repo.GetRun(ctx, first.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if stored.StageByName(diagnose.StageResolveConfig).Status != diagnose.StagePending {
		t.Error("late transition should not have been persisted")
	}
}

func TestRunner_ConfigSnapshotRedacted(t *testing.T) {
	ctx := context.Background()
	repo := diagnose.NewInMemoryRepository()
	runner := newTestRunner(repo, nil)

	runID := runner.Start(ctx, diagnose.StartInput{
		Service: "woocommerce",
		SiteID:  "site_1",
		Config: map[string]interface{}{
			"endpoint":        "https://shop.example.com/wp-json",
			"consumer_secret": "cs_abc123",
		},
	})
	runner.Finish(ctx)

	stored, err := repo.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if stored.Config["consumer_secret"] != diagnose.RedactionMarker {
		t.Error("expected config secret to be redacted")
	}
	if stored.Config["endpoint"] != "https://shop.example.com/wp-json" {
		t.Error("expected non-secret config to be preserved")
	}
}

func TestRunner_StageDurationFromPreviousFinish(t *testing.T) {
	ctx := context.Background()
	repo := diagnose.NewInMemoryRepository()
	runner := newTestRunner(repo, []diagnose.Stage{"a", "b"})

	// Clock advances one second per call: Start consumes one tick, each
	// transition consumes one more.
	runner.Start(ctx, diagnose.StartInput{Service: "s", SiteID: "site_1"})
	runner.PassStage(ctx, "a", "ok", nil)
	runner.PassStage(ctx, "b", "ok", nil)
	run := runner.Finish(ctx)

	a := run.StageByName("a")
	b := run.StageByName("b")
	if !a.StartedAt.Equal(run.StartedAt) {
		t.Error("first stage duration should start at run start")
	}
	if !b.StartedAt.Equal(a.FinishedAt) {
		t.Error("second stage duration should start at first stage finish")
	}
	if a.Duration != time.Second || b.Duration != time.Second {
		t.Errorf("durations = %v, %v, want 1s each", a.Duration, b.Duration)
	}
}

func TestRunner_PersistsEveryTransition(t *testing.T) {
	ctx := context.Background()
	repo := diagnose.NewInMemoryRepository()
	runner := newTestRunner(repo, []diagnose.Stage{"a", "b"})

	runner.Start(ctx, diagnose.StartInput{Service: "s", SiteID: "site_1"})
	runner.PassStage(ctx, "a", "ok", nil)
	runner.FailStage(ctx, "b", "boom", nil)
	runner.Finish(ctx)

	// Create + two stage writes + finish.
	if got := repo.WriteCount(); got != 4 {
		t.Errorf("write count = %d, want 4", got)
	}
}

func TestRunner_InstrumentFailsPendingStageOnError(t *testing.T) {
	ctx := context.Background()
	repo := diagnose.NewInMemoryRepository()
	runner := newTestRunner(repo, nil)

	run, err := runner.Instrument(ctx, diagnose.StartInput{Service: "s", SiteID: "site_1"},
		func(ctx context.Context) error {
			runner.PassStage(ctx, diagnose.StageResolveConfig, "ok", nil)
			return errors.New("connect: connection timed out")
		})

	if err == nil {
		t.Fatal("expected error from instrumented work")
	}
	if run.Status != diagnose.RunFail {
		t.Errorf("status = %q, want fail", run.Status)
	}
	stage := run.StageByName(diagnose.StageConnectivity)
	if stage.Status != diagnose.StageFail {
		t.Errorf("connectivity status = %q, want fail", stage.Status)
	}
	if stage.Bucket != diagnose.BucketTimeout {
		t.Errorf("bucket = %q, want timeout", stage.Bucket)
	}
}

func TestRunner_InstrumentRecoversPanic(t *testing.T) {
	ctx := context.Background()
	repo := diagnose.NewInMemoryRepository()
	runner := newTestRunner(repo, nil)

	run, err := runner.Instrument(ctx, diagnose.StartInput{Service: "s", SiteID: "site_1"},
		func(ctx context.Context) error {
			panic("worker exploded")
		})

	if err == nil {
		t.Fatal("expected error from panicking work")
	}
	if run == nil {
		t.Fatal("expected run to reach a terminal state")
	}
	if run.Status != diagnose.RunFail {
		t.Errorf("status = %q, want fail", run.Status)
	}
}
