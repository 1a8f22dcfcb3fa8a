package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/domain/model"
	"github.com/stockpulse/analyzer/internal/observability/notify"
)

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []notify.JobFailurePayload
}

func (n *fakeNotifier) NotifyJobFailure(_ context.Context, payload notify.JobFailurePayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, payload)
}

// orchestratorEnv wires an Orchestrator over in-memory fakes with a real
// pipeline, scheduler, and deliverer underneath.
type orchestratorEnv struct {
	orchestrator *Orchestrator
	jobs         *fakeJobRepo
	analyses     *fakeAnalysisRepo
	deliveries   *fakeDeliveryRepo
	source       *fakeSource
	generator    *fakeGenerator
	sink         *fakeSink
	notifier     *fakeNotifier
}

func newOrchestratorEnv(t *testing.T, subs *fakeSubscriptionRepo, maxSymbols int) *orchestratorEnv {
	t.Helper()

	env := &orchestratorEnv{
		jobs:       newFakeJobRepo(),
		analyses:   newFakeAnalysisRepo(),
		deliveries: newFakeDeliveryRepo(),
		source:     &fakeSource{},
		generator:  &fakeGenerator{},
		sink:       newFakeSink(),
		notifier:   &fakeNotifier{},
	}

	pipeline, err := NewAnalysisPipeline(AnalysisPipelineOptions{
		Analyses:       env.analyses,
		Source:         env.source,
		Generator:      env.generator,
		FetchPolicy:    fastPolicy(2),
		GeneratePolicy: fastPolicy(2),
	})
	require.NoError(t, err)

	scheduler, err := NewScheduler(SchedulerOptions{Pipeline: pipeline, Workers: 2})
	require.NoError(t, err)

	deliverer, err := NewDeliverer(DelivererOptions{
		Subscriptions: subs,
		Deliveries:    env.deliveries,
		Sink:          env.sink,
		Render:        renderSummaries,
		SendPolicy:    fastPolicy(2),
	})
	require.NoError(t, err)

	env.orchestrator, err = NewOrchestrator(OrchestratorOptions{
		Jobs:           env.jobs,
		Subscriptions:  subs,
		Insights:       &fakeInsightRepo{analyses: env.analyses},
		Scheduler:      scheduler,
		Deliverer:      deliverer,
		Deadline:       time.Minute,
		MaxSymbols:     maxSymbols,
		MaxParallelism: 4,
		Notifier:       env.notifier,
	})
	require.NoError(t, err)
	return env
}

func TestOrchestratorCompletesJob(t *testing.T) {
	subs := &fakeSubscriptionRepo{
		symbols: []string{"AAPL", "MSFT", "NVDA"},
		subscribers: map[string][]string{
			"AAPL": {"user-1"},
			"MSFT": {"user-1", "user-2"},
			"NVDA": {"user-2"},
		},
	}
	env := newOrchestratorEnv(t, subs, 100)

	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	job, err := env.orchestrator.RunDailyJob(context.Background(), date, model.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.StocksScheduled)
	assert.Equal(t, 3, job.StocksProcessed)
	assert.Equal(t, 3, job.SuccessCount)
	assert.Zero(t, job.FailureCount)
	assert.Equal(t, 4, job.InsightsDelivered)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.Errors)

	messages := env.sink.messages()
	assert.Len(t, messages, 2, "one batched message per recipient")
}

func TestOrchestratorCountsInvariant(t *testing.T) {
	subs := &fakeSubscriptionRepo{
		symbols:     []string{"AAPL", "GONE", "MSFT"},
		subscribers: map[string][]string{"AAPL": {"user-1"}, "MSFT": {"user-1"}},
	}
	env := newOrchestratorEnv(t, subs, 100)
	env.source.fetch = func(symbol string) (*model.Snapshot, error) {
		if symbol == "GONE" {
			return nil, &model.PermanentSymbolError{Symbol: symbol, Reason: "delisted"}
		}
		return &model.Snapshot{Symbol: symbol, Source: "fake", FetchedAt: time.Now().UTC()}, nil
	}

	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	job, err := env.orchestrator.RunDailyJob(context.Background(), date, model.RunOptions{})
	require.NoError(t, err, "per-symbol failures never fail the job")

	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, job.StocksProcessed, job.SuccessCount+job.FailureCount)
	assert.LessOrEqual(t, job.StocksProcessed, job.StocksScheduled)
	assert.Equal(t, 2, job.SuccessCount)
	assert.Equal(t, 1, job.FailureCount)

	require.Len(t, job.Errors, 1)
	assert.Equal(t, "GONE: invalid_symbol", job.Errors[0])
}

func TestOrchestratorMutualExclusion(t *testing.T) {
	subs := &fakeSubscriptionRepo{symbols: []string{"AAPL"}}
	env := newOrchestratorEnv(t, subs, 100)

	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	_, err := env.jobs.Start(context.Background(), core.StartJobParams{TradingDate: date, StocksScheduled: 1})
	require.NoError(t, err)

	_, err = env.orchestrator.RunDailyJob(context.Background(), date, model.RunOptions{})
	require.ErrorIs(t, err, model.ErrJobAlreadyRunning)

	assert.Zero(t, env.source.callCount(), "rejection must happen before any provider call")
	assert.Zero(t, env.generator.callCount())
}

func TestOrchestratorForceSupersedes(t *testing.T) {
	subs := &fakeSubscriptionRepo{symbols: []string{"AAPL"}}
	env := newOrchestratorEnv(t, subs, 100)

	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	stale, err := env.jobs.Start(context.Background(), core.StartJobParams{TradingDate: date, StocksScheduled: 1})
	require.NoError(t, err)

	job, err := env.orchestrator.RunDailyJob(context.Background(), date, model.RunOptions{Force: true})
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusCompleted, job.Status)
	displaced, err := env.jobs.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSuperseded, displaced.Status)
}

func TestOrchestratorCapacityTruncation(t *testing.T) {
	subs := &fakeSubscriptionRepo{
		symbols:     []string{"AAPL", "MSFT", "NVDA"},
		subscribers: map[string][]string{},
	}
	env := newOrchestratorEnv(t, subs, 2)

	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	job, err := env.orchestrator.RunDailyJob(context.Background(), date, model.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, job.StocksScheduled, "excess symbols are truncated, not rejected")
	assert.Equal(t, 2, job.StocksProcessed)

	require.NotEmpty(t, job.Errors)
	assert.Contains(t, job.Errors[0], "scheduling set truncated")

	// Lowest-ordered symbols survive; NVDA is cut.
	assert.NotNil(t, env.analyses.get("AAPL", date))
	assert.NotNil(t, env.analyses.get("MSFT", date))
	assert.Nil(t, env.analyses.get("NVDA", date))
}

func TestOrchestratorDryRun(t *testing.T) {
	subs := &fakeSubscriptionRepo{symbols: []string{"AAPL", "MSFT"}}
	env := newOrchestratorEnv(t, subs, 100)

	job, err := env.orchestrator.RunDailyJob(context.Background(), time.Now(), model.RunOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.StocksScheduled)
	assert.Empty(t, job.ID, "dry run persists nothing")
	assert.Empty(t, env.jobs.jobs)
	assert.Zero(t, env.source.callCount())
	assert.Zero(t, env.generator.callCount())
	assert.Empty(t, env.sink.messages())
}

type fatalScheduler struct{ err error }

func (s *fatalScheduler) Run(context.Context, SchedulerRunParams) (map[string]model.AnalysisOutcome, error) {
	return map[string]model.AnalysisOutcome{}, s.err
}

func TestOrchestratorFatalErrorFailsJob(t *testing.T) {
	subs := &fakeSubscriptionRepo{symbols: []string{"AAPL"}}
	env := newOrchestratorEnv(t, subs, 100)

	fatal := &model.LedgerUnavailableError{Op: "save analysis", Err: errors.New("connection refused")}
	env.orchestrator.scheduler = &fatalScheduler{err: fatal}

	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	job, err := env.orchestrator.RunDailyJob(context.Background(), date, model.RunOptions{})
	require.Error(t, err)
	require.ErrorAs(t, err, new(*model.LedgerUnavailableError))

	require.NotNil(t, job)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotEmpty(t, job.Errors)
	assert.True(t, strings.HasPrefix(job.Errors[len(job.Errors)-1], "fatal:"))

	require.Len(t, env.notifier.payloads, 1)
	payload := env.notifier.payloads[0]
	assert.Equal(t, job.ID, payload.JobID)
	assert.Equal(t, "2026-08-28", payload.TradingDate)
	assert.NotEmpty(t, payload.ErrorClass)
}

func TestOrchestratorParallelismClamped(t *testing.T) {
	env := newOrchestratorEnv(t, &fakeSubscriptionRepo{}, 100)

	assert.Equal(t, 4, env.orchestrator.clampParallelism(16))
	assert.Equal(t, 3, env.orchestrator.clampParallelism(3))
	assert.Zero(t, env.orchestrator.clampParallelism(0), "no override falls back to the configured width")
}
