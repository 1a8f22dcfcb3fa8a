package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/domain/model"
	obserrors "github.com/stockpulse/analyzer/internal/observability/errors"
	"github.com/stockpulse/analyzer/internal/observability/metrics"
	"github.com/stockpulse/analyzer/internal/observability/notify"
	"github.com/stockpulse/analyzer/internal/observability/statsd"
)

// SymbolScheduler runs the analysis batch. Implemented by Scheduler.
type SymbolScheduler interface {
	Run(ctx context.Context, params SchedulerRunParams) (map[string]model.AnalysisOutcome, error)
}

// InsightDeliverer fans insights out to subscribers. Implemented by Deliverer.
type InsightDeliverer interface {
	DeliverAll(ctx context.Context, insights []*model.Insight) (DeliverySummary, error)
}

// FailureNotifier receives job-fatal notifications. Implemented by
// failurenotifier.Service.
type FailureNotifier interface {
	NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload)
}

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Jobs          core.JobRepository          // Required
	Subscriptions core.SubscriptionRepository // Required
	Insights      core.InsightRepository      // Required
	Scheduler     SymbolScheduler             // Required
	Deliverer     InsightDeliverer            // Required

	// Deadline bounds the whole batch from job start.
	Deadline time.Duration
	// MaxSymbols caps the scheduling set; excess is truncated, not rejected.
	MaxSymbols int
	// MaxParallelism caps the per-invocation parallelism override.
	MaxParallelism int

	Logger   *slog.Logger
	Metrics  statsd.Sink
	Notifier FailureNotifier
}

// Orchestrator drives one daily analysis job end to end: mutual
// exclusion, capacity guard, analysis fan-out, delivery fan-out, and a
// single terminal write to the job record.
type Orchestrator struct {
	jobs          core.JobRepository
	subscriptions core.SubscriptionRepository
	insights      core.InsightRepository
	scheduler     SymbolScheduler
	deliverer     InsightDeliverer

	deadline       time.Duration
	maxSymbols     int
	maxParallelism int

	logger   *slog.Logger
	metrics  statsd.Sink
	notifier FailureNotifier
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Subscriptions == nil {
		return nil, errors.New("SubscriptionRepository is required")
	}
	if opts.Insights == nil {
		return nil, errors.New("InsightRepository is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("SymbolScheduler is required")
	}
	if opts.Deliverer == nil {
		return nil, errors.New("InsightDeliverer is required")
	}

	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = time.Hour
	}
	maxSymbols := opts.MaxSymbols
	if maxSymbols < 1 {
		maxSymbols = 100
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "orchestrator")
	}

	return &Orchestrator{
		jobs:           opts.Jobs,
		subscriptions:  opts.Subscriptions,
		insights:       opts.Insights,
		scheduler:      opts.Scheduler,
		deliverer:      opts.Deliverer,
		deadline:       deadline,
		maxSymbols:     maxSymbols,
		maxParallelism: opts.MaxParallelism,
		logger:         logger,
		metrics:        opts.Metrics,
		notifier:       opts.Notifier,
	}, nil
}

// RunDailyJob is the sole entry point: it resolves the scheduling set,
// runs analysis and delivery, and finalizes the job record exactly once.
// model.ErrJobAlreadyRunning is returned before any provider call when
// an unfinished job exists for the date and Force is not set.
func (o *Orchestrator) RunDailyJob(
	ctx context.Context,
	tradingDate time.Time,
	opts model.RunOptions,
) (*model.AnalysisJob, error) {
	date := model.TradingDateOf(tradingDate)

	symbols, err := o.subscriptions.ActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve scheduling set: %w", err)
	}

	symbols, truncWarning := o.applyCapacityGuard(symbols)

	if opts.DryRun {
		return o.previewJob(ctx, date, symbols, truncWarning), nil
	}

	job, err := o.jobs.Start(ctx, core.StartJobParams{
		TradingDate:     date,
		StocksScheduled: len(symbols),
		Force:           opts.Force,
	})
	if err != nil {
		return nil, err
	}

	if o.logger != nil {
		o.logger.InfoContext(ctx, "daily job started",
			"job_id", job.ID,
			"trading_date", model.FormatTradingDate(date),
			"symbols", len(symbols),
			"force", opts.Force,
		)
	}

	outcomes, schedErr := o.scheduler.Run(ctx, SchedulerRunParams{
		Symbols:     symbols,
		TradingDate: date,
		Deadline:    job.StartedAt.Add(o.deadline),
		Workers:     o.clampParallelism(opts.Parallelism),
	})

	var summary DeliverySummary
	var delErr error
	if schedErr == nil {
		summary, delErr = o.deliverOutcomes(ctx, outcomes)
	}

	return o.finalize(ctx, finalizeParams{
		job:         job,
		outcomes:    outcomes,
		summary:     summary,
		truncation:  truncWarning,
		fatalErr:    firstNonNil(schedErr, delErr),
		tradingDate: date,
	})
}

// applyCapacityGuard truncates an oversized symbol set deterministically
// (the set arrives sorted ascending) and reports a warning string.
func (o *Orchestrator) applyCapacityGuard(symbols []string) ([]string, string) {
	if len(symbols) <= o.maxSymbols {
		return symbols, ""
	}
	warning := (&model.CapacityExceededError{
		Scope:   "system",
		Current: len(symbols),
		Limit:   o.maxSymbols,
	}).Error()
	return symbols[:o.maxSymbols], "scheduling set truncated: " + warning
}

func (o *Orchestrator) clampParallelism(override int) int {
	if override < 1 {
		return 0
	}
	if o.maxParallelism > 0 && override > o.maxParallelism {
		return o.maxParallelism
	}
	return override
}

// previewJob logs the scheduling set without persisting anything.
func (o *Orchestrator) previewJob(ctx context.Context, date time.Time, symbols []string, truncWarning string) *model.AnalysisJob {
	if o.logger != nil {
		o.logger.InfoContext(ctx, "dry run: scheduling set resolved",
			"trading_date", model.FormatTradingDate(date),
			"symbols", symbols,
		)
	}
	job := &model.AnalysisJob{
		TradingDate:     date,
		Status:          model.JobStatusCompleted,
		StocksScheduled: len(symbols),
		StartedAt:       time.Now().UTC(),
	}
	if truncWarning != "" {
		job.Errors = append(job.Errors, truncWarning)
	}
	return job
}

// deliverOutcomes loads the insights behind successful outcomes and
// fans them out.
func (o *Orchestrator) deliverOutcomes(
	ctx context.Context,
	outcomes map[string]model.AnalysisOutcome,
) (DeliverySummary, error) {
	var insights []*model.Insight
	for _, outcome := range outcomes {
		if !outcome.Succeeded() || outcome.InsightID == 0 {
			continue
		}
		ins, err := o.insights.GetByID(ctx, outcome.InsightID)
		if err != nil {
			return DeliverySummary{}, fmt.Errorf("load insight %d: %w", outcome.InsightID, err)
		}
		insights = append(insights, ins)
	}
	if len(insights) == 0 {
		return DeliverySummary{}, nil
	}
	return o.deliverer.DeliverAll(ctx, insights)
}

type finalizeParams struct {
	job         *model.AnalysisJob
	outcomes    map[string]model.AnalysisOutcome
	summary     DeliverySummary
	truncation  string
	fatalErr    error
	tradingDate time.Time
}

func (o *Orchestrator) finalize(ctx context.Context, fp finalizeParams) (*model.AnalysisJob, error) {
	var successCount, failureCount int
	var jobErrors []string
	if fp.truncation != "" {
		jobErrors = append(jobErrors, fp.truncation)
	}
	for _, symbol := range sortedKeys(fp.outcomes) {
		outcome := fp.outcomes[symbol]
		if outcome.Succeeded() {
			successCount++
			continue
		}
		failureCount++
		jobErrors = append(jobErrors, fmt.Sprintf("%s: %s", symbol, outcome.Reason))
	}
	jobErrors = append(jobErrors, fp.summary.Errors...)

	status := model.JobStatusCompleted
	if fp.fatalErr != nil {
		status = model.JobStatusFailed
		jobErrors = append(jobErrors, "fatal: "+fp.fatalErr.Error())
	}

	params := model.FinalizeJobParams{
		ID:                fp.job.ID,
		Status:            status,
		StocksProcessed:   len(fp.outcomes),
		SuccessCount:      successCount,
		FailureCount:      failureCount,
		InsightsDelivered: fp.summary.InsightsDelivered,
		Errors:            jobErrors,
	}

	finalized, err := o.jobs.Finalize(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("finalize job %s: %w", fp.job.ID, err)
	}
	if !finalized && o.logger != nil {
		// Reaped or superseded while running; the terminal write stands.
		o.logger.WarnContext(ctx, "job already finalized", "job_id", fp.job.ID)
	}

	stored, err := o.jobs.GetByID(ctx, fp.job.ID)
	if err != nil {
		return nil, fmt.Errorf("reload job %s: %w", fp.job.ID, err)
	}

	o.emitJobMetrics(stored, fp.fatalErr)
	if fp.fatalErr != nil {
		o.notifyFailure(ctx, stored, fp.fatalErr)
		if o.logger != nil {
			o.logger.ErrorContext(ctx, "daily job failed",
				"job_id", stored.ID, "err", fp.fatalErr)
		}
		return stored, fp.fatalErr
	}

	if o.logger != nil {
		o.logger.InfoContext(ctx, "daily job completed",
			"job_id", stored.ID,
			"processed", stored.StocksProcessed,
			"succeeded", stored.SuccessCount,
			"failed", stored.FailureCount,
			"delivered", stored.InsightsDelivered,
			"duration", stored.Duration(),
		)
	}
	return stored, nil
}

func (o *Orchestrator) emitJobMetrics(job *model.AnalysisJob, fatalErr error) {
	metrics.EmitJobRun(o.metrics, metrics.JobMetric{
		Status:            string(job.Status),
		StocksScheduled:   job.StocksScheduled,
		SuccessCount:      job.SuccessCount,
		FailureCount:      job.FailureCount,
		InsightsDelivered: job.InsightsDelivered,
		Duration:          job.Duration(),
		Err:               fatalErr,
	})
}

func (o *Orchestrator) notifyFailure(ctx context.Context, job *model.AnalysisJob, fatalErr error) {
	if o.notifier == nil {
		return
	}
	o.notifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobID:       job.ID,
		TradingDate: model.FormatTradingDate(job.TradingDate),
		Error:       fatalErr.Error(),
		ErrorClass:  obserrors.Classify(fatalErr),
		OccurredAt:  time.Now().UTC(),
		Metadata: map[string]string{
			"stocks_scheduled": fmt.Sprintf("%d", job.StocksScheduled),
			"stocks_processed": fmt.Sprintf("%d", job.StocksProcessed),
		},
	})
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]model.AnalysisOutcome) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
