// Package service contains the daily analysis job: per-symbol pipeline,
// bounded scheduler, delivery coordinator, and the orchestrator that
// drives them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/domain/model"
	"github.com/stockpulse/analyzer/internal/domain/retry"
	"github.com/stockpulse/analyzer/internal/observability/metrics"
	"github.com/stockpulse/analyzer/internal/observability/statsd"
)

// Pipeline is the per-symbol unit of work consumed by the scheduler.
type Pipeline interface {
	// Process runs the full analyze-and-persist sequence for one symbol.
	// Per-symbol failures are recorded in the returned outcome; a non-nil
	// error means a ledger-fatal condition that aborts the whole job.
	Process(ctx context.Context, symbol string, tradingDate time.Time) (model.AnalysisOutcome, error)

	// RecordSkipped persists a failed analysis row for a symbol that was
	// never started, e.g. when the job deadline passed before admission.
	RecordSkipped(ctx context.Context, symbol string, tradingDate time.Time, reason model.FailureReason) (model.AnalysisOutcome, error)
}

// AnalysisPipelineOptions groups dependencies for AnalysisPipeline.
type AnalysisPipelineOptions struct {
	Analyses  core.AnalysisRepository // Required
	Source    core.MarketDataSource   // Required
	Generator core.InsightGenerator   // Required
	Cache     core.QuoteCache         // Optional: snapshot cache

	FetchPolicy    retry.Policy
	GeneratePolicy retry.Policy

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// AnalysisPipeline implements Pipeline: idempotency check, fetch with
// retries, generate with retries, then one atomic persist.
type AnalysisPipeline struct {
	analyses  core.AnalysisRepository
	source    core.MarketDataSource
	generator core.InsightGenerator
	cache     core.QuoteCache

	fetchPolicy    retry.Policy
	generatePolicy retry.Policy

	logger  *slog.Logger
	metrics statsd.Sink
}

var _ Pipeline = (*AnalysisPipeline)(nil)

// NewAnalysisPipeline constructs an AnalysisPipeline.
func NewAnalysisPipeline(opts AnalysisPipelineOptions) (*AnalysisPipeline, error) {
	if opts.Analyses == nil {
		return nil, errors.New("AnalysisRepository is required")
	}
	if opts.Source == nil {
		return nil, errors.New("MarketDataSource is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("InsightGenerator is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "analysis_pipeline")
	}

	return &AnalysisPipeline{
		analyses:       opts.Analyses,
		source:         opts.Source,
		generator:      opts.Generator,
		cache:          opts.Cache,
		fetchPolicy:    opts.FetchPolicy.Sanitize(),
		generatePolicy: opts.GeneratePolicy.Sanitize(),
		logger:         logger,
		metrics:        opts.Metrics,
	}, nil
}

// Process runs one symbol through the pipeline. An already successful
// (symbol, date) pair short-circuits without any provider call.
func (p *AnalysisPipeline) Process(
	ctx context.Context,
	symbol string,
	tradingDate time.Time,
) (model.AnalysisOutcome, error) {
	start := time.Now()
	tradingDate = model.TradingDateOf(tradingDate)

	existing, insight, err := p.analyses.FindCompleted(ctx, symbol, tradingDate)
	if err != nil {
		return model.AnalysisOutcome{Symbol: symbol}, fmt.Errorf("idempotency check for %s: %w", symbol, err)
	}
	if existing != nil {
		outcome := model.AnalysisOutcome{
			Symbol:     symbol,
			Status:     model.AnalysisStatusSuccess,
			AnalysisID: existing.ID,
			Cached:     true,
			Duration:   time.Since(start),
		}
		if insight != nil {
			outcome.InsightID = insight.ID
		}
		p.emit(outcome)
		return outcome, nil
	}

	snap, ferr := p.fetch(ctx, symbol, tradingDate)
	if ferr != nil {
		if errors.Is(ferr, context.Canceled) {
			// Process shutdown. Leave no failed row; the idempotency key
			// makes the next invocation safe.
			return model.AnalysisOutcome{Symbol: symbol}, ferr
		}
		return p.recordFailure(ctx, failureParams{
			symbol:  symbol,
			date:    tradingDate,
			reason:  classifyStageFailure(ferr, model.FailureDataUnavailable),
			cause:   ferr,
			started: start,
		})
	}

	gen, gerr := p.generate(ctx, *snap)
	if gerr != nil {
		if errors.Is(gerr, context.Canceled) {
			return model.AnalysisOutcome{Symbol: symbol}, gerr
		}
		return p.recordFailure(ctx, failureParams{
			symbol:  symbol,
			date:    tradingDate,
			reason:  classifyStageFailure(gerr, model.FailureGeneration),
			cause:   gerr,
			snap:    snap,
			started: start,
		})
	}

	analysis := &model.StockAnalysis{
		Symbol:        symbol,
		TradingDate:   tradingDate,
		Status:        model.AnalysisStatusSuccess,
		Price:         snap.Price,
		ChangePercent: snap.ChangePercent,
		Volume:        snap.Volume,
		DurationMS:    time.Since(start).Milliseconds(),
	}
	stored, storedInsight, err := p.analyses.SaveResult(ctx, core.SaveResultParams{
		Analysis: analysis,
		Insight:  gen,
	})
	if err != nil {
		return model.AnalysisOutcome{Symbol: symbol}, fmt.Errorf("persist result for %s: %w", symbol, err)
	}

	outcome := model.AnalysisOutcome{
		Symbol:     symbol,
		Status:     stored.Status,
		AnalysisID: stored.ID,
		Duration:   time.Since(start),
	}
	if storedInsight != nil {
		outcome.InsightID = storedInsight.ID
	}
	// The guarded upsert keeps a concurrent success in place; treat it
	// as a cache hit rather than our own write.
	outcome.Cached = stored.Status == model.AnalysisStatusSuccess && storedInsight == nil

	if p.logger != nil {
		p.logger.InfoContext(ctx, "symbol analyzed",
			"symbol", symbol,
			"trading_date", model.FormatTradingDate(tradingDate),
			"duration", outcome.Duration,
			"source", snap.Source,
		)
	}
	p.emit(outcome)
	return outcome, nil
}

// RecordSkipped persists a failed row for a never-started symbol.
func (p *AnalysisPipeline) RecordSkipped(
	ctx context.Context,
	symbol string,
	tradingDate time.Time,
	reason model.FailureReason,
) (model.AnalysisOutcome, error) {
	return p.recordFailure(ctx, failureParams{
		symbol:  symbol,
		date:    model.TradingDateOf(tradingDate),
		reason:  reason,
		cause:   fmt.Errorf("skipped: %s", reason),
		started: time.Now(),
	})
}

func (p *AnalysisPipeline) fetch(ctx context.Context, symbol string, tradingDate time.Time) (*model.Snapshot, error) {
	if p.cache != nil {
		if cached, err := p.cache.Get(ctx, symbol, tradingDate); err == nil && cached != nil {
			return cached, nil
		}
	}

	var snap *model.Snapshot
	err := retry.Do(ctx, p.fetchPolicy, func(ctx context.Context) error {
		var ferr error
		snap, ferr = p.source.Fetch(ctx, symbol)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if cerr := p.cache.Set(ctx, snap, tradingDate); cerr != nil && p.logger != nil {
			p.logger.WarnContext(ctx, "snapshot cache write failed", "symbol", symbol, "err", cerr)
		}
	}
	return snap, nil
}

func (p *AnalysisPipeline) generate(ctx context.Context, snap model.Snapshot) (*model.GeneratedInsight, error) {
	var gen *model.GeneratedInsight
	err := retry.Do(ctx, p.generatePolicy, func(ctx context.Context) error {
		var gerr error
		gen, gerr = p.generator.Generate(ctx, snap)
		return gerr
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}

type failureParams struct {
	symbol  string
	date    time.Time
	reason  model.FailureReason
	cause   error
	snap    *model.Snapshot
	started time.Time
}

// recordFailure persists the failed analysis row. The guarded upsert
// means an existing success for the pair survives untouched.
func (p *AnalysisPipeline) recordFailure(ctx context.Context, fp failureParams) (model.AnalysisOutcome, error) {
	// A timed-out pipeline still has to land its failure row.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}

	msg := fp.cause.Error()
	analysis := &model.StockAnalysis{
		Symbol:        fp.symbol,
		TradingDate:   fp.date,
		Status:        model.AnalysisStatusFailed,
		FailureReason: fp.reason,
		ErrorMessage:  &msg,
		DurationMS:    time.Since(fp.started).Milliseconds(),
	}
	if fp.snap != nil {
		analysis.Price = fp.snap.Price
		analysis.ChangePercent = fp.snap.ChangePercent
		analysis.Volume = fp.snap.Volume
	}

	stored, _, err := p.analyses.SaveResult(ctx, core.SaveResultParams{Analysis: analysis})
	if err != nil {
		return model.AnalysisOutcome{Symbol: fp.symbol}, fmt.Errorf("record failure for %s: %w", fp.symbol, err)
	}

	outcome := model.AnalysisOutcome{
		Symbol:     fp.symbol,
		Status:     stored.Status,
		Reason:     stored.FailureReason,
		Err:        msg,
		AnalysisID: stored.ID,
		Duration:   time.Since(fp.started),
	}
	if stored.Status == model.AnalysisStatusSuccess {
		// A prior run already succeeded for this pair.
		outcome.Reason = ""
		outcome.Err = ""
		outcome.Cached = true
	}

	if p.logger != nil && !outcome.Succeeded() {
		p.logger.WarnContext(ctx, "symbol analysis failed",
			"symbol", fp.symbol,
			"trading_date", model.FormatTradingDate(fp.date),
			"reason", fp.reason,
			"err", msg,
		)
	}
	p.emit(outcome)
	return outcome, nil
}

func (p *AnalysisPipeline) emit(outcome model.AnalysisOutcome) {
	result := metrics.ResultSuccess
	if !outcome.Succeeded() {
		result = metrics.ResultError
	}
	metrics.EmitPipelineOutcome(p.metrics, metrics.PipelineMetric{
		Result:   result,
		Reason:   string(outcome.Reason),
		Cached:   outcome.Cached,
		Duration: outcome.Duration,
	})
}

// classifyStageFailure picks the recorded failure reason for a stage
// error. A per-pipeline timeout shows up as a context deadline.
func classifyStageFailure(err error, exhausted model.FailureReason) model.FailureReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.FailureTimeout
	case model.IsPermanentSymbol(err):
		return model.FailureInvalidSymbol
	default:
		return exhausted
	}
}
