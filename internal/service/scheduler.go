package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// SchedulerOptions groups dependencies for Scheduler.
type SchedulerOptions struct {
	Pipeline        Pipeline // Required
	Workers         int      // Default pool width
	PipelineTimeout time.Duration
	Logger          *slog.Logger
}

// Scheduler fans symbols out to a bounded pool of pipeline workers.
// Admission stops at the deadline; in-flight work is never hard-killed
// past it, each pipeline only races its own timeout.
type Scheduler struct {
	pipeline        Pipeline
	workers         int
	pipelineTimeout time.Duration
	logger          *slog.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("Pipeline is required")
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	timeout := opts.PipelineTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "scheduler")
	}

	return &Scheduler{
		pipeline:        opts.Pipeline,
		workers:         workers,
		pipelineTimeout: timeout,
		logger:          logger,
	}, nil
}

// SchedulerRunParams groups parameters for Scheduler.Run.
type SchedulerRunParams struct {
	Symbols     []string
	TradingDate time.Time
	Deadline    time.Time
	// Workers overrides the configured pool width when > 0.
	Workers int
}

// Run dispatches the symbols in order and aggregates per-symbol outcomes.
// Symbols not yet started when the deadline passes are recorded failed
// with reason deadline_exceeded. A non-nil error is ledger-fatal; the
// partial outcome map is still returned for bookkeeping.
func (s *Scheduler) Run(ctx context.Context, params SchedulerRunParams) (map[string]model.AnalysisOutcome, error) {
	results := make(map[string]model.AnalysisOutcome, len(params.Symbols))
	if len(params.Symbols) == 0 {
		return results, nil
	}

	workers := params.Workers
	if workers < 1 {
		workers = s.workers
	}

	var mu sync.Mutex
	record := func(symbol string, outcome model.AnalysisOutcome) {
		mu.Lock()
		defer mu.Unlock()
		results[symbol] = outcome
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(workers))

	for _, symbol := range params.Symbols {
		pastDeadline := !time.Now().Before(params.Deadline)
		if !pastDeadline {
			if err := sem.Acquire(gctx, 1); err != nil {
				// A worker hit a fatal error; stop admitting.
				break
			}
			// Time passed while waiting for a slot.
			pastDeadline = !time.Now().Before(params.Deadline)
			if pastDeadline {
				sem.Release(1)
			}
		}

		if pastDeadline {
			outcome, err := s.pipeline.RecordSkipped(ctx, symbol, params.TradingDate, model.FailureDeadlineExceeded)
			if err != nil {
				_ = g.Wait()
				return results, err
			}
			record(symbol, outcome)
			continue
		}

		g.Go(func() error {
			defer sem.Release(1)

			pctx, cancel := context.WithTimeout(gctx, s.pipelineTimeout)
			defer cancel()

			outcome, err := s.pipeline.Process(pctx, symbol, params.TradingDate)
			if err != nil {
				return err
			}
			record(symbol, outcome)
			return nil
		})
	}

	err := g.Wait()
	if err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "analysis batch aborted", "err", err)
	}
	return results, err
}
