package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/stockpulse/analyzer/config"
	"github.com/stockpulse/analyzer/internal/core"
	obserrors "github.com/stockpulse/analyzer/internal/observability/errors"
	"github.com/stockpulse/analyzer/internal/observability/metrics"
	"github.com/stockpulse/analyzer/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// ReaperService periodically fails analysis jobs stuck in running
// status (crashed invocations that never finalized) and deletes old
// terminal jobs. Failing stuck jobs is what unblocks the per-date
// mutual exclusion check after a crash.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"running_max_age", opts.Config.RunningMaxAge,
			"terminal_max_age", opts.Config.TerminalMaxAge,
			"pending_delivery_max_age", opts.Config.PendingDeliveryMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter the first run so co-started instances spread out.
	if err := s.waitWithJitter(ctx); err != nil {
		return nil
	}

	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(ctx, err)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(ctx, err)
			}
		}
	}
}

func (s *ReaperService) waitWithJitter(ctx context.Context) error {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int64N(maxJitter))

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runCleanup performs one full cleanup pass.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()

	stale, staleErr := s.drain(ctx, "fail_stale", func(ctx context.Context) (int64, error) {
		return s.repo.FailStaleRunningJobs(ctx, s.config.RunningMaxAge, s.config.BatchSize)
	})
	deleted, deleteErr := s.drain(ctx, "delete_terminal", func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOldJobs(ctx, s.config.TerminalMaxAge, s.config.BatchSize)
	})
	pending, pendingErr := s.drain(ctx, "delete_pending_deliveries", func(ctx context.Context) (int64, error) {
		return s.repo.DeleteStalePendingDeliveries(ctx, s.config.PendingDeliveryMaxAge, s.config.BatchSize)
	})

	s.emitCleanupMetrics(stale+deleted+pending, time.Since(start), firstNonNil(staleErr, deleteErr, pendingErr))

	if staleErr != nil || deleteErr != nil || pendingErr != nil {
		return fmt.Errorf("cleanup failed: %w", errors.Join(staleErr, deleteErr, pendingErr))
	}
	return nil
}

// drain repeats a batched operation until it affects no more rows.
func (s *ReaperService) drain(
	ctx context.Context,
	label string,
	fn func(context.Context) (int64, error),
) (int64, error) {
	var total int64
	for {
		count, err := fn(ctx)
		total += count
		if err != nil {
			return total, fmt.Errorf("%s: %w", label, err)
		}
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "reaper operation finished", "operation", label, "count", total)
	}
	return total, nil
}

func (s *ReaperService) emitCleanupMetrics(total int64, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case total == 0:
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	if err == nil && total > 0 {
		s.metrics.Count("reaper.jobs_processed", total, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error) {
	if s.logger == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.DebugContext(ctx, "cleanup cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, "cleanup failed", "error", err)
}
