package core

import (
	"context"
	"time"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// SubscriptionRepository defines the interface for subscription data operations.
type SubscriptionRepository interface {
	// Create activates a (user, symbol) subscription, reactivating a
	// previously deactivated row. An already active pair is an error.
	Create(ctx context.Context, req *model.CreateSubscriptionRequest) (*model.Subscription, error)
	// Deactivate marks the (user, symbol) subscription inactive. Returns
	// false when no active subscription existed.
	Deactivate(ctx context.Context, userID, symbol string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error)
	// ActiveSymbols returns the deduplicated union of all subscribed symbols,
	// ordered deterministically (by symbol, ascending).
	ActiveSymbols(ctx context.Context) ([]string, error)
	// SubscribersFor returns the user IDs subscribed to a symbol. Called at
	// delivery time, never cached at scheduling time, so unsubscribes during
	// a run are honored.
	SubscribersFor(ctx context.Context, symbol string) ([]string, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	CountDistinctSymbols(ctx context.Context) (int, error)
}

// SaveResultParams groups the analysis row and its optional insight so the
// repository can persist both in one transaction (≤3 params rule).
type SaveResultParams struct {
	Analysis *model.StockAnalysis
	Insight  *model.GeneratedInsight
}

// AnalysisRepository defines the interface for per-symbol analysis records.
type AnalysisRepository interface {
	// FindCompleted returns the successful analysis and its insight for
	// (symbol, tradingDate) if one exists, or (nil, nil, nil) when absent.
	// Failed rows do not count as completed.
	FindCompleted(ctx context.Context, symbol string, tradingDate time.Time) (*model.StockAnalysis, *model.Insight, error)

	// SaveResult persists an analysis row and, when params.Insight is set,
	// its insight row atomically. Either both rows land or neither does.
	// Returns the stored analysis and insight (insight nil for failures).
	SaveResult(ctx context.Context, params SaveResultParams) (*model.StockAnalysis, *model.Insight, error)

	ListByDate(ctx context.Context, tradingDate time.Time) ([]*model.StockAnalysis, error)
}

// InsightRepository defines read access to persisted insights.
type InsightRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Insight, error)
	ListByDate(ctx context.Context, tradingDate time.Time) ([]*model.Insight, error)
}

// DeliveryRepository defines the interface for per-recipient delivery records.
type DeliveryRepository interface {
	// RecordAttempt upserts the (insight, user) delivery row. A row already
	// in success status is never downgraded; failed attempts against it only
	// bump the attempt counter.
	RecordAttempt(ctx context.Context, attempt model.DeliveryAttempt) (*model.DeliveryRecord, error)
	ListByInsight(ctx context.Context, insightID int64) ([]*model.DeliveryRecord, error)
	CountDeliveredForJob(ctx context.Context, tradingDate time.Time) (int, error)
}

// StartJobParams groups parameters for JobRepository.Start.
type StartJobParams struct {
	TradingDate     time.Time
	StocksScheduled int
	// Force supersedes any unfinished job for the trading date instead of
	// failing on the uniqueness guard.
	Force bool
}

// JobRepository defines the interface for daily job record operations.
// A partial unique index on unfinished rows per trading date provides the
// mutual exclusion guarantee; Start surfaces a conflict as
// model.ErrJobAlreadyRunning.
type JobRepository interface {
	Start(ctx context.Context, params StartJobParams) (*model.AnalysisJob, error)
	GetByID(ctx context.Context, id string) (*model.AnalysisJob, error)
	GetByDate(ctx context.Context, tradingDate time.Time) (*model.AnalysisJob, error)
	List(ctx context.Context, limit, offset int) ([]*model.AnalysisJob, error)
	// Finalize writes the terminal status and aggregate counters exactly
	// once. Finalizing an already terminal job returns (false, nil).
	Finalize(ctx context.Context, params model.FinalizeJobParams) (bool, error)
}

// ReaperRepository defines the interface for stale job cleanup.
type ReaperRepository interface {
	// FailStaleRunningJobs marks running jobs older than maxAge as failed.
	// Processes up to batchSize jobs per call to prevent long locks.
	// Returns the number of jobs marked as failed.
	FailStaleRunningJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)

	// DeleteOldJobs deletes terminal jobs older than maxAge, up to batchSize
	// rows per call. Returns the number of jobs deleted.
	DeleteOldJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)

	// DeleteStalePendingDeliveries deletes delivery rows still pending whose
	// insight is older than maxAge, up to batchSize rows per call.
	// Returns the number of rows deleted.
	DeleteStalePendingDeliveries(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}
