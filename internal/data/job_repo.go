package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/data/pgxutil"
	"github.com/stockpulse/analyzer/internal/domain/model"
)

const jobColumns = `
  id,
  trading_date,
  status,
  stocks_scheduled,
  stocks_processed,
  success_count,
  failure_count,
  insights_delivered,
  errors,
  started_at,
  completed_at,
  duration_ms
`

// JobRepoConfig holds configuration options for the job repository.
type JobRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for the daily job ledger.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg JobRepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &JobRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

// Start creates the running job row for a trading date. The partial unique
// index on running rows provides mutual exclusion: a concurrent unfinished
// job for the same date surfaces as model.ErrJobAlreadyRunning. With Force
// set, any unfinished row is first marked superseded.
func (r *JobRepo) Start(ctx context.Context, params core.StartJobParams) (*model.AnalysisJob, error) {
	startedAt := r.timeProvider.Now().UTC()
	id := uuid.NewString()

	var out model.AnalysisJob
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		if params.Force {
			tag, err := tx.Exec(ctx, `
				UPDATE analysis_jobs
				SET status = 'superseded', completed_at = $2
				WHERE trading_date = $1 AND status = 'running'`,
				model.TradingDateOf(params.TradingDate), startedAt,
			)
			if err != nil {
				return err
			}
			if r.logger != nil && tag.RowsAffected() > 0 {
				r.logger.WarnContext(ctx, "superseded unfinished job",
					"trading_date", model.FormatTradingDate(params.TradingDate),
					"count", tag.RowsAffected())
			}
		}

		rows, err := tx.Query(ctx, `
			INSERT INTO analysis_jobs (id, trading_date, status, stocks_scheduled, started_at)
			VALUES ($1, $2, 'running', $3, $4)
			RETURNING `+jobColumns,
			id, model.TradingDateOf(params.TradingDate), params.StocksScheduled, startedAt,
		)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.AnalysisJob])
		return err
	}})
	if err != nil {
		if isUniqueViolation(err, "idx_analysis_jobs_running_date") {
			return nil, model.ErrJobAlreadyRunning
		}
		return nil, wrapLedgerErr("start job", err)
	}
	return &out, nil
}

// GetByID retrieves a job by ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.AnalysisJob, error) {
	return r.getByQuery(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id)
}

// GetByDate retrieves the most recent job for a trading date.
func (r *JobRepo) GetByDate(ctx context.Context, tradingDate time.Time) (*model.AnalysisJob, error) {
	return r.getByQuery(ctx, `
		SELECT `+jobColumns+`
		FROM analysis_jobs
		WHERE trading_date = $1
		ORDER BY started_at DESC
		LIMIT 1`, model.TradingDateOf(tradingDate))
}

func (r *JobRepo) getByQuery(ctx context.Context, query string, arg any) (*model.AnalysisJob, error) {
	var out model.AnalysisJob
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, arg)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.AnalysisJob])
		return err
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, wrapLedgerErr("get job", fmt.Errorf("failed to get job: %w", err))
	}
	return &out, nil
}

// List retrieves jobs ordered by start time descending.
func (r *JobRepo) List(ctx context.Context, limit, offset int) ([]*model.AnalysisJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rowsOut []model.AnalysisJob
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM analysis_jobs
			ORDER BY started_at DESC
			LIMIT $1 OFFSET $2`, limit, offset)
		if err != nil {
			return err
		}
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.AnalysisJob])
		return err
	}); err != nil {
		return nil, wrapLedgerErr("list jobs", fmt.Errorf("failed to list jobs: %w", err))
	}

	res := make([]*model.AnalysisJob, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// Finalize writes the terminal status and aggregate counters exactly once.
// Returns false when the job was already terminal; the existing terminal
// row wins and the caller's counters are discarded.
func (r *JobRepo) Finalize(ctx context.Context, params model.FinalizeJobParams) (bool, error) {
	if !params.Status.Valid() || !params.Status.Terminal() {
		return false, fmt.Errorf("finalize requires a terminal status, got %q", params.Status)
	}

	completedAt := r.timeProvider.Now().UTC()
	errorsList := params.Errors
	if errorsList == nil {
		errorsList = []string{}
	}

	var finalized bool
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `
			UPDATE analysis_jobs SET
				status             = $2,
				stocks_processed   = $3,
				success_count      = $4,
				failure_count      = $5,
				insights_delivered = $6,
				errors             = $7,
				completed_at       = $8,
				duration_ms        = (EXTRACT(EPOCH FROM ($8::timestamptz - started_at)) * 1000)::bigint
			WHERE id = $1 AND status = 'running'`,
			params.ID,
			params.Status,
			params.StocksProcessed,
			params.SuccessCount,
			params.FailureCount,
			params.InsightsDelivered,
			errorsList,
			completedAt,
		)
		if err != nil {
			return err
		}
		finalized = tag.RowsAffected() > 0
		return nil
	}); err != nil {
		return false, wrapLedgerErr("finalize job", err)
	}
	return finalized, nil
}
