package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/data/pgxutil"
	"github.com/stockpulse/analyzer/internal/domain/model"
)

const analysisColumns = `
  id,
  symbol,
  trading_date,
  status,
  COALESCE(price, 0) AS price,
  COALESCE(change_percent, 0) AS change_percent,
  COALESCE(volume, 0) AS volume,
  COALESCE(failure_reason, '') AS failure_reason,
  error_message,
  duration_ms,
  created_at
`

const insightColumns = `
  id,
  analysis_id,
  symbol,
  trading_date,
  summary,
  trend_analysis,
  risk_factors,
  opportunities,
  confidence,
  model_name,
  tokens_used,
  created_at
`

// AnalysisRepo provides database operations for per-symbol analysis records
// and their insights.
type AnalysisRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAnalysisRepo creates a new AnalysisRepo with real time provider.
func NewAnalysisRepo(db *sql.DB) *AnalysisRepo {
	return &AnalysisRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewAnalysisRepoWithTimeProvider creates a new AnalysisRepo with a custom time provider (useful for tests).
func NewAnalysisRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *AnalysisRepo {
	return &AnalysisRepo{DB: db, timeProvider: tp}
}

// FindCompleted returns the successful analysis and its insight for
// (symbol, tradingDate), or (nil, nil, nil) when no successful row exists.
// Failed rows do not count; a re-run may replace them.
func (r *AnalysisRepo) FindCompleted(ctx context.Context, symbol string, tradingDate time.Time) (*model.StockAnalysis, *model.Insight, error) {
	var analysis model.StockAnalysis
	var insight model.Insight
	var haveInsight bool

	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+analysisColumns+`
			FROM stock_analyses
			WHERE symbol = $1 AND trading_date = $2 AND status = 'success'`,
			symbol, model.TradingDateOf(tradingDate),
		)
		if err != nil {
			return err
		}
		analysis, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.StockAnalysis])
		if err != nil {
			return err
		}

		irows, err := conn.Query(ctx, `
			SELECT `+insightColumns+`
			FROM insights WHERE analysis_id = $1`, analysis.ID)
		if err != nil {
			return err
		}
		insight, err = pgx.CollectOneRow(irows, pgx.RowToStructByName[model.Insight])
		if err == nil {
			haveInsight = true
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			// Success row without an insight should not happen; treat it as
			// not completed so the pipeline redoes the symbol.
			return pgx.ErrNoRows
		}
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, wrapLedgerErr("find completed analysis", err)
	}
	if !haveInsight {
		return nil, nil, nil
	}
	return &analysis, &insight, nil
}

// SaveResult persists an analysis row and, when present, its insight in one
// transaction. A failed re-run never overwrites an existing success row;
// a successful re-run replaces a previously failed row.
func (r *AnalysisRepo) SaveResult(ctx context.Context, params core.SaveResultParams) (*model.StockAnalysis, *model.Insight, error) {
	if params.Analysis == nil {
		return nil, nil, errors.New("analysis is required")
	}
	a := params.Analysis
	if !a.Status.Valid() {
		return nil, nil, fmt.Errorf("invalid analysis status: %q", a.Status)
	}
	if a.Status == model.AnalysisStatusSuccess && params.Insight == nil {
		return nil, nil, errors.New("successful analysis requires an insight")
	}

	createdAt := r.timeProvider.Now().UTC()
	var outAnalysis model.StockAnalysis
	var outInsight *model.Insight

	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			INSERT INTO stock_analyses (
				symbol, trading_date, status, price, change_percent, volume,
				failure_reason, error_message, duration_ms, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
			ON CONFLICT ON CONSTRAINT stock_analyses_symbol_date_key DO UPDATE SET
				status         = EXCLUDED.status,
				price          = EXCLUDED.price,
				change_percent = EXCLUDED.change_percent,
				volume         = EXCLUDED.volume,
				failure_reason = EXCLUDED.failure_reason,
				error_message  = EXCLUDED.error_message,
				duration_ms    = EXCLUDED.duration_ms
			WHERE stock_analyses.status <> 'success'
			RETURNING `+analysisColumns,
			a.Symbol,
			model.TradingDateOf(a.TradingDate),
			a.Status,
			a.Price,
			a.ChangePercent,
			a.Volume,
			string(a.FailureReason),
			a.ErrorMessage,
			a.DurationMS,
			createdAt,
		)
		if err != nil {
			return err
		}
		outAnalysis, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.StockAnalysis])
		if errors.Is(err, pgx.ErrNoRows) {
			// The guarded upsert matched an existing success row. Keep it.
			return r.loadExisting(ctx, tx, a, &outAnalysis)
		}
		if err != nil {
			return err
		}

		if params.Insight == nil {
			return nil
		}

		ins := params.Insight
		irows, err := tx.Query(ctx, `
			INSERT INTO insights (
				analysis_id, symbol, trading_date, summary, trend_analysis,
				risk_factors, opportunities, confidence, model_name, tokens_used, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT ON CONSTRAINT insights_analysis_key DO UPDATE SET
				summary = EXCLUDED.summary
			RETURNING `+insightColumns,
			outAnalysis.ID,
			outAnalysis.Symbol,
			model.TradingDateOf(outAnalysis.TradingDate),
			ins.Summary,
			ins.TrendAnalysis,
			ins.RiskFactors,
			ins.Opportunities,
			ins.Confidence,
			ins.Model,
			ins.TokensUsed,
			createdAt,
		)
		if err != nil {
			return err
		}
		stored, err := pgx.CollectOneRow(irows, pgx.RowToStructByName[model.Insight])
		if err != nil {
			return err
		}
		outInsight = &stored
		return nil
	}})
	if err != nil {
		return nil, nil, wrapLedgerErr("save analysis result", err)
	}
	return &outAnalysis, outInsight, nil
}

// loadExisting reads the untouched success row plus its insight after a
// guarded upsert declined to overwrite it.
func (r *AnalysisRepo) loadExisting(ctx context.Context, tx pgx.Tx, a *model.StockAnalysis, out *model.StockAnalysis) error {
	rows, err := tx.Query(ctx, `
		SELECT `+analysisColumns+`
		FROM stock_analyses
		WHERE symbol = $1 AND trading_date = $2`,
		a.Symbol, model.TradingDateOf(a.TradingDate),
	)
	if err != nil {
		return err
	}
	existing, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.StockAnalysis])
	if err != nil {
		return err
	}
	*out = existing
	return nil
}

// ListByDate retrieves all analyses for a trading date ordered by symbol.
func (r *AnalysisRepo) ListByDate(ctx context.Context, tradingDate time.Time) ([]*model.StockAnalysis, error) {
	var rowsOut []model.StockAnalysis
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+analysisColumns+`
			FROM stock_analyses
			WHERE trading_date = $1
			ORDER BY symbol`, model.TradingDateOf(tradingDate))
		if err != nil {
			return err
		}
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.StockAnalysis])
		return err
	}); err != nil {
		return nil, wrapLedgerErr("list analyses", fmt.Errorf("failed to list analyses: %w", err))
	}

	res := make([]*model.StockAnalysis, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}
