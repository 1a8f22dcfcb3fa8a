package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stockpulse/analyzer/internal/data/pgxutil"
	"github.com/stockpulse/analyzer/internal/domain/model"
)

// InsightRepo provides read access to persisted insights. Writes happen
// through AnalysisRepo.SaveResult so the analysis and insight rows stay
// transactionally tied.
type InsightRepo struct {
	DB *sql.DB
}

// NewInsightRepo creates a new InsightRepo.
func NewInsightRepo(db *sql.DB) *InsightRepo {
	return &InsightRepo{DB: db}
}

// GetByID retrieves an insight by ID.
func (r *InsightRepo) GetByID(ctx context.Context, id int64) (*model.Insight, error) {
	var out model.Insight
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+insightColumns+`
			FROM insights WHERE id = $1`, id)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Insight])
		return err
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsightNotFound
		}
		return nil, wrapLedgerErr("get insight", fmt.Errorf("failed to get insight: %w", err))
	}
	return &out, nil
}

// ListByDate retrieves all insights for a trading date ordered by symbol.
func (r *InsightRepo) ListByDate(ctx context.Context, tradingDate time.Time) ([]*model.Insight, error) {
	var rowsOut []model.Insight
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+insightColumns+`
			FROM insights
			WHERE trading_date = $1
			ORDER BY symbol`, model.TradingDateOf(tradingDate))
		if err != nil {
			return err
		}
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Insight])
		return err
	}); err != nil {
		return nil, wrapLedgerErr("list insights", fmt.Errorf("failed to list insights: %w", err))
	}

	res := make([]*model.Insight, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}
