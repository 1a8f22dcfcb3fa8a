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

const deliveryColumns = `id, insight_id, user_id, status, attempts, message_handle, delivered_at, error_message`

// DeliveryRepo provides database operations for per-recipient delivery records.
type DeliveryRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewDeliveryRepo creates a new DeliveryRepo with real time provider.
func NewDeliveryRepo(db *sql.DB) *DeliveryRepo {
	return &DeliveryRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewDeliveryRepoWithTimeProvider creates a new DeliveryRepo with a custom time provider (useful for tests).
func NewDeliveryRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *DeliveryRepo {
	return &DeliveryRepo{DB: db, timeProvider: tp}
}

// RecordAttempt upserts the (insight, user) delivery row. The update arm
// preserves a recorded success: a later failed attempt against a success
// row only bumps the attempt counter.
func (r *DeliveryRepo) RecordAttempt(ctx context.Context, attempt model.DeliveryAttempt) (*model.DeliveryRecord, error) {
	if attempt.InsightID == 0 {
		return nil, errors.New("insight id is required")
	}
	if attempt.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if !attempt.Status.Valid() {
		return nil, fmt.Errorf("invalid delivery status: %q", attempt.Status)
	}

	now := r.timeProvider.Now().UTC()
	var deliveredAt *time.Time
	if attempt.Status == model.DeliveryStatusSuccess {
		deliveredAt = &now
	}

	var out model.DeliveryRecord
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO deliveries (
				insight_id, user_id, status, attempts, message_handle, delivered_at, error_message
			) VALUES ($1, $2, $3, 1, NULLIF($4, ''), $5, NULLIF($6, ''))
			ON CONFLICT ON CONSTRAINT deliveries_insight_user_key DO UPDATE SET
				attempts = deliveries.attempts + 1,
				status = CASE
					WHEN deliveries.status = 'success' THEN deliveries.status
					ELSE EXCLUDED.status
				END,
				message_handle = CASE
					WHEN deliveries.status = 'success' THEN deliveries.message_handle
					ELSE EXCLUDED.message_handle
				END,
				delivered_at = CASE
					WHEN deliveries.status = 'success' THEN deliveries.delivered_at
					ELSE EXCLUDED.delivered_at
				END,
				error_message = CASE
					WHEN deliveries.status = 'success' THEN deliveries.error_message
					ELSE EXCLUDED.error_message
				END
			RETURNING `+deliveryColumns,
			attempt.InsightID,
			attempt.UserID,
			attempt.Status,
			attempt.MessageHandle,
			deliveredAt,
			attempt.ErrorMessage,
		)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.DeliveryRecord])
		return err
	}); err != nil {
		return nil, wrapLedgerErr("record delivery attempt", err)
	}
	return &out, nil
}

// ListByInsight retrieves delivery records for one insight ordered by user.
func (r *DeliveryRepo) ListByInsight(ctx context.Context, insightID int64) ([]*model.DeliveryRecord, error) {
	var rowsOut []model.DeliveryRecord
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+deliveryColumns+`
			FROM deliveries
			WHERE insight_id = $1
			ORDER BY user_id`, insightID)
		if err != nil {
			return err
		}
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.DeliveryRecord])
		return err
	}); err != nil {
		return nil, wrapLedgerErr("list deliveries", fmt.Errorf("failed to list deliveries: %w", err))
	}

	res := make([]*model.DeliveryRecord, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// CountDeliveredForJob counts successful deliveries of insights belonging
// to a trading date.
func (r *DeliveryRepo) CountDeliveredForJob(ctx context.Context, tradingDate time.Time) (int, error) {
	var count int
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM deliveries d
			JOIN insights i ON i.id = d.insight_id
			WHERE i.trading_date = $1 AND d.status = 'success'`,
			model.TradingDateOf(tradingDate),
		).Scan(&count)
	}); err != nil {
		return 0, wrapLedgerErr("count delivered", err)
	}
	return count, nil
}
