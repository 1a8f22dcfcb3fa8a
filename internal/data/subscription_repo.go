package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stockpulse/analyzer/internal/data/pgxutil"
	"github.com/stockpulse/analyzer/internal/domain/model"
)

const subscriptionColumns = `id, user_id, symbol, active, created_at`

// SubscriptionRepo provides database operations for symbol subscriptions.
type SubscriptionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSubscriptionRepo creates a new SubscriptionRepo with real time provider.
func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo {
	return &SubscriptionRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewSubscriptionRepoWithTimeProvider creates a new SubscriptionRepo with a custom time provider (useful for tests).
func NewSubscriptionRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *SubscriptionRepo {
	return &SubscriptionRepo{DB: db, timeProvider: tp}
}

// Create activates a subscription. A previously deactivated (user, symbol)
// row is reactivated in place; an already active pair maps to
// ErrSubscriptionExists.
func (r *SubscriptionRepo) Create(ctx context.Context, req *model.CreateSubscriptionRequest) (*model.Subscription, error) {
	if req == nil {
		return nil, errors.New("create subscription request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	symbol := model.NormalizeSymbol(req.Symbol)
	createdAt := r.timeProvider.Now().UTC()

	var out model.Subscription
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO subscriptions (user_id, symbol, active, created_at)
			VALUES ($1, $2, TRUE, $3)
			ON CONFLICT ON CONSTRAINT subscriptions_user_symbol_key
			DO UPDATE SET active = TRUE, created_at = EXCLUDED.created_at
			WHERE NOT subscriptions.active
			RETURNING `+subscriptionColumns,
			req.UserID, symbol, createdAt,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Subscription])
		return err
	}); err != nil {
		// The upsert returns no row only when the pair is already active.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionExists
		}
		return nil, wrapLedgerErr("create subscription", err)
	}
	return &out, nil
}

// Deactivate marks a user's subscription to a symbol inactive, keeping the
// row for reactivation. Returns false when no active row matched.
func (r *SubscriptionRepo) Deactivate(ctx context.Context, userID, symbol string) (bool, error) {
	var deactivated bool
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx,
			`UPDATE subscriptions SET active = FALSE WHERE user_id = $1 AND symbol = $2 AND active`,
			userID, model.NormalizeSymbol(symbol),
		)
		if err != nil {
			return err
		}
		deactivated = tag.RowsAffected() > 0
		return nil
	}); err != nil {
		return false, wrapLedgerErr("deactivate subscription", err)
	}
	return deactivated, nil
}

// ListByUser retrieves a user's active subscriptions ordered by symbol.
func (r *SubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	var rowsOut []model.Subscription
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+subscriptionColumns+`
			FROM subscriptions
			WHERE user_id = $1 AND active
			ORDER BY symbol`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Subscription])
		return err
	}); err != nil {
		return nil, wrapLedgerErr("list subscriptions", fmt.Errorf("failed to list subscriptions: %w", err))
	}

	res := make([]*model.Subscription, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// ActiveSymbols returns the deduplicated union of all actively subscribed
// symbols in ascending order. The ordering is what makes capacity
// truncation deterministic.
func (r *SubscriptionRepo) ActiveSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT DISTINCT symbol FROM subscriptions WHERE active ORDER BY symbol`)
		if err != nil {
			return err
		}
		defer rows.Close()
		symbols, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	}); err != nil {
		return nil, wrapLedgerErr("resolve active symbols", err)
	}
	return symbols, nil
}

// SubscribersFor returns the user IDs actively subscribed to a symbol.
func (r *SubscriptionRepo) SubscribersFor(ctx context.Context, symbol string) ([]string, error) {
	var users []string
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT user_id FROM subscriptions
			WHERE symbol = $1 AND active
			ORDER BY user_id`, model.NormalizeSymbol(symbol))
		if err != nil {
			return err
		}
		defer rows.Close()
		users, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	}); err != nil {
		return nil, wrapLedgerErr("resolve subscribers", err)
	}
	return users, nil
}

// CountByUser returns the number of active subscriptions a user holds.
func (r *SubscriptionRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx,
			`SELECT COUNT(*) FROM subscriptions WHERE user_id = $1 AND active`,
			userID,
		).Scan(&count)
	}); err != nil {
		return 0, wrapLedgerErr("count user subscriptions", err)
	}
	return count, nil
}

// CountDistinctSymbols returns how many distinct symbols are tracked system-wide.
func (r *SubscriptionRepo) CountDistinctSymbols(ctx context.Context) (int, error) {
	var count int
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx,
			`SELECT COUNT(DISTINCT symbol) FROM subscriptions WHERE active`,
		).Scan(&count)
	}); err != nil {
		return 0, wrapLedgerErr("count tracked symbols", err)
	}
	return count, nil
}
