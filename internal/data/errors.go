package data

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// Shared sentinel errors for data-layer repositories.
var (
	// Subscription repository sentinels.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")

	// Job repository sentinels.
	ErrJobNotFound = errors.New("analysis job not found")

	// Analysis repository sentinels.
	ErrInsightNotFound = errors.New("insight not found")
)

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation, optionally restricted to a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// wrapLedgerErr classifies infrastructure-level database failures as
// LedgerUnavailable so the orchestrator aborts instead of burning the
// symbol list against a dead database. Row-level errors (no rows, integrity
// violations) pass through untouched for callers to map.
func wrapLedgerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) {
			return &model.LedgerUnavailableError{Op: op, Err: err}
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return &model.LedgerUnavailableError{Op: op, Err: err}
	}
	return err
}
