package model

import (
	"errors"
	"fmt"
	"time"
)

// TransientProviderError marks a provider failure worth retrying: rate
// limits, timeouts, 5xx responses. RetryAfter, when set, overrides the
// backoff policy's computed delay for the next attempt.
type TransientProviderError struct {
	Provider   string
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// PermanentSymbolError marks a symbol as invalid or delisted. Never retried.
type PermanentSymbolError struct {
	Symbol string
	Reason string
}

func (e *PermanentSymbolError) Error() string {
	return fmt.Sprintf("invalid symbol %q: %s", e.Symbol, e.Reason)
}

// CapacityExceededError reports a subscription or scheduling-set cap breach.
type CapacityExceededError struct {
	Scope   string // "user" or "system"
	Current int
	Limit   int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s subscription limit reached: %d/%d", e.Scope, e.Current, e.Limit)
}

// LedgerUnavailableError wraps a storage failure. Fatal to the whole job,
// unlike per-symbol or per-recipient failures which are recorded in place.
type LedgerUnavailableError struct {
	Op  string
	Err error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

// ErrJobAlreadyRunning is returned when an unfinished job exists for the
// target trading date and force was not requested.
var ErrJobAlreadyRunning = errors.New("unfinished analysis job exists for trading date")

// IsTransient reports whether err should be retried under the backoff policy.
func IsTransient(err error) bool {
	var te *TransientProviderError
	return errors.As(err, &te)
}

// IsPermanentSymbol reports whether err marks the symbol itself as bad.
func IsPermanentSymbol(err error) bool {
	var pe *PermanentSymbolError
	return errors.As(err, &pe)
}

// IsLedgerUnavailable reports whether err is a fatal storage failure.
func IsLedgerUnavailable(err error) bool {
	var le *LedgerUnavailableError
	return errors.As(err, &le)
}
