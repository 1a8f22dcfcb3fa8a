package model

import (
	"errors"
	"strings"
	"time"
)

// Subscription capacity limits. Enforced at write time by the subscription
// service; the job orchestrator re-checks the read set as a sanity guard.
const (
	MaxSubscriptionsPerUser = 10
	MaxTrackedSymbols       = 100
)

// Subscription records a user's interest in daily insights for one symbol.
type Subscription struct {
	ID        int64     `json:"id"         db:"id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	Symbol    string    `json:"symbol"     db:"symbol"`
	Active    bool      `json:"active"     db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreateSubscriptionRequest holds the fields needed to subscribe a user to a symbol.
type CreateSubscriptionRequest struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
}

// Validate checks the subscription request fields.
func (r *CreateSubscriptionRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	if err := ValidateSymbol(r.Symbol); err != nil {
		return err
	}
	return nil
}

// ValidateSymbol checks that a ticker symbol is plausibly valid: 1-10
// characters, uppercase letters, digits, dots or hyphens.
func ValidateSymbol(symbol string) error {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return errors.New("symbol is required")
	}
	if len(s) > 10 {
		return &PermanentSymbolError{Symbol: symbol, Reason: "symbol too long"}
	}
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-':
		default:
			return &PermanentSymbolError{Symbol: symbol, Reason: "invalid character in symbol"}
		}
	}
	return nil
}

// NormalizeSymbol upper-cases and trims a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
