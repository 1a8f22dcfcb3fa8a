package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnalysisStatus represents the lifecycle state of a per-symbol analysis.
type AnalysisStatus string

const (
	// AnalysisStatusPending indicates the analysis has been claimed but not finished.
	AnalysisStatusPending AnalysisStatus = "pending"
	// AnalysisStatusSuccess indicates a completed analysis with a persisted insight.
	AnalysisStatusSuccess AnalysisStatus = "success"
	// AnalysisStatusFailed indicates the analysis failed after exhausting retries.
	AnalysisStatusFailed AnalysisStatus = "failed"
)

// Valid returns true if the AnalysisStatus is one of the known states.
func (s AnalysisStatus) Valid() bool {
	return s == AnalysisStatusPending || s == AnalysisStatusSuccess || s == AnalysisStatusFailed
}

// FailureReason classifies why an analysis or delivery did not succeed.
type FailureReason string

const (
	// FailureDataUnavailable: market data fetch exhausted its retries.
	FailureDataUnavailable FailureReason = "data_unavailable"
	// FailureGeneration: insight generation exhausted its retries.
	FailureGeneration FailureReason = "generation_failed"
	// FailureTimeout: the pipeline exceeded its per-symbol timeout.
	FailureTimeout FailureReason = "timeout"
	// FailureDeadlineExceeded: the job deadline passed before the symbol was started.
	FailureDeadlineExceeded FailureReason = "deadline_exceeded"
	// FailureInvalidSymbol: the symbol is invalid or delisted.
	FailureInvalidSymbol FailureReason = "invalid_symbol"
)

// PricePoint is one day of closing data used for prompt context.
type PricePoint struct {
	Date   time.Time       `json:"date"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Snapshot is the market-data view of a symbol at analysis time.
type Snapshot struct {
	Symbol        string            `json:"symbol"`
	Price         decimal.Decimal   `json:"price"`
	ChangePercent decimal.Decimal   `json:"change_percent"`
	Volume        int64             `json:"volume"`
	History       []PricePoint      `json:"history,omitempty"`
	Fundamentals  map[string]string `json:"fundamentals,omitempty"`
	Source        string            `json:"source"`
	FetchedAt     time.Time         `json:"fetched_at"`
}

// StockAnalysis is one analysis run for a (symbol, trading date) pair.
// Exactly one row exists per pair; re-running the job for the same date
// short-circuits on an existing success.
type StockAnalysis struct {
	ID            int64           `json:"id"                      db:"id"`
	Symbol        string          `json:"symbol"                  db:"symbol"`
	TradingDate   time.Time       `json:"trading_date"            db:"trading_date"`
	Status        AnalysisStatus  `json:"status"                  db:"status"`
	Price         decimal.Decimal `json:"price"                   db:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"          db:"change_percent"`
	Volume        int64           `json:"volume"                  db:"volume"`
	FailureReason FailureReason   `json:"failure_reason,omitempty" db:"failure_reason"`
	ErrorMessage  *string         `json:"error_message,omitempty"  db:"error_message"`
	DurationMS    int64           `json:"duration_ms"             db:"duration_ms"`
	CreatedAt     time.Time       `json:"created_at"              db:"created_at"`
}

// Duration returns the recorded processing time.
func (a *StockAnalysis) Duration() time.Duration {
	return time.Duration(a.DurationMS) * time.Millisecond
}

// AnalysisOutcome is the in-memory result a pipeline reports back to the
// scheduler. Outcomes are aggregated by the orchestrator; workers never
// touch the job record directly.
type AnalysisOutcome struct {
	Symbol     string
	Status     AnalysisStatus
	Reason     FailureReason
	Err        string
	AnalysisID int64
	InsightID  int64
	Cached     bool
	Duration   time.Duration
}

// Succeeded reports whether the outcome carries a deliverable insight.
func (o AnalysisOutcome) Succeeded() bool {
	return o.Status == AnalysisStatusSuccess
}

// TradingDateOf truncates t to a UTC calendar date, the idempotency key
// granularity for analyses.
func TradingDateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatTradingDate renders a trading date as YYYY-MM-DD.
func FormatTradingDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
