package model

import "time"

// Confidence grades how much the generated analysis can be trusted given
// the quality of the underlying data.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid returns true if the Confidence is one of the known grades.
func (c Confidence) Valid() bool {
	return c == ConfidenceHigh || c == ConfidenceMedium || c == ConfidenceLow
}

// GeneratedInsight is the raw structured output of an insight generator,
// before persistence ties it to an analysis row.
type GeneratedInsight struct {
	Summary       string
	TrendAnalysis string
	RiskFactors   []string
	Opportunities []string
	Confidence    Confidence
	Model         string
	TokensUsed    int
}

// Insight is the persisted AI-generated analysis content for one
// (symbol, trading date). 1:1 with a successful StockAnalysis and
// immutable once written.
type Insight struct {
	ID            int64      `json:"id"             db:"id"`
	AnalysisID    int64      `json:"analysis_id"    db:"analysis_id"`
	Symbol        string     `json:"symbol"         db:"symbol"`
	TradingDate   time.Time  `json:"trading_date"   db:"trading_date"`
	Summary       string     `json:"summary"        db:"summary"`
	TrendAnalysis string     `json:"trend_analysis" db:"trend_analysis"`
	RiskFactors   []string   `json:"risk_factors"   db:"risk_factors"`
	Opportunities []string   `json:"opportunities"  db:"opportunities"`
	Confidence    Confidence `json:"confidence"     db:"confidence"`
	ModelName     string     `json:"model_name"     db:"model_name"`
	TokensUsed    int        `json:"tokens_used"    db:"tokens_used"`
	CreatedAt     time.Time  `json:"created_at"     db:"created_at"`
}
