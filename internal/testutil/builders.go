package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// SnapshotBuilder provides a fluent interface for building market snapshots for testing.
type SnapshotBuilder struct {
	snap model.Snapshot
}

// NewSnapshot creates a new SnapshotBuilder with sensible defaults.
func NewSnapshot(symbol string) *SnapshotBuilder {
	return &SnapshotBuilder{
		snap: model.Snapshot{
			Symbol:        symbol,
			Price:         decimal.NewFromFloat(100.00),
			ChangePercent: decimal.NewFromFloat(0.5),
			Volume:        1_000_000,
			Source:        "yahoo",
			FetchedAt:     TestTime(),
		},
	}
}

// WithPrice sets the current price.
func (b *SnapshotBuilder) WithPrice(price float64) *SnapshotBuilder {
	b.snap.Price = decimal.NewFromFloat(price)
	return b
}

// WithChangePercent sets the daily change percentage.
func (b *SnapshotBuilder) WithChangePercent(pct float64) *SnapshotBuilder {
	b.snap.ChangePercent = decimal.NewFromFloat(pct)
	return b
}

// WithHistory appends n days of synthetic closing prices ending at TestTime.
func (b *SnapshotBuilder) WithHistory(n int) *SnapshotBuilder {
	base := TestTime().AddDate(0, 0, -n)
	for i := 0; i < n; i++ {
		b.snap.History = append(b.snap.History, model.PricePoint{
			Date:   base.AddDate(0, 0, i),
			Close:  decimal.NewFromFloat(95 + float64(i)*0.3),
			Volume: 900_000 + int64(i)*10_000,
		})
	}
	return b
}

// WithFundamentals sets the fundamentals map.
func (b *SnapshotBuilder) WithFundamentals(f map[string]string) *SnapshotBuilder {
	b.snap.Fundamentals = f
	return b
}

// WithSource sets the provider name.
func (b *SnapshotBuilder) WithSource(source string) *SnapshotBuilder {
	b.snap.Source = source
	return b
}

// Build returns the constructed snapshot.
func (b *SnapshotBuilder) Build() model.Snapshot {
	return b.snap
}

// InsightBuilder provides a fluent interface for building generated insights for testing.
type InsightBuilder struct {
	insight model.GeneratedInsight
}

// NewGeneratedInsight creates a new InsightBuilder with sensible defaults.
func NewGeneratedInsight() *InsightBuilder {
	return &InsightBuilder{
		insight: model.GeneratedInsight{
			Summary:       "Stable session with volume near average.",
			TrendAnalysis: "Sideways consolidation.",
			RiskFactors:   []string{"sector rotation"},
			Opportunities: []string{"upcoming earnings"},
			Confidence:    model.ConfidenceMedium,
			Model:         "gpt-4o-mini",
			TokensUsed:    420,
		},
	}
}

// WithSummary sets the summary text.
func (b *InsightBuilder) WithSummary(s string) *InsightBuilder {
	b.insight.Summary = s
	return b
}

// WithConfidence sets the confidence grade.
func (b *InsightBuilder) WithConfidence(c model.Confidence) *InsightBuilder {
	b.insight.Confidence = c
	return b
}

// WithModel sets the model name.
func (b *InsightBuilder) WithModel(name string) *InsightBuilder {
	b.insight.Model = name
	return b
}

// Build returns the constructed insight.
func (b *InsightBuilder) Build() model.GeneratedInsight {
	return b.insight
}

// AnalysisBuilder provides a fluent interface for building analysis rows for testing.
type AnalysisBuilder struct {
	analysis model.StockAnalysis
}

// NewAnalysis creates a new AnalysisBuilder with a successful analysis.
func NewAnalysis(symbol string, tradingDate time.Time) *AnalysisBuilder {
	return &AnalysisBuilder{
		analysis: model.StockAnalysis{
			Symbol:        symbol,
			TradingDate:   model.TradingDateOf(tradingDate),
			Status:        model.AnalysisStatusSuccess,
			Price:         decimal.NewFromFloat(100.00),
			ChangePercent: decimal.NewFromFloat(0.5),
			Volume:        1_000_000,
			DurationMS:    1200,
		},
	}
}

// Failed marks the analysis failed with the given reason.
func (b *AnalysisBuilder) Failed(reason model.FailureReason, msg string) *AnalysisBuilder {
	b.analysis.Status = model.AnalysisStatusFailed
	b.analysis.FailureReason = reason
	b.analysis.ErrorMessage = StringPtr(msg)
	return b
}

// Build returns the constructed analysis row.
func (b *AnalysisBuilder) Build() *model.StockAnalysis {
	a := b.analysis
	return &a
}
