package insight

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

const wellFormedResponse = `**Summary**: AAPL is trading near its 52-week high with strong momentum.
Volume is above the 30-day average.

**Trend Analysis**: The stock shows a sustained uptrend with higher lows over
the past month. Volume confirms the move.

**Risk Factors**:
- Valuation is stretched relative to sector peers
- Supply chain exposure to a single region
- Regulatory scrutiny of services revenue

**Opportunities**:
- New product cycle expected next quarter
- Services margin expansion
`

func snapshotWith(history, fundamentals int) model.Snapshot {
	snap := model.Snapshot{
		Symbol:        "AAPL",
		Price:         decimal.NewFromFloat(189.50),
		ChangePercent: decimal.NewFromFloat(1.25),
		Volume:        54_000_000,
		Fundamentals:  map[string]string{},
		FetchedAt:     time.Now(),
	}
	for i := 0; i < history; i++ {
		snap.History = append(snap.History, model.PricePoint{
			Date:  time.Date(2026, 8, 1+i%28, 0, 0, 0, 0, time.UTC),
			Close: decimal.NewFromFloat(180 + float64(i)),
		})
	}
	keys := []string{"Market Cap", "PE Ratio", "EPS", "Dividend Yield", "Beta"}
	for i := 0; i < fundamentals && i < len(keys); i++ {
		snap.Fundamentals[keys[i]] = "x"
	}
	return snap
}

func TestParseExtractsAllSections(t *testing.T) {
	got := Parse(wellFormedResponse, snapshotWith(10, 2))

	assert.Contains(t, got.Summary, "52-week high")
	assert.Contains(t, got.TrendAnalysis, "sustained uptrend")
	require.Len(t, got.RiskFactors, 3)
	assert.Equal(t, "Valuation is stretched relative to sector peers", got.RiskFactors[0])
	require.Len(t, got.Opportunities, 2)
	assert.Equal(t, "Services margin expansion", got.Opportunities[1])
}

func TestParseToleratesNumberedHeaders(t *testing.T) {
	resp := `1. **Summary**: Flat day for MSFT.

2. **Trend Analysis**: Rangebound.

3. **Risk Factors**:
- Macro headwinds

4. **Opportunities**:
- Cloud growth
`
	got := Parse(resp, snapshotWith(10, 2))

	assert.Equal(t, "Flat day for MSFT.", got.Summary)
	assert.Equal(t, "Rangebound.", got.TrendAnalysis)
	assert.Equal(t, []string{"Macro headwinds"}, got.RiskFactors)
	assert.Equal(t, []string{"Cloud growth"}, got.Opportunities)
}

func TestParseFallsBackToRawTextAsSummary(t *testing.T) {
	resp := "The stock looks fine, nothing notable today."
	got := Parse(resp, snapshotWith(10, 2))

	assert.Equal(t, resp, got.Summary)
	assert.Empty(t, got.TrendAnalysis)
	assert.Nil(t, got.RiskFactors)
}

func TestParseKeepsProseSectionAsSingleItem(t *testing.T) {
	resp := `**Summary**: Quiet session.

**Risk Factors**:
The main concern is thin liquidity in this name.
`
	got := Parse(resp, snapshotWith(10, 2))

	require.Len(t, got.RiskFactors, 1)
	assert.Contains(t, got.RiskFactors[0], "thin liquidity")
}

func TestConfidenceHighWithRichData(t *testing.T) {
	// 5 base +2 deep history +1 fundamentals = 8.
	got := Parse(wellFormedResponse, snapshotWith(30, 5))
	assert.Equal(t, model.ConfidenceHigh, got.Confidence)
}

func TestConfidenceMediumWithModerateData(t *testing.T) {
	// 5 base, history in [5,20], some fundamentals.
	got := Parse(wellFormedResponse, snapshotWith(10, 2))
	assert.Equal(t, model.ConfidenceMedium, got.Confidence)
}

func TestConfidenceLowWithThinDataAndHedging(t *testing.T) {
	// 5 -2 thin history -1 no fundamentals -1 hedging = 1.
	resp := wellFormedResponse + "\nThe outlook is uncertain given limited data."
	got := Parse(resp, snapshotWith(2, 0))
	assert.Equal(t, model.ConfidenceLow, got.Confidence)
}

func TestBuildPromptIncludesSnapshotFields(t *testing.T) {
	snap := snapshotWith(8, 3)
	prompt := BuildPrompt(snap)

	assert.Contains(t, prompt, "**Stock Symbol**: AAPL")
	assert.Contains(t, prompt, "$189.50")
	assert.Contains(t, prompt, "+1.25%")
	assert.Contains(t, prompt, "54,000,000")
	assert.Contains(t, prompt, "Market Cap")
	// Only the most recent closes are included.
	assert.Equal(t, historyWindow, strings.Count(prompt, "(Volume:")+countHistoryLines(prompt))
}

func countHistoryLines(prompt string) int {
	n := 0
	for _, line := range strings.Split(prompt, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "20") && strings.Contains(trimmed, ": $") {
			n++
		}
	}
	return n
}

func TestBuildPromptHandlesEmptyHistoryAndFundamentals(t *testing.T) {
	snap := snapshotWith(0, 0)
	prompt := BuildPrompt(snap)

	assert.Contains(t, prompt, "No historical data available")
	assert.Contains(t, prompt, "No fundamental data available")
}
