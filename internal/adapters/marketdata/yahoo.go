// Package marketdata implements the market data source port against
// Yahoo Finance with an Alpha Vantage fallback.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/shopspring/decimal"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// YahooSource fetches snapshots from Yahoo Finance. It is the primary
// source: free, no API key, but occasionally rate limited.
type YahooSource struct {
	historyDays int
	logger      *slog.Logger
}

// NewYahooSource creates a YahooSource fetching historyDays of closes per symbol.
func NewYahooSource(historyDays int, logger *slog.Logger) *YahooSource {
	if historyDays < 1 {
		historyDays = 30
	}
	return &YahooSource{historyDays: historyDays, logger: logger}
}

// Name identifies the source in logs and snapshot provenance.
func (s *YahooSource) Name() string { return "yahoo" }

// Fetch retrieves the current quote and recent history for a symbol.
// The underlying client is not context-aware, so cancellation is only
// checked between the quote and history calls.
func (s *YahooSource) Fetch(ctx context.Context, symbol string) (*model.Snapshot, error) {
	symbol = model.NormalizeSymbol(symbol)
	if err := model.ValidateSymbol(symbol); err != nil {
		return nil, err
	}

	q, err := equity.Get(symbol)
	if err != nil {
		return nil, classifyYahooErr(symbol, err)
	}
	if q == nil {
		return nil, &model.PermanentSymbolError{Symbol: symbol, Reason: "no quote data"}
	}

	snap := &model.Snapshot{
		Symbol:        symbol,
		Price:         decimal.NewFromFloat(q.RegularMarketPrice),
		ChangePercent: decimal.NewFromFloat(q.RegularMarketChangePercent),
		Volume:        int64(q.RegularMarketVolume),
		Fundamentals:  fundamentalsFromQuote(q),
		Source:        s.Name(),
		FetchedAt:     time.Now().UTC(),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	history, err := s.fetchHistory(symbol)
	if err != nil {
		// History enriches the prompt but is not required for analysis.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "history fetch failed", "symbol", symbol, "err", err)
		}
	} else {
		snap.History = history
	}

	return snap, nil
}

func (s *YahooSource) fetchHistory(symbol string) ([]model.PricePoint, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -s.historyDays)

	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})

	var points []model.PricePoint
	for iter.Next() {
		bar := iter.Bar()
		points = append(points, model.PricePoint{
			Date:   time.Unix(int64(bar.Timestamp), 0).UTC(),
			Close:  bar.Close,
			Volume: int64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("history for %s: %w", symbol, err)
	}
	return points, nil
}

func fundamentalsFromQuote(q *finance.Equity) map[string]string {
	f := make(map[string]string)
	if q.ShortName != "" {
		f["Company"] = q.ShortName
	}
	if q.FullExchangeName != "" {
		f["Exchange"] = q.FullExchangeName
	}
	if q.MarketCap > 0 {
		f["Market Cap"] = decimal.NewFromInt(q.MarketCap).String()
	}
	if q.ForwardPE > 0 {
		f["Forward PE"] = decimal.NewFromFloat(q.ForwardPE).StringFixed(2)
	}
	if q.EpsTrailingTwelveMonths != 0 {
		f["EPS (TTM)"] = decimal.NewFromFloat(q.EpsTrailingTwelveMonths).StringFixed(2)
	}
	if q.FiftyTwoWeekHigh > 0 {
		f["52w High"] = decimal.NewFromFloat(q.FiftyTwoWeekHigh).StringFixed(2)
	}
	if q.FiftyTwoWeekLow > 0 {
		f["52w Low"] = decimal.NewFromFloat(q.FiftyTwoWeekLow).StringFixed(2)
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// classifyYahooErr sorts provider failures into retryable and permanent.
// Unknown symbols come back as "not found" style errors; everything else
// (network, rate limit, 5xx) is worth retrying.
func classifyYahooErr(symbol string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no data") ||
		strings.Contains(msg, "invalid symbol") {
		return &model.PermanentSymbolError{Symbol: symbol, Reason: err.Error()}
	}
	return &model.TransientProviderError{Provider: "yahoo", Reason: err.Error(), Err: err}
}
