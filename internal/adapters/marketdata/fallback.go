package marketdata

import (
	"context"
	"log/slog"
	"strings"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/domain/model"
)

// FallbackSource tries each underlying source in order. A transient
// failure moves on to the next source; a permanent symbol error stops
// immediately since every provider will reject the same symbol.
type FallbackSource struct {
	sources []core.MarketDataSource
	logger  *slog.Logger
}

// NewFallbackSource chains sources in priority order.
func NewFallbackSource(logger *slog.Logger, sources ...core.MarketDataSource) *FallbackSource {
	return &FallbackSource{sources: sources, logger: logger}
}

// Name lists the chained source names.
func (s *FallbackSource) Name() string {
	names := make([]string, len(s.sources))
	for i, src := range s.sources {
		names[i] = src.Name()
	}
	return strings.Join(names, ",")
}

// Fetch returns the first successful snapshot. When every source fails
// transiently the last transient error is returned so the retry policy
// sees the most recent provider state.
func (s *FallbackSource) Fetch(ctx context.Context, symbol string) (*model.Snapshot, error) {
	var lastErr error
	for _, src := range s.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap, err := src.Fetch(ctx, symbol)
		if err == nil {
			return snap, nil
		}
		if model.IsPermanentSymbol(err) {
			return nil, err
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "market data source failed",
				"source", src.Name(), "symbol", symbol, "err", err)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &model.TransientProviderError{Provider: s.Name(), Reason: "no sources configured"}
	}
	return nil, lastErr
}
