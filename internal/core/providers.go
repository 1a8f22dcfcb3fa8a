package core

import (
	"context"
	"time"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// Provider-side ports. The adapters packages implement these against Yahoo
// Finance, Alpha Vantage, the LLM backends, Telegram, and Redis.

// MarketDataSource fetches the market snapshot for one symbol. Failures are
// classified: *model.TransientProviderError for retryable conditions,
// *model.PermanentSymbolError for symbols no provider will ever resolve.
type MarketDataSource interface {
	Fetch(ctx context.Context, symbol string) (*model.Snapshot, error)
	// Name identifies the source in logs and snapshot provenance.
	Name() string
}

// InsightGenerator turns a market snapshot into a structured insight.
type InsightGenerator interface {
	Generate(ctx context.Context, snap model.Snapshot) (*model.GeneratedInsight, error)
	// ModelName is recorded on the persisted insight row.
	ModelName() string
}

// SendMessageParams groups parameters for MessageSink.Send.
type SendMessageParams struct {
	RecipientID string
	Text        string
}

// MessageSink delivers a rendered message to one recipient. Rate limiting
// surfaces as *model.TransientProviderError with RetryAfter set; a blocked
// or unknown recipient surfaces as a permanent error.
type MessageSink interface {
	Send(ctx context.Context, params SendMessageParams) (messageHandle string, err error)
}

// QuoteCache caches fetched snapshots keyed by (symbol, trading date) so a
// re-run within the same day skips provider calls for already fetched
// symbols. Misses and cache backend failures both return (nil, nil); the
// cache is an optimization, never a source of truth.
type QuoteCache interface {
	Get(ctx context.Context, symbol string, tradingDate time.Time) (*model.Snapshot, error)
	Set(ctx context.Context, snap *model.Snapshot, tradingDate time.Time) error
}
