package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/shopspring/decimal"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// Alpha Vantage GLOBAL_QUOTE field paths. The API numbers its keys, so
// lookups go through JMESPath rather than struct tags.
const (
	avPricePath  = `"Global Quote"."05. price"`
	avChangePath = `"Global Quote"."10. change percent"`
	avVolumePath = `"Global Quote"."06. volume"`
	avNotePath   = `Note || Information`
	avErrorPath  = `"Error Message"`
)

// AlphaVantageSourceOptions groups dependencies for AlphaVantageSource.
type AlphaVantageSourceOptions struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Client  *resty.Client // Optional: override for tests
	Logger  *slog.Logger
}

// AlphaVantageSource fetches quotes from the Alpha Vantage GLOBAL_QUOTE
// endpoint. It returns price, change and volume only; the free tier has
// no bundled history or fundamentals worth a second request.
type AlphaVantageSource struct {
	apiKey string
	client *resty.Client
	logger *slog.Logger
}

// NewAlphaVantageSource constructs the fallback source.
func NewAlphaVantageSource(opts AlphaVantageSourceOptions) *AlphaVantageSource {
	client := opts.Client
	if client == nil {
		client = resty.New().
			SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
			SetTimeout(opts.Timeout).
			SetRetryCount(0)
	}
	return &AlphaVantageSource{
		apiKey: opts.APIKey,
		client: client,
		logger: opts.Logger,
	}
}

// Name identifies the source in logs and snapshot provenance.
func (s *AlphaVantageSource) Name() string { return "alphavantage" }

// Fetch retrieves the current quote for a symbol.
func (s *AlphaVantageSource) Fetch(ctx context.Context, symbol string) (*model.Snapshot, error) {
	symbol = model.NormalizeSymbol(symbol)
	if err := model.ValidateSymbol(symbol); err != nil {
		return nil, err
	}

	var body map[string]any
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"function": "GLOBAL_QUOTE",
			"symbol":   symbol,
			"apikey":   s.apiKey,
		}).
		SetResult(&body).
		Get("/query")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &model.TransientProviderError{
			Provider: s.Name(),
			Reason:   "request failed",
			Err:      err,
		}
	}
	if resp.StatusCode() == 429 || resp.StatusCode() >= 500 {
		return nil, &model.TransientProviderError{
			Provider:   s.Name(),
			Reason:     fmt.Sprintf("status %d", resp.StatusCode()),
			RetryAfter: retryAfterHeader(resp),
		}
	}
	if resp.IsError() {
		return nil, &model.PermanentSymbolError{
			Symbol: symbol,
			Reason: fmt.Sprintf("status %d", resp.StatusCode()),
		}
	}

	return s.parseQuote(symbol, body)
}

func (s *AlphaVantageSource) parseQuote(symbol string, body map[string]any) (*model.Snapshot, error) {
	// Rate limiting comes back as HTTP 200 with a "Note" (or
	// "Information") field instead of quote data.
	if note := searchString(avNotePath, body); note != "" {
		return nil, &model.TransientProviderError{
			Provider: s.Name(),
			Reason:   "rate limited: " + note,
		}
	}
	if msg := searchString(avErrorPath, body); msg != "" {
		return nil, &model.PermanentSymbolError{Symbol: symbol, Reason: msg}
	}

	priceStr := searchString(avPricePath, body)
	if priceStr == "" {
		// An empty Global Quote object means the symbol is unknown.
		return nil, &model.PermanentSymbolError{Symbol: symbol, Reason: "no quote data"}
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, &model.TransientProviderError{
			Provider: s.Name(),
			Reason:   "malformed price " + priceStr,
			Err:      err,
		}
	}

	// Change percent is rendered as "1.2345%".
	change := decimal.Zero
	if raw := strings.TrimSuffix(searchString(avChangePath, body), "%"); raw != "" {
		if parsed, perr := decimal.NewFromString(raw); perr == nil {
			change = parsed
		}
	}

	var volume int64
	if raw := searchString(avVolumePath, body); raw != "" {
		volume, _ = strconv.ParseInt(raw, 10, 64)
	}

	return &model.Snapshot{
		Symbol:        symbol,
		Price:         price,
		ChangePercent: change,
		Volume:        volume,
		Source:        s.Name(),
		FetchedAt:     time.Now().UTC(),
	}, nil
}

func searchString(expr string, data any) string {
	res, err := jmespath.Search(expr, data)
	if err != nil {
		return ""
	}
	s, _ := res.(string)
	return strings.TrimSpace(s)
}

func retryAfterHeader(resp *resty.Response) time.Duration {
	raw := resp.Header().Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
