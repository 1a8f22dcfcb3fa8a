package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

func newAVServer(t *testing.T, handler http.HandlerFunc) *AlphaVantageSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAlphaVantageSource(AlphaVantageSourceOptions{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})
}

func TestAlphaVantage_FetchParsesGlobalQuote(t *testing.T) {
	src := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"Global Quote": {
				"01. symbol": "AAPL",
				"05. price": "189.5000",
				"06. volume": "48291736",
				"10. change percent": "1.2345%"
			}
		}`))
	})

	snap, err := src.Fetch(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", snap.Symbol)
	assert.Equal(t, "189.5", snap.Price.String())
	assert.Equal(t, "1.2345", snap.ChangePercent.String())
	assert.EqualValues(t, 48291736, snap.Volume)
	assert.Equal(t, "alphavantage", snap.Source)
}

func TestAlphaVantage_RateLimitNoteIsTransient(t *testing.T) {
	src := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
	})

	_, err := src.Fetch(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, model.IsTransient(err))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestAlphaVantage_EmptyQuoteIsPermanent(t *testing.T) {
	src := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Global Quote": {}}`))
	})

	_, err := src.Fetch(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, model.IsPermanentSymbol(err))
}

func TestAlphaVantage_ServerErrorIsTransient(t *testing.T) {
	src := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := src.Fetch(context.Background(), "AAPL")
	require.Error(t, err)
	var te *model.TransientProviderError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 30*time.Second, te.RetryAfter)
}

func TestAlphaVantage_RejectsBadSymbolLocally(t *testing.T) {
	src := NewAlphaVantageSource(AlphaVantageSourceOptions{APIKey: "k", BaseURL: "http://unused"})

	_, err := src.Fetch(context.Background(), "not a symbol!")
	require.Error(t, err)
	assert.True(t, model.IsPermanentSymbol(err))
}
