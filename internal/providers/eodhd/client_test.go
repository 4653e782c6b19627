package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/providers"
)

var testLogger = zerolog.New(nil).Level(zerolog.Disabled)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", testLogger,
		WithBaseURL(srv.URL),
		WithMinInterval(time.Millisecond),
		WithRetry(providers.RetryPolicy{MaxAttempts: 1}),
	)
}

func TestFlexFloat64_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
	}{
		{"number", `123.45`, 123.45},
		{"quoted number", `"67.89"`, 67.89},
		{"empty string", `""`, 0},
		{"not available", `"N/A"`, 0},
		{"garbage string", `"abc"`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f flexFloat64
			require.NoError(t, json.Unmarshal([]byte(tt.input), &f))
			assert.InDelta(t, tt.want, float64(f), 1e-9)
		})
	}
}

func TestClient_FetchEOD(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eod/AAPL.US", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_token"))
		assert.Equal(t, "json", r.URL.Query().Get("fmt"))
		assert.Equal(t, "d", r.URL.Query().Get("period"))
		assert.Equal(t, "a", r.URL.Query().Get("order"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("from"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"date":"2024-01-02","open":187.15,"high":188.44,"low":183.89,"close":185.64,"adjusted_close":185.01,"volume":82488700},
			{"date":"2024-01-03","open":184.22,"high":185.88,"low":183.43,"close":184.25,"adjusted_close":183.62,"volume":58414500}
		]`))
	})

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series, err := client.FetchEOD(context.Background(), "AAPL.US", from, time.Time{})

	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), series[0].Date)
	assert.InDelta(t, 185.64, series[0].Close, 1e-9)
	assert.Equal(t, int64(82488700), series[0].Volume)
	require.NotNil(t, series[0].AdjClose)
	assert.InDelta(t, 185.01, *series[0].AdjClose, 1e-9)
}

func TestClient_FetchEOD_StringNumbers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"date":"2024-01-02","open":"10.5","high":"11","low":"9.8","close":"10.9","adjusted_close":"","volume":500}]`))
	})

	series, err := client.FetchEOD(context.Background(), "XYZ.US", time.Time{}, time.Time{})

	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.InDelta(t, 10.9, series[0].Close, 1e-9)
	assert.Nil(t, series[0].AdjClose)
}

func TestClient_FetchFundamentals_PercentConversion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fundamentals/AAPL.US", r.URL.Path)
		w.Write([]byte(`{
			"General": {"Code":"AAPL","Type":"Common Stock","Name":"Apple Inc","Sector":"Technology","Industry":"Consumer Electronics"},
			"Highlights": {"MarketCapitalization":2890000000000,"PERatio":28.4,"ProfitMargin":0.2531,"ReturnOnEquityTTM":1.4725,"DividendYield":0.0055}
		}`))
	})

	f, err := client.FetchFundamentals(context.Background(), "AAPL.US")

	require.NoError(t, err)
	assert.Equal(t, "Technology", f.Sector)
	require.NotNil(t, f.PERatio)
	assert.InDelta(t, 28.4, *f.PERatio, 1e-9)
	require.NotNil(t, f.ProfitMargin)
	assert.InDelta(t, 25.31, *f.ProfitMargin, 1e-9)
	require.NotNil(t, f.ReturnOnEquity)
	assert.InDelta(t, 147.25, *f.ReturnOnEquity, 1e-9)
	require.NotNil(t, f.DividendYield)
	assert.InDelta(t, 0.55, *f.DividendYield, 1e-9)
}

func TestClient_FetchFundamentals_MissingFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"General":{"Code":"SPY","Type":"ETF"},"Highlights":{}}`))
	})

	f, err := client.FetchFundamentals(context.Background(), "SPY.US")

	require.NoError(t, err)
	assert.Nil(t, f.PERatio)
	assert.Nil(t, f.ProfitMargin)
	assert.Nil(t, f.ReturnOnEquity)
}

func TestClient_FetchBulkEOD_KeyedByAssetID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eod-bulk-last-day/US", r.URL.Path)
		w.Write([]byte(`[
			{"code":"AAPL","exchange_short_name":"US","date":"2024-01-03","open":184.22,"high":185.88,"low":183.43,"close":184.25,"volume":58414500},
			{"code":"MSFT","exchange_short_name":"US","date":"2024-01-03","open":370.0,"high":373.2,"low":368.7,"close":370.9,"volume":21206000}
		]`))
	})

	bulk, err := client.FetchBulkEOD(context.Background(), "US")

	require.NoError(t, err)
	require.Len(t, bulk, 2)
	bar, ok := bulk["AAPL.US"]
	require.True(t, ok)
	assert.InDelta(t, 184.25, bar.Close, 1e-9)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), bar.Date)
}

func TestClient_FetchExchangeSymbols(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchange-symbol-list/JSE", r.URL.Path)
		w.Write([]byte(`[
			{"Code":"NPN","Name":"Naspers Limited","Country":"South Africa","Exchange":"JSE","Currency":"ZAC","Type":"Common Stock"},
			{"Code":"STX40","Name":"Satrix 40 ETF","Country":"South Africa","Exchange":"JSE","Currency":"ZAC","Type":"ETF"}
		]`))
	})

	symbols, err := client.FetchExchangeSymbols(context.Background(), "JSE")

	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Equal(t, "NPN.JSE", symbols[0].AssetID())
	assert.Equal(t, "ETF", symbols[1].Type)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", 429, `{"error":"too many requests"}`, domain.ErrRateLimited},
		{"quota", 402, `{"error":"payment required"}`, domain.ErrQuotaExhausted},
		{"auth", 401, `{"error":"invalid token"}`, domain.ErrAuthFailure},
		{"not found", 404, `{"error":"unknown"}`, domain.ErrAssetNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.FetchEOD(context.Background(), "XYZ.US", time.Time{}, time.Time{})

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestClient_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 8; i++ {
		_, err := client.FetchEOD(context.Background(), "XYZ.US", time.Time{}, time.Time{})
		require.Error(t, err)
	}

	// After five consecutive failures the breaker stops issuing requests.
	assert.Equal(t, 5, calls)

	_, err := client.FetchEOD(context.Background(), "XYZ.US", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransientProvider))
}

func TestClient_Search(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/apple", r.URL.Path)
		w.Write([]byte(`[{"Code":"AAPL","Name":"Apple Inc","Country":"USA","Exchange":"US","Currency":"USD","Type":"Common Stock"}]`))
	})

	results, err := client.Search(context.Background(), "apple")

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "AAPL.US", results[0].AssetID())
}
