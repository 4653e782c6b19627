package yfin

import (
	"context"
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
	return NewClient(testLogger,
		WithBaseURL(srv.URL),
		WithMinInterval(time.Millisecond),
		WithRetry(providers.RetryPolicy{MaxAttempts: 1}),
	)
}

func TestTranslateSymbol(t *testing.T) {
	tests := []struct {
		assetID string
		want    string
	}{
		{"AAPL.US", "AAPL"},
		{"7203.JP", "7203.T"},
		{"NPN.JSE", "NPN.JO"},
		{"VOD.LSE", "VOD.L"},
		{"COMI.EGX", "COMI.CA"},
		{"EQTY.NSE", "EQTY.NR"},
		{"BTC-USD.CC", "BTC-USD"},
		{"ETH.CC", "ETH-USD"},
		{"EURUSD.FOREX", "EURUSD=X"},
		{"GSPC.INDX", "^GSPC"},
		{"XXX.ZZFOO", "XXX.ZZFOO"},
		{"notanid", "notanid"},
	}

	for _, tt := range tests {
		t.Run(tt.assetID, func(t *testing.T) {
			assert.Equal(t, tt.want, TranslateSymbol(tt.assetID))
		})
	}
}

func TestClient_FetchEOD(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		w.Write([]byte(`{"chart":{"result":[{
			"timestamp":[1704153600,1704240000],
			"indicators":{
				"quote":[{"open":[187.15,184.22],"high":[188.44,185.88],"low":[183.89,183.43],"close":[185.64,184.25],"volume":[82488700,58414500]}],
				"adjclose":[{"adjclose":[185.01,183.62]}]
			}
		}],"error":null}}`))
	})

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	series, err := client.FetchEOD(context.Background(), "AAPL.US", from, to)

	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), series[0].Date)
	assert.InDelta(t, 185.64, series[0].Close, 1e-9)
	assert.Equal(t, int64(82488700), series[0].Volume)
	require.NotNil(t, series[1].AdjClose)
	assert.InDelta(t, 183.62, *series[1].AdjClose, 1e-9)
}

func TestClient_FetchEOD_SkipsNullRows(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{
			"timestamp":[1704153600,1704240000,1704326400],
			"indicators":{
				"quote":[{"open":[10.0,null,10.6],"high":[10.5,null,10.9],"low":[9.8,null,10.2],"close":[10.2,null,10.7],"volume":[1000,null,1200]}]
			}
		}],"error":null}}`))
	})

	series, err := client.FetchEOD(context.Background(), "XYZ.US", time.Time{}, time.Time{})

	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.InDelta(t, 10.2, series[0].Close, 1e-9)
	assert.InDelta(t, 10.7, series[1].Close, 1e-9)
}

func TestClient_FetchEOD_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	})

	_, err := client.FetchEOD(context.Background(), "GONE.US", time.Time{}, time.Time{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAssetNotFound))
}

func TestClient_FetchFundamentals(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v10/finance/quoteSummary/AAPL", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("modules"), "financialData")

		w.Write([]byte(`{"quoteSummary":{"result":[{
			"summaryDetail":{"trailingPE":{"raw":28.4},"dividendYield":{"raw":0.0055},"marketCap":{"raw":2890000000000}},
			"financialData":{"profitMargins":{"raw":0.2531},"returnOnEquity":{"raw":1.4725}}
		}],"error":null}}`))
	})

	f, err := client.FetchFundamentals(context.Background(), "AAPL.US")

	require.NoError(t, err)
	require.NotNil(t, f.PERatio)
	assert.InDelta(t, 28.4, *f.PERatio, 1e-9)
	require.NotNil(t, f.ProfitMargin)
	assert.InDelta(t, 25.31, *f.ProfitMargin, 1e-9)
	require.NotNil(t, f.ReturnOnEquity)
	assert.InDelta(t, 147.25, *f.ReturnOnEquity, 1e-9)
}

func TestClient_UnsupportedOperations(t *testing.T) {
	client := NewClient(testLogger)

	_, err := client.Search(context.Background(), "apple")
	assert.True(t, errors.Is(err, domain.ErrNotSupported))

	_, err = client.FetchBulkEOD(context.Background(), "US")
	assert.True(t, errors.Is(err, domain.ErrNotSupported))

	_, err = client.FetchExchangeSymbols(context.Background(), "US")
	assert.True(t, errors.Is(err, domain.ErrNotSupported))
}

func TestClient_RateLimitedClassified(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	})

	_, err := client.FetchEOD(context.Background(), "AAPL.US", time.Time{}, time.Time{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}
