// Package yfin implements the free fallback market-data source.
package yfin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/providers"
)

const (
	DefaultBaseURL = "https://query1.finance.yahoo.com"
	DefaultTimeout = 30 * time.Second

	// The free endpoint throttles aggressively; stay well under it.
	minCallInterval = 500 * time.Millisecond

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// suffixMap translates internal exchange codes to Yahoo suffixes.
var suffixMap = map[string]string{
	"JP":    ".T",
	"LSE":   ".L",
	"TO":    ".TO",
	"PA":    ".PA",
	"AS":    ".AS",
	"SW":    ".SW",
	"XETRA": ".DE",
	"F":     ".F",
	"JSE":   ".JO",
	"EGX":   ".CA",
	"NSE":   ".NR",
}

// TranslateSymbol converts an internal "CODE.EXCHANGE" identifier to the
// symbol Yahoo expects. US listings drop the suffix, crypto pairs become
// CODE-USD, FX pairs become CODE=X, and known exchanges map to Yahoo's
// suffix; anything unknown passes through unchanged.
func TranslateSymbol(assetID string) string {
	code, exchange, err := domain.SplitAssetID(assetID)
	if err != nil {
		return assetID
	}
	switch exchange {
	case "US":
		return code
	case "CC":
		if strings.Contains(code, "-") {
			return code
		}
		return code + "-USD"
	case "FOREX", "FX":
		return strings.ReplaceAll(code, "-", "") + "=X"
	case "INDX":
		return "^" + code
	}
	if suffix, ok := suffixMap[exchange]; ok {
		return code + suffix
	}
	return assetID
}

// Client talks to the public Yahoo Finance chart and quote-summary APIs.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      providers.RetryPolicy
	log        zerolog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint (tests).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient substitutes the transport (tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithMinInterval adjusts the spacing between calls (tests).
func WithMinInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithRetry overrides the retry policy (tests).
func WithRetry(p providers.RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a new Yahoo Finance client. No API key is required.
func NewClient(log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(minCallInterval), 1),
		retry:      providers.DefaultRetry,
		log:        log.With().Str("client", "yfin").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the source in logs and results.
func (c *Client) Name() string { return "yfin" }

func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	return c.retry.Do(ctx, func() error {
		return c.getOnce(ctx, path, params, result)
	})
}

func (c *Client) getOnce(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	c.log.Debug().Str("endpoint", path).Msg("Yahoo API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrTransientProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return providers.ClassifyStatus("yfin", resp.StatusCode, string(raw), path)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// chartResponse mirrors the v8 chart API payload.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchEOD retrieves daily bars in [from, to] via the chart API. Rows with
// null OHLC entries (halts, partial sessions) are skipped.
func (c *Client) FetchEOD(ctx context.Context, assetID string, from, to time.Time) (domain.BarSeries, error) {
	symbol := TranslateSymbol(assetID)

	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(-2, 0, 0)
	}

	params := url.Values{}
	params.Set("period1", fmt.Sprintf("%d", from.Unix()))
	params.Set("period2", fmt.Sprintf("%d", to.AddDate(0, 0, 1).Unix()))
	params.Set("interval", "1d")
	params.Set("events", "history")

	var resp chartResponse
	if err := c.get(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch chart for %s: %w", assetID, err)
	}
	if resp.Chart.Error != nil {
		if resp.Chart.Error.Code == "Not Found" {
			return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, assetID)
		}
		return nil, fmt.Errorf("%w: chart error for %s: %s", domain.ErrTransientProvider, assetID, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: empty chart result for %s", domain.ErrAssetNotFound, assetID)
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return domain.BarSeries{}, nil
	}
	quote := result.Indicators.Quote[0]

	var adjClose []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjClose = result.Indicators.AdjClose[0].AdjClose
	}

	series := make(domain.BarSeries, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) {
			break
		}
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			continue
		}
		bar := domain.Bar{
			Date:  time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Open:  *quote.Open[i],
			High:  *quote.High[i],
			Low:   *quote.Low[i],
			Close: *quote.Close[i],
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			bar.Volume = *quote.Volume[i]
		}
		if i < len(adjClose) && adjClose[i] != nil {
			bar.AdjClose = adjClose[i]
		}
		series = append(series, bar)
	}
	return series, nil
}

type rawValue struct {
	Raw *float64 `json:"raw"`
}

// quoteSummaryResponse mirrors the v10 quoteSummary payload.
type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			SummaryDetail struct {
				TrailingPE    rawValue `json:"trailingPE"`
				DividendYield rawValue `json:"dividendYield"`
				MarketCap     rawValue `json:"marketCap"`
			} `json:"summaryDetail"`
			FinancialData struct {
				ProfitMargins  rawValue `json:"profitMargins"`
				ReturnOnEquity rawValue `json:"returnOnEquity"`
			} `json:"financialData"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// FetchFundamentals retrieves value-pillar ratios from quoteSummary. Margin
// and ROE arrive as fractions and are converted to percent.
func (c *Client) FetchFundamentals(ctx context.Context, assetID string) (*domain.Fundamentals, error) {
	symbol := TranslateSymbol(assetID)

	params := url.Values{}
	params.Set("modules", "summaryDetail,financialData")

	var resp quoteSummaryResponse
	if err := c.get(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch fundamentals for %s: %w", assetID, err)
	}
	if resp.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("%w: quoteSummary error for %s: %s", domain.ErrAssetNotFound, assetID, resp.QuoteSummary.Error.Description)
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%w: empty quoteSummary for %s", domain.ErrAssetNotFound, assetID)
	}

	r := resp.QuoteSummary.Result[0]
	f := &domain.Fundamentals{AssetID: assetID}
	if r.SummaryDetail.TrailingPE.Raw != nil {
		f.PERatio = r.SummaryDetail.TrailingPE.Raw
	}
	if r.FinancialData.ProfitMargins.Raw != nil {
		pm := *r.FinancialData.ProfitMargins.Raw * 100
		f.ProfitMargin = &pm
	}
	if r.FinancialData.ReturnOnEquity.Raw != nil {
		roe := *r.FinancialData.ReturnOnEquity.Raw * 100
		f.ReturnOnEquity = &roe
	}
	if r.SummaryDetail.MarketCap.Raw != nil {
		f.MarketCap = r.SummaryDetail.MarketCap.Raw
	}
	if r.SummaryDetail.DividendYield.Raw != nil {
		dy := *r.SummaryDetail.DividendYield.Raw * 100
		f.DividendYield = &dy
	}
	return f, nil
}

// FetchBulkEOD is not offered by the free source.
func (c *Client) FetchBulkEOD(ctx context.Context, exchange string) (map[string]providers.BulkBar, error) {
	return nil, fmt.Errorf("%w: yfin bulk EOD", domain.ErrNotSupported)
}

// FetchExchangeSymbols is not offered by the free source.
func (c *Client) FetchExchangeSymbols(ctx context.Context, exchange string) ([]providers.ListedSymbol, error) {
	return nil, fmt.Errorf("%w: yfin exchange listing", domain.ErrNotSupported)
}

// Search is not offered by the free source.
func (c *Client) Search(ctx context.Context, query string) ([]providers.ListedSymbol, error) {
	return nil, fmt.Errorf("%w: yfin search", domain.ErrNotSupported)
}

// Health probes a liquid benchmark symbol and grades the measured latency.
func (c *Client) Health(ctx context.Context) providers.Health {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "5d")

	start := time.Now()
	var resp chartResponse
	err := c.getOnce(ctx, "/v8/finance/chart/SPY", params, &resp)
	latency := time.Since(start)

	h := providers.Health{Latency: latency, CheckedAt: time.Now().UTC()}
	switch {
	case err != nil:
		h.State = providers.HealthDown
		h.Detail = err.Error()
	case latency > 5*time.Second:
		h.State = providers.HealthDegraded
	default:
		h.State = providers.HealthHealthy
	}
	return h
}
