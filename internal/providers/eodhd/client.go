// Package eodhd implements the paid primary market-data source.
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/providers"
)

const (
	DefaultBaseURL = "https://eodhd.com/api"
	DefaultTimeout = 30 * time.Second

	// Minimum spacing between calls; the plan's nominal 5 rps budget
	// expressed as an interval so interleaved callers stay inside it.
	minCallInterval = 200 * time.Millisecond
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" || s == "NA" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

func (f flexFloat64) ptr() *float64 {
	v := float64(f)
	return &v
}

// Client is the EODHD REST client. All calls pass through the shared rate
// limiter and circuit breaker; HTTP failures map onto the domain taxonomy.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	retry      providers.RetryPolicy
	log        zerolog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint (EODHD_BASE_URL).
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

// NewClient creates a new EODHD client.
func NewClient(apiKey string, log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(minCallInterval), 1),
		retry:      providers.DefaultRetry,
		log:        log.With().Str("client", "eodhd").Logger(),
	}

	st := gobreaker.Settings{
		Name:    "eodhd",
		Timeout: 60 * time.Second,
	}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(st)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the source in logs and results.
func (c *Client) Name() string { return "eodhd" }

// get performs a rate-limited, breaker-guarded, retried GET request.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	return c.retry.Do(ctx, func() error {
		return c.getOnce(ctx, path, params, result)
	})
}

func (c *Client) getOnce(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("api_token", c.apiKey)
	q.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, q.Encode())

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		c.log.Debug().Str("endpoint", path).Msg("EODHD API request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransientProvider, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", domain.ErrTransientProvider, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, providers.ClassifyStatus("eodhd", resp.StatusCode, string(raw), path)
		}
		return raw, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return fmt.Errorf("%w: circuit open for eodhd", domain.ErrTransientProvider)
		}
		return err
	}

	if err := json.Unmarshal(body.([]byte), result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// eodBarResponse is one EOD row as returned by the API.
type eodBarResponse struct {
	Date          string      `json:"date"`
	Open          flexFloat64 `json:"open"`
	High          flexFloat64 `json:"high"`
	Low           flexFloat64 `json:"low"`
	Close         flexFloat64 `json:"close"`
	AdjustedClose flexFloat64 `json:"adjusted_close"`
	Volume        int64       `json:"volume"`
}

// FetchEOD retrieves daily bars ascending in [from, to]. Zero bounds are
// omitted so the API returns its full default range.
func (c *Client) FetchEOD(ctx context.Context, assetID string, from, to time.Time) (domain.BarSeries, error) {
	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "a")
	if !from.IsZero() {
		params.Set("from", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		params.Set("to", to.Format("2006-01-02"))
	}

	var rows []eodBarResponse
	if err := c.get(ctx, "/eod/"+url.PathEscape(assetID), params, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch EOD for %s: %w", assetID, err)
	}

	series := make(domain.BarSeries, 0, len(rows))
	for _, r := range rows {
		date, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			continue
		}
		bar := domain.Bar{
			Date:   date.UTC(),
			Open:   float64(r.Open),
			High:   float64(r.High),
			Low:    float64(r.Low),
			Close:  float64(r.Close),
			Volume: r.Volume,
		}
		if r.AdjustedClose != 0 {
			bar.AdjClose = r.AdjustedClose.ptr()
		}
		series = append(series, bar)
	}
	return series, nil
}

// IntradayBar is one intraday row from the primary.
type IntradayBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// FetchIntraday retrieves recent intraday bars. EOD scoring never consumes
// these; the endpoint exists for operator spot checks.
func (c *Client) FetchIntraday(ctx context.Context, assetID, interval string) ([]IntradayBar, error) {
	if interval == "" {
		interval = "5m"
	}
	params := url.Values{}
	params.Set("interval", interval)

	var rows []struct {
		Timestamp int64       `json:"timestamp"`
		Open      flexFloat64 `json:"open"`
		High      flexFloat64 `json:"high"`
		Low       flexFloat64 `json:"low"`
		Close     flexFloat64 `json:"close"`
		Volume    int64       `json:"volume"`
	}
	if err := c.get(ctx, "/intraday/"+url.PathEscape(assetID), params, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch intraday for %s: %w", assetID, err)
	}

	out := make([]IntradayBar, 0, len(rows))
	for _, r := range rows {
		out = append(out, IntradayBar{
			Timestamp: time.Unix(r.Timestamp, 0).UTC(),
			Open:      float64(r.Open),
			High:      float64(r.High),
			Low:       float64(r.Low),
			Close:     float64(r.Close),
			Volume:    r.Volume,
		})
	}
	return out, nil
}

// fundamentalsResponse is the subset of /fundamentals we consume.
type fundamentalsResponse struct {
	General struct {
		Code     string `json:"Code"`
		Type     string `json:"Type"`
		Name     string `json:"Name"`
		Sector   string `json:"Sector"`
		Industry string `json:"Industry"`
	} `json:"General"`
	Highlights struct {
		MarketCapitalization flexFloat64 `json:"MarketCapitalization"`
		PERatio              flexFloat64 `json:"PERatio"`
		ProfitMargin         flexFloat64 `json:"ProfitMargin"`
		ReturnOnEquityTTM    flexFloat64 `json:"ReturnOnEquityTTM"`
		DividendYield        flexFloat64 `json:"DividendYield"`
	} `json:"Highlights"`
}

// FetchFundamentals retrieves the value-pillar ratios. Margin and ROE arrive
// as fractions and are converted to percent.
func (c *Client) FetchFundamentals(ctx context.Context, assetID string) (*domain.Fundamentals, error) {
	var resp fundamentalsResponse
	if err := c.get(ctx, "/fundamentals/"+url.PathEscape(assetID), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch fundamentals for %s: %w", assetID, err)
	}

	f := &domain.Fundamentals{
		AssetID:  assetID,
		Sector:   resp.General.Sector,
		Industry: resp.General.Industry,
	}
	if resp.Highlights.PERatio != 0 {
		f.PERatio = resp.Highlights.PERatio.ptr()
	}
	if resp.Highlights.ProfitMargin != 0 {
		pm := float64(resp.Highlights.ProfitMargin) * 100
		f.ProfitMargin = &pm
	}
	if resp.Highlights.ReturnOnEquityTTM != 0 {
		roe := float64(resp.Highlights.ReturnOnEquityTTM) * 100
		f.ReturnOnEquity = &roe
	}
	if resp.Highlights.MarketCapitalization != 0 {
		f.MarketCap = resp.Highlights.MarketCapitalization.ptr()
	}
	if resp.Highlights.DividendYield != 0 {
		dy := float64(resp.Highlights.DividendYield) * 100
		f.DividendYield = &dy
	}
	return f, nil
}

// bulkRowResponse is one row of /eod-bulk-last-day.
type bulkRowResponse struct {
	Code              string      `json:"code"`
	ExchangeShortName string      `json:"exchange_short_name"`
	Date              string      `json:"date"`
	Open              flexFloat64 `json:"open"`
	High              flexFloat64 `json:"high"`
	Low               flexFloat64 `json:"low"`
	Close             flexFloat64 `json:"close"`
	Volume            int64       `json:"volume"`
}

// FetchBulkEOD retrieves the last trading day for a whole exchange in one
// call, keyed "CODE.EXCHANGE".
func (c *Client) FetchBulkEOD(ctx context.Context, exchange string) (map[string]providers.BulkBar, error) {
	var rows []bulkRowResponse
	if err := c.get(ctx, "/eod-bulk-last-day/"+url.PathEscape(exchange), nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to fetch bulk EOD for %s: %w", exchange, err)
	}

	out := make(map[string]providers.BulkBar, len(rows))
	for _, r := range rows {
		exch := r.ExchangeShortName
		if exch == "" {
			exch = exchange
		}
		date, _ := time.Parse("2006-01-02", r.Date)
		bar := providers.BulkBar{
			Code:     r.Code,
			Exchange: exch,
			Date:     date.UTC(),
			Open:     float64(r.Open),
			High:     float64(r.High),
			Low:      float64(r.Low),
			Close:    float64(r.Close),
			Volume:   r.Volume,
		}
		out[bar.Code+"."+bar.Exchange] = bar
	}
	return out, nil
}

// FetchExchangeSymbols lists every instrument on an exchange (one call).
func (c *Client) FetchExchangeSymbols(ctx context.Context, exchange string) ([]providers.ListedSymbol, error) {
	var rows []struct {
		Code     string `json:"Code"`
		Name     string `json:"Name"`
		Country  string `json:"Country"`
		Exchange string `json:"Exchange"`
		Currency string `json:"Currency"`
		Type     string `json:"Type"`
	}
	if err := c.get(ctx, "/exchange-symbol-list/"+url.PathEscape(exchange), nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list symbols for %s: %w", exchange, err)
	}

	out := make([]providers.ListedSymbol, 0, len(rows))
	for _, r := range rows {
		exch := r.Exchange
		if exch == "" {
			exch = exchange
		}
		out = append(out, providers.ListedSymbol{
			Code:     r.Code,
			Name:     r.Name,
			Type:     r.Type,
			Exchange: exch,
			Currency: r.Currency,
			Country:  r.Country,
		})
	}
	return out, nil
}

// Search resolves free-text queries to candidate instruments.
func (c *Client) Search(ctx context.Context, query string) ([]providers.ListedSymbol, error) {
	var rows []struct {
		Code     string `json:"Code"`
		Name     string `json:"Name"`
		Country  string `json:"Country"`
		Exchange string `json:"Exchange"`
		Currency string `json:"Currency"`
		Type     string `json:"Type"`
	}
	if err := c.get(ctx, "/search/"+url.PathEscape(query), nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to search %q: %w", query, err)
	}

	out := make([]providers.ListedSymbol, 0, len(rows))
	for _, r := range rows {
		out = append(out, providers.ListedSymbol{
			Code:     r.Code,
			Name:     r.Name,
			Type:     r.Type,
			Exchange: r.Exchange,
			Currency: r.Currency,
			Country:  r.Country,
		})
	}
	return out, nil
}

// Health probes the exchanges listing and grades the measured latency.
func (c *Client) Health(ctx context.Context) providers.Health {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	var rows []struct {
		Code string `json:"Code"`
	}
	err := c.getOnce(ctx, "/exchanges-list/", nil, &rows)
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
