// Package providers abstracts the external market-data sources behind one
// interface with rate limiting, retries and a primary/fallback policy.
package providers

import (
	"context"
	"time"

	"github.com/marketgps/core/internal/domain"
)

// ListedSymbol is one instrument row from an exchange listing or search.
type ListedSymbol struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
	Country  string `json:"country"`
}

// AssetID returns the canonical "CODE.EXCHANGE" identifier.
func (l ListedSymbol) AssetID() string {
	return l.Code + "." + l.Exchange
}

// BulkBar is one row of a bulk last-day EOD response.
type BulkBar struct {
	Code     string    `json:"code"`
	Exchange string    `json:"exchange"`
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
}

// ADV estimates average daily dollar volume from the single bulk row.
func (b BulkBar) ADV() float64 {
	return b.Close * float64(b.Volume)
}

// HealthState is the provider health verdict.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
)

// Health is a provider health probe result.
type Health struct {
	State     HealthState   `json:"state"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Detail    string        `json:"detail,omitempty"`
}

// Provider is one market-data source. Implementations enforce their own
// rate limits and map transport failures onto the domain error taxonomy.
// Operations a source cannot serve return domain.ErrNotSupported.
type Provider interface {
	Name() string
	FetchEOD(ctx context.Context, assetID string, from, to time.Time) (domain.BarSeries, error)
	FetchFundamentals(ctx context.Context, assetID string) (*domain.Fundamentals, error)
	FetchBulkEOD(ctx context.Context, exchange string) (map[string]BulkBar, error)
	FetchExchangeSymbols(ctx context.Context, exchange string) ([]ListedSymbol, error)
	Search(ctx context.Context, query string) ([]ListedSymbol, error)
	Health(ctx context.Context) Health
}
