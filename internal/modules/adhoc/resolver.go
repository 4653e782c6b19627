package adhoc

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/modules/universe"
)

// iso currencies recognized when detecting a bare FX pair like "EURUSD".
var fxCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"CAD": true, "AUD": true, "NZD": true, "ZAR": true, "NGN": true,
	"KES": true, "EGP": true, "MAD": true, "GHS": true, "XOF": true,
	"SEK": true, "NOK": true, "DKK": true, "PLN": true, "CNY": true,
}

// ResolvedTicker is the outcome of mapping a raw user ticker onto a
// canonical asset identity.
type ResolvedTicker struct {
	AssetID     string
	Symbol      string
	Exchange    string
	AssetType   domain.AssetType
	MarketScope domain.MarketScope
	InUniverse  bool
	Asset       *domain.Asset // nil when not in the universe
}

// Resolver maps free-form tickers onto canonical asset IDs, preferring the
// universe row when one exists.
type Resolver struct {
	universe        *universe.Repository
	defaultExchange string
	log             zerolog.Logger
}

// NewResolver creates a ticker resolver.
func NewResolver(universeRepo *universe.Repository, defaultExchange string, log zerolog.Logger) *Resolver {
	if defaultExchange == "" {
		defaultExchange = "US"
	}
	return &Resolver{
		universe:        universeRepo,
		defaultExchange: strings.ToUpper(defaultExchange),
		log:             log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve maps a raw ticker to its canonical identity. An explicit exchange
// beats an embedded suffix; crypto pairs land on the CC pseudo-exchange,
// bare currency pairs on FOREX, everything else on the embedded or default
// stock exchange.
func (r *Resolver) Resolve(ticker, exchange string) (*ResolvedTicker, error) {
	raw := strings.ToUpper(strings.TrimSpace(ticker))
	if raw == "" {
		return nil, fmt.Errorf("%w: empty ticker", domain.ErrAssetNotFound)
	}

	assetID := r.canonicalID(raw, strings.ToUpper(strings.TrimSpace(exchange)))
	if !domain.ValidAssetID(assetID) {
		return nil, fmt.Errorf("%w: unresolvable ticker %q", domain.ErrAssetNotFound, ticker)
	}

	symbol, exchange, err := domain.SplitAssetID(assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAssetNotFound, err)
	}

	resolved := &ResolvedTicker{
		AssetID:     assetID,
		Symbol:      symbol,
		Exchange:    exchange,
		AssetType:   assetTypeForExchange(exchange),
		MarketScope: domain.ScopeForExchange(exchange),
	}

	if asset, err := r.universe.GetByID(assetID); err != nil {
		return nil, err
	} else if asset != nil {
		resolved.InUniverse = true
		resolved.Asset = asset
		resolved.AssetType = asset.AssetType
		resolved.MarketScope = asset.MarketScope
	}
	return resolved, nil
}

// canonicalID applies the shorthand rules: an explicit exchange wins, then
// an embedded suffix, a "-USD" suffix means crypto, six letters splitting
// into two currencies is an FX pair, and anything else gets the default
// exchange.
func (r *Resolver) canonicalID(raw, exchange string) string {
	if exchange != "" {
		symbol := raw
		if idx := strings.Index(raw, "."); idx > 0 {
			symbol = raw[:idx]
		}
		return symbol + "." + exchange
	}
	if strings.Contains(raw, ".") {
		return raw
	}
	if idx := strings.Index(raw, "-"); idx > 0 && fxCurrencies[raw[idx+1:]] {
		return raw + ".CC"
	}
	if len(raw) == 6 && fxCurrencies[raw[:3]] && fxCurrencies[raw[3:]] {
		return raw + ".FOREX"
	}
	return raw + "." + r.defaultExchange
}

func assetTypeForExchange(exchange string) domain.AssetType {
	switch exchange {
	case "CC":
		return domain.AssetCrypto
	case "FOREX":
		return domain.AssetFX
	case "COMM":
		return domain.AssetCommodity
	case "INDX":
		return domain.AssetIndex
	default:
		return domain.AssetEquity
	}
}
