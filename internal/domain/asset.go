package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AssetType classifies an instrument. The type decides which scoring pillars
// apply: EQUITY and FUND carry a value pillar, ETFs skip it, and the
// alternative types run on momentum and safety only.
type AssetType string

const (
	AssetEquity    AssetType = "EQUITY"
	AssetETF       AssetType = "ETF"
	AssetCrypto    AssetType = "CRYPTO"
	AssetFX        AssetType = "FX"
	AssetFuture    AssetType = "FUTURE"
	AssetOption    AssetType = "OPTION"
	AssetBond      AssetType = "BOND"
	AssetIndex     AssetType = "INDEX"
	AssetFund      AssetType = "FUND"
	AssetCommodity AssetType = "COMMODITY"
	AssetUnknown   AssetType = "UNKNOWN"
)

// ParseAssetType maps free-form provider labels onto the closed set.
func ParseAssetType(s string) AssetType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EQUITY", "COMMON STOCK", "STOCK", "PREFERRED STOCK":
		return AssetEquity
	case "ETF", "EXCHANGE TRADED FUND":
		return AssetETF
	case "CRYPTO", "CRYPTOCURRENCY", "CURRENCY-CRYPTO":
		return AssetCrypto
	case "FX", "FOREX", "CURRENCY":
		return AssetFX
	case "FUTURE", "FUTURES":
		return AssetFuture
	case "OPTION", "OPTIONS":
		return AssetOption
	case "BOND", "NOTE":
		return AssetBond
	case "INDEX":
		return AssetIndex
	case "FUND", "MUTUAL FUND":
		return AssetFund
	case "COMMODITY":
		return AssetCommodity
	default:
		return AssetUnknown
	}
}

// Asset is one scoreable instrument, identified by "SYMBOL.EXCHANGE".
type Asset struct {
	AssetID       string      `json:"asset_id"`
	Symbol        string      `json:"symbol"`
	Name          string      `json:"name"`
	AssetType     AssetType   `json:"asset_type"`
	MarketScope   MarketScope `json:"market_scope"`
	MarketCode    string      `json:"market_code"`
	ExchangeCode  string      `json:"exchange_code"`
	Currency      string      `json:"currency"`
	Country       string      `json:"country"`
	Sector        string      `json:"sector"`
	Industry      string      `json:"industry"`
	Tier          int         `json:"tier"`
	PriorityLevel int         `json:"priority_level"`
	Active        bool        `json:"active"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

var assetIDPattern = regexp.MustCompile(`^[A-Z0-9_\-]+\.[A-Z0-9]+$`)

// ValidAssetID checks the "<symbol>.<exchange>" grammar. Crypto symbols may
// carry a hyphenated quote suffix (BTC-USD.CC).
func ValidAssetID(id string) bool {
	return assetIDPattern.MatchString(id)
}

// SplitAssetID returns (symbol, exchange) for a canonical asset ID.
func SplitAssetID(id string) (string, string, error) {
	idx := strings.LastIndex(id, ".")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("malformed asset id %q", id)
	}
	return id[:idx], id[idx+1:], nil
}

// ScopeForExchange maps an exchange suffix onto its market scope.
// African venues get the AFRICA scope, everything else scores as US_EU.
func ScopeForExchange(exchange string) MarketScope {
	switch strings.ToUpper(exchange) {
	case "JSE", "NG", "NSE", "EGX", "CASA", "BRVM", "GSE", "USE", "DSE", "LUSE", "MSE", "NSX", "ZSE":
		return ScopeAfrica
	default:
		return ScopeUSEU
	}
}

// NormalizeSymbol resolves a raw ticker to a canonical asset ID. An embedded
// exchange suffix wins; otherwise the default exchange is appended.
func NormalizeSymbol(symbol, defaultExchange string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return ""
	}
	if strings.Contains(s, ".") {
		return s
	}
	if defaultExchange == "" {
		defaultExchange = "US"
	}
	return s + "." + strings.ToUpper(defaultExchange)
}
