package domain

import (
	"fmt"
	"strings"
)

// MarketScope partitions the platform: every score, bar file, job run and
// quality threshold is scope-qualified, and publishes never cross scopes.
type MarketScope string

const (
	ScopeUSEU   MarketScope = "US_EU"
	ScopeAfrica MarketScope = "AFRICA"
)

// AllScopes lists the supported scopes in scheduling order.
func AllScopes() []MarketScope {
	return []MarketScope{ScopeUSEU, ScopeAfrica}
}

// ParseScope accepts the canonical form plus the lowercase directory form.
func ParseScope(s string) (MarketScope, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "US_EU", "USEU", "US-EU":
		return ScopeUSEU, nil
	case "AFRICA":
		return ScopeAfrica, nil
	default:
		return "", fmt.Errorf("unknown market scope %q", s)
	}
}

// Dir returns the filesystem segment used for scope-qualified paths.
func (s MarketScope) Dir() string {
	switch s {
	case ScopeAfrica:
		return "africa"
	default:
		return "us_eu"
	}
}

// Valid reports whether the scope is one of the closed set.
func (s MarketScope) Valid() bool {
	return s == ScopeUSEU || s == ScopeAfrica
}

func (s MarketScope) String() string {
	return string(s)
}
