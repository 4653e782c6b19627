package providers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/config"
	"github.com/marketgps/core/internal/domain"
)

// Selector implements the source-selection policy: "auto" serves from the
// free fallback, explicit modes force one source, and the quota-sensitive
// paths try the primary first and degrade to the fallback on quota or auth
// failures.
type Selector struct {
	primary  Provider
	fallback Provider
	mode     string
	log      zerolog.Logger
}

// NewSelector builds the policy around the two concrete sources.
func NewSelector(primary, fallback Provider, mode string, log zerolog.Logger) *Selector {
	return &Selector{
		primary:  primary,
		fallback: fallback,
		mode:     mode,
		log:      log.With().Str("component", "provider_selector").Logger(),
	}
}

// Default returns the source the configured mode selects.
func (s *Selector) Default() Provider {
	switch s.mode {
	case config.ProviderEODHD:
		return s.primary
	case config.ProviderYFin:
		return s.fallback
	default:
		// auto: the fallback is stable and unmetered
		return s.fallback
	}
}

// Primary returns the paid source.
func (s *Selector) Primary() Provider { return s.primary }

// Fallback returns the free source.
func (s *Selector) Fallback() Provider { return s.fallback }

// shouldFallBack reports whether the primary failure warrants switching
// sources for this asset.
func shouldFallBack(err error) bool {
	return errors.Is(err, domain.ErrQuotaExhausted) || errors.Is(err, domain.ErrAuthFailure)
}

// FetchEODPreferPrimary fetches bars from the primary, degrading to the
// fallback on quota or auth failures. Returns the serving source's name.
func (s *Selector) FetchEODPreferPrimary(ctx context.Context, assetID string, from, to time.Time) (domain.BarSeries, string, error) {
	series, err := s.primary.FetchEOD(ctx, assetID, from, to)
	if err == nil {
		return series, s.primary.Name(), nil
	}
	if !shouldFallBack(err) {
		return nil, s.primary.Name(), err
	}

	s.log.Warn().Err(err).Str("asset_id", assetID).
		Msg("primary provider unavailable, using fallback")

	series, ferr := s.fallback.FetchEOD(ctx, assetID, from, to)
	if ferr != nil {
		return nil, s.fallback.Name(), ferr
	}
	return series, s.fallback.Name(), nil
}

// FetchFundamentalsPreferPrimary mirrors FetchEODPreferPrimary for
// fundamentals.
func (s *Selector) FetchFundamentalsPreferPrimary(ctx context.Context, assetID string) (*domain.Fundamentals, string, error) {
	f, err := s.primary.FetchFundamentals(ctx, assetID)
	if err == nil {
		return f, s.primary.Name(), nil
	}
	if !shouldFallBack(err) {
		return nil, s.primary.Name(), err
	}

	s.log.Warn().Err(err).Str("asset_id", assetID).
		Msg("primary provider unavailable, using fallback for fundamentals")

	f, ferr := s.fallback.FetchFundamentals(ctx, assetID)
	if ferr != nil {
		return nil, s.fallback.Name(), ferr
	}
	return f, s.fallback.Name(), nil
}
