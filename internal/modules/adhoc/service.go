package adhoc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/bars"
	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/modules/gating"
	"github.com/marketgps/core/internal/modules/scoring"
	"github.com/marketgps/core/internal/modules/universe"
	"github.com/marketgps/core/internal/providers"
)

const (
	// cacheTTL short-circuits repeat requests: a score computed within this
	// window is served as-is and costs no quota.
	cacheTTL = 24 * time.Hour

	// historyYears bounds the initial backfill for a never-seen asset.
	historyYears = 10

	sourceCache = "cache"
)

// Request carries the knobs of one on-demand scoring call. Only UserID and
// Ticker are required.
type Request struct {
	UserID string
	Ticker string

	// Exchange pins the resolution, beating an embedded ".SUFFIX" and the
	// default exchange.
	Exchange string

	// AssetType overrides classification for assets not yet in the
	// universe. Empty autodetects from the exchange.
	AssetType domain.AssetType

	// ForceRefresh skips the cached score and refetches from the
	// providers, consuming one quota unit per call.
	ForceRefresh bool

	// SkipUniverseAdd suppresses the tier-3 registration of a first-seen
	// asset.
	SkipUniverseAdd bool
}

// Result is the caller-facing outcome of one on-demand scoring request.
type Result struct {
	Score           *domain.Score        `json:"score"`
	Gating          *domain.GatingStatus `json:"gating,omitempty"`
	DataSource      string               `json:"data_source"`
	Cached          bool                 `json:"cached"`
	WasInUniverse   bool                 `json:"was_in_universe"`
	AddedToUniverse bool                 `json:"added_to_universe"`
	QuotaRemaining  int                  `json:"quota_remaining"` // -1 when unmetered
}

// Deps wires the service's collaborators.
type Deps struct {
	Resolver    *Resolver
	Quota       *QuotaService
	Selector    *providers.Selector
	Stores      map[domain.MarketScope]*bars.Store
	Universe    *universe.Repository
	GatingEng   *gating.Engine
	GatingRepo  *gating.Repository
	ScoringEng  *scoring.Engine
	Adjuster    *scoring.QualityAdjuster
	ScoringRepo *scoring.Repository
}

// Service scores single tickers on demand, bypassing the staging discipline:
// ad-hoc results publish straight into the live tables.
type Service struct {
	deps Deps
	log  zerolog.Logger
}

// NewService creates the ad-hoc scoring service.
func NewService(deps Deps, log zerolog.Logger) *Service {
	return &Service{
		deps: deps,
		log:  log.With().Str("component", "adhoc").Logger(),
	}
}

// ScoreTicker resolves, fetches, gates and scores one ticker for a user.
// A fresh cached score is returned without touching the quota unless the
// request forces a refresh; otherwise one quota unit is consumed before any
// provider call. Assets scored for the first time are registered in the
// universe as inactive tier 3 unless the request opts out.
func (s *Service) ScoreTicker(ctx context.Context, req Request) (*Result, error) {
	now := time.Now().UTC()

	resolved, err := s.deps.Resolver.Resolve(req.Ticker, req.Exchange)
	if err != nil {
		return nil, err
	}
	if req.AssetType != "" && resolved.Asset == nil {
		resolved.AssetType = req.AssetType
	}

	if !req.ForceRefresh {
		if result, ok, err := s.cachedResult(resolved, now); err != nil {
			return nil, err
		} else if ok {
			return result, nil
		}
	}

	quota, err := s.deps.Quota.Consume(req.UserID, now)
	if err != nil {
		return nil, err
	}
	remaining := -1
	if quota != nil {
		remaining = quota.Remaining()
	}

	store, ok := s.deps.Stores[resolved.MarketScope]
	if !ok {
		return nil, fmt.Errorf("no bar store for scope %s", resolved.MarketScope)
	}

	series, source, err := s.refreshBars(ctx, store, resolved.AssetID, now, req.ForceRefresh)
	if err != nil {
		return nil, err
	}
	if len(series) < scoring.MinBars {
		return nil, fmt.Errorf("%w: %s has %d bars, need %d",
			domain.ErrInsufficientData, resolved.AssetID, len(series), scoring.MinBars)
	}

	asset := s.assetFor(resolved)
	gate := s.deps.GatingEng.Evaluate(asset, series, now)
	if err := s.deps.GatingRepo.Upsert(&gate); err != nil {
		return nil, err
	}

	var fundamentals *domain.Fundamentals
	if asset.AssetType == domain.AssetEquity {
		f, _, ferr := s.deps.Selector.FetchFundamentalsPreferPrimary(ctx, resolved.AssetID)
		if ferr != nil {
			s.log.Debug().Err(ferr).Str("asset_id", resolved.AssetID).
				Msg("fundamentals unavailable, scoring without value pillar")
		} else {
			fundamentals = f
		}
	}

	score := s.deps.ScoringEng.Score(asset, series, fundamentals, &gate, now)
	s.deps.Adjuster.Adjust(score, &gate)
	if err := s.deps.ScoringRepo.Upsert(score); err != nil {
		return nil, err
	}

	added := false
	if !resolved.InUniverse && !req.SkipUniverseAdd {
		asset.Tier = 3
		asset.Active = false
		if err := s.deps.Universe.Upsert(asset); err != nil {
			s.log.Warn().Err(err).Str("asset_id", resolved.AssetID).
				Msg("failed to register ad-hoc asset in universe")
		} else {
			added = true
		}
	}

	s.log.Info().
		Str("asset_id", resolved.AssetID).
		Str("user_id", req.UserID).
		Str("source", source).
		Bool("forced", req.ForceRefresh).
		Bool("added_to_universe", added).
		Msg("ad-hoc score computed")

	return &Result{
		Score:           score,
		Gating:          &gate,
		DataSource:      source,
		WasInUniverse:   resolved.InUniverse,
		AddedToUniverse: added,
		QuotaRemaining:  remaining,
	}, nil
}

// cachedResult serves a score computed within the cache window, if any.
func (s *Service) cachedResult(resolved *ResolvedTicker, now time.Time) (*Result, bool, error) {
	score, err := s.deps.ScoringRepo.Get(resolved.AssetID)
	if err != nil {
		return nil, false, err
	}
	if score == nil || now.Sub(score.ComputedAt) > cacheTTL {
		return nil, false, nil
	}

	gate, err := s.deps.GatingRepo.Get(resolved.AssetID)
	if err != nil {
		return nil, false, err
	}
	return &Result{
		Score:          score,
		Gating:         gate,
		DataSource:     sourceCache,
		Cached:         true,
		WasInUniverse:  resolved.InUniverse,
		QuotaRemaining: -1,
	}, true, nil
}

// refreshBars tops up the stored series from the providers. When every
// source fails but enough local history exists, the stale series is used.
// A forced refresh always hits a provider, re-fetching the last stored day.
func (s *Service) refreshBars(ctx context.Context, store *bars.Store, assetID string, now time.Time, force bool) (domain.BarSeries, string, error) {
	existing, err := store.Load(assetID)
	if err != nil {
		return nil, "", err
	}

	from := now.AddDate(-historyYears, 0, 0)
	if last := existing.LastDate(); !last.IsZero() {
		if domain.Day(last).Equal(domain.Day(now)) && !force {
			return existing, sourceCache, nil
		}
		from = last.AddDate(0, 0, 1)
		if force {
			from = last
		}
	}

	fetched, source, err := s.deps.Selector.FetchEODPreferPrimary(ctx, assetID, from, now)
	if err != nil {
		if len(existing) >= scoring.MinBars && !errors.Is(err, domain.ErrAssetNotFound) {
			s.log.Warn().Err(err).Str("asset_id", assetID).
				Msg("providers unavailable, scoring on stored history")
			return existing, sourceCache, nil
		}
		return nil, "", err
	}

	if _, err := store.Upsert(assetID, fetched); err != nil {
		return nil, "", err
	}
	merged, err := store.Load(assetID)
	if err != nil {
		return nil, "", err
	}
	return merged, source, nil
}

// assetFor returns the universe row or a synthetic asset for instruments
// scored before they ever entered the universe.
func (s *Service) assetFor(resolved *ResolvedTicker) *domain.Asset {
	if resolved.Asset != nil {
		a := *resolved.Asset
		return &a
	}
	return &domain.Asset{
		AssetID:      resolved.AssetID,
		Symbol:       resolved.Symbol,
		AssetType:    resolved.AssetType,
		MarketScope:  resolved.MarketScope,
		MarketCode:   resolved.Exchange,
		ExchangeCode: resolved.Exchange,
	}
}
