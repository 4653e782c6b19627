package rotation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
)

const top50Size = 50

// Selector builds the refresh set for one run. Priority order: current
// published top-50, Tier-1 active assets, non-expired watchlist boosts, then
// the oldest Tier-2 assets to fill remaining slots. hourly_overlay drops the
// Tier-2 backfill; on_demand bypasses selection entirely.
type Selector struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSelector creates a rotation selector.
func NewSelector(db *sql.DB, log zerolog.Logger) *Selector {
	return &Selector{
		db:  db,
		log: log.With().Str("component", "rotation_selector").Logger(),
	}
}

// Select returns the ordered, deduplicated asset IDs to refresh, at most
// batchSize of them.
func (s *Selector) Select(scope domain.MarketScope, mode domain.JobMode, batchSize int, assetIDs []string) ([]string, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	if mode == domain.ModeOnDemand {
		return dedupe(assetIDs, batchSize), nil
	}

	var ordered []string

	top50, err := s.topPublished(scope)
	if err != nil {
		return nil, err
	}
	ordered = append(ordered, top50...)

	tier1, err := s.activeTier(scope, 1)
	if err != nil {
		return nil, err
	}
	ordered = append(ordered, tier1...)

	boosted, err := s.watchlistBoosted(scope, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	ordered = append(ordered, boosted...)

	if mode != domain.ModeHourlyOverlay {
		stale, err := s.oldestTier2(scope, batchSize)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, stale...)
	}

	selected := dedupe(ordered, batchSize)
	s.log.Debug().
		Str("scope", string(scope)).
		Str("mode", string(mode)).
		Int("selected", len(selected)).
		Msg("rotation set built")
	return selected, nil
}

func (s *Selector) topPublished(scope domain.MarketScope) ([]string, error) {
	return s.queryIDs(`
		SELECT asset_id FROM scores_latest
		WHERE market_scope = ? AND score_total IS NOT NULL
		ORDER BY score_total DESC LIMIT ?`, string(scope), top50Size)
}

func (s *Selector) activeTier(scope domain.MarketScope, tier int) ([]string, error) {
	return s.queryIDs(`
		SELECT asset_id FROM universe
		WHERE market_scope = ? AND active = 1 AND tier = ?
		ORDER BY symbol`, string(scope), tier)
}

// watchlistBoosted returns watched assets whose priority boost has not
// expired, scoped via the universe join.
func (s *Selector) watchlistBoosted(scope domain.MarketScope, now time.Time) ([]string, error) {
	return s.queryIDs(`
		SELECT DISTINCT w.asset_id FROM watchlist w
		JOIN universe u ON u.asset_id = w.asset_id
		WHERE u.market_scope = ?
		  AND (w.boost_until IS NULL OR w.boost_until >= ?)
		ORDER BY w.asset_id`, string(scope), now.Format(time.RFC3339))
}

// oldestTier2 backfills with the Tier-2 assets refreshed longest ago;
// never-refreshed assets come first. Assets in cooldown are skipped.
func (s *Selector) oldestTier2(scope domain.MarketScope, limit int) ([]string, error) {
	return s.queryIDs(`
		SELECT u.asset_id FROM universe u
		LEFT JOIN rotation_state r ON r.asset_id = u.asset_id
		WHERE u.market_scope = ? AND u.active = 1 AND u.tier = 2
		  AND (r.cooldown_until IS NULL OR r.cooldown_until < ?)
		ORDER BY r.last_refresh_at IS NOT NULL, r.last_refresh_at ASC, u.symbol
		LIMIT ?`, string(scope), time.Now().UTC().Format(time.RFC3339), limit)
}

func (s *Selector) queryIDs(query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotation candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan asset id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rotation candidates: %w", err)
	}
	return ids, nil
}

func dedupe(ids []string, limit int) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, limit)
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out
}
