// Package universe maintains the tradeable asset registry: which instruments
// exist per market scope, their liquidity tier, and whether the scheduled
// rotation covers them.
package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/database"
	"github.com/marketgps/core/internal/domain"
)

// universeColumns is the column list for the universe table. Order must
// match scanAsset.
const universeColumns = `asset_id, symbol, name, asset_type, market_scope, market_code,
exchange_code, currency, country, sector, industry, tier, priority_level, active,
created_at, updated_at`

// Repository handles universe table operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new universe repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "universe").Logger(),
	}
}

const upsertAssetQuery = `
	INSERT INTO universe
	(asset_id, symbol, name, asset_type, market_scope, market_code, exchange_code,
	 currency, country, sector, industry, tier, priority_level, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(asset_id) DO UPDATE SET
		symbol         = excluded.symbol,
		name           = excluded.name,
		asset_type     = excluded.asset_type,
		market_scope   = excluded.market_scope,
		market_code    = excluded.market_code,
		exchange_code  = excluded.exchange_code,
		currency       = excluded.currency,
		country        = excluded.country,
		sector         = excluded.sector,
		industry       = excluded.industry,
		tier           = excluded.tier,
		priority_level = excluded.priority_level,
		active         = excluded.active,
		updated_at     = excluded.updated_at
`

// Upsert inserts or updates one asset. created_at is preserved on update.
func (r *Repository) Upsert(asset *domain.Asset) error {
	if !domain.ValidAssetID(asset.AssetID) {
		return fmt.Errorf("invalid asset id %q", asset.AssetID)
	}
	now := time.Now().UTC()
	_, err := r.db.Exec(upsertAssetQuery, upsertArgs(asset, now)...)
	if err != nil {
		return fmt.Errorf("failed to upsert asset %s: %w", asset.AssetID, err)
	}
	return nil
}

// BulkUpsert inserts or updates many assets in one transaction.
func (r *Repository) BulkUpsert(assets []domain.Asset) (int, error) {
	count := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(upsertAssetQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i := range assets {
			if !domain.ValidAssetID(assets[i].AssetID) {
				r.log.Warn().Str("asset_id", assets[i].AssetID).Msg("Skipping asset with invalid id")
				continue
			}
			if _, err := stmt.Exec(upsertArgs(&assets[i], now)...); err != nil {
				return fmt.Errorf("failed to upsert asset %s: %w", assets[i].AssetID, err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ReplaceScope deactivates every asset in the scope and re-upserts the given
// set, all in one transaction. Assets missing from the new set stay in the
// table but end up inactive.
func (r *Repository) ReplaceScope(scope domain.MarketScope, assets []domain.Asset) (int, error) {
	count := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.Exec(
			"UPDATE universe SET active = 0, updated_at = ? WHERE market_scope = ?",
			now.Format(time.RFC3339), string(scope),
		); err != nil {
			return fmt.Errorf("failed to deactivate scope %s: %w", scope, err)
		}

		stmt, err := tx.Prepare(upsertAssetQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for i := range assets {
			if _, err := stmt.Exec(upsertArgs(&assets[i], now)...); err != nil {
				return fmt.Errorf("failed to upsert asset %s: %w", assets[i].AssetID, err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetByID returns one asset, or nil when it is not in the universe.
func (r *Repository) GetByID(assetID string) (*domain.Asset, error) {
	query := "SELECT " + universeColumns + " FROM universe WHERE asset_id = ?"

	rows, err := r.db.Query(query, strings.ToUpper(strings.TrimSpace(assetID)))
	if err != nil {
		return nil, fmt.Errorf("failed to query asset: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // not in universe
	}

	asset, err := scanAsset(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan asset: %w", err)
	}
	return &asset, nil
}

// GetActive returns all active assets in a scope.
func (r *Repository) GetActive(scope domain.MarketScope) ([]domain.Asset, error) {
	query := "SELECT " + universeColumns + " FROM universe WHERE market_scope = ? AND active = 1 ORDER BY tier, symbol"
	return r.queryAssets(query, string(scope))
}

// GetActiveByTier returns the active assets of one tier in a scope.
func (r *Repository) GetActiveByTier(scope domain.MarketScope, tier int) ([]domain.Asset, error) {
	query := "SELECT " + universeColumns + " FROM universe WHERE market_scope = ? AND active = 1 AND tier = ? ORDER BY symbol"
	return r.queryAssets(query, string(scope), tier)
}

// GetEligible returns active assets whose latest gating verdict is eligible.
func (r *Repository) GetEligible(scope domain.MarketScope) ([]domain.Asset, error) {
	query := `SELECT u.asset_id, u.symbol, u.name, u.asset_type, u.market_scope, u.market_code,
		u.exchange_code, u.currency, u.country, u.sector, u.industry, u.tier, u.priority_level, u.active,
		u.created_at, u.updated_at
		FROM universe u
		JOIN gating_status g ON g.asset_id = u.asset_id
		WHERE u.market_scope = ? AND u.active = 1 AND g.eligible = 1
		ORDER BY u.tier, u.symbol`
	return r.queryAssets(query, string(scope))
}

// CountByScope returns (total, active) asset counts for a scope.
func (r *Repository) CountByScope(scope domain.MarketScope) (int, int, error) {
	var total, active int
	err := r.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(active), 0) FROM universe WHERE market_scope = ?",
		string(scope),
	).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count universe scope %s: %w", scope, err)
	}
	return total, active, nil
}

// SetActive flips the active flag for one asset.
func (r *Repository) SetActive(assetID string, active bool) error {
	_, err := r.db.Exec(
		"UPDATE universe SET active = ?, updated_at = ? WHERE asset_id = ?",
		boolToInt(active), time.Now().UTC().Format(time.RFC3339), assetID,
	)
	if err != nil {
		return fmt.Errorf("failed to set active flag for %s: %w", assetID, err)
	}
	return nil
}

func (r *Repository) queryAssets(query string, args ...interface{}) ([]domain.Asset, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return assets, nil
}

func upsertArgs(asset *domain.Asset, now time.Time) []interface{} {
	createdAt := asset.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return []interface{}{
		asset.AssetID,
		asset.Symbol,
		asset.Name,
		string(asset.AssetType),
		string(asset.MarketScope),
		asset.MarketCode,
		asset.ExchangeCode,
		asset.Currency,
		asset.Country,
		asset.Sector,
		asset.Industry,
		asset.Tier,
		asset.PriorityLevel,
		boolToInt(asset.Active),
		createdAt.Format(time.RFC3339),
		now.Format(time.RFC3339),
	}
}

func scanAsset(rows *sql.Rows) (domain.Asset, error) {
	var (
		asset                domain.Asset
		assetType, scope     string
		active               int
		createdAt, updatedAt string
	)
	err := rows.Scan(
		&asset.AssetID,
		&asset.Symbol,
		&asset.Name,
		&assetType,
		&scope,
		&asset.MarketCode,
		&asset.ExchangeCode,
		&asset.Currency,
		&asset.Country,
		&asset.Sector,
		&asset.Industry,
		&asset.Tier,
		&asset.PriorityLevel,
		&active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return asset, err
	}

	asset.AssetType = domain.AssetType(assetType)
	asset.MarketScope = domain.MarketScope(scope)
	asset.Active = active != 0
	asset.CreatedAt = parseDBTime(createdAt)
	asset.UpdatedAt = parseDBTime(updatedAt)
	return asset, nil
}

// Helper functions

// parseDBTime accepts both RFC3339 (written by this code) and SQLite's
// datetime('now') format (column defaults).
func parseDBTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
