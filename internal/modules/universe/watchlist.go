package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
)

// WatchlistEntry is one user's pin on an asset. A non-nil BoostUntil keeps
// the asset in every scheduled refresh batch until it expires.
type WatchlistEntry struct {
	UserID     string     `json:"user_id"`
	AssetID    string     `json:"asset_id"`
	BoostUntil *time.Time `json:"boost_until,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// WatchlistRepository handles watchlist table operations.
type WatchlistRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewWatchlistRepository creates a new watchlist repository.
func NewWatchlistRepository(db *sql.DB, log zerolog.Logger) *WatchlistRepository {
	return &WatchlistRepository{
		db:  db,
		log: log.With().Str("repo", "watchlist").Logger(),
	}
}

// Add pins an asset for a user. boostUntil may be nil for a permanent boost.
func (r *WatchlistRepository) Add(userID, assetID string, boostUntil *time.Time) error {
	assetID = strings.ToUpper(strings.TrimSpace(assetID))
	if !domain.ValidAssetID(assetID) {
		return fmt.Errorf("invalid asset id %q", assetID)
	}

	var boost interface{}
	if boostUntil != nil {
		boost = boostUntil.UTC().Format(time.RFC3339)
	}
	_, err := r.db.Exec(`
		INSERT INTO watchlist (user_id, asset_id, boost_until, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, asset_id) DO UPDATE SET boost_until = excluded.boost_until`,
		userID, assetID, boost, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to add %s to watchlist: %w", assetID, err)
	}
	return nil
}

// Remove unpins an asset for a user.
func (r *WatchlistRepository) Remove(userID, assetID string) error {
	_, err := r.db.Exec(
		"DELETE FROM watchlist WHERE user_id = ? AND asset_id = ?",
		userID, strings.ToUpper(strings.TrimSpace(assetID)))
	if err != nil {
		return fmt.Errorf("failed to remove %s from watchlist: %w", assetID, err)
	}
	return nil
}

// ListForUser returns a user's watchlist, newest first.
func (r *WatchlistRepository) ListForUser(userID string) ([]WatchlistEntry, error) {
	rows, err := r.db.Query(`
		SELECT user_id, asset_id, boost_until, created_at
		FROM watchlist WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var entries []WatchlistEntry
	for rows.Next() {
		var (
			entry      WatchlistEntry
			boostUntil sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&entry.UserID, &entry.AssetID, &boostUntil, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		if boostUntil.Valid {
			t := parseDBTime(boostUntil.String)
			entry.BoostUntil = &t
		}
		entry.CreatedAt = parseDBTime(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// BoostedAssetIDs returns the distinct asset ids in a scope whose boost is
// still active, the set the rotation selector folds into every batch.
func (r *WatchlistRepository) BoostedAssetIDs(scope domain.MarketScope, now time.Time) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT w.asset_id
		FROM watchlist w
		JOIN universe u ON u.asset_id = w.asset_id
		WHERE u.market_scope = ?
		  AND (w.boost_until IS NULL OR w.boost_until >= ?)
		ORDER BY w.asset_id`,
		string(scope), now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query boosted assets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan boosted asset: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
