// Package rotation decides which assets a run refreshes and tracks per-asset
// refresh bookkeeping, so the pipeline never has to scan the whole universe.
package rotation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
)

// Repository persists rotation_state rows.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new rotation-state repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "rotation").Logger(),
	}
}

// Get returns the rotation state for one asset, or nil when the asset has
// never been refreshed.
func (r *Repository) Get(assetID string) (*domain.RotationState, error) {
	rows, err := r.db.Query(
		`SELECT asset_id, last_refresh_at, priority_level, in_top50, cooldown_until,
		        last_error, refresh_count
		 FROM rotation_state WHERE asset_id = ?`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotation state: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	var (
		s                 domain.RotationState
		lastRefresh, cool sql.NullString
		inTop50           int
	)
	err = rows.Scan(&s.AssetID, &lastRefresh, &s.PriorityLevel, &inTop50, &cool,
		&s.LastError, &s.RefreshCount)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rotation state: %w", err)
	}
	s.InTop50 = inTop50 != 0
	if lastRefresh.Valid {
		t := parseTime(lastRefresh.String)
		s.LastRefreshAt = &t
	}
	if cool.Valid {
		t := parseTime(cool.String)
		s.CooldownUntil = &t
	}
	return &s, nil
}

// MarkRefreshed records a successful (or failed) refresh for one asset.
// An empty errMsg clears the stored error.
func (r *Repository) MarkRefreshed(assetID string, refreshedAt time.Time, errMsg string) error {
	_, err := r.db.Exec(`
		INSERT INTO rotation_state (asset_id, last_refresh_at, last_error, refresh_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(asset_id) DO UPDATE SET
			last_refresh_at = excluded.last_refresh_at,
			last_error      = excluded.last_error,
			refresh_count   = rotation_state.refresh_count + 1
	`, assetID, refreshedAt.UTC().Format(time.RFC3339), errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark %s refreshed: %w", assetID, err)
	}
	return nil
}

// SetInTop50 flags the assets currently in the published top-50 and clears
// the flag on everything else in the scope.
func (r *Repository) SetInTop50(assetIDs []string) error {
	if _, err := r.db.Exec("UPDATE rotation_state SET in_top50 = 0 WHERE in_top50 = 1"); err != nil {
		return fmt.Errorf("failed to clear top50 flags: %w", err)
	}
	for _, id := range assetIDs {
		_, err := r.db.Exec(`
			INSERT INTO rotation_state (asset_id, in_top50) VALUES (?, 1)
			ON CONFLICT(asset_id) DO UPDATE SET in_top50 = 1
		`, id)
		if err != nil {
			return fmt.Errorf("failed to flag %s in top50: %w", id, err)
		}
	}
	return nil
}

// SetCooldown parks an asset until the given time; the selector skips assets
// in cooldown.
func (r *Repository) SetCooldown(assetID string, until time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO rotation_state (asset_id, cooldown_until) VALUES (?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET cooldown_until = excluded.cooldown_until
	`, assetID, until.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set cooldown for %s: %w", assetID, err)
	}
	return nil
}

func parseTime(s string) time.Time {
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
