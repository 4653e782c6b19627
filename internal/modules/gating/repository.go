package gating

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
)

// gatingColumns is the shared column list of gating_status and
// gating_staging (minus run_id). Order must match scanStatus.
const gatingColumns = `asset_id, market_scope, coverage, liquidity, price_min, stale_ratio,
zero_volume_ratio, eligible, reason, data_confidence, fx_risk, liquidity_risk,
bars_total, first_bar_date, last_bar_date`

// Repository persists gating verdicts, published and staged.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new gating repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "gating").Logger(),
	}
}

// Upsert writes one verdict to the published table. Pipeline runs go through
// staging + publish instead; this direct path serves ad-hoc scoring.
func (r *Repository) Upsert(status *domain.GatingStatus) error {
	query := `
		INSERT INTO gating_status
		(` + gatingColumns + `, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			market_scope      = excluded.market_scope,
			coverage          = excluded.coverage,
			liquidity         = excluded.liquidity,
			price_min         = excluded.price_min,
			stale_ratio       = excluded.stale_ratio,
			zero_volume_ratio = excluded.zero_volume_ratio,
			eligible          = excluded.eligible,
			reason            = excluded.reason,
			data_confidence   = excluded.data_confidence,
			fx_risk           = excluded.fx_risk,
			liquidity_risk    = excluded.liquidity_risk,
			bars_total        = excluded.bars_total,
			first_bar_date    = excluded.first_bar_date,
			last_bar_date     = excluded.last_bar_date,
			updated_at        = excluded.updated_at
	`
	args := append(statusArgs(status), formatTime(status.UpdatedAt))
	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to upsert gating status for %s: %w", status.AssetID, err)
	}
	return nil
}

// InsertStaging writes one verdict into gating_staging under the run.
func (r *Repository) InsertStaging(runID string, status *domain.GatingStatus) error {
	query := `
		INSERT INTO gating_staging
		(run_id, ` + gatingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, asset_id) DO UPDATE SET
			coverage          = excluded.coverage,
			liquidity         = excluded.liquidity,
			price_min         = excluded.price_min,
			stale_ratio       = excluded.stale_ratio,
			zero_volume_ratio = excluded.zero_volume_ratio,
			eligible          = excluded.eligible,
			reason            = excluded.reason,
			data_confidence   = excluded.data_confidence,
			fx_risk           = excluded.fx_risk,
			liquidity_risk    = excluded.liquidity_risk,
			bars_total        = excluded.bars_total,
			first_bar_date    = excluded.first_bar_date,
			last_bar_date     = excluded.last_bar_date
	`
	args := append([]interface{}{runID}, statusArgs(status)...)
	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to stage gating status for %s: %w", status.AssetID, err)
	}
	return nil
}

// Get returns the published verdict for one asset, or nil when absent.
func (r *Repository) Get(assetID string) (*domain.GatingStatus, error) {
	query := "SELECT " + gatingColumns + ", updated_at FROM gating_status WHERE asset_id = ?"

	rows, err := r.db.Query(query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query gating status: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	status, err := scanStatus(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan gating status: %w", err)
	}
	return status, nil
}

// CountByScope returns (total, eligible) published verdict counts.
func (r *Repository) CountByScope(scope domain.MarketScope) (int, int, error) {
	var total, eligible int
	err := r.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(eligible), 0) FROM gating_status WHERE market_scope = ?",
		string(scope),
	).Scan(&total, &eligible)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count gating statuses for %s: %w", scope, err)
	}
	return total, eligible, nil
}

func statusArgs(s *domain.GatingStatus) []interface{} {
	return []interface{}{
		s.AssetID,
		string(s.MarketScope),
		s.Coverage,
		s.Liquidity,
		s.PriceMin,
		s.StaleRatio,
		s.ZeroVolumeRatio,
		boolToInt(s.Eligible),
		s.Reason,
		s.DataConfidence,
		s.FXRisk,
		s.LiquidityRisk,
		s.BarsTotal,
		nullableTime(s.FirstBarDate),
		nullableTime(s.LastBarDate),
	}
}

func scanStatus(rows *sql.Rows) (*domain.GatingStatus, error) {
	var (
		s                     domain.GatingStatus
		scope                 string
		eligible              int
		fxRisk, liquidityRisk sql.NullFloat64
		firstBar, lastBar     sql.NullString
		updatedAt             string
	)
	err := rows.Scan(
		&s.AssetID, &scope, &s.Coverage, &s.Liquidity, &s.PriceMin, &s.StaleRatio,
		&s.ZeroVolumeRatio, &eligible, &s.Reason, &s.DataConfidence,
		&fxRisk, &liquidityRisk, &s.BarsTotal, &firstBar, &lastBar, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.MarketScope = domain.MarketScope(scope)
	s.Eligible = eligible != 0
	if fxRisk.Valid {
		s.FXRisk = &fxRisk.Float64
	}
	if liquidityRisk.Valid {
		s.LiquidityRisk = &liquidityRisk.Float64
	}
	if firstBar.Valid {
		s.FirstBarDate = parseTime(firstBar.String)
	}
	if lastBar.Valid {
		s.LastBarDate = parseTime(lastBar.String)
	}
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
