package scoring

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
)

// scoreColumns is the shared column list of scores_latest and scores_staging
// (minus run_id). Order must match scanScore.
const scoreColumns = `asset_id, market_scope, score_total, score_value, score_momentum,
score_safety, score_fx_risk, score_liquidity_risk, confidence, state_label,
rsi, zscore, vol_annual, max_drawdown, sma200, last_price,
fundamentals_available, breakdown, computed_at`

// Repository persists scores, published and staged.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new score repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "scores").Logger(),
	}
}

// Upsert writes one score directly to scores_latest. This is the ad-hoc
// compatibility path; pipeline runs publish via staging.
func (r *Repository) Upsert(score *domain.Score) error {
	args, err := scoreArgs(score)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO scores_latest
		(` + scoreColumns + `, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			market_scope           = excluded.market_scope,
			score_total            = excluded.score_total,
			score_value            = excluded.score_value,
			score_momentum         = excluded.score_momentum,
			score_safety           = excluded.score_safety,
			score_fx_risk          = excluded.score_fx_risk,
			score_liquidity_risk   = excluded.score_liquidity_risk,
			confidence             = excluded.confidence,
			state_label            = excluded.state_label,
			rsi                    = excluded.rsi,
			zscore                 = excluded.zscore,
			vol_annual             = excluded.vol_annual,
			max_drawdown           = excluded.max_drawdown,
			sma200                 = excluded.sma200,
			last_price             = excluded.last_price,
			fundamentals_available = excluded.fundamentals_available,
			breakdown              = excluded.breakdown,
			computed_at            = excluded.computed_at,
			updated_at             = excluded.updated_at
	`
	args = append(args, time.Now().UTC().Format(time.RFC3339))
	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to upsert score for %s: %w", score.AssetID, err)
	}
	return nil
}

// InsertStaging writes one score into scores_staging under the run.
func (r *Repository) InsertStaging(runID string, score *domain.Score) error {
	args, err := scoreArgs(score)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO scores_staging
		(run_id, ` + scoreColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, asset_id) DO UPDATE SET
			score_total            = excluded.score_total,
			score_value            = excluded.score_value,
			score_momentum         = excluded.score_momentum,
			score_safety           = excluded.score_safety,
			score_fx_risk          = excluded.score_fx_risk,
			score_liquidity_risk   = excluded.score_liquidity_risk,
			confidence             = excluded.confidence,
			state_label            = excluded.state_label,
			rsi                    = excluded.rsi,
			zscore                 = excluded.zscore,
			vol_annual             = excluded.vol_annual,
			max_drawdown           = excluded.max_drawdown,
			sma200                 = excluded.sma200,
			last_price             = excluded.last_price,
			fundamentals_available = excluded.fundamentals_available,
			breakdown              = excluded.breakdown,
			computed_at            = excluded.computed_at
	`
	args = append([]interface{}{runID}, args...)
	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to stage score for %s: %w", score.AssetID, err)
	}
	return nil
}

// Get returns the published score for one asset, or nil when absent.
func (r *Repository) Get(assetID string) (*domain.Score, error) {
	query := "SELECT " + scoreColumns + ", updated_at FROM scores_latest WHERE asset_id = ?"

	rows, err := r.db.Query(query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query score: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	score, err := scanScore(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan score: %w", err)
	}
	return score, nil
}

// TopScores returns the highest non-null published totals in a scope.
func (r *Repository) TopScores(scope domain.MarketScope, limit int) ([]domain.Score, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + scoreColumns + `, updated_at FROM scores_latest
		WHERE market_scope = ? AND score_total IS NOT NULL
		ORDER BY score_total DESC LIMIT ?`

	rows, err := r.db.Query(query, string(scope), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top scores: %w", err)
	}
	defer rows.Close()

	var scores []domain.Score
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, *score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top scores: %w", err)
	}
	return scores, nil
}

// TopAssetIDs returns the asset IDs of the current published top-N, used by
// the rotation selector.
func (r *Repository) TopAssetIDs(scope domain.MarketScope, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT asset_id FROM scores_latest
		 WHERE market_scope = ? AND score_total IS NOT NULL
		 ORDER BY score_total DESC LIMIT ?`,
		string(scope), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query top asset ids: %w", err)
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
	return ids, rows.Err()
}

// CountByScope returns the published score count for a scope.
func (r *Repository) CountByScope(scope domain.MarketScope) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM scores_latest WHERE market_scope = ?", string(scope),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scores for %s: %w", scope, err)
	}
	return count, nil
}

func scoreArgs(s *domain.Score) ([]interface{}, error) {
	breakdown := ""
	if s.Breakdown != nil {
		raw, err := s.Breakdown.MarshalText()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize breakdown for %s: %w", s.AssetID, err)
		}
		breakdown = raw
	}
	computedAt := s.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}
	return []interface{}{
		s.AssetID,
		string(s.MarketScope),
		s.ScoreTotal,
		s.ScoreValue,
		s.ScoreMomentum,
		s.ScoreSafety,
		s.ScoreFXRisk,
		s.ScoreLiquidityRisk,
		s.Confidence,
		string(s.StateLabel),
		s.RSI,
		s.ZScore,
		s.VolAnnual,
		s.MaxDrawdown,
		s.SMA200,
		s.LastPrice,
		boolToInt(s.FundamentalsAvailable),
		breakdown,
		computedAt.UTC().Format(time.RFC3339),
	}, nil
}

func scanScore(rows *sql.Rows) (*domain.Score, error) {
	var (
		s                     domain.Score
		scope, state          string
		total, value, mom     sql.NullFloat64
		safety, fxRisk, liqR  sql.NullFloat64
		rsi, zscore, vol      sql.NullFloat64
		dd, sma200, lastPrice sql.NullFloat64
		fundAvail             int
		breakdown             string
		computedAt, updatedAt string
	)
	err := rows.Scan(
		&s.AssetID, &scope, &total, &value, &mom, &safety, &fxRisk, &liqR,
		&s.Confidence, &state, &rsi, &zscore, &vol, &dd, &sma200, &lastPrice,
		&fundAvail, &breakdown, &computedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.MarketScope = domain.MarketScope(scope)
	s.StateLabel = domain.StateLabel(state)
	s.FundamentalsAvailable = fundAvail != 0
	s.ScoreTotal = nullFloat(total)
	s.ScoreValue = nullFloat(value)
	s.ScoreMomentum = nullFloat(mom)
	s.ScoreSafety = nullFloat(safety)
	s.ScoreFXRisk = nullFloat(fxRisk)
	s.ScoreLiquidityRisk = nullFloat(liqR)
	s.RSI = nullFloat(rsi)
	s.ZScore = nullFloat(zscore)
	s.VolAnnual = nullFloat(vol)
	s.MaxDrawdown = nullFloat(dd)
	s.SMA200 = nullFloat(sma200)
	s.LastPrice = nullFloat(lastPrice)
	s.ComputedAt = parseTime(computedAt)
	s.UpdatedAt = parseTime(updatedAt)

	parsed, err := domain.ParseBreakdown(breakdown)
	if err != nil {
		return nil, err
	}
	s.Breakdown = parsed
	return &s, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
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
