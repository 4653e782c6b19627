package runs

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/database"
	"github.com/marketgps/core/internal/domain"
)

// PublishResult counts the rows a publish moved into the live tables.
type PublishResult struct {
	ScoresPublished int `json:"scores_published"`
	GatingPublished int `json:"gating_published"`
}

// Publisher swaps one run's staging rows into the published tables in a
// single transaction. At most one publish per scope is in flight; a second
// attempt fails with ErrPublishConflict instead of queueing behind the lock.
type Publisher struct {
	db    *sql.DB
	runs  *Repository
	log   zerolog.Logger
	locks map[domain.MarketScope]*scopeLock
	mu    sync.Mutex
}

type scopeLock struct {
	mu   sync.Mutex
	held bool
}

// NewPublisher creates the publisher around the run repository.
func NewPublisher(db *sql.DB, runsRepo *Repository, log zerolog.Logger) *Publisher {
	return &Publisher{
		db:    db,
		runs:  runsRepo,
		log:   log.With().Str("component", "publisher").Logger(),
		locks: make(map[domain.MarketScope]*scopeLock),
	}
}

func (p *Publisher) lockScope(scope domain.MarketScope) (*scopeLock, error) {
	p.mu.Lock()
	l, ok := p.locks[scope]
	if !ok {
		l = &scopeLock{}
		p.locks[scope] = l
	}
	if l.held {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: scope %s", domain.ErrPublishConflict, scope)
	}
	l.held = true
	p.mu.Unlock()
	l.mu.Lock()
	return l, nil
}

func (p *Publisher) unlockScope(l *scopeLock) {
	p.mu.Lock()
	l.held = false
	p.mu.Unlock()
	l.mu.Unlock()
}

// Publish moves this run's staging rows into scores_latest / gating_status,
// restricted to assets whose universe row carries the target scope, deletes
// the staging rows, and marks the run success, all in one transaction.
// Staged rows for any other scope are ignored and cleared.
func (p *Publisher) Publish(runID string, scope domain.MarketScope, publishScores, publishGating bool) (*PublishResult, error) {
	lock, err := p.lockScope(scope)
	if err != nil {
		return nil, err
	}
	defer p.unlockScope(lock)

	run, err := p.runs.Get(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("unknown run %s", runID)
	}
	if run.Status != domain.RunRunning && run.Status != domain.RunStaging {
		return nil, fmt.Errorf("run %s is %s, cannot publish", runID, run.Status)
	}

	result := &PublishResult{}
	now := time.Now().UTC().Format(time.RFC3339)

	err = database.WithTransaction(p.db, func(tx *sql.Tx) error {
		if publishScores {
			res, err := tx.Exec(`
				INSERT INTO scores_latest
				(asset_id, market_scope, score_total, score_value, score_momentum,
				 score_safety, score_fx_risk, score_liquidity_risk, confidence, state_label,
				 rsi, zscore, vol_annual, max_drawdown, sma200, last_price,
				 fundamentals_available, breakdown, computed_at, updated_at)
				SELECT s.asset_id, s.market_scope, s.score_total, s.score_value, s.score_momentum,
				       s.score_safety, s.score_fx_risk, s.score_liquidity_risk, s.confidence, s.state_label,
				       s.rsi, s.zscore, s.vol_annual, s.max_drawdown, s.sma200, s.last_price,
				       s.fundamentals_available, s.breakdown, s.computed_at, ?
				FROM scores_staging s
				JOIN universe u ON u.asset_id = s.asset_id AND u.market_scope = ?
				WHERE s.run_id = ?
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
					updated_at             = excluded.updated_at`,
				now, string(scope), runID)
			if err != nil {
				return fmt.Errorf("failed to publish scores: %w", err)
			}
			n, _ := res.RowsAffected()
			result.ScoresPublished = int(n)
		}

		if publishGating {
			res, err := tx.Exec(`
				INSERT INTO gating_status
				(asset_id, market_scope, coverage, liquidity, price_min, stale_ratio,
				 zero_volume_ratio, eligible, reason, data_confidence, fx_risk, liquidity_risk,
				 bars_total, first_bar_date, last_bar_date, updated_at)
				SELECT g.asset_id, g.market_scope, g.coverage, g.liquidity, g.price_min, g.stale_ratio,
				       g.zero_volume_ratio, g.eligible, g.reason, g.data_confidence, g.fx_risk, g.liquidity_risk,
				       g.bars_total, g.first_bar_date, g.last_bar_date, ?
				FROM gating_staging g
				JOIN universe u ON u.asset_id = g.asset_id AND u.market_scope = ?
				WHERE g.run_id = ?
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
					updated_at        = excluded.updated_at`,
				now, string(scope), runID)
			if err != nil {
				return fmt.Errorf("failed to publish gating: %w", err)
			}
			n, _ := res.RowsAffected()
			result.GatingPublished = int(n)
		}

		if _, err := tx.Exec("DELETE FROM scores_staging WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to clear score staging: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM gating_staging WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to clear gating staging: %w", err)
		}

		if _, err := tx.Exec(
			"UPDATE job_runs SET status = ?, finished_at = ? WHERE run_id = ?",
			string(domain.RunSuccess), now, runID,
		); err != nil {
			return fmt.Errorf("failed to finalize run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("run_id", runID).
		Str("scope", string(scope)).
		Int("scores", result.ScoresPublished).
		Int("gating", result.GatingPublished).
		Msg("run published")
	return result, nil
}

// Rollback clears the run's staging rows and marks it cancelled. Published
// tables are never touched.
func (p *Publisher) Rollback(runID string) error {
	err := database.WithTransaction(p.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM scores_staging WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to clear score staging: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM gating_staging WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to clear gating staging: %w", err)
		}
		if _, err := tx.Exec(
			"UPDATE job_runs SET status = ?, finished_at = ? WHERE run_id = ?",
			string(domain.RunCancelled), time.Now().UTC().Format(time.RFC3339), runID,
		); err != nil {
			return fmt.Errorf("failed to cancel run: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.log.Warn().Str("run_id", runID).Msg("run rolled back")
	return nil
}
