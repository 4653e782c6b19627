// Package adhoc serves on-demand ticker scoring: resolve the ticker, enforce
// the caller's daily budget, fetch what is missing, and publish directly to
// the live tables without a staging run.
package adhoc

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/config"
	"github.com/marketgps/core/internal/domain"
)

// QuotaLimits carries the per-plan daily budgets.
type QuotaLimits struct {
	BillingMode string
	DailyFree   int
	DailyPaid   int
}

// QuotaService enforces the per-user daily ad-hoc budget against users and
// usage_daily. The counter resets implicitly: each calendar day is its own
// row.
type QuotaService struct {
	db     *sql.DB
	limits QuotaLimits
	log    zerolog.Logger
}

// NewQuotaService creates the quota service.
func NewQuotaService(db *sql.DB, limits QuotaLimits, log zerolog.Logger) *QuotaService {
	return &QuotaService{
		db:     db,
		limits: limits,
		log:    log.With().Str("component", "quota").Logger(),
	}
}

func (q *QuotaService) limitFor(plan domain.Plan) int {
	if plan == domain.PlanFree {
		return q.limits.DailyFree
	}
	return q.limits.DailyPaid
}

// plan returns the user's billing plan; unknown users count as free.
func (q *QuotaService) plan(userID string) (domain.Plan, error) {
	var plan string
	err := q.db.QueryRow("SELECT plan FROM users WHERE user_id = ?", userID).Scan(&plan)
	if err == sql.ErrNoRows {
		return domain.PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up plan for %s: %w", userID, err)
	}
	return domain.Plan(plan), nil
}

// Get returns the user's quota snapshot for today without consuming.
func (q *QuotaService) Get(userID string, now time.Time) (*domain.UserQuota, error) {
	plan, err := q.plan(userID)
	if err != nil {
		return nil, err
	}
	date := now.UTC().Format("2006-01-02")

	var used int
	err = q.db.QueryRow(
		"SELECT used FROM usage_daily WHERE user_id = ? AND date = ?",
		userID, date).Scan(&used)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read usage for %s: %w", userID, err)
	}

	return &domain.UserQuota{
		UserID:     userID,
		Plan:       plan,
		DailyUsed:  used,
		DailyLimit: q.limitFor(plan),
		Date:       date,
	}, nil
}

// Consume takes one unit from the user's daily budget. The increment and the
// limit check run in a single statement, so concurrent requests can never
// overshoot. Returns the post-consumption snapshot; nil when billing is off.
// A drained budget fails with domain.ErrQuotaExceeded.
func (q *QuotaService) Consume(userID string, now time.Time) (*domain.UserQuota, error) {
	if q.limits.BillingMode == config.BillingOff {
		return nil, nil
	}

	plan, err := q.plan(userID)
	if err != nil {
		return nil, err
	}
	date := now.UTC().Format("2006-01-02")

	if plan.Unlimited() {
		return &domain.UserQuota{UserID: userID, Plan: plan, Date: date, DailyLimit: -1}, nil
	}

	limit := q.limitFor(plan)
	if limit <= 0 {
		return nil, fmt.Errorf("%w: plan %s has no ad-hoc budget", domain.ErrQuotaExceeded, plan)
	}
	res, err := q.db.Exec(`
		INSERT INTO usage_daily (user_id, date, used) VALUES (?, ?, 1)
		ON CONFLICT(user_id, date) DO UPDATE SET used = used + 1
		WHERE usage_daily.used < ?`,
		userID, date, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to consume quota for %s: %w", userID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, fmt.Errorf("%w: %d/%d used today", domain.ErrQuotaExceeded, limit, limit)
	}

	snapshot, err := q.Get(userID, now)
	if err != nil {
		return nil, err
	}
	q.log.Debug().
		Str("user_id", userID).
		Int("used", snapshot.DailyUsed).
		Int("limit", snapshot.DailyLimit).
		Msg("quota consumed")
	return snapshot, nil
}

// SetPlan assigns a billing plan to a user, creating the row if needed.
func (q *QuotaService) SetPlan(userID string, plan domain.Plan) error {
	_, err := q.db.Exec(`
		INSERT INTO users (user_id, plan) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET plan = excluded.plan`,
		userID, string(plan))
	if err != nil {
		return fmt.Errorf("failed to set plan for %s: %w", userID, err)
	}
	return nil
}
