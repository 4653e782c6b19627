package domain

// Plan is the billing tier driving the ad-hoc daily budget.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanMonthly    Plan = "monthly"
	PlanYearly     Plan = "yearly"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Unlimited marks plans that bypass the daily counter.
func (p Plan) Unlimited() bool {
	return p == PlanYearly || p == PlanEnterprise
}

// UserQuota is the per-user daily budget for on-demand scoring. Usage resets
// on the first request of a new calendar day.
type UserQuota struct {
	UserID     string `json:"user_id"`
	Plan       Plan   `json:"plan"`
	DailyUsed  int    `json:"daily_used"`
	DailyLimit int    `json:"daily_limit"`
	Date       string `json:"date"` // YYYY-MM-DD of the counted day
}

// Remaining returns how many ad-hoc calls are left today; unlimited plans
// report -1.
func (q UserQuota) Remaining() int {
	if q.Plan.Unlimited() {
		return -1
	}
	r := q.DailyLimit - q.DailyUsed
	if r < 0 {
		return 0
	}
	return r
}
