package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/marketgps/core/internal/domain"
)

// africaRegions maps a region filter value to the countries it contains.
// Country names follow the provider's listing metadata.
var africaRegions = map[string][]string{
	"southern_africa": {"south africa", "namibia", "botswana", "zimbabwe", "zambia", "malawi"},
	"west_africa":     {"nigeria", "ghana", "ivory coast", "cote d'ivoire", "senegal"},
	"east_africa":     {"kenya", "uganda", "tanzania", "rwanda"},
	"north_africa":    {"egypt", "morocco", "tunisia"},
}

// liquidityTiers maps the institutional A–D filter onto universe tiers.
var liquidityTiers = map[string]int{"A": 1, "B": 2, "C": 3, "D": 4}

// sortFields is the whitelist of sort keys with their SQL order clause.
var sortFields = map[string]string{
	"score":      "s.score_total DESC",
	"confidence": "s.confidence DESC",
	"symbol":     "u.symbol ASC",
	"name":       "u.name ASC",
	"tier":       "u.tier ASC, u.symbol ASC",
	"updated_at": "u.updated_at DESC",
}

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

// SearchFilters is the single filter set for all asset listings.
type SearchFilters struct {
	Scope            domain.MarketScope `json:"market_scope,omitempty"`
	MarketCode       string             `json:"market_code,omitempty"` // US_EU only
	Region           string             `json:"region,omitempty"`      // AFRICA only
	Country          string             `json:"country,omitempty"`     // AFRICA only
	AssetType        domain.AssetType   `json:"asset_type,omitempty"`
	OnlyScored       bool               `json:"only_scored,omitempty"`
	MinScore         *float64           `json:"min_score,omitempty"`
	MaxScore         *float64           `json:"max_score,omitempty"`
	MinLiquidityTier string             `json:"min_liquidity_tier,omitempty"` // A..D
	ExcludeFlagged   bool               `json:"exclude_flagged,omitempty"`
	MinHorizonYears  float64            `json:"min_horizon_years,omitempty"`
	Query            string             `json:"query,omitempty"`
	SortBy           string             `json:"sort_by,omitempty"`
	Limit            int                `json:"limit,omitempty"`
	Offset           int                `json:"offset,omitempty"`
}

// Validate rejects contradictory filter combinations and normalizes paging.
func (f *SearchFilters) Validate() error {
	if f.Scope != "" && !f.Scope.Valid() {
		return fmt.Errorf("unknown market_scope %q", f.Scope)
	}
	if f.MarketCode != "" && f.Scope != domain.ScopeUSEU {
		return fmt.Errorf("market_code filter requires market_scope US_EU")
	}
	if (f.Region != "" || f.Country != "") && f.Scope != domain.ScopeAfrica {
		return fmt.Errorf("region/country filters require market_scope AFRICA")
	}
	if f.Region != "" {
		countries, ok := africaRegions[strings.ToLower(f.Region)]
		if !ok {
			return fmt.Errorf("unknown region %q", f.Region)
		}
		if f.Country != "" && !containsFold(countries, f.Country) {
			return fmt.Errorf("country %q is not part of region %q", f.Country, f.Region)
		}
	}
	if f.MinLiquidityTier != "" {
		if _, ok := liquidityTiers[strings.ToUpper(f.MinLiquidityTier)]; !ok {
			return fmt.Errorf("min_liquidity_tier must be one of A, B, C, D")
		}
	}
	if f.MinScore != nil && (*f.MinScore < 0 || *f.MinScore > 100) {
		return fmt.Errorf("min_score out of range [0,100]")
	}
	if f.MaxScore != nil && (*f.MaxScore < 0 || *f.MaxScore > 100) {
		return fmt.Errorf("max_score out of range [0,100]")
	}
	if f.MinScore != nil && f.MaxScore != nil && *f.MinScore > *f.MaxScore {
		return fmt.Errorf("min_score greater than max_score")
	}
	if f.SortBy != "" {
		if _, ok := sortFields[strings.ToLower(f.SortBy)]; !ok {
			return fmt.Errorf("unknown sort field %q", f.SortBy)
		}
	}
	if f.MinHorizonYears < 0 {
		return fmt.Errorf("min_horizon_years must be non-negative")
	}

	if f.Limit <= 0 {
		f.Limit = defaultSearchLimit
	}
	if f.Limit > maxSearchLimit {
		f.Limit = maxSearchLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return nil
}

// SearchResult is one asset row with its published score summary, if any.
type SearchResult struct {
	Asset      domain.Asset `json:"asset"`
	ScoreTotal *float64     `json:"score_total,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`
	StateLabel string       `json:"state_label,omitempty"`
	ComputedAt *time.Time   `json:"computed_at,omitempty"`
}

// Search runs the filter set against universe + scores_latest and returns the
// page plus the total match count.
func (r *Repository) Search(filters SearchFilters) ([]SearchResult, int, error) {
	if err := filters.Validate(); err != nil {
		return nil, 0, err
	}

	where, args := buildSearchWhere(&filters)

	join := "LEFT JOIN"
	if filters.OnlyScored || filters.MinScore != nil || filters.MaxScore != nil {
		join = "JOIN"
	}

	countQuery := "SELECT COUNT(*) FROM universe u " + join + " scores_latest s ON s.asset_id = u.asset_id" + where
	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count search results: %w", err)
	}

	order := sortFields["score"]
	if filters.SortBy != "" {
		order = sortFields[strings.ToLower(filters.SortBy)]
	}

	query := `SELECT u.asset_id, u.symbol, u.name, u.asset_type, u.market_scope, u.market_code,
		u.exchange_code, u.currency, u.country, u.sector, u.industry, u.tier, u.priority_level, u.active,
		u.created_at, u.updated_at,
		s.score_total, s.confidence, s.state_label, s.computed_at
		FROM universe u ` + join + " scores_latest s ON s.asset_id = u.asset_id" + where +
		" ORDER BY " + order + " LIMIT ? OFFSET ?"

	rows, err := r.db.Query(query, append(args, filters.Limit, filters.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search assets: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			res                  SearchResult
			assetType, scope     string
			active               int
			createdAt, updatedAt string
			scoreTotal           sql.NullFloat64
			confidence           sql.NullFloat64
			stateLabel           sql.NullString
			computedAt           sql.NullString
		)
		err := rows.Scan(
			&res.Asset.AssetID, &res.Asset.Symbol, &res.Asset.Name, &assetType, &scope,
			&res.Asset.MarketCode, &res.Asset.ExchangeCode, &res.Asset.Currency, &res.Asset.Country,
			&res.Asset.Sector, &res.Asset.Industry, &res.Asset.Tier, &res.Asset.PriorityLevel,
			&active, &createdAt, &updatedAt,
			&scoreTotal, &confidence, &stateLabel, &computedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan search result: %w", err)
		}
		res.Asset.AssetType = domain.AssetType(assetType)
		res.Asset.MarketScope = domain.MarketScope(scope)
		res.Asset.Active = active != 0
		res.Asset.CreatedAt = parseDBTime(createdAt)
		res.Asset.UpdatedAt = parseDBTime(updatedAt)
		if scoreTotal.Valid {
			res.ScoreTotal = &scoreTotal.Float64
		}
		if confidence.Valid {
			res.Confidence = &confidence.Float64
		}
		if stateLabel.Valid {
			res.StateLabel = stateLabel.String
		}
		if computedAt.Valid {
			t := parseDBTime(computedAt.String)
			res.ComputedAt = &t
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating search results: %w", err)
	}

	return results, total, nil
}

func buildSearchWhere(f *SearchFilters) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.Scope != "" {
		conds = append(conds, "u.market_scope = ?")
		args = append(args, string(f.Scope))
	}
	if f.MarketCode != "" {
		conds = append(conds, "u.market_code = ?")
		args = append(args, strings.ToUpper(f.MarketCode))
	}
	if f.Country != "" {
		conds = append(conds, "LOWER(u.country) = ?")
		args = append(args, strings.ToLower(f.Country))
	} else if f.Region != "" {
		countries := africaRegions[strings.ToLower(f.Region)]
		placeholders := strings.Repeat("?,", len(countries))
		conds = append(conds, "LOWER(u.country) IN ("+placeholders[:len(placeholders)-1]+")")
		for _, c := range countries {
			args = append(args, c)
		}
	}
	if f.AssetType != "" {
		conds = append(conds, "u.asset_type = ?")
		args = append(args, string(f.AssetType))
	}
	if f.MinScore != nil {
		conds = append(conds, "s.score_total >= ?")
		args = append(args, *f.MinScore)
	}
	if f.MaxScore != nil {
		conds = append(conds, "s.score_total <= ?")
		args = append(args, *f.MaxScore)
	}
	if f.MinLiquidityTier != "" {
		conds = append(conds, "u.tier <= ?")
		args = append(args, liquidityTiers[strings.ToUpper(f.MinLiquidityTier)])
	}
	if f.ExcludeFlagged {
		conds = append(conds, "NOT EXISTS (SELECT 1 FROM gating_status g WHERE g.asset_id = u.asset_id AND g.eligible = 0)")
	}
	if f.MinHorizonYears > 0 {
		conds = append(conds, `EXISTS (SELECT 1 FROM gating_status g WHERE g.asset_id = u.asset_id
			AND g.first_bar_date IS NOT NULL AND g.last_bar_date IS NOT NULL
			AND (julianday(g.last_bar_date) - julianday(g.first_bar_date)) / 365.25 >= ?)`)
		args = append(args, f.MinHorizonYears)
	}
	if f.Query != "" {
		like := "%" + strings.ToUpper(strings.TrimSpace(f.Query)) + "%"
		conds = append(conds, "(UPPER(u.symbol) LIKE ? OR UPPER(u.name) LIKE ?)")
		args = append(args, like, like)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
