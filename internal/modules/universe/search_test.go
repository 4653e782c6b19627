package universe

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgps/core/internal/database"
	"github.com/marketgps/core/internal/domain"
)

func newSearchFixture(t *testing.T) (*Repository, *database.DB) {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.Conn(), zerolog.Nop()), db
}

func seedSearchAsset(t *testing.T, repo *Repository, id, name string, scope domain.MarketScope, at domain.AssetType, tier int, country string) {
	t.Helper()
	symbol, exchange, err := domain.SplitAssetID(id)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(&domain.Asset{
		AssetID:      id,
		Symbol:       symbol,
		Name:         name,
		AssetType:    at,
		MarketScope:  scope,
		ExchangeCode: exchange,
		Country:      country,
		Tier:         tier,
		Active:       true,
	}))
}

func seedScore(t *testing.T, db *database.DB, id string, scope domain.MarketScope, total float64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO scores_latest (asset_id, market_scope, score_total, confidence, state_label, computed_at)
		VALUES (?, ?, ?, 0.8, 'EQUILIBRE', ?)`,
		id, string(scope), total, time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, err)
}

func seedGating(t *testing.T, db *database.DB, id string, scope domain.MarketScope, eligible bool, firstBar, lastBar string) {
	t.Helper()
	elig := 0
	if eligible {
		elig = 1
	}
	_, err := db.Exec(`
		INSERT INTO gating_status (asset_id, market_scope, eligible, first_bar_date, last_bar_date)
		VALUES (?, ?, ?, ?, ?)`,
		id, string(scope), elig, firstBar, lastBar)
	require.NoError(t, err)
}

func TestSearch_ScopeAndQuery(t *testing.T) {
	repo, _ := newSearchFixture(t)
	seedSearchAsset(t, repo, "AAPL.US", "Apple Inc", domain.ScopeUSEU, domain.AssetEquity, 1, "usa")
	seedSearchAsset(t, repo, "MSFT.US", "Microsoft", domain.ScopeUSEU, domain.AssetEquity, 1, "usa")
	seedSearchAsset(t, repo, "NPN.JSE", "Naspers", domain.ScopeAfrica, domain.AssetEquity, 1, "south africa")

	results, total, err := repo.Search(SearchFilters{Scope: domain.ScopeUSEU})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 2)

	results, total, err = repo.Search(SearchFilters{Query: "naspers"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "NPN.JSE", results[0].Asset.AssetID)
}

func TestSearch_ScoreFilters(t *testing.T) {
	repo, db := newSearchFixture(t)
	seedSearchAsset(t, repo, "AAPL.US", "Apple Inc", domain.ScopeUSEU, domain.AssetEquity, 1, "usa")
	seedSearchAsset(t, repo, "MSFT.US", "Microsoft", domain.ScopeUSEU, domain.AssetEquity, 1, "usa")
	seedSearchAsset(t, repo, "TINY.US", "Tiny Corp", domain.ScopeUSEU, domain.AssetEquity, 4, "usa")
	seedScore(t, db, "AAPL.US", domain.ScopeUSEU, 82)
	seedScore(t, db, "MSFT.US", domain.ScopeUSEU, 55)

	// OnlyScored drops the unscored asset.
	_, total, err := repo.Search(SearchFilters{Scope: domain.ScopeUSEU, OnlyScored: true})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	minScore := 70.0
	results, total, err := repo.Search(SearchFilters{Scope: domain.ScopeUSEU, MinScore: &minScore})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "AAPL.US", results[0].Asset.AssetID)
	require.NotNil(t, results[0].ScoreTotal)
	assert.InDelta(t, 82, *results[0].ScoreTotal, 0.001)
}

func TestSearch_ExcludeFlagged(t *testing.T) {
	repo, db := newSearchFixture(t)
	seedSearchAsset(t, repo, "GOOD.US", "Good Corp", domain.ScopeUSEU, domain.AssetEquity, 2, "usa")
	seedSearchAsset(t, repo, "BAD.US", "Bad Corp", domain.ScopeUSEU, domain.AssetEquity, 2, "usa")
	seedGating(t, db, "GOOD.US", domain.ScopeUSEU, true, "2015-01-01", "2025-01-01")
	seedGating(t, db, "BAD.US", domain.ScopeUSEU, false, "2024-01-01", "2025-01-01")

	results, total, err := repo.Search(SearchFilters{Scope: domain.ScopeUSEU, ExcludeFlagged: true})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "GOOD.US", results[0].Asset.AssetID)
}

func TestSearch_MinHorizonYears(t *testing.T) {
	repo, db := newSearchFixture(t)
	seedSearchAsset(t, repo, "OLD.US", "Old Corp", domain.ScopeUSEU, domain.AssetEquity, 2, "usa")
	seedSearchAsset(t, repo, "NEW.US", "New Corp", domain.ScopeUSEU, domain.AssetEquity, 2, "usa")
	seedGating(t, db, "OLD.US", domain.ScopeUSEU, true, "2010-01-01", "2025-01-01")
	seedGating(t, db, "NEW.US", domain.ScopeUSEU, true, "2024-06-01", "2025-01-01")

	results, total, err := repo.Search(SearchFilters{Scope: domain.ScopeUSEU, MinHorizonYears: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "OLD.US", results[0].Asset.AssetID)
}

func TestSearch_AfricaRegion(t *testing.T) {
	repo, _ := newSearchFixture(t)
	seedSearchAsset(t, repo, "NPN.JSE", "Naspers", domain.ScopeAfrica, domain.AssetEquity, 1, "South Africa")
	seedSearchAsset(t, repo, "DANGCEM.NG", "Dangote Cement", domain.ScopeAfrica, domain.AssetEquity, 2, "Nigeria")

	results, total, err := repo.Search(SearchFilters{Scope: domain.ScopeAfrica, Region: "southern_africa"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "NPN.JSE", results[0].Asset.AssetID)

	// Country must belong to the region when both are given.
	_, _, err = repo.Search(SearchFilters{Scope: domain.ScopeAfrica, Region: "southern_africa", Country: "Nigeria"})
	assert.Error(t, err)
}

func TestSearch_LiquidityTierAndSort(t *testing.T) {
	repo, _ := newSearchFixture(t)
	seedSearchAsset(t, repo, "B.US", "Beta", domain.ScopeUSEU, domain.AssetEquity, 1, "usa")
	seedSearchAsset(t, repo, "A.US", "Alpha", domain.ScopeUSEU, domain.AssetEquity, 2, "usa")
	seedSearchAsset(t, repo, "C.US", "Gamma", domain.ScopeUSEU, domain.AssetEquity, 3, "usa")

	results, total, err := repo.Search(SearchFilters{
		Scope:            domain.ScopeUSEU,
		MinLiquidityTier: "B",
		SortBy:           "symbol",
	})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	assert.Equal(t, "A.US", results[0].Asset.AssetID)
	assert.Equal(t, "B.US", results[1].Asset.AssetID)
}

func TestSearch_Paging(t *testing.T) {
	repo, _ := newSearchFixture(t)
	seedSearchAsset(t, repo, "A.US", "Alpha", domain.ScopeUSEU, domain.AssetEquity, 1, "usa")
	seedSearchAsset(t, repo, "B.US", "Beta", domain.ScopeUSEU, domain.AssetEquity, 1, "usa")
	seedSearchAsset(t, repo, "C.US", "Gamma", domain.ScopeUSEU, domain.AssetEquity, 1, "usa")

	page, total, err := repo.Search(SearchFilters{Scope: domain.ScopeUSEU, SortBy: "symbol", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)

	page, _, err = repo.Search(SearchFilters{Scope: domain.ScopeUSEU, SortBy: "symbol", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "C.US", page[0].Asset.AssetID)
}

func TestSearchFilters_Validate(t *testing.T) {
	bad := []SearchFilters{
		{Scope: "MARS"},
		{MarketCode: "US"},                                  // requires US_EU scope
		{Scope: domain.ScopeUSEU, Region: "east_africa"},    // region requires AFRICA
		{Scope: domain.ScopeAfrica, Region: "outer_space"},  // unknown region
		{MinLiquidityTier: "Z"},                             // bad tier letter
		{SortBy: "sneaky; DROP TABLE universe"},             // not whitelisted
		{MinScore: ptrFloat(90), MaxScore: ptrFloat(10)},    // inverted range
		{MinHorizonYears: -1},
	}
	for _, f := range bad {
		assert.Error(t, f.Validate())
	}

	ok := SearchFilters{Limit: 10_000}
	require.NoError(t, ok.Validate())
	assert.Equal(t, maxSearchLimit, ok.Limit)
}

func ptrFloat(v float64) *float64 { return &v }
