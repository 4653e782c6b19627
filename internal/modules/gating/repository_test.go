package gating

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgps/core/internal/database"
	"github.com/marketgps/core/internal/domain"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.Conn(), zerolog.Nop())
}

func sampleStatus(assetID string, scope domain.MarketScope) *domain.GatingStatus {
	fx := 0.35
	lr := 0.25
	s := &domain.GatingStatus{
		AssetID:         assetID,
		MarketScope:     scope,
		Coverage:        0.92,
		Liquidity:       3_200_000,
		PriceMin:        14.2,
		StaleRatio:      0.03,
		ZeroVolumeRatio: 0.01,
		Eligible:        true,
		DataConfidence:  88,
		BarsTotal:       280,
		FirstBarDate:    time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		LastBarDate:     time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Now().UTC(),
	}
	if scope == domain.ScopeAfrica {
		s.FXRisk = &fx
		s.LiquidityRisk = &lr
	}
	return s
}

func TestRepository_UpsertAndGet(t *testing.T) {
	repo := testRepo(t)

	status := sampleStatus("AAPL.US", domain.ScopeUSEU)
	require.NoError(t, repo.Upsert(status))

	got, err := repo.Get("AAPL.US")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, status.AssetID, got.AssetID)
	assert.Equal(t, status.MarketScope, got.MarketScope)
	assert.InDelta(t, status.Coverage, got.Coverage, 0.0001)
	assert.InDelta(t, status.Liquidity, got.Liquidity, 0.01)
	assert.True(t, got.Eligible)
	assert.Nil(t, got.FXRisk)
	assert.Equal(t, status.LastBarDate, got.LastBarDate)
}

func TestRepository_UpsertIsIdempotent(t *testing.T) {
	repo := testRepo(t)

	status := sampleStatus("NPN.JSE", domain.ScopeAfrica)
	require.NoError(t, repo.Upsert(status))
	require.NoError(t, repo.Upsert(status))

	got, err := repo.Get("NPN.JSE")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.FXRisk)
	assert.InDelta(t, 0.35, *got.FXRisk, 0.0001)

	total, eligible, err := repo.CountByScope(domain.ScopeAfrica)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, eligible)
}

func TestRepository_GetMissing(t *testing.T) {
	repo := testRepo(t)

	got, err := repo.Get("NOPE.US")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_InsertStaging(t *testing.T) {
	repo := testRepo(t)

	status := sampleStatus("AAPL.US", domain.ScopeUSEU)
	require.NoError(t, repo.InsertStaging("run-1", status))
	// Re-staging the same asset within the run overwrites, not duplicates.
	status.Coverage = 0.95
	require.NoError(t, repo.InsertStaging("run-1", status))

	var count int
	var coverage float64
	err := repo.db.QueryRow(
		"SELECT COUNT(*), MAX(coverage) FROM gating_staging WHERE run_id = ?", "run-1",
	).Scan(&count, &coverage)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.InDelta(t, 0.95, coverage, 0.0001)

	// Published table untouched by staging.
	got, err := repo.Get("AAPL.US")
	require.NoError(t, err)
	assert.Nil(t, got)
}
