package scoring

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

func sampleScore(assetID string, scope domain.MarketScope, total float64) *domain.Score {
	return &domain.Score{
		AssetID:     assetID,
		MarketScope: scope,
		ScoreTotal:  f64(total),
		ScoreValue:  f64(61.2),
		Confidence:  85,
		StateLabel:  domain.StateEquilibre,
		RSI:         f64(57.3),
		LastPrice:   f64(182.5),
		ComputedAt:  time.Now().UTC().Truncate(time.Second),
		Breakdown: &domain.Breakdown{
			EngineVersion: EngineVersion,
			WeightsUsed:   map[string]float64{domain.PillarMomentum: 1},
			Features:      map[string]float64{domain.FeatureRSI: 57.3},
			Pillars:       map[string]float64{domain.PillarMomentum: 72.1},
		},
	}
}

func TestRepository_UpsertGetRoundTrip(t *testing.T) {
	repo := testRepo(t)

	score := sampleScore("AAPL.US", domain.ScopeUSEU, 88.5)
	require.NoError(t, repo.Upsert(score))

	got, err := repo.Get("AAPL.US")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.ScoreTotal)
	assert.InDelta(t, 88.5, *got.ScoreTotal, 0.0001)
	assert.Equal(t, domain.StateEquilibre, got.StateLabel)
	require.NotNil(t, got.Breakdown)
	assert.Equal(t, EngineVersion, got.Breakdown.EngineVersion)
	assert.InDelta(t, 57.3, got.Breakdown.Features[domain.FeatureRSI], 0.0001)
	assert.Nil(t, got.ScoreSafety)
}

func TestRepository_GetMissing(t *testing.T) {
	repo := testRepo(t)

	got, err := repo.Get("NOPE.US")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_TopScoresScoped(t *testing.T) {
	repo := testRepo(t)

	require.NoError(t, repo.Upsert(sampleScore("AAA.US", domain.ScopeUSEU, 91)))
	require.NoError(t, repo.Upsert(sampleScore("BBB.US", domain.ScopeUSEU, 72)))
	require.NoError(t, repo.Upsert(sampleScore("NPN.JSE", domain.ScopeAfrica, 99)))

	// A score with a NULL total never ranks.
	nullScore := sampleScore("CCC.US", domain.ScopeUSEU, 0)
	nullScore.ScoreTotal = nil
	require.NoError(t, repo.Upsert(nullScore))

	top, err := repo.TopScores(domain.ScopeUSEU, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "AAA.US", top[0].AssetID)
	assert.Equal(t, "BBB.US", top[1].AssetID)

	ids, err := repo.TopAssetIDs(domain.ScopeUSEU, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA.US"}, ids)
}

func TestRepository_StagingDoesNotTouchPublished(t *testing.T) {
	repo := testRepo(t)

	score := sampleScore("AAPL.US", domain.ScopeUSEU, 80)
	require.NoError(t, repo.InsertStaging("run-1", score))

	got, err := repo.Get("AAPL.US")
	require.NoError(t, err)
	assert.Nil(t, got)

	var staged int
	require.NoError(t, repo.db.QueryRow(
		"SELECT COUNT(*) FROM scores_staging WHERE run_id = ?", "run-1",
	).Scan(&staged))
	assert.Equal(t, 1, staged)
}

func TestRepository_UpsertIsIdempotent(t *testing.T) {
	repo := testRepo(t)

	score := sampleScore("AAPL.US", domain.ScopeUSEU, 88.5)
	require.NoError(t, repo.Upsert(score))
	require.NoError(t, repo.Upsert(score))

	count, err := repo.CountByScope(domain.ScopeUSEU)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
