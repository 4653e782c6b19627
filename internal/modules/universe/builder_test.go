package universe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgps/core/internal/database"
	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/providers"
)

// stubProvider serves canned listings and bulk rows per exchange.
type stubProvider struct {
	symbols map[string][]providers.ListedSymbol
	bulk    map[string]map[string]providers.BulkBar
	fail    map[string]bool
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) FetchEOD(ctx context.Context, assetID string, from, to time.Time) (domain.BarSeries, error) {
	return nil, domain.ErrNotSupported
}

func (s *stubProvider) FetchFundamentals(ctx context.Context, assetID string) (*domain.Fundamentals, error) {
	return nil, domain.ErrNotSupported
}

func (s *stubProvider) FetchBulkEOD(ctx context.Context, exchange string) (map[string]providers.BulkBar, error) {
	if s.fail[exchange] {
		return nil, errors.New("exchange unavailable")
	}
	return s.bulk[exchange], nil
}

func (s *stubProvider) FetchExchangeSymbols(ctx context.Context, exchange string) ([]providers.ListedSymbol, error) {
	if s.fail[exchange] {
		return nil, errors.New("exchange unavailable")
	}
	return s.symbols[exchange], nil
}

func (s *stubProvider) Search(ctx context.Context, query string) ([]providers.ListedSymbol, error) {
	return nil, domain.ErrNotSupported
}

func (s *stubProvider) Health(ctx context.Context) providers.Health {
	return providers.Health{State: providers.HealthHealthy}
}

// bulkRow mirrors the live bulk-EOD payload, keyed "CODE.EXCHANGE".
func bulkRow(code, exchange string, close float64, volume int64) providers.BulkBar {
	return providers.BulkBar{Code: code, Exchange: exchange, Close: close, Volume: volume}
}

func newBuilderFixture(t *testing.T) (*Builder, *Repository, *stubProvider) {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db.Conn(), zerolog.Nop())
	stub := &stubProvider{
		symbols: map[string][]providers.ListedSymbol{},
		bulk:    map[string]map[string]providers.BulkBar{},
		fail:    map[string]bool{},
	}
	return NewBuilder(stub, repo, zerolog.Nop()), repo, stub
}

func TestRebuild_TiersAndActivates(t *testing.T) {
	builder, repo, stub := newBuilderFixture(t)

	stub.symbols["US"] = []providers.ListedSymbol{
		{Code: "AAPL", Name: "Apple Inc", Type: "Common Stock", Exchange: "US", Currency: "USD"},
		{Code: "MSFT", Name: "Microsoft", Type: "Common Stock", Exchange: "US", Currency: "USD"},
		{Code: "TINY", Name: "Tiny Corp", Type: "Common Stock", Exchange: "US", Currency: "USD"},
	}
	stub.bulk["US"] = map[string]providers.BulkBar{
		"AAPL.US": bulkRow("AAPL", "US", 200, 1_000_000), // 200M ADV -> tier 1
		"MSFT.US": bulkRow("MSFT", "US", 400, 10_000),    // 4M ADV -> tier 2
		"TINY.US": bulkRow("TINY", "US", 2, 1_000),       // 2K ADV -> tier 4
	}

	stats, err := builder.Rebuild(context.Background(), domain.ScopeUSEU, BuilderConfig{
		Exchanges:  []string{"US"},
		Tier1Limit: 10,
		Tier2Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Listed)
	assert.Equal(t, 3, stats.Upserted)
	assert.Equal(t, 2, stats.Activated)

	aapl, err := repo.GetByID("AAPL.US")
	require.NoError(t, err)
	require.NotNil(t, aapl)
	assert.Equal(t, 1, aapl.Tier)
	assert.True(t, aapl.Active)

	msft, err := repo.GetByID("MSFT.US")
	require.NoError(t, err)
	assert.Equal(t, 2, msft.Tier)
	assert.True(t, msft.Active)

	tiny, err := repo.GetByID("TINY.US")
	require.NoError(t, err)
	assert.Equal(t, 4, tiny.Tier)
	assert.False(t, tiny.Active)
}

func TestRebuild_TierLimitsCapActivation(t *testing.T) {
	builder, repo, stub := newBuilderFixture(t)

	// Three tier-1 symbols but only two activation slots. The highest
	// priority (largest ADV) must win the slots.
	stub.symbols["US"] = []providers.ListedSymbol{
		{Code: "AAA", Exchange: "US", Type: "Common Stock"},
		{Code: "BBB", Exchange: "US", Type: "Common Stock"},
		{Code: "CCC", Exchange: "US", Type: "Common Stock"},
	}
	stub.bulk["US"] = map[string]providers.BulkBar{
		"AAA.US": bulkRow("AAA", "US", 100, 1_000_000), // 100M
		"BBB.US": bulkRow("BBB", "US", 100, 600_000),   // 60M
		"CCC.US": bulkRow("CCC", "US", 100, 80_000),    // 8M
	}

	stats, err := builder.Rebuild(context.Background(), domain.ScopeUSEU, BuilderConfig{
		Exchanges:  []string{"US"},
		Tier1Limit: 2,
		Tier2Limit: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Activated)

	ccc, err := repo.GetByID("CCC.US")
	require.NoError(t, err)
	assert.Equal(t, 1, ccc.Tier)
	assert.False(t, ccc.Active)
}

func TestRebuild_ActivationOrderedByLiquidity(t *testing.T) {
	builder, repo, stub := newBuilderFixture(t)

	// All three land in tier 1. With two slots the raw-ADV order must
	// decide, not the listing order: CCC (30M) outranks AAA (20M) even
	// though AAA is listed first.
	stub.symbols["US"] = []providers.ListedSymbol{
		{Code: "AAA", Exchange: "US", Type: "Common Stock"},
		{Code: "BBB", Exchange: "US", Type: "Common Stock"},
		{Code: "CCC", Exchange: "US", Type: "Common Stock"},
	}
	stub.bulk["US"] = map[string]providers.BulkBar{
		"AAA.US": bulkRow("AAA", "US", 100, 200_000), // 20M
		"BBB.US": bulkRow("BBB", "US", 100, 600_000), // 60M
		"CCC.US": bulkRow("CCC", "US", 100, 300_000), // 30M
	}

	stats, err := builder.Rebuild(context.Background(), domain.ScopeUSEU, BuilderConfig{
		Exchanges:  []string{"US"},
		Tier1Limit: 2,
		Tier2Limit: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Activated)

	for id, wantActive := range map[string]bool{"AAA.US": false, "BBB.US": true, "CCC.US": true} {
		a, err := repo.GetByID(id)
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, wantActive, a.Active, id)
	}
}

func TestRebuild_AfricaThresholds(t *testing.T) {
	builder, repo, stub := newBuilderFixture(t)

	stub.symbols["JSE"] = []providers.ListedSymbol{
		{Code: "NPN", Name: "Naspers", Type: "Common Stock", Exchange: "JSE", Currency: "ZAR"},
	}
	// 600K ADV: tier 4 in US_EU terms, tier 1 on the africa ladder.
	stub.bulk["JSE"] = map[string]providers.BulkBar{
		"NPN.JSE": bulkRow("NPN", "JSE", 3000, 200),
	}

	_, err := builder.Rebuild(context.Background(), domain.ScopeAfrica, BuilderConfig{
		Exchanges:  []string{"JSE"},
		Tier1Limit: 5,
		Tier2Limit: 5,
	})
	require.NoError(t, err)

	npn, err := repo.GetByID("NPN.JSE")
	require.NoError(t, err)
	require.NotNil(t, npn)
	assert.Equal(t, domain.ScopeAfrica, npn.MarketScope)
	assert.Equal(t, 1, npn.Tier)
}

func TestRebuild_FailedExchangeSkipped(t *testing.T) {
	builder, _, stub := newBuilderFixture(t)

	stub.symbols["US"] = []providers.ListedSymbol{
		{Code: "AAPL", Exchange: "US", Type: "Common Stock"},
	}
	stub.bulk["US"] = map[string]providers.BulkBar{
		"AAPL.US": bulkRow("AAPL", "US", 200, 1_000_000),
	}
	stub.fail["LSE"] = true

	stats, err := builder.Rebuild(context.Background(), domain.ScopeUSEU, BuilderConfig{
		Exchanges:  []string{"LSE", "US"},
		Tier1Limit: 10,
		Tier2Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exchanges)
	assert.Equal(t, 1, stats.Upserted)
}

func TestRebuild_DropsOldActivations(t *testing.T) {
	builder, repo, stub := newBuilderFixture(t)

	require.NoError(t, repo.Upsert(&domain.Asset{
		AssetID: "OLD.US", Symbol: "OLD", MarketScope: domain.ScopeUSEU,
		AssetType: domain.AssetEquity, Tier: 1, Active: true,
	}))

	stub.symbols["US"] = []providers.ListedSymbol{
		{Code: "NEW", Exchange: "US", Type: "Common Stock"},
	}
	stub.bulk["US"] = map[string]providers.BulkBar{
		"NEW.US": bulkRow("NEW", "US", 100, 1_000_000),
	}

	_, err := builder.Rebuild(context.Background(), domain.ScopeUSEU, BuilderConfig{
		Exchanges:  []string{"US"},
		Tier1Limit: 10,
		Tier2Limit: 10,
	})
	require.NoError(t, err)

	old, err := repo.GetByID("OLD.US")
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.False(t, old.Active, "asset missing from the rebuilt set must deactivate")
}

func TestRebuild_NoExchanges(t *testing.T) {
	builder, _, _ := newBuilderFixture(t)

	_, err := builder.Rebuild(context.Background(), domain.ScopeUSEU, BuilderConfig{})
	assert.Error(t, err)
}

func TestImportCSV(t *testing.T) {
	_, repo, _ := newBuilderFixture(t)

	path := filepath.Join(t.TempDir(), "universe.csv")
	csv := "symbol,name,type,exchange,currency,country,sector,industry\n" +
		"aapl,Apple Inc,Common Stock,US,usd,USA,Technology,Consumer Electronics\n" +
		"NPN,Naspers,Common Stock,JSE,ZAR,South Africa,Communication,Media\n" +
		",missing symbol,Common Stock,US,USD,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	n, err := repo.ImportCSV(path, domain.ScopeUSEU)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	aapl, err := repo.GetByID("AAPL.US")
	require.NoError(t, err)
	require.NotNil(t, aapl)
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.Equal(t, domain.AssetEquity, aapl.AssetType)
	assert.Equal(t, "USD", aapl.Currency)
	assert.Equal(t, 3, aapl.Tier, "CSV rows default to tier 3")
	assert.False(t, aapl.Active)
}

func TestImportCSV_TierColumn(t *testing.T) {
	_, repo, _ := newBuilderFixture(t)

	path := filepath.Join(t.TempDir(), "universe.csv")
	csv := "symbol,exchange,tier\nAAA,US,1\nBBB,US,9\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	n, err := repo.ImportCSV(path, domain.ScopeUSEU)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	aaa, err := repo.GetByID("AAA.US")
	require.NoError(t, err)
	assert.Equal(t, 1, aaa.Tier)
	assert.True(t, aaa.Active)

	bbb, err := repo.GetByID("BBB.US")
	require.NoError(t, err)
	assert.Equal(t, 3, bbb.Tier, "out-of-range tier falls back to default")
}

func TestImportCSV_MissingFile(t *testing.T) {
	_, repo, _ := newBuilderFixture(t)

	_, err := repo.ImportCSV("/nonexistent/universe.csv", domain.ScopeUSEU)
	assert.Error(t, err)
}

func TestWatchlist_AddListRemove(t *testing.T) {
	_, repo, _ := newBuilderFixture(t)
	wl := NewWatchlistRepository(repo.db, zerolog.Nop())

	require.NoError(t, repo.Upsert(&domain.Asset{
		AssetID: "AAPL.US", Symbol: "AAPL", MarketScope: domain.ScopeUSEU,
		AssetType: domain.AssetEquity, Tier: 1, Active: true,
	}))

	until := time.Now().Add(24 * time.Hour)
	require.NoError(t, wl.Add("u1", "aapl.us", &until))
	require.NoError(t, wl.Add("u1", "AAPL.US", nil)) // re-add upgrades to permanent

	entries, err := wl.ListForUser("u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "AAPL.US", entries[0].AssetID)
	assert.Nil(t, entries[0].BoostUntil)

	boosted, err := wl.BoostedAssetIDs(domain.ScopeUSEU, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL.US"}, boosted)

	require.NoError(t, wl.Remove("u1", "AAPL.US"))
	entries, err = wl.ListForUser("u1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWatchlist_ExpiredBoostExcluded(t *testing.T) {
	_, repo, _ := newBuilderFixture(t)
	wl := NewWatchlistRepository(repo.db, zerolog.Nop())

	require.NoError(t, repo.Upsert(&domain.Asset{
		AssetID: "MSFT.US", Symbol: "MSFT", MarketScope: domain.ScopeUSEU,
		AssetType: domain.AssetEquity, Tier: 1, Active: true,
	}))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, wl.Add("u1", "MSFT.US", &past))

	boosted, err := wl.BoostedAssetIDs(domain.ScopeUSEU, time.Now())
	require.NoError(t, err)
	assert.Empty(t, boosted)
}
