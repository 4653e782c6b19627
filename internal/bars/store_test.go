package bars

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgps/core/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), domain.ScopeUSEU, zerolog.New(nil).Level(zerolog.Disabled))
	require.NoError(t, err)
	return store
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func sampleSeries() domain.BarSeries {
	adj := 101.5
	return domain.BarSeries{
		{Date: day("2024-01-02"), Open: 100, High: 105, Low: 99, Close: 104, Volume: 1000},
		{Date: day("2024-01-03"), Open: 104, High: 106, Low: 103, Close: 105, Volume: 1200, AdjClose: &adj},
		{Date: day("2024-01-04"), Open: 105, High: 107, Low: 104, Close: 106, Volume: 900},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("AAPL.US", sampleSeries()))

	got, err := store.Load("AAPL.US")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, 104.0, got[0].Close)
	assert.Equal(t, int64(1200), got[1].Volume)
	require.NotNil(t, got[1].AdjClose)
	assert.Equal(t, 101.5, *got[1].AdjClose)
	assert.Nil(t, got[0].AdjClose)
	assert.True(t, got[0].Date.Before(got[1].Date))
}

func TestStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Load("NOPE.US")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_UpsertMergesAndDedupes(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("MSFT.US", sampleSeries()))

	newer := domain.BarSeries{
		{Date: day("2024-01-04"), Open: 1, High: 2, Low: 1, Close: 999, Volume: 1}, // overwrites
		{Date: day("2024-01-05"), Open: 106, High: 108, Low: 105, Close: 107, Volume: 800},
	}

	n, err := store.Upsert("MSFT.US", newer)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := store.Load("MSFT.US")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 999.0, got[2].Close)
	assert.Equal(t, 107.0, got[3].Close)
}

func TestStore_UpsertIdempotent(t *testing.T) {
	store := newTestStore(t)
	series := sampleSeries()

	n1, err := store.Upsert("IDEM.US", series)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(store.Dir(), "IDEM.US.mpk"))
	require.NoError(t, err)

	n2, err := store.Upsert("IDEM.US", series)
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(store.Dir(), "IDEM.US.mpk"))
	require.NoError(t, err)

	assert.Equal(t, n1, n2)
	assert.Equal(t, first, second)
}

func TestStore_GetLastDateAndCount(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("NVDA.US", sampleSeries()))

	last, ok, err := store.GetLastDate("NVDA.US")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day("2024-01-04"), last)

	count, err := store.GetBarCount("NVDA.US")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, ok, err = store.GetLastDate("MISSING.US")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ListSymbolsAndDelete(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("B.US", sampleSeries()))
	require.NoError(t, store.Save("A.US", sampleSeries()))

	ids, err := store.ListSymbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"A.US", "B.US"}, ids)

	require.NoError(t, store.DeleteBars("A.US"))
	require.NoError(t, store.DeleteBars("A.US")) // second delete is a no-op

	ids, err = store.ListSymbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"B.US"}, ids)
}

func TestStore_Stats(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("X.US", sampleSeries()))
	require.NoError(t, store.Save("Y.US", sampleSeries()))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Greater(t, stats.TotalBytes, int64(0))
	assert.Equal(t, domain.ScopeUSEU, stats.Scope)
}

func TestStore_ConcurrentUpsertsSameAsset(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			series := domain.BarSeries{{
				Date: day("2024-01-02").AddDate(0, 0, i), Open: 1, High: 2, Low: 1,
				Close: float64(i), Volume: int64(i),
			}}
			_, err := store.Upsert("RACE.US", series)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Load("RACE.US")
	require.NoError(t, err)
	assert.Len(t, got, 8)
}

func TestNewStore_InvalidScope(t *testing.T) {
	_, err := NewStore(t.TempDir(), domain.MarketScope("MARS"), zerolog.New(nil).Level(zerolog.Disabled))
	assert.Error(t, err)
}
