package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgps/core/internal/database"
	"github.com/marketgps/core/internal/domain"
)

func newQueueFixture(t *testing.T) (*Repository, *Worker) {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db.Conn(), zerolog.Nop())
	return repo, NewWorker(repo, time.Second, zerolog.Nop())
}

func TestEnqueueClaimComplete(t *testing.T) {
	repo, _ := newQueueFixture(t)

	id, err := repo.Enqueue(domain.QueueScoreTickers, domain.ScopeUSEU,
		`{"user_id":"u1","tickers":["AAPL"]}`, "api")
	require.NoError(t, err)

	item, err := repo.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, domain.QueueProcessing, item.Status)
	require.NotNil(t, item.StartedAt)

	// A second claim finds nothing: the item is no longer pending.
	second, err := repo.ClaimNext()
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, repo.MarkDone(id))
	stored, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCompleted, stored.Status)
	require.NotNil(t, stored.FinishedAt)
}

func TestClaimOrderIsFIFO(t *testing.T) {
	repo, _ := newQueueFixture(t)

	first, err := repo.Enqueue(domain.QueueFullGating, domain.ScopeUSEU, "", "cli")
	require.NoError(t, err)
	// created_at has second resolution; force distinct ordering.
	_, err = repo.db.Exec("UPDATE job_queue SET created_at = ? WHERE id = ?",
		time.Now().Add(-time.Minute).UTC().Format(time.RFC3339), first)
	require.NoError(t, err)

	_, err = repo.Enqueue(domain.QueueRefreshUniverse, domain.ScopeUSEU, "", "cli")
	require.NoError(t, err)

	item, err := repo.ClaimNext()
	require.NoError(t, err)
	assert.Equal(t, first, item.ID)
}

func TestConcurrentClaimsNeverShareAnItem(t *testing.T) {
	repo, _ := newQueueFixture(t)

	const items = 20
	for i := 0; i < items; i++ {
		_, err := repo.Enqueue(domain.QueueScoreTickers, domain.ScopeUSEU, "", "api")
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := repo.ClaimNext()
				require.NoError(t, err)
				if item == nil {
					return
				}
				mu.Lock()
				claimed[item.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, items)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "item %s claimed more than once", id)
	}
}

func TestWorkerTickDispatches(t *testing.T) {
	repo, worker := newQueueFixture(t)

	var handled []string
	worker.Register(domain.QueueScoreTickers, func(ctx context.Context, item *domain.QueueItem) error {
		handled = append(handled, item.Payload)
		return nil
	})
	worker.Register(domain.QueueFullGating, func(ctx context.Context, item *domain.QueueItem) error {
		return errors.New("gating blew up")
	})

	okID, err := repo.Enqueue(domain.QueueScoreTickers, domain.ScopeUSEU, `{"tickers":["AAPL"]}`, "api")
	require.NoError(t, err)
	badID, err := repo.Enqueue(domain.QueueFullGating, domain.ScopeUSEU, "", "cron")
	require.NoError(t, err)
	orphanID, err := repo.Enqueue(domain.QueueRefreshUniverse, domain.ScopeUSEU, "", "cron")
	require.NoError(t, err)

	n, err := worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{`{"tickers":["AAPL"]}`}, handled)

	ok, err := repo.Get(okID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCompleted, ok.Status)

	bad, err := repo.Get(badID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueFailed, bad.Status)
	assert.Contains(t, bad.Error, "gating blew up")

	orphan, err := repo.Get(orphanID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueFailed, orphan.Status)
	assert.Contains(t, orphan.Error, "no handler")
}

func TestWorkerContainsHandlerPanic(t *testing.T) {
	repo, worker := newQueueFixture(t)
	worker.Register(domain.QueueScoreTickers, func(ctx context.Context, item *domain.QueueItem) error {
		panic("boom")
	})

	id, err := repo.Enqueue(domain.QueueScoreTickers, domain.ScopeUSEU, "", "api")
	require.NoError(t, err)

	_, err = worker.Tick(context.Background())
	require.NoError(t, err)

	item, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueFailed, item.Status)
	assert.Contains(t, item.Error, "panic")
}

func TestDepthAndPrune(t *testing.T) {
	repo, _ := newQueueFixture(t)

	_, err := repo.Enqueue(domain.QueueScoreTickers, domain.ScopeUSEU, "", "api")
	require.NoError(t, err)
	_, err = repo.Enqueue(domain.QueueScoreTickers, domain.ScopeUSEU, "", "api")
	require.NoError(t, err)

	item, err := repo.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, repo.MarkDone(item.ID))

	depth, err := repo.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth[domain.QueuePending])
	assert.Equal(t, 1, depth[domain.QueueCompleted])

	pruned, err := repo.PruneFinished(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	depth, err = repo.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth[domain.QueueCompleted])
}
