// Package pipeline orchestrates the scheduled scoring runs: pick the
// rotation batch, refresh history, gate, score, and atomically publish the
// staged results for one scope.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/marketgps/core/internal/bars"
	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/modules/gating"
	"github.com/marketgps/core/internal/modules/rotation"
	"github.com/marketgps/core/internal/modules/runs"
	"github.com/marketgps/core/internal/modules/scoring"
	"github.com/marketgps/core/internal/modules/universe"
	"github.com/marketgps/core/internal/providers"
)

const (
	// backfillYears bounds the first fetch for an asset with no local bars.
	backfillYears = 10

	// fetchConcurrency caps in-flight provider calls per batch.
	fetchConcurrency = 4

	top50Size = 50

	// A held publish lock is waited out briefly before a finished run is
	// discarded.
	publishRetries    = 5
	publishRetryDelay = 200 * time.Millisecond
)

// Publisher is the slice of runs.Publisher the pipeline drives.
type Publisher interface {
	Publish(runID string, scope domain.MarketScope, publishScores, publishGating bool) (*runs.PublishResult, error)
	Rollback(runID string) error
}

// Deps wires the runner's collaborators.
type Deps struct {
	Selector    *rotation.Selector
	Rotation    *rotation.Repository
	Providers   *providers.Selector
	Stores      map[domain.MarketScope]*bars.Store
	Universe    *universe.Repository
	GatingEng   *gating.Engine
	GatingRepo  *gating.Repository
	ScoringEng  *scoring.Engine
	Adjuster    *scoring.QualityAdjuster
	ScoringRepo *scoring.Repository
	Runs        *runs.Repository
	Publisher   Publisher
}

// Runner executes pipeline runs. Every run stages its results under a fresh
// run_id and either publishes the whole staging set or rolls it back; the
// published tables never hold a half-written run.
type Runner struct {
	deps      Deps
	batchSize int
	log       zerolog.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(deps Deps, batchSize int, log zerolog.Logger) *Runner {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Runner{
		deps:      deps,
		batchSize: batchSize,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// assetOutcome is one asset's result within a batch.
type assetOutcome struct {
	assetID string
	err     error
}

// RunRotation executes one rotation run: select the batch, refresh bars,
// gate and score each asset into staging, then publish scores and gating
// together. assetIDs is only honored in on-demand mode.
func (r *Runner) RunRotation(ctx context.Context, scope domain.MarketScope, mode domain.JobMode, assetIDs []string) (*domain.JobResult, error) {
	start := time.Now()

	batch, err := r.deps.Selector.Select(scope, mode, r.batchSize, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to select rotation batch: %w", err)
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("rotation batch for %s is empty", scope)
	}

	runID, err := r.deps.Runs.Create(scope, domain.JobRotation, mode, "pipeline")
	if err != nil {
		return nil, err
	}
	log := r.log.With().Str("run_id", runID).Str("scope", string(scope)).Logger()
	log.Info().Int("batch", len(batch)).Str("mode", string(mode)).Msg("rotation run started")

	processed, success, failed := 0, 0, 0
	for offset := 0; offset < len(batch); offset += fetchConcurrency {
		if ctx.Err() != nil {
			_ = r.deps.Publisher.Rollback(runID)
			return nil, fmt.Errorf("rotation run %s cancelled: %w", runID, ctx.Err())
		}

		end := offset + fetchConcurrency
		if end > len(batch) {
			end = len(batch)
		}
		for _, outcome := range r.processSlice(ctx, runID, scope, mode, batch[offset:end]) {
			processed++
			if outcome.err != nil {
				failed++
				log.Warn().Err(outcome.err).Str("asset_id", outcome.assetID).Msg("asset failed")
			} else {
				success++
			}
		}
	}

	if success == 0 {
		_ = r.deps.Publisher.Rollback(runID)
		_ = r.deps.Runs.UpdateStatus(runID, domain.RunFailed, processed, success, failed,
			"every asset in the batch failed")
		return nil, fmt.Errorf("rotation run %s produced no results", runID)
	}

	if err := r.deps.Runs.UpdateStatus(runID, domain.RunStaging, processed, success, failed, ""); err != nil {
		return nil, err
	}
	if _, err := r.publishWithRetry(ctx, runID, scope, true, true); err != nil {
		_ = r.deps.Publisher.Rollback(runID)
		return nil, err
	}
	_ = r.deps.Runs.UpdateStatus(runID, domain.RunSuccess, processed, success, failed, "")

	if err := r.refreshTop50(scope); err != nil {
		log.Warn().Err(err).Msg("failed to refresh top-50 set")
	}

	log.Info().
		Int("processed", processed).
		Int("success", success).
		Int("failed", failed).
		Dur("took", time.Since(start)).
		Msg("rotation run published")

	return &domain.JobResult{
		RunID:     runID,
		Status:    domain.RunSuccess,
		Processed: processed,
		Success:   success,
		Failed:    failed,
		DurationS: time.Since(start).Seconds(),
	}, nil
}

// processSlice runs a handful of assets concurrently and returns their
// outcomes. Individual failures never abort the slice.
func (r *Runner) processSlice(ctx context.Context, runID string, scope domain.MarketScope, mode domain.JobMode, assetIDs []string) []assetOutcome {
	var (
		mu       sync.Mutex
		outcomes []assetOutcome
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for _, assetID := range assetIDs {
		assetID := assetID
		g.Go(func() error {
			err := r.processAsset(gctx, runID, scope, mode, assetID)
			mu.Lock()
			outcomes = append(outcomes, assetOutcome{assetID: assetID, err: err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// processAsset refreshes one asset's history and stages its gating verdict
// and score under the run.
func (r *Runner) processAsset(ctx context.Context, runID string, scope domain.MarketScope, mode domain.JobMode, assetID string) error {
	now := time.Now().UTC()

	asset, err := r.deps.Universe.GetByID(assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("%w: %s not in universe", domain.ErrAssetNotFound, assetID)
	}
	if asset.MarketScope != scope {
		return fmt.Errorf("asset %s belongs to %s, not %s", assetID, asset.MarketScope, scope)
	}

	store, ok := r.deps.Stores[scope]
	if !ok {
		return fmt.Errorf("no bar store for scope %s", scope)
	}

	series, fetchErr := r.refreshBars(ctx, store, assetID, now)
	r.markRefreshed(assetID, now, fetchErr)
	if fetchErr != nil && len(series) == 0 {
		return fetchErr
	}

	gate := r.deps.GatingEng.Evaluate(asset, series, now)
	if err := r.deps.GatingRepo.InsertStaging(runID, &gate); err != nil {
		return err
	}
	if !gate.Eligible {
		// The verdict still publishes so listings can explain the absence.
		return nil
	}

	var fundamentals *domain.Fundamentals
	if asset.AssetType == domain.AssetEquity && mode != domain.ModeHourlyOverlay {
		if f, ferr := r.deps.Providers.Default().FetchFundamentals(ctx, assetID); ferr == nil {
			fundamentals = f
		}
	}

	score := r.deps.ScoringEng.Score(asset, series, fundamentals, &gate, now)
	r.deps.Adjuster.Adjust(score, &gate)
	return r.deps.ScoringRepo.InsertStaging(runID, score)
}

// refreshBars tops up the stored series with a delta fetch from the
// configured default source. On provider failure the stored series is
// returned alongside the error so the caller can gate on stale data.
func (r *Runner) refreshBars(ctx context.Context, store *bars.Store, assetID string, now time.Time) (domain.BarSeries, error) {
	existing, err := store.Load(assetID)
	if err != nil {
		return nil, err
	}

	from := now.AddDate(-backfillYears, 0, 0)
	if last := existing.LastDate(); !last.IsZero() {
		if domain.Day(last).Equal(domain.Day(now)) {
			return existing, nil
		}
		from = last.AddDate(0, 0, 1)
	}

	fetched, err := r.deps.Providers.Default().FetchEOD(ctx, assetID, from, now)
	if err != nil {
		return existing, err
	}
	if len(fetched) == 0 {
		return existing, nil
	}
	if _, err := store.Upsert(assetID, fetched); err != nil {
		return existing, err
	}
	return store.Load(assetID)
}

// publishWithRetry waits out another run's publish lock on the scope. Only
// a still-held lock after every retry fails the run.
func (r *Runner) publishWithRetry(ctx context.Context, runID string, scope domain.MarketScope, publishScores, publishGating bool) (*runs.PublishResult, error) {
	var lastErr error
	for attempt := 0; attempt <= publishRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(publishRetryDelay):
			}
		}
		result, err := r.deps.Publisher.Publish(runID, scope, publishScores, publishGating)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrPublishConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Runner) markRefreshed(assetID string, now time.Time, fetchErr error) {
	msg := ""
	if fetchErr != nil {
		msg = fetchErr.Error()
	}
	if err := r.deps.Rotation.MarkRefreshed(assetID, now, msg); err != nil {
		r.log.Warn().Err(err).Str("asset_id", assetID).Msg("failed to mark rotation state")
	}
}

// refreshTop50 re-derives the always-fresh set from the just-published
// scores.
func (r *Runner) refreshTop50(scope domain.MarketScope) error {
	ids, err := r.deps.ScoringRepo.TopAssetIDs(scope, top50Size)
	if err != nil {
		return err
	}
	return r.deps.Rotation.SetInTop50(ids)
}

// RunGating re-evaluates data quality for every active asset in the scope
// from stored history only, then publishes the gating verdicts. No provider
// calls, no score changes.
func (r *Runner) RunGating(ctx context.Context, scope domain.MarketScope) (*domain.JobResult, error) {
	start := time.Now()

	assets, err := r.deps.Universe.GetActive(scope)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("no active assets in scope %s", scope)
	}
	store, ok := r.deps.Stores[scope]
	if !ok {
		return nil, fmt.Errorf("no bar store for scope %s", scope)
	}

	runID, err := r.deps.Runs.Create(scope, domain.JobGating, domain.ModeDailyFull, "pipeline")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	processed, success, failed := 0, 0, 0
	for i := range assets {
		if ctx.Err() != nil {
			_ = r.deps.Publisher.Rollback(runID)
			return nil, fmt.Errorf("gating run %s cancelled: %w", runID, ctx.Err())
		}
		processed++

		series, err := store.Load(assets[i].AssetID)
		if err != nil {
			failed++
			continue
		}
		gate := r.deps.GatingEng.Evaluate(&assets[i], series, now)
		if err := r.deps.GatingRepo.InsertStaging(runID, &gate); err != nil {
			failed++
			continue
		}
		success++
	}

	if success == 0 {
		_ = r.deps.Publisher.Rollback(runID)
		return nil, fmt.Errorf("gating run %s produced no results", runID)
	}

	if err := r.deps.Runs.UpdateStatus(runID, domain.RunStaging, processed, success, failed, ""); err != nil {
		return nil, err
	}
	if _, err := r.publishWithRetry(ctx, runID, scope, false, true); err != nil {
		_ = r.deps.Publisher.Rollback(runID)
		return nil, err
	}
	_ = r.deps.Runs.UpdateStatus(runID, domain.RunSuccess, processed, success, failed, "")

	r.log.Info().
		Str("run_id", runID).
		Str("scope", string(scope)).
		Int("processed", processed).
		Msg("gating run published")

	return &domain.JobResult{
		RunID:     runID,
		Status:    domain.RunSuccess,
		Processed: processed,
		Success:   success,
		Failed:    failed,
		DurationS: time.Since(start).Seconds(),
	}, nil
}

// RunScoring executes the daily full pass for a scope.
func (r *Runner) RunScoring(ctx context.Context, scope domain.MarketScope) (*domain.JobResult, error) {
	return r.RunRotation(ctx, scope, domain.ModeDailyFull, nil)
}
