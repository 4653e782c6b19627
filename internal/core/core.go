// Package core wires the application together: one constructor builds the
// database, bar stores, provider adapters, module repositories and services,
// and hands back the operations the CLI and the scheduler call.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/bars"
	"github.com/marketgps/core/internal/config"
	"github.com/marketgps/core/internal/database"
	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/modules/adhoc"
	"github.com/marketgps/core/internal/modules/gating"
	"github.com/marketgps/core/internal/modules/rotation"
	"github.com/marketgps/core/internal/modules/runs"
	"github.com/marketgps/core/internal/modules/scoring"
	"github.com/marketgps/core/internal/modules/universe"
	"github.com/marketgps/core/internal/pipeline"
	"github.com/marketgps/core/internal/providers"
	"github.com/marketgps/core/internal/providers/eodhd"
	"github.com/marketgps/core/internal/providers/yfin"
	"github.com/marketgps/core/internal/queue"
	"github.com/marketgps/core/internal/reliability"
	"github.com/marketgps/core/internal/scheduler"
)

// Core owns every long-lived component of the application.
type Core struct {
	Cfg *config.Config
	Log zerolog.Logger

	DB     *database.DB
	Stores map[domain.MarketScope]*bars.Store

	Providers *providers.Selector

	Universe  *universe.Repository
	Watchlist *universe.WatchlistRepository
	Builder   *universe.Builder
	Gating    *gating.Repository
	Scoring   *scoring.Repository
	Rotation  *rotation.Repository
	Runs      *runs.Repository
	Queue     *queue.Repository

	Runner    *pipeline.Runner
	AdHoc     *adhoc.Service
	Worker    *queue.Worker
	Scheduler *scheduler.Scheduler

	Maintenance *reliability.Maintenance
	Backup      *reliability.SnapshotService // nil when backups are not configured
}

// New builds the full application graph.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Core, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	db, err := database.New(database.Config{Path: cfg.SQLitePath})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	stores := make(map[domain.MarketScope]*bars.Store, 2)
	for _, scope := range []domain.MarketScope{domain.ScopeUSEU, domain.ScopeAfrica} {
		store, err := bars.NewStore(cfg.BarsDir(scope.Dir()), scope, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		stores[scope] = store
	}

	primary := eodhd.NewClient(cfg.EODHDAPIKey, log, eodhd.WithBaseURL(cfg.EODHDBaseURL))
	fallback := yfin.NewClient(log)
	selector := providers.NewSelector(primary, fallback, cfg.Provider, log)

	conn := db.Conn()
	universeRepo := universe.NewRepository(conn, log)
	watchlistRepo := universe.NewWatchlistRepository(conn, log)
	gatingRepo := gating.NewRepository(conn, log)
	scoringRepo := scoring.NewRepository(conn, log)
	rotationRepo := rotation.NewRepository(conn, log)
	runsRepo := runs.NewRepository(conn, log)
	queueRepo := queue.NewRepository(conn, log)
	publisher := runs.NewPublisher(conn, runsRepo, log)

	gatingEng := gating.NewEngine(log)
	scoringEng := scoring.NewEngine(log)
	adjuster := scoring.NewQualityAdjuster(log)

	runner := pipeline.NewRunner(pipeline.Deps{
		Selector:    rotation.NewSelector(conn, log),
		Rotation:    rotationRepo,
		Providers:   selector,
		Stores:      stores,
		Universe:    universeRepo,
		GatingEng:   gatingEng,
		GatingRepo:  gatingRepo,
		ScoringEng:  scoringEng,
		Adjuster:    adjuster,
		ScoringRepo: scoringRepo,
		Runs:        runsRepo,
		Publisher:   publisher,
	}, cfg.RotationBatchSize, log)

	adhocSvc := adhoc.NewService(adhoc.Deps{
		Resolver: adhoc.NewResolver(universeRepo, cfg.DefaultExchange, log),
		Quota: adhoc.NewQuotaService(conn, adhoc.QuotaLimits{
			BillingMode: cfg.BillingMode,
			DailyFree:   cfg.AdhocDailyFree,
			DailyPaid:   cfg.AdhocDailyPaid,
		}, log),
		Selector:    selector,
		Stores:      stores,
		Universe:    universeRepo,
		GatingEng:   gatingEng,
		GatingRepo:  gatingRepo,
		ScoringEng:  scoringEng,
		Adjuster:    adjuster,
		ScoringRepo: scoringRepo,
	}, log)

	c := &Core{
		Cfg:         cfg,
		Log:         log,
		DB:          db,
		Stores:      stores,
		Providers:   selector,
		Universe:    universeRepo,
		Watchlist:   watchlistRepo,
		Builder:     universe.NewBuilder(selector.Primary(), universeRepo, log),
		Gating:      gatingRepo,
		Scoring:     scoringRepo,
		Rotation:    rotationRepo,
		Runs:        runsRepo,
		Queue:       queueRepo,
		Runner:      runner,
		AdHoc:       adhocSvc,
		Scheduler:   scheduler.New(log),
		Maintenance: reliability.NewMaintenance(db, queueRepo, log),
	}

	if cfg.BackupEnabled() {
		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Bucket:    cfg.BackupS3Bucket,
			Endpoint:  cfg.BackupS3Endpoint,
			AccessKey: cfg.BackupS3AccessKey,
			SecretKey: cfg.BackupS3SecretKey,
		}, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		barDirs := []string{
			cfg.BarsDir(domain.ScopeUSEU.Dir()),
			cfg.BarsDir(domain.ScopeAfrica.Dir()),
		}
		c.Backup = reliability.NewSnapshotService(store, db, barDirs, cfg.DataDir, log)
	}

	c.Worker = c.buildWorker()
	return c, nil
}

// Close releases the database.
func (c *Core) Close() error {
	return c.DB.Close()
}

// scoreTickersPayload is the SCORE_TICKERS queue payload.
type scoreTickersPayload struct {
	UserID  string   `json:"user_id"`
	Tickers []string `json:"tickers"`
}

// buildWorker wires the queue handlers.
func (c *Core) buildWorker() *queue.Worker {
	worker := queue.NewWorker(c.Queue, time.Duration(c.Cfg.WorkerPollSeconds)*time.Second, c.Log)

	worker.Register(domain.QueueScoreTickers, func(ctx context.Context, item *domain.QueueItem) error {
		var payload scoreTickersPayload
		if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
			return fmt.Errorf("malformed SCORE_TICKERS payload: %w", err)
		}
		if payload.UserID == "" {
			payload.UserID = item.RequestedBy
		}
		var firstErr error
		for _, ticker := range payload.Tickers {
			req := adhoc.Request{UserID: payload.UserID, Ticker: ticker}
			if _, err := c.AdHoc.ScoreTicker(ctx, req); err != nil {
				c.Log.Warn().Err(err).Str("ticker", ticker).Msg("queued ticker failed")
				if firstErr == nil {
					firstErr = fmt.Errorf("ticker %s: %w", ticker, err)
				}
			}
		}
		return firstErr
	})

	worker.Register(domain.QueueRefreshUniverse, func(ctx context.Context, item *domain.QueueItem) error {
		_, err := c.RebuildUniverse(ctx, item.MarketScope)
		return err
	})

	worker.Register(domain.QueueFullGating, func(ctx context.Context, item *domain.QueueItem) error {
		_, err := c.Runner.RunGating(ctx, item.MarketScope)
		return err
	})

	return worker
}

// RebuildUniverse relists and retiers one scope's universe.
func (c *Core) RebuildUniverse(ctx context.Context, scope domain.MarketScope) (*universe.BuildStats, error) {
	cfg := universe.BuilderConfig{
		Exchanges:  c.Cfg.USEUExchanges,
		Tier1Limit: c.Cfg.USEUTier1Limit,
		Tier2Limit: c.Cfg.USEUTier2Limit,
	}
	if scope == domain.ScopeAfrica {
		cfg = universe.BuilderConfig{
			Exchanges:  c.Cfg.AfricaExchanges,
			Tier1Limit: c.Cfg.AfricaTier1Limit,
			Tier2Limit: c.Cfg.AfricaTier2Limit,
		}
	}
	return c.Builder.Rebuild(ctx, scope, cfg)
}

// RegisterSchedules wires the recurring jobs for both scopes onto the
// scheduler. Call once before Scheduler.Start.
func (c *Core) RegisterSchedules() error {
	for _, scope := range []domain.MarketScope{domain.ScopeUSEU, domain.ScopeAfrica} {
		scope := scope

		jobs := []struct {
			spec string
			job  scheduler.Job
		}{
			{
				scheduler.EveryMinutes(c.Cfg.ScheduleRotationMinutes),
				scheduler.NewFuncJob("rotation_overlay_"+scope.Dir(), func() error {
					_, err := c.Runner.RunRotation(context.Background(), scope, domain.ModeHourlyOverlay, nil)
					return err
				}),
			},
			{
				scheduler.EveryHours(c.Cfg.ScheduleGatingHours),
				scheduler.NewFuncJob("gating_sweep_"+scope.Dir(), func() error {
					_, err := c.Runner.RunGating(context.Background(), scope)
					return err
				}),
			},
			{
				scheduler.EveryHours(c.Cfg.SchedulePoolHours),
				scheduler.NewFuncJob("daily_full_"+scope.Dir(), func() error {
					_, err := c.Runner.RunScoring(context.Background(), scope)
					return err
				}),
			},
			{
				scheduler.EveryDays(c.Cfg.ScheduleUniverseDays),
				scheduler.NewFuncJob("universe_rebuild_"+scope.Dir(), func() error {
					_, err := c.RebuildUniverse(context.Background(), scope)
					return err
				}),
			},
		}
		for _, j := range jobs {
			if err := c.Scheduler.AddJob(j.spec, j.job); err != nil {
				return err
			}
		}
	}

	// Nightly housekeeping at 02:00, backup right after when configured.
	if err := c.Scheduler.AddJob("0 2 * * *", scheduler.NewFuncJob("maintenance", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := c.Maintenance.Run(ctx); err != nil {
			return err
		}
		if c.Backup != nil {
			if _, err := c.Backup.CreateAndUpload(ctx); err != nil {
				return err
			}
			if _, err := c.Backup.RotateOldBackups(ctx, 30); err != nil {
				return err
			}
		}
		return nil
	})); err != nil {
		return err
	}
	return nil
}

// ScoreTicker scores one ticker on demand for a user.
func (c *Core) ScoreTicker(ctx context.Context, req adhoc.Request) (*adhoc.Result, error) {
	return c.AdHoc.ScoreTicker(ctx, req)
}

// SearchAssets lists universe assets with published score summaries.
func (c *Core) SearchAssets(filters universe.SearchFilters) ([]universe.SearchResult, int, error) {
	return c.Universe.Search(filters)
}

// TopScores returns the highest published scores for a scope.
func (c *Core) TopScores(scope domain.MarketScope, limit int) ([]domain.Score, error) {
	return c.Scoring.TopScores(scope, limit)
}

// EnqueueJob queues one background job for the worker.
func (c *Core) EnqueueJob(jobType domain.QueueJobType, scope domain.MarketScope, payload, requestedBy string) (string, error) {
	return c.Queue.Enqueue(jobType, scope, payload, requestedBy)
}

// GetJobRun returns one pipeline run record.
func (c *Core) GetJobRun(runID string) (*domain.JobRun, error) {
	return c.Runs.Get(runID)
}

// RecentJobs returns the newest pipeline runs.
func (c *Core) RecentJobs(limit int) ([]domain.JobRun, error) {
	return c.Runs.Recent(limit)
}

// EnqueueScoreTickers queues a batch scoring job for the worker.
func (c *Core) EnqueueScoreTickers(userID string, scope domain.MarketScope, tickers []string) (string, error) {
	raw, err := json.Marshal(scoreTickersPayload{UserID: userID, Tickers: tickers})
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue payload: %w", err)
	}
	return c.Queue.Enqueue(domain.QueueScoreTickers, scope, string(raw), userID)
}
