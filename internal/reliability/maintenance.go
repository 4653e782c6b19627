package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/database"
	"github.com/marketgps/core/internal/queue"
)

const (
	queueRetention   = 7 * 24 * time.Hour
	jobRunsRetention = 30 * 24 * time.Hour
)

// Maintenance runs the nightly housekeeping pass: WAL checkpoint, integrity
// check, and pruning of finished queue items and old run records.
type Maintenance struct {
	db    *database.DB
	queue *queue.Repository
	log   zerolog.Logger
}

// NewMaintenance creates the maintenance service.
func NewMaintenance(db *database.DB, queueRepo *queue.Repository, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		db:    db,
		queue: queueRepo,
		log:   log.With().Str("service", "maintenance").Logger(),
	}
}

// Run executes one maintenance pass. A failed integrity check is fatal;
// everything else degrades to a warning.
func (m *Maintenance) Run(ctx context.Context) error {
	m.log.Info().Msg("Starting maintenance")
	start := time.Now()

	if err := m.db.WALCheckpoint("TRUNCATE"); err != nil {
		m.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := m.db.QuickCheck(ctx); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}

	now := time.Now().UTC()
	if pruned, err := m.queue.PruneFinished(now.Add(-queueRetention)); err != nil {
		m.log.Warn().Err(err).Msg("Queue pruning failed")
	} else if pruned > 0 {
		m.log.Info().Int("pruned", pruned).Msg("Pruned finished queue items")
	}

	if err := m.pruneJobRuns(now.Add(-jobRunsRetention)); err != nil {
		m.log.Warn().Err(err).Msg("Run history pruning failed")
	}

	m.log.Info().Dur("took", time.Since(start)).Msg("Maintenance completed")
	return nil
}

// pruneJobRuns deletes terminal run records older than the cutoff. Runs
// still in flight are never touched.
func (m *Maintenance) pruneJobRuns(olderThan time.Time) error {
	res, err := m.db.Exec(`
		DELETE FROM job_runs
		WHERE status IN ('success', 'failed', 'cancelled') AND started_at < ?`,
		olderThan.Format(time.RFC3339))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		m.log.Info().Int64("pruned", n).Msg("Pruned old run records")
	}
	return nil
}

// Compact reclaims disk space after large deletions. Heavier than the
// nightly pass, intended for the weekly schedule or manual invocation.
func (m *Maintenance) Compact() error {
	m.log.Info().Msg("Compacting database")
	if err := m.db.Vacuum(); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}
