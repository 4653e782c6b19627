// Package queue implements the persistent work queue the background worker
// drains: ad-hoc batch scoring, universe refreshes and full gating passes
// survive restarts because every item lives in job_queue.
package queue

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/database"
	"github.com/marketgps/core/internal/domain"
)

const queueColumns = `id, job_type, market_scope, payload, status, requested_by,
created_at, started_at, finished_at, error`

// Repository persists queue items. Claims are serialized by an in-process
// mutex on top of the claim transaction, so two worker ticks can never grab
// the same item.
type Repository struct {
	db      *sql.DB
	log     zerolog.Logger
	claimMu sync.Mutex
}

// NewRepository creates a queue repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "job_queue").Logger(),
	}
}

// Enqueue adds a pending item and returns its id.
func (r *Repository) Enqueue(jobType domain.QueueJobType, scope domain.MarketScope, payload, requestedBy string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(`
		INSERT INTO job_queue (id, job_type, market_scope, payload, status, requested_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(jobType), string(scope), payload,
		string(domain.QueuePending), requestedBy,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}
	r.log.Debug().Str("id", id).Str("job_type", string(jobType)).Msg("job enqueued")
	return id, nil
}

// ClaimNext atomically flips the oldest pending item to PROCESSING and
// returns it; nil when the queue is empty.
func (r *Repository) ClaimNext() (*domain.QueueItem, error) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()

	var item *domain.QueueItem
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		rows, err := tx.Query(
			"SELECT "+queueColumns+" FROM job_queue WHERE status = ? ORDER BY created_at LIMIT 1",
			string(domain.QueuePending))
		if err != nil {
			return fmt.Errorf("failed to query pending jobs: %w", err)
		}
		defer rows.Close()

		if !rows.Next() {
			return nil
		}
		claimed, err := scanItem(rows)
		if err != nil {
			return fmt.Errorf("failed to scan queue item: %w", err)
		}
		rows.Close()

		now := time.Now().UTC()
		if _, err := tx.Exec(
			"UPDATE job_queue SET status = ?, started_at = ? WHERE id = ?",
			string(domain.QueueProcessing), now.Format(time.RFC3339), claimed.ID,
		); err != nil {
			return fmt.Errorf("failed to claim queue item %s: %w", claimed.ID, err)
		}
		claimed.Status = domain.QueueProcessing
		claimed.StartedAt = &now
		item = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// MarkDone finishes an item successfully.
func (r *Repository) MarkDone(id string) error {
	return r.finish(id, domain.QueueCompleted, "")
}

// MarkFailed finishes an item with an error message.
func (r *Repository) MarkFailed(id, errMsg string) error {
	return r.finish(id, domain.QueueFailed, errMsg)
}

func (r *Repository) finish(id string, status domain.QueueStatus, errMsg string) error {
	_, err := r.db.Exec(
		"UPDATE job_queue SET status = ?, finished_at = ?, error = ? WHERE id = ?",
		string(status), time.Now().UTC().Format(time.RFC3339), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish queue item %s: %w", id, err)
	}
	return nil
}

// Get returns one item, or nil when the id is unknown.
func (r *Repository) Get(id string) (*domain.QueueItem, error) {
	rows, err := r.db.Query("SELECT "+queueColumns+" FROM job_queue WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue item: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	return scanItem(rows)
}

// Depth returns the item count per status.
func (r *Repository) Depth() (map[domain.QueueStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM job_queue GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count queue depth: %w", err)
	}
	defer rows.Close()

	depth := make(map[domain.QueueStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue depth: %w", err)
		}
		depth[domain.QueueStatus(status)] = n
	}
	return depth, rows.Err()
}

// PruneFinished deletes completed and failed items older than the cutoff.
func (r *Repository) PruneFinished(olderThan time.Time) (int, error) {
	res, err := r.db.Exec(`
		DELETE FROM job_queue
		WHERE status IN (?, ?) AND finished_at < ?`,
		string(domain.QueueCompleted), string(domain.QueueFailed),
		olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to prune queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanItem(rows *sql.Rows) (*domain.QueueItem, error) {
	var (
		item                  domain.QueueItem
		jobType, scope        string
		status                string
		createdAt             string
		startedAt, finishedAt sql.NullString
	)
	err := rows.Scan(&item.ID, &jobType, &scope, &item.Payload, &status,
		&item.RequestedBy, &createdAt, &startedAt, &finishedAt, &item.Error)
	if err != nil {
		return nil, err
	}
	item.JobType = domain.QueueJobType(jobType)
	item.MarketScope = domain.MarketScope(scope)
	item.Status = domain.QueueStatus(status)
	item.CreatedAt = parseTime(createdAt)
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		item.StartedAt = &t
	}
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		item.FinishedAt = &t
	}
	return &item, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
