package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
)

// HandlerFunc executes one claimed queue item.
type HandlerFunc func(ctx context.Context, item *domain.QueueItem) error

// Worker polls the queue and dispatches claimed items to the registered
// handler for their job type. Handler panics are contained so one bad job
// cannot take the worker down.
type Worker struct {
	repo       *Repository
	handlers   map[domain.QueueJobType]HandlerFunc
	poll       time.Duration
	maxPerTick int
	log        zerolog.Logger
}

// NewWorker creates a queue worker.
func NewWorker(repo *Repository, poll time.Duration, log zerolog.Logger) *Worker {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Worker{
		repo:       repo,
		handlers:   make(map[domain.QueueJobType]HandlerFunc),
		poll:       poll,
		maxPerTick: 10,
		log:        log.With().Str("component", "queue_worker").Logger(),
	}
}

// Register binds a handler to a job type.
func (w *Worker) Register(jobType domain.QueueJobType, fn HandlerFunc) {
	w.handlers[jobType] = fn
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Dur("poll", w.poll).Msg("queue worker started")
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		if _, err := w.Tick(ctx); err != nil {
			w.log.Error().Err(err).Msg("worker tick failed")
		}
		select {
		case <-ctx.Done():
			w.log.Info().Msg("queue worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick claims and executes up to maxPerTick items. Returns how many items
// were processed.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	processed := 0
	for processed < w.maxPerTick {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		item, err := w.repo.ClaimNext()
		if err != nil {
			return processed, err
		}
		if item == nil {
			return processed, nil
		}
		processed++

		w.execute(ctx, item)
	}
	return processed, nil
}

func (w *Worker) execute(ctx context.Context, item *domain.QueueItem) {
	log := w.log.With().Str("id", item.ID).Str("job_type", string(item.JobType)).Logger()

	handler, ok := w.handlers[item.JobType]
	if !ok {
		log.Error().Msg("no handler registered for job type")
		_ = w.repo.MarkFailed(item.ID, fmt.Sprintf("no handler for job type %s", item.JobType))
		return
	}

	start := time.Now()
	err := w.run(ctx, handler, item)
	if err != nil {
		log.Warn().Err(err).Dur("took", time.Since(start)).Msg("queue job failed")
		_ = w.repo.MarkFailed(item.ID, err.Error())
		return
	}

	log.Info().Dur("took", time.Since(start)).Msg("queue job completed")
	_ = w.repo.MarkDone(item.ID)
}

// run isolates handler panics into errors.
func (w *Worker) run(ctx context.Context, handler HandlerFunc, item *domain.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, item)
}
