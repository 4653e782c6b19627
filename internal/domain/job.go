package domain

import "time"

// JobType names the pipeline a run executes.
type JobType string

const (
	JobRotation JobType = "rotation"
	JobGating   JobType = "gating"
	JobScoring  JobType = "scoring"
)

// JobMode selects how the rotation set is built.
type JobMode string

const (
	ModeDailyFull     JobMode = "daily_full"
	ModeHourlyOverlay JobMode = "hourly_overlay"
	ModeOnDemand      JobMode = "on_demand"
)

// JobStatus is the run lifecycle. Staging rows exist only while the run is
// running or staging.
type JobStatus string

const (
	RunRunning   JobStatus = "running"
	RunStaging   JobStatus = "staging"
	RunSuccess   JobStatus = "success"
	RunFailed    JobStatus = "failed"
	RunCancelled JobStatus = "cancelled"
)

// JobRun is one pipeline execution.
type JobRun struct {
	RunID           string      `json:"run_id"`
	MarketScope     MarketScope `json:"market_scope"`
	JobType         JobType     `json:"job_type"`
	Mode            JobMode     `json:"mode"`
	CreatedBy       string      `json:"created_by"`
	Status          JobStatus   `json:"status"`
	AssetsProcessed int         `json:"assets_processed"`
	AssetsSuccess   int         `json:"assets_success"`
	AssetsFailed    int         `json:"assets_failed"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// JobResult is the caller-facing summary of a finished run.
type JobResult struct {
	RunID     string    `json:"run_id"`
	Status    JobStatus `json:"status"`
	Processed int       `json:"processed"`
	Success   int       `json:"success"`
	Failed    int       `json:"failed"`
	DurationS float64   `json:"duration_s"`
	Error     string    `json:"error,omitempty"`
}

// Queue item states.
type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueProcessing QueueStatus = "PROCESSING"
	QueueCompleted  QueueStatus = "COMPLETED"
	QueueFailed     QueueStatus = "FAILED"
)

// Queue job kinds dispatched by the worker tick.
type QueueJobType string

const (
	QueueScoreTickers    QueueJobType = "SCORE_TICKERS"
	QueueRefreshUniverse QueueJobType = "REFRESH_UNIVERSE"
	QueueFullGating      QueueJobType = "FULL_GATING"
)

// QueueItem is one pending unit of work in the persistent queue.
type QueueItem struct {
	ID          string       `json:"id"`
	JobType     QueueJobType `json:"job_type"`
	MarketScope MarketScope  `json:"market_scope"`
	Payload     string       `json:"payload"` // JSON, handler-specific
	Status      QueueStatus  `json:"status"`
	RequestedBy string       `json:"requested_by"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}
