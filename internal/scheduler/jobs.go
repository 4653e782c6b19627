package scheduler

import "fmt"

// FuncJob adapts a closure to the Job interface.
type FuncJob struct {
	name string
	fn   func() error
}

// NewFuncJob wraps a closure as a named job.
func NewFuncJob(name string, fn func() error) *FuncJob {
	return &FuncJob{name: name, fn: fn}
}

// Name returns the job name.
func (j *FuncJob) Name() string { return j.name }

// Run executes the wrapped closure.
func (j *FuncJob) Run() error { return j.fn() }

// EveryMinutes returns the cron spec for a fixed minute cadence.
func EveryMinutes(n int) string {
	if n <= 0 {
		n = 1
	}
	return fmt.Sprintf("@every %dm", n)
}

// EveryHours returns the cron spec for a fixed hour cadence.
func EveryHours(n int) string {
	if n <= 0 {
		n = 1
	}
	return fmt.Sprintf("@every %dh", n)
}

// EveryDays returns the cron spec for a fixed day cadence.
func EveryDays(n int) string {
	if n <= 0 {
		n = 1
	}
	return fmt.Sprintf("@every %dh", n*24)
}
