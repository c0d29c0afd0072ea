// Package jobs holds the periodic work the bot runs: rate ingestion,
// automated trading, monitoring, and history archival. Each job exposes a
// RunOnce that a scheduler (or an operator, manually) can invoke.
package jobs

import (
	"context"
	"time"
)

// Result is the outcome of one job pass.
type Result struct {
	Success         bool
	Message         string
	Data            map[string]any
	Err             error
	ExecutionTimeMs int64
}

// Job is one periodic task.
type Job interface {
	Name() string
	Interval() time.Duration
	RunOnce(ctx context.Context) Result
}

// timed wraps a run body, stamping the execution time on its result.
func timed(fn func() Result) Result {
	start := time.Now()
	res := fn()
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	return res
}

func failure(err error, message string) Result {
	return Result{Success: false, Message: message, Err: err}
}

func success(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: data}
}
