// Package jobctx gives publishers access to the job being published.
package jobctx

import (
	"context"

	"github.com/jdziat/durable-retry-queue/pkg/core"
)

type jobContextKey struct{}

// JobContext holds the current job and the worker publishing it.
type JobContext struct {
	Job      *core.Job
	WorkerID string
}

// WithJob returns a context carrying job and workerID.
func WithJob(ctx context.Context, job *core.Job, workerID string) context.Context {
	return context.WithValue(ctx, jobContextKey{}, &JobContext{Job: job, WorkerID: workerID})
}

func get(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(jobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// JobFromContext returns the current Job, or nil outside a publish call.
func JobFromContext(ctx context.Context) *core.Job {
	jc := get(ctx)
	if jc == nil {
		return nil
	}
	return jc.Job
}

// JobIDFromContext returns the current job id, or 0 outside a publish call.
func JobIDFromContext(ctx context.Context) int64 {
	if job := JobFromContext(ctx); job != nil {
		return job.ID
	}
	return 0
}

// WorkerIDFromContext returns the publishing worker's id, or "".
func WorkerIDFromContext(ctx context.Context) string {
	jc := get(ctx)
	if jc == nil {
		return ""
	}
	return jc.WorkerID
}

// AttemptFromContext returns the 1-based number of the attempt in progress,
// or 0 outside a publish call.
func AttemptFromContext(ctx context.Context) int64 {
	if job := JobFromContext(ctx); job != nil {
		return job.Attempts + 1
	}
	return 0
}
