// Package retryqueue is a durable retry queue for public highlight publish
// jobs.
//
// Jobs are stored in a SQL table (SQLite or PostgreSQL through GORM). A
// scheduler polls for due jobs, publishes them to the public highlights
// service, deletes them on success, and pushes next_retry_at out with
// exponential backoff on failure. Jobs older than the retention window are
// purged on every poll.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages.
//
// Basic usage:
//
//	store, _ := retryqueue.Open(ctx, "sqlite", "retry_queue.db")
//	id, _ := retryqueue.EnqueueHighlight(ctx, store, retryqueue.HighlightRequest{...})
//
//	pub := retryqueue.NewHTTPPublisher("http://localhost:8080")
//	s := retryqueue.NewScheduler(store, pub, retryqueue.PollEvery(5*time.Second))
//	s.Start(ctx)
package retryqueue

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/durable-retry-queue/pkg/backoff"
	"github.com/jdziat/durable-retry-queue/pkg/core"
	"github.com/jdziat/durable-retry-queue/pkg/publisher"
	"github.com/jdziat/durable-retry-queue/pkg/schedule"
	"github.com/jdziat/durable-retry-queue/pkg/scheduler"
	"github.com/jdziat/durable-retry-queue/pkg/security"
	"github.com/jdziat/durable-retry-queue/pkg/storage"
)

// Type aliases
type (
	// Job is one queued publish operation.
	Job = core.Job

	// Repository is the persistence contract for the queue.
	Repository = core.Repository

	// Leaser hands out exclusive leases on ready jobs.
	Leaser = core.Leaser

	// ClaimRequest describes a lease request.
	ClaimRequest = core.ClaimRequest

	// Publisher performs the external publish call for a job.
	Publisher = core.Publisher

	// PublisherFunc adapts a function to Publisher.
	PublisherFunc = core.PublisherFunc

	// Event is the interface for all scheduler events.
	Event = core.Event

	// JobsFetched is emitted after each poll.
	JobsFetched = core.JobsFetched

	// JobSucceeded is emitted when a job was published and deleted.
	JobSucceeded = core.JobSucceeded

	// JobRetrying is emitted when a retry was scheduled.
	JobRetrying = core.JobRetrying

	// JobDead is emitted when a job is dropped.
	JobDead = core.JobDead

	// ReportFailed is emitted when an outcome could not be stored.
	ReportFailed = core.ReportFailed

	// ValidationError is returned for rejected input.
	ValidationError = core.ValidationError

	// StorageError is returned when the database fails.
	StorageError = core.StorageError

	// NoRetryError marks a publish failure as terminal.
	NoRetryError = core.NoRetryError

	// RetryAfterError overrides the backoff for one failure.
	RetryAfterError = core.RetryAfterError

	// GormStorage is the GORM-backed Repository.
	GormStorage = storage.GormStorage

	// Scheduler runs the retry loop.
	Scheduler = scheduler.Scheduler

	// SchedulerOption configures a Scheduler.
	SchedulerOption = scheduler.Option

	// Stats counts what one poll did.
	Stats = scheduler.Stats

	// Schedule decides when the scheduler polls.
	Schedule = schedule.Schedule

	// BackoffPolicy computes retry delays.
	BackoffPolicy = backoff.Policy

	// HTTPPublisher posts jobs to the public highlights service.
	HTTPPublisher = publisher.HTTPPublisher

	// HighlightRequest is the payload of an upsert job.
	HighlightRequest = publisher.HighlightRequest

	// DeleteRequest is the payload of a delete job.
	DeleteRequest = publisher.DeleteRequest
)

// Job types
const (
	JobTypeUpsert = core.JobTypeUpsert
	JobTypeDelete = core.JobTypeDelete

	// NeverRetry is the next_retry_at of a parked job.
	NeverRetry = core.NeverRetry
)

// Security limits
const (
	MaxJobTypeLength      = security.MaxJobTypeLength
	MaxPayloadSize        = security.MaxPayloadSize
	MaxBatchSize          = security.MaxBatchSize
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Errors
var (
	ErrInvalidJobType  = core.ErrInvalidJobType
	ErrJobTypeTooLong  = core.ErrJobTypeTooLong
	ErrEmptyPayload    = core.ErrEmptyPayload
	ErrPayloadTooLarge = core.ErrPayloadTooLarge
	ErrInvalidLimit    = core.ErrInvalidLimit
	ErrInvalidAttempts = core.ErrInvalidAttempts
	ErrNotFound        = core.ErrNotFound
	ErrNotInitialized  = core.ErrNotInitialized
	ErrClosed          = core.ErrClosed
	ErrLeaseRequired   = core.ErrLeaseRequired
)

// Open connects to driver/dsn, migrates the queue table, and returns the
// repository. Close it with store.Handle().Close().
func Open(ctx context.Context, driver, dsn string, pool ...storage.PoolOption) (*GormStorage, error) {
	h, err := storage.Open(storage.OpenConfig{Driver: driver, DSN: dsn, Pool: pool})
	if err != nil {
		return nil, err
	}
	store := storage.NewGormStorage(h)
	if err := store.Migrate(ctx); err != nil {
		_ = h.Close()
		return nil, err
	}
	return store, nil
}

// NewGormStorage creates a repository over an existing GORM connection.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorageFromDB(db)
}

// EnqueueHighlight validates req and queues an upsert job.
func EnqueueHighlight(ctx context.Context, repo Repository, req HighlightRequest) (int64, error) {
	payload, err := req.EncodePayload()
	if err != nil {
		return 0, err
	}
	return repo.Enqueue(ctx, JobTypeUpsert, payload)
}

// EnqueueDelete validates req and queues a delete job.
func EnqueueDelete(ctx context.Context, repo Repository, req DeleteRequest) (int64, error) {
	payload, err := req.EncodePayload()
	if err != nil {
		return 0, err
	}
	return repo.Enqueue(ctx, JobTypeDelete, payload)
}

// NewScheduler creates a scheduler over repo that publishes through pub.
func NewScheduler(repo Repository, pub Publisher, opts ...SchedulerOption) *Scheduler {
	return scheduler.New(repo, pub, opts...)
}

// NewHTTPPublisher creates a publisher for the service at baseURL.
func NewHTTPPublisher(baseURL string, opts ...publisher.Option) *HTTPPublisher {
	return publisher.NewHTTPPublisher(baseURL, opts...)
}

// NoRetry wraps a publish error to mark it terminal.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter wraps a publish error to retry after d instead of the backoff.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// Scheduler option functions

// BatchSize sets how many jobs one poll fetches.
func BatchSize(n int) SchedulerOption {
	return scheduler.BatchSize(n)
}

// MaxAge sets the retention window; older jobs are purged.
func MaxAge(d time.Duration) SchedulerOption {
	return scheduler.MaxAge(d)
}

// Concurrency sets how many publishes run at once.
func Concurrency(n int) SchedulerOption {
	return scheduler.Concurrency(n)
}

// PollEvery polls at a fixed interval.
func PollEvery(d time.Duration) SchedulerOption {
	return scheduler.PollEvery(d)
}

// PollCron polls on a cron expression. It panics on an invalid expression.
func PollCron(expr string) SchedulerOption {
	return scheduler.PollSchedule(schedule.Cron(expr))
}

// WithBackoff sets the retry policy.
func WithBackoff(p BackoffPolicy) SchedulerOption {
	return scheduler.WithBackoff(p)
}

// MaxAttempts drops a job after n failures. Zero retries forever.
func MaxAttempts(n int64) SchedulerOption {
	return scheduler.MaxAttempts(n)
}

// DropOnNoRetry deletes permanently failed jobs instead of parking them.
func DropOnNoRetry() SchedulerOption {
	return scheduler.DropOnNoRetry()
}

// LeaseDuration enables exclusive claims held for d.
func LeaseDuration(d time.Duration) SchedulerOption {
	return scheduler.LeaseDuration(d)
}

// WorkerID names this scheduler in leases and logs.
func WorkerID(id string) SchedulerOption {
	return scheduler.WorkerID(id)
}

// OnEvent registers an event hook.
func OnEvent(fn func(Event)) SchedulerOption {
	return scheduler.OnEvent(fn)
}

// Schedule functions

// Every creates a schedule that fires at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// Backoff functions

// DefaultBackoff returns 2s doubling up to 10 minutes with 10% jitter.
func DefaultBackoff() BackoffPolicy {
	return backoff.Default()
}

// FixedBackoff always waits d.
func FixedBackoff(d time.Duration) BackoffPolicy {
	return backoff.Fixed(d)
}
