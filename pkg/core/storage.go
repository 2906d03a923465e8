package core

import "context"

// Repository is the persistence contract for the retry queue.
//
// Every method blocks on storage I/O. Storage failures are returned as
// *StorageError; the repository never retries its own calls.
type Repository interface {
	// Migrate creates the queue table.
	Migrate(ctx context.Context) error

	// Enqueue inserts a job with attempts=0 and created_at=next_retry_at=now.
	Enqueue(ctx context.Context, jobType, payloadJSON string) (int64, error)

	// SelectReady purges rows with created_at < cutoff, then returns up to
	// limit rows with created_at >= cutoff and next_retry_at <= now, ordered
	// by next_retry_at then id.
	SelectReady(ctx context.Context, limit int, now, cutoff int64) ([]*Job, error)

	// MarkSuccess deletes the job. A missing row is not an error.
	MarkSuccess(ctx context.Context, id int64) error

	// MarkFailure stores caller-computed retry state. A missing row is not an
	// error. Lease columns are left alone; lease holders use Leaser.FailClaim.
	MarkFailure(ctx context.Context, id int64, attempts, nextRetryAt int64, lastError *string) error
}

// ClaimRequest selects ready jobs and leases them to WorkerID until LeaseUntil.
type ClaimRequest struct {
	Limit      int
	Now        int64
	Cutoff     int64
	WorkerID   string
	LeaseUntil int64
}

// Leaser is implemented by repositories that can hand out exclusive leases,
// giving at-most-one dispatch per lease window.
type Leaser interface {
	// ClaimReady behaves like SelectReady but skips rows with a live lease and
	// returns only rows it managed to claim.
	ClaimReady(ctx context.Context, req ClaimRequest) ([]*Job, error)

	// ReleaseClaim drops a lease held by workerID. A missing row or a lease
	// held by someone else is not an error.
	ReleaseClaim(ctx context.Context, id int64, workerID string) error

	// ExtendClaim moves the lease end for a job still held by workerID, or
	// returns ErrNotFound.
	ExtendClaim(ctx context.Context, id int64, workerID string, leaseUntil int64) error

	// FailClaim records a failed attempt like MarkFailure and frees the lease,
	// but only while workerID still holds it. It returns ErrNotFound when the
	// row is gone or was claimed by another worker.
	FailClaim(ctx context.Context, id int64, workerID string, attempts, nextRetryAt int64, lastError *string) error
}

// Publisher performs the external publish call for a job.
//
// Returning an error wrapped with NoRetry marks the failure as terminal;
// RetryAfter overrides the scheduler's backoff for that attempt.
type Publisher interface {
	Publish(ctx context.Context, job *Job) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, job *Job) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, job *Job) error {
	return f(ctx, job)
}
