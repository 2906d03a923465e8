// Package scheduler runs the retry loop for queued public highlight jobs.
//
// Each poll fetches ready jobs from a core.Repository, publishes them through
// a core.Publisher with bounded concurrency, and writes the outcome back:
// success deletes the job, failure records the attempt and the next retry
// time from the configured backoff. A failed write-back leaves the job
// eligible, so delivery is at-least-once.
//
// With LeaseDuration set, jobs are claimed through core.Leaser instead and a
// heartbeat keeps the lease alive while a publish is in flight, so several
// schedulers can share one database.
package scheduler
