package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/durable-retry-queue/pkg/core"
	"github.com/jdziat/durable-retry-queue/pkg/jobctx"
)

// Stats counts what one poll did.
type Stats struct {
	Fetched   int
	Succeeded int
	Retried   int
	Dead      int
	// Abandoned jobs were interrupted by shutdown or lost their lease, and
	// were left untouched.
	Abandoned int
	// ReportErrors counts outcomes that could not be written back.
	ReportErrors int
}

func (s *Stats) add(o outcome) {
	switch o {
	case outcomeSucceeded:
		s.Succeeded++
	case outcomeRetried:
		s.Retried++
	case outcomeDead:
		s.Dead++
	case outcomeAbandoned:
		s.Abandoned++
	case outcomeReportFailed:
		s.ReportErrors++
	}
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRetried
	outcomeDead
	outcomeAbandoned
	outcomeReportFailed
)

// Scheduler drives the retry queue: it polls for ready jobs, publishes them
// with bounded concurrency, and reports each outcome back to the repository.
type Scheduler struct {
	repo      core.Repository
	leaser    core.Leaser
	publisher core.Publisher
	config    Config
	logger    *slog.Logger
	paused    atomic.Bool
}

// New creates a scheduler over repo that publishes through publisher.
// It panics if either is nil.
func New(repo core.Repository, publisher core.Publisher, opts ...Option) *Scheduler {
	if repo == nil || publisher == nil {
		panic("scheduler: repository and publisher are required")
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt.ApplyScheduler(&config)
	}

	if config.WorkerID == "" {
		config.WorkerID = uuid.New().String()
	}
	if config.StorageRetry == nil {
		defaultCfg := DefaultRetryConfig()
		config.StorageRetry = &defaultCfg
	}
	if config.FetchRetry == nil {
		fetchCfg := defaultFetchRetryConfig()
		config.FetchRetry = &fetchCfg
	}
	if config.LeaseDuration > 0 && config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = config.LeaseDuration / 3
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	leaser, _ := repo.(core.Leaser)

	return &Scheduler{
		repo:      repo,
		leaser:    leaser,
		publisher: publisher,
		config:    config,
		logger:    logger.With("worker_id", config.WorkerID),
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// Start polls until ctx is cancelled and returns ctx.Err().
// A poll runs immediately, then at every time the poll schedule yields.
// Poll errors are logged and do not stop the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("retry scheduler started",
		"batch_size", s.config.BatchSize,
		"concurrency", s.config.Concurrency,
		"leasing", s.config.LeaseDuration > 0,
	)
	defer s.logger.Info("retry scheduler stopped")

	for {
		if !s.paused.Load() {
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("retry poll failed", "error", err)
			}
		}

		now := s.config.Clock()
		wait := s.config.Poll.Next(now).Sub(now)
		timer := time.NewTimer(max(wait, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Pause stops Start from polling. Publishes already in flight finish and
// report normally. RunOnce is not affected.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		s.logger.Info("retry scheduler paused")
	}
}

// Resume undoes Pause. Polling picks up at the next scheduled tick.
func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		s.logger.Info("retry scheduler resumed")
	}
}

// IsPaused reports whether the scheduler is paused.
func (s *Scheduler) IsPaused() bool {
	return s.paused.Load()
}

// RunOnce performs a single poll: fetch ready jobs, publish them, and report
// each outcome. It returns once every fetched job has been handled. Only a
// failed fetch is returned as an error; report failures are logged, counted
// in Stats.ReportErrors, and leave the job to a later poll.
func (s *Scheduler) RunOnce(ctx context.Context) (Stats, error) {
	now := s.config.Clock().UnixMilli()
	cutoff := s.cutoff(now)

	jobs, err := s.fetchWithRetry(ctx, now, cutoff)
	if err != nil {
		return Stats{}, err
	}

	s.emit(&core.JobsFetched{Count: len(jobs), Now: now, Cutoff: cutoff, Timestamp: time.Now()})
	if len(jobs) > 0 {
		s.logger.Debug("fetched public highlight jobs", "count", len(jobs), "now", now, "cutoff", cutoff)
	}

	stats := Stats{Fetched: len(jobs)}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.config.Concurrency)
	)
	for _, job := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Not started, so nothing to report. Leases lapse on their own.
			mu.Lock()
			stats.Abandoned++
			mu.Unlock()
			s.release(ctx, job)
			continue
		}

		wg.Add(1)
		go func(job *core.Job) {
			defer wg.Done()
			defer func() { <-sem }()

			o := s.processJob(ctx, job)
			mu.Lock()
			stats.add(o)
			mu.Unlock()
		}(job)
	}
	wg.Wait()

	return stats, nil
}

// cutoff converts MaxAge into the created_at threshold. Zero MaxAge yields
// 0, which purges nothing.
func (s *Scheduler) cutoff(now int64) int64 {
	if s.config.MaxAge <= 0 {
		return 0
	}
	return max(now-s.config.MaxAge.Milliseconds(), 0)
}

func (s *Scheduler) fetchWithRetry(ctx context.Context, now, cutoff int64) ([]*core.Job, error) {
	if s.config.LeaseDuration > 0 && s.leaser == nil {
		return nil, core.ErrLeaseRequired
	}

	var jobs []*core.Job
	err := retryWithBackoff(ctx, *s.config.FetchRetry, func() error {
		var fetchErr error
		if s.config.LeaseDuration > 0 {
			jobs, fetchErr = s.leaser.ClaimReady(ctx, core.ClaimRequest{
				Limit:      s.config.BatchSize,
				Now:        now,
				Cutoff:     cutoff,
				WorkerID:   s.config.WorkerID,
				LeaseUntil: now + s.config.LeaseDuration.Milliseconds(),
			})
		} else {
			jobs, fetchErr = s.repo.SelectReady(ctx, s.config.BatchSize, now, cutoff)
		}
		return fetchErr
	})
	return jobs, err
}

func (s *Scheduler) processJob(ctx context.Context, job *core.Job) outcome {
	startTime := time.Now()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	if s.config.LeaseDuration > 0 {
		go s.runHeartbeat(heartbeatCtx, job)
	}

	err := s.publish(ctx, job)
	cancelHeartbeat()

	// Shutdown interrupted the publish: it is neither a success nor a
	// failed attempt, so the row is left for the next run.
	if err != nil && ctx.Err() != nil {
		s.logger.Info("publish interrupted by shutdown", "job_id", job.ID)
		s.release(ctx, job)
		return outcomeAbandoned
	}

	// Outcomes must be written even when shutdown starts right after the
	// publish returned.
	reportCtx := context.WithoutCancel(ctx)

	if err == nil {
		if rerr := s.reportWithRetry(reportCtx, func() error {
			return s.repo.MarkSuccess(reportCtx, job.ID)
		}); rerr != nil {
			s.reportFailed(job, "mark success", rerr)
			return outcomeReportFailed
		}
		s.logger.Debug("published public highlight", "job_id", job.ID, "job_type", job.JobType)
		s.emit(&core.JobSucceeded{Job: job, Duration: time.Since(startTime), Timestamp: time.Now()})
		return outcomeSucceeded
	}

	return s.handleError(reportCtx, job, err)
}

func (s *Scheduler) handleError(ctx context.Context, job *core.Job, err error) outcome {
	attempts := job.Attempts + 1
	msg := err.Error()

	var noRetry *core.NoRetryError
	permanent := errors.As(err, &noRetry)
	exhausted := s.config.MaxAttempts > 0 && attempts >= s.config.MaxAttempts

	if exhausted || (permanent && s.config.DropOnNoRetry) {
		if rerr := s.reportWithRetry(ctx, func() error {
			return s.repo.MarkSuccess(ctx, job.ID)
		}); rerr != nil {
			s.reportFailed(job, "drop dead job", rerr)
			return outcomeReportFailed
		}
		s.logger.Warn("dropped public highlight job",
			"job_id", job.ID, "job_type", job.JobType, "attempts", attempts, "error", err)
		s.emit(&core.JobDead{Job: job, Attempts: attempts, Error: err, Dropped: true, Timestamp: time.Now()})
		return outcomeDead
	}

	if permanent {
		// Parked rows keep attempts and last_error until the age purge.
		if o, ok := s.recordFailure(ctx, job, attempts, core.NeverRetry, &msg); !ok {
			return o
		}
		s.logger.Warn("parked public highlight job after permanent failure",
			"job_id", job.ID, "job_type", job.JobType, "attempts", attempts, "error", err)
		s.emit(&core.JobDead{Job: job, Attempts: attempts, Error: err, Timestamp: time.Now()})
		return outcomeDead
	}

	now := s.config.Clock().UnixMilli()
	next := s.config.Backoff(attempts, now)

	var retryAfter *core.RetryAfterError
	if errors.As(err, &retryAfter) {
		next = now + retryAfter.Delay.Milliseconds()
	}
	// next_retry_at never moves before created_at.
	next = max(next, job.CreatedAt)

	if o, ok := s.recordFailure(ctx, job, attempts, next, &msg); !ok {
		return o
	}

	s.logger.Info("public highlight publish failed, retry scheduled",
		"job_id", job.ID, "attempts", attempts, "next_retry_at", next, "error", err)
	s.emit(&core.JobRetrying{Job: job, Attempts: attempts, Error: err, NextRetryAt: next, Timestamp: time.Now()})
	return outcomeRetried
}

// recordFailure writes a failed attempt back. Under leasing the write only
// lands while this worker still owns the row; a lost lease means another
// worker has taken the job and this attempt is abandoned.
func (s *Scheduler) recordFailure(ctx context.Context, job *core.Job, attempts, next int64, msg *string) (outcome, bool) {
	leased := s.config.LeaseDuration > 0 && s.leaser != nil
	err := s.reportWithRetry(ctx, func() error {
		if leased {
			return s.leaser.FailClaim(ctx, job.ID, s.config.WorkerID, attempts, next, msg)
		}
		return s.repo.MarkFailure(ctx, job.ID, attempts, next, msg)
	})
	switch {
	case err == nil:
		return 0, true
	case leased && errors.Is(err, core.ErrNotFound):
		s.logger.Warn("lost public highlight job lease before reporting failure",
			"job_id", job.ID, "worker_id", s.config.WorkerID)
		return outcomeAbandoned, false
	default:
		s.reportFailed(job, "mark failure", err)
		return outcomeReportFailed, false
	}
}

func (s *Scheduler) publish(ctx context.Context, job *core.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.publisher.Publish(jobctx.WithJob(ctx, job, s.config.WorkerID), job)
}

// reportWithRetry writes an outcome with retry on transient storage failures.
func (s *Scheduler) reportWithRetry(ctx context.Context, op func() error) error {
	return retryWithBackoff(ctx, *s.config.StorageRetry, op)
}

func (s *Scheduler) reportFailed(job *core.Job, op string, err error) {
	s.logger.Error("failed to report public highlight job after retries",
		"job_id", job.ID, "op", op, "error", err)
	s.emit(&core.ReportFailed{JobID: job.ID, Op: op, Error: err, Timestamp: time.Now()})
}

// release hands a claimed job back so another scheduler can pick it up
// without waiting for the lease to expire.
func (s *Scheduler) release(ctx context.Context, job *core.Job) {
	if s.config.LeaseDuration <= 0 || s.leaser == nil {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.leaser.ReleaseClaim(releaseCtx, job.ID, s.config.WorkerID); err != nil {
		s.logger.Warn("failed to release job lease", "job_id", job.ID, "error", err)
	}
}

// runHeartbeat keeps the lease alive while a publish is in flight.
func (s *Scheduler) runHeartbeat(ctx context.Context, job *core.Job) {
	if s.config.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			until := s.config.Clock().UnixMilli() + s.config.LeaseDuration.Milliseconds()
			err := retryWithBackoff(ctx, *s.config.StorageRetry, func() error {
				return s.leaser.ExtendClaim(ctx, job.ID, s.config.WorkerID, until)
			})
			switch {
			case errors.Is(err, core.ErrNotFound):
				s.logger.Warn("lease lost during publish", "job_id", job.ID)
				return
			case err != nil:
				if ctx.Err() == nil {
					s.logger.Warn("heartbeat failed after retries", "job_id", job.ID, "error", err)
				}
			default:
				s.logger.Debug("lease extended", "job_id", job.ID, "claimed_until", until)
			}
		}
	}
}

func (s *Scheduler) emit(e core.Event) {
	for _, hook := range s.config.Hooks {
		s.callHook(hook, e)
	}
}

func (s *Scheduler) callHook(hook func(core.Event), e core.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event hook panicked", "panic", r)
		}
	}()
	hook(e)
}
