package scheduler

import (
	"log/slog"
	"time"

	"github.com/jdziat/durable-retry-queue/pkg/backoff"
	"github.com/jdziat/durable-retry-queue/pkg/core"
	"github.com/jdziat/durable-retry-queue/pkg/schedule"
	"github.com/jdziat/durable-retry-queue/pkg/security"
)

// Option configures a Scheduler.
type Option interface {
	ApplyScheduler(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyScheduler(c *Config) { f(c) }

// Config holds scheduler configuration.
type Config struct {
	BatchSize         int
	MaxAge            time.Duration
	Concurrency       int
	Poll              schedule.Schedule
	Backoff           backoff.Func
	MaxAttempts       int64
	DropOnNoRetry     bool
	WorkerID          string
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *slog.Logger
	StorageRetry      *RetryConfig
	FetchRetry        *RetryConfig
	Hooks             []func(core.Event)
}

// DefaultConfig returns the configuration New starts from.
func DefaultConfig() Config {
	return Config{
		BatchSize:   20,
		MaxAge:      7 * 24 * time.Hour,
		Concurrency: 4,
		Poll:        schedule.Every(5 * time.Second),
		Backoff:     backoff.Default().Func(),
		Clock:       time.Now,
	}
}

// BatchSize sets how many jobs one poll fetches.
// Values are clamped to [1, MaxBatchSize].
func BatchSize(n int) Option {
	return optionFunc(func(c *Config) {
		c.BatchSize = security.ClampBatchSize(n)
	})
}

// MaxAge sets the retention window. Jobs created more than d ago are purged
// on the next poll. Zero keeps jobs forever.
func MaxAge(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.MaxAge = max(d, 0)
	})
}

// Concurrency sets how many publishes run at once.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) Option {
	return optionFunc(func(c *Config) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// PollEvery polls at a fixed interval.
func PollEvery(d time.Duration) Option {
	return PollSchedule(schedule.Every(d))
}

// PollSchedule sets when polls happen.
func PollSchedule(s schedule.Schedule) Option {
	return optionFunc(func(c *Config) {
		if s != nil {
			c.Poll = s
		}
	})
}

// WithBackoff sets how next_retry_at is computed after a failed publish.
func WithBackoff(p backoff.Policy) Option {
	return WithBackoffFunc(p.Func())
}

// WithBackoffFunc is WithBackoff for a custom calculator.
func WithBackoffFunc(f backoff.Func) Option {
	return optionFunc(func(c *Config) {
		if f != nil {
			c.Backoff = f
		}
	})
}

// MaxAttempts drops a job once it has failed n times. Zero retries forever.
func MaxAttempts(n int64) Option {
	return optionFunc(func(c *Config) {
		c.MaxAttempts = max(n, 0)
	})
}

// DropOnNoRetry deletes a job on a permanent publish failure. By default
// the job is parked with core.NeverRetry and kept until the age purge.
func DropOnNoRetry() Option {
	return optionFunc(func(c *Config) {
		c.DropOnNoRetry = true
	})
}

// WorkerID names this scheduler in lease columns. Defaults to a random UUID.
func WorkerID(id string) Option {
	return optionFunc(func(c *Config) {
		c.WorkerID = id
	})
}

// LeaseDuration switches fetching to exclusive claims held for d.
// The repository must implement core.Leaser. Zero disables leasing.
func LeaseDuration(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.LeaseDuration = max(d, 0)
	})
}

// HeartbeatInterval sets how often a held lease is extended while a publish
// is in flight. Defaults to a third of the lease duration.
func HeartbeatInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.HeartbeatInterval = d
	})
}

// WithClock overrides the time source used for now, cutoff and backoff.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *Config) {
		if now != nil {
			c.Clock = now
		}
	})
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		c.Logger = l
	})
}

// OnEvent registers a hook called synchronously for every event.
func OnEvent(fn func(core.Event)) Option {
	return optionFunc(func(c *Config) {
		if fn != nil {
			c.Hooks = append(c.Hooks, fn)
		}
	})
}

// WithStorageRetry configures retry behavior for success and failure reports.
func WithStorageRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry = &cfg
	})
}

// WithFetchRetry configures retry behavior for the fetch at the start of a poll.
func WithFetchRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.FetchRetry = &cfg
	})
}

// WithRetryAttempts sets the report attempt limit, keeping other defaults.
func WithRetryAttempts(attempts int) Option {
	return optionFunc(func(c *Config) {
		cfg := DefaultRetryConfig()
		cfg.MaxAttempts = attempts
		c.StorageRetry = &cfg
	})
}

// DisableRetry makes every storage call a single attempt.
func DisableRetry() Option {
	return optionFunc(func(c *Config) {
		noRetry := RetryConfig{MaxAttempts: 1}
		c.StorageRetry = &noRetry
		c.FetchRetry = &noRetry
	})
}
