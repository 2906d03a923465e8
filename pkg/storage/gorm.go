package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/durable-retry-queue/pkg/core"
	"github.com/jdziat/durable-retry-queue/pkg/security"
)

// GormStorage implements core.Repository and core.Leaser using GORM.
type GormStorage struct {
	handle *Handle
	now    func() time.Time
}

// Option configures a GormStorage.
type Option func(*GormStorage)

// WithClock overrides the clock used to stamp created_at on enqueue.
func WithClock(now func() time.Time) Option {
	return func(s *GormStorage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewGormStorage creates a repository over the pool held by handle.
func NewGormStorage(handle *Handle, opts ...Option) *GormStorage {
	if handle == nil {
		handle = NewHandle(nil)
	}
	s := &GormStorage{handle: handle, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewGormStorageFromDB is a shortcut for NewGormStorage(NewHandle(db), opts...).
func NewGormStorageFromDB(db *gorm.DB, opts ...Option) *GormStorage {
	return NewGormStorage(NewHandle(db), opts...)
}

// Handle returns the handle the repository reads its pool from.
func (s *GormStorage) Handle() *Handle {
	return s.handle
}

// IsSQLite reports whether the current pool uses the SQLite dialect.
func (s *GormStorage) IsSQLite() bool {
	db, err := s.handle.DB()
	if err != nil {
		return false
	}
	return db.Dialector.Name() == "sqlite"
}

func (s *GormStorage) conn(ctx context.Context, op string) (*gorm.DB, error) {
	db, err := s.handle.DB()
	if err != nil {
		return nil, core.Storage(op, err)
	}
	return db.WithContext(ctx), nil
}

// Migrate creates the queue table and its indexes.
func (s *GormStorage) Migrate(ctx context.Context) error {
	db, err := s.conn(ctx, "migrate public highlight queue")
	if err != nil {
		return err
	}
	return core.Storage("migrate public highlight queue", db.AutoMigrate(&core.Job{}))
}

// Enqueue inserts a new job that is immediately eligible.
// Duplicate payloads create distinct jobs.
func (s *GormStorage) Enqueue(ctx context.Context, jobType, payloadJSON string) (int64, error) {
	if err := security.ValidateJobType(jobType); err != nil {
		return 0, err
	}
	if err := security.ValidatePayload(payloadJSON); err != nil {
		return 0, err
	}

	db, err := s.conn(ctx, "enqueue public highlight job")
	if err != nil {
		return 0, err
	}

	now := s.now().UnixMilli()
	job := &core.Job{
		JobType:     jobType,
		PayloadJSON: payloadJSON,
		Attempts:    0,
		CreatedAt:   now,
		NextRetryAt: now,
	}
	if err := db.Create(job).Error; err != nil {
		return 0, core.Storage("enqueue public highlight job", err)
	}
	return job.ID, nil
}

// SelectReady purges expired rows, then returns ready rows earliest-due first.
//
// Both statements run in one transaction: a failed select rolls the purge
// back, and rows purged here are never returned. No claim is taken, so
// concurrent callers may receive the same jobs.
func (s *GormStorage) SelectReady(ctx context.Context, limit int, now, cutoff int64) ([]*core.Job, error) {
	if err := security.ValidateLimit(limit); err != nil {
		return nil, err
	}

	db, err := s.conn(ctx, "fetch public highlight jobs")
	if err != nil {
		return nil, err
	}

	var jobList []*core.Job
	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := purge(tx, cutoff); err != nil {
			return core.Storage("purge public highlight jobs", err)
		}
		if err := readyQuery(tx, now, cutoff).Limit(limit).Find(&jobList).Error; err != nil {
			return core.Storage("fetch public highlight jobs", err)
		}
		return nil
	})
	if err != nil {
		return nil, core.Storage("fetch public highlight jobs", err)
	}
	return jobList, nil
}

// MarkSuccess deletes the job. Deleting a missing id succeeds.
func (s *GormStorage) MarkSuccess(ctx context.Context, id int64) error {
	_, err := s.MarkSuccessChecked(ctx, id)
	return err
}

// MarkSuccessChecked deletes the job and reports whether a row was removed.
func (s *GormStorage) MarkSuccessChecked(ctx context.Context, id int64) (bool, error) {
	db, err := s.conn(ctx, "delete public highlight job")
	if err != nil {
		return false, err
	}
	result := db.Where("id = ?", id).Delete(&core.Job{})
	if result.Error != nil {
		return false, core.Storage("delete public highlight job", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkFailure records a failed attempt with caller-computed retry state.
// Updating a missing id succeeds. The lease columns are not touched, so a
// late report cannot free a lease another worker took over; lease holders
// report through FailClaim.
func (s *GormStorage) MarkFailure(ctx context.Context, id int64, attempts, nextRetryAt int64, lastError *string) error {
	_, err := s.MarkFailureChecked(ctx, id, attempts, nextRetryAt, lastError)
	return err
}

// MarkFailureChecked is MarkFailure that reports whether a row was updated.
func (s *GormStorage) MarkFailureChecked(ctx context.Context, id int64, attempts, nextRetryAt int64, lastError *string) (bool, error) {
	if err := security.ValidateAttempts(attempts); err != nil {
		return false, err
	}

	db, err := s.conn(ctx, "update public highlight job")
	if err != nil {
		return false, err
	}

	result := db.Model(&core.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":      attempts,
			"next_retry_at": nextRetryAt,
			"last_error":    security.SanitizeLastError(lastError),
		})
	if result.Error != nil {
		return false, core.Storage("update public highlight job", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Purge deletes every row created before cutoff and returns how many went.
func (s *GormStorage) Purge(ctx context.Context, cutoff int64) (int64, error) {
	db, err := s.conn(ctx, "purge public highlight jobs")
	if err != nil {
		return 0, err
	}
	n, err := purge(db, cutoff)
	if err != nil {
		return 0, core.Storage("purge public highlight jobs", err)
	}
	return n, nil
}

// GetJob retrieves a job by id, or core.ErrNotFound.
func (s *GormStorage) GetJob(ctx context.Context, id int64) (*core.Job, error) {
	db, err := s.conn(ctx, "get public highlight job")
	if err != nil {
		return nil, err
	}
	var job core.Job
	err = db.First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.Storage("get public highlight job", err)
	}
	return &job, nil
}

// Count returns the number of queued jobs.
func (s *GormStorage) Count(ctx context.Context) (int64, error) {
	db, err := s.conn(ctx, "count public highlight jobs")
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.Model(&core.Job{}).Count(&n).Error; err != nil {
		return 0, core.Storage("count public highlight jobs", err)
	}
	return n, nil
}

func purge(db *gorm.DB, cutoff int64) (int64, error) {
	result := db.Where("created_at < ?", cutoff).Delete(&core.Job{})
	return result.RowsAffected, result.Error
}

// readyQuery filters and orders ready rows. next_retry_at collisions fall
// back to insertion order through id.
func readyQuery(db *gorm.DB, now, cutoff int64) *gorm.DB {
	return db.Model(&core.Job{}).
		Where("created_at >= ? AND next_retry_at <= ?", cutoff, now).
		Order("next_retry_at ASC, id ASC")
}
