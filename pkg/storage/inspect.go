package storage

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"

	"github.com/jdziat/durable-retry-queue/pkg/core"
)

const defaultSearchLimit = 50

// QueueStats returns per job type counts as of now.
func (s *GormStorage) QueueStats(ctx context.Context, now int64) ([]*core.TypeStats, error) {
	db, err := s.conn(ctx, "collect public highlight queue stats")
	if err != nil {
		return nil, err
	}

	var rows []*core.TypeStats
	err = db.Model(&core.Job{}).
		Select(`job_type,
			count(*) AS total,
			sum(CASE WHEN next_retry_at <= ? THEN 1 ELSE 0 END) AS ready,
			sum(CASE WHEN attempts > 0 THEN 1 ELSE 0 END) AS retrying,
			sum(CASE WHEN claimed_until > ? THEN 1 ELSE 0 END) AS claimed,
			min(created_at) AS oldest`, now, now).
		Group("job_type").
		Scan(&rows).Error
	if err != nil {
		return nil, core.Storage("collect public highlight queue stats", err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].JobType < rows[j].JobType })
	return rows, nil
}

// SearchJobs returns jobs matching the filter, newest first, plus the total
// number of matches before pagination.
func (s *GormStorage) SearchJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, int64, error) {
	db, err := s.conn(ctx, "search public highlight jobs")
	if err != nil {
		return nil, 0, err
	}

	q := db.Model(&core.Job{})
	if filter.JobType != "" {
		q = q.Where("job_type = ?", filter.JobType)
	}
	if filter.FailedOnly {
		q = q.Where("attempts > 0")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, core.Storage("search public highlight jobs", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	var jobs []*core.Job
	err = q.Order("created_at DESC, id DESC").
		Offset(max(filter.Offset, 0)).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, core.Storage("search public highlight jobs", err)
	}
	return jobs, total, nil
}

// RetryNow makes a waiting job eligible at now without touching its attempt
// count or last error. It drops any lease on the row.
func (s *GormStorage) RetryNow(ctx context.Context, id int64, now int64) (*core.Job, error) {
	db, err := s.conn(ctx, "reschedule public highlight job")
	if err != nil {
		return nil, err
	}

	var job core.Job
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			return err
		}
		// next_retry_at never moves before created_at.
		next := max(now, job.CreatedAt)
		err := tx.Model(&job).Updates(map[string]any{
			"next_retry_at": next,
			"claimed_by":    nil,
			"claimed_until": nil,
		}).Error
		if err != nil {
			return err
		}
		job.NextRetryAt = next
		job.ClaimedBy = nil
		job.ClaimedUntil = nil
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.Storage("reschedule public highlight job", err)
	}
	return &job, nil
}
