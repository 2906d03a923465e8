package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/durable-retry-queue/pkg/core"
	"github.com/jdziat/durable-retry-queue/pkg/security"
)

const leaseFree = "(claimed_until IS NULL OR claimed_until <= ?)"

// ClaimReady purges expired rows, then leases up to req.Limit ready rows to
// req.WorkerID until req.LeaseUntil.
//
// Each row is taken with a conditional update on the lease columns, so two
// callers racing for the same row cannot both win. On PostgreSQL the
// candidate select also uses FOR UPDATE SKIP LOCKED.
func (s *GormStorage) ClaimReady(ctx context.Context, req core.ClaimRequest) ([]*core.Job, error) {
	if err := security.ValidateClaim(req); err != nil {
		return nil, err
	}

	db, err := s.conn(ctx, "claim public highlight jobs")
	if err != nil {
		return nil, err
	}
	sqlite := db.Dialector.Name() == "sqlite"

	var claimed []*core.Job
	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := purge(tx, req.Cutoff); err != nil {
			return core.Storage("purge public highlight jobs", err)
		}

		q := readyQuery(tx, req.Now, req.Cutoff).
			Where(leaseFree, req.Now).
			Limit(req.Limit)
		if !sqlite {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []*core.Job
		if err := q.Find(&candidates).Error; err != nil {
			return core.Storage("claim public highlight jobs", err)
		}

		for _, job := range candidates {
			result := tx.Model(&core.Job{}).
				Where("id = ?", job.ID).
				Where(leaseFree, req.Now).
				Updates(map[string]any{
					"claimed_by":    req.WorkerID,
					"claimed_until": req.LeaseUntil,
				})
			if result.Error != nil {
				return core.Storage("claim public highlight jobs", result.Error)
			}
			if result.RowsAffected == 0 {
				continue
			}
			owner, until := req.WorkerID, req.LeaseUntil
			job.ClaimedBy = &owner
			job.ClaimedUntil = &until
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, core.Storage("claim public highlight jobs", err)
	}
	return claimed, nil
}

// ReleaseClaim clears a lease held by workerID so the job is eligible again
// right away.
func (s *GormStorage) ReleaseClaim(ctx context.Context, id int64, workerID string) error {
	db, err := s.conn(ctx, "release public highlight job")
	if err != nil {
		return err
	}
	result := db.Model(&core.Job{}).
		Where("id = ? AND claimed_by = ?", id, workerID).
		Updates(map[string]any{
			"claimed_by":    nil,
			"claimed_until": nil,
		})
	return core.Storage("release public highlight job", result.Error)
}

// ExtendClaim moves the lease end for a job held by workerID.
// It returns core.ErrNotFound when the job is gone or owned by another worker.
func (s *GormStorage) ExtendClaim(ctx context.Context, id int64, workerID string, leaseUntil int64) error {
	db, err := s.conn(ctx, "extend public highlight job lease")
	if err != nil {
		return err
	}
	result := db.Model(&core.Job{}).
		Where("id = ? AND claimed_by = ?", id, workerID).
		Update("claimed_until", leaseUntil)
	if result.Error != nil {
		return core.Storage("extend public highlight job lease", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// FailClaim records a failed attempt and frees the lease, only while workerID
// still holds it. A lapsed lease nobody else claimed still counts as held.
// It returns core.ErrNotFound when the job is gone or owned by another worker.
func (s *GormStorage) FailClaim(ctx context.Context, id int64, workerID string, attempts, nextRetryAt int64, lastError *string) error {
	if err := security.ValidateAttempts(attempts); err != nil {
		return err
	}

	db, err := s.conn(ctx, "update public highlight job")
	if err != nil {
		return err
	}
	result := db.Model(&core.Job{}).
		Where("id = ? AND claimed_by = ?", id, workerID).
		Updates(map[string]any{
			"attempts":      attempts,
			"next_retry_at": nextRetryAt,
			"last_error":    security.SanitizeLastError(lastError),
			"claimed_by":    nil,
			"claimed_until": nil,
		})
	if result.Error != nil {
		return core.Storage("update public highlight job", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}
