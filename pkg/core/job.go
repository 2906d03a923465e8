// Package core provides the domain models and interfaces for the retry queue.
package core

import "math"

// TableName is the table backing the retry queue.
const TableName = "public_highlight_retry_queue"

// Job types understood by the bundled publisher.
const (
	JobTypeUpsert = "upsert"
	JobTypeDelete = "delete"
)

// NeverRetry parks a job: next_retry_at never comes due, so the row stays
// for inspection until the age purge removes it.
const NeverRetry int64 = math.MaxInt64

// Job represents one persisted unit of retryable work.
//
// Timestamps are epoch milliseconds. A job is ready when NextRetryAt <= now.
// Rows are never moved between states; they are deleted on success or purge.
type Job struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobType     string  `gorm:"column:job_type;size:255;not null" json:"job_type"`
	PayloadJSON string  `gorm:"column:payload_json;type:text;not null" json:"payload_json"`
	Attempts    int64   `gorm:"column:attempts;not null" json:"attempts"`
	CreatedAt   int64   `gorm:"column:created_at;not null;index;autoCreateTime:false" json:"created_at"`
	NextRetryAt int64   `gorm:"column:next_retry_at;not null;index" json:"next_retry_at"`
	LastError   *string `gorm:"column:last_error;type:text" json:"last_error,omitempty"`

	// Lease columns, only written by ClaimReady and cleared on report.
	ClaimedBy    *string `gorm:"column:claimed_by;size:255" json:"claimed_by,omitempty"`
	ClaimedUntil *int64  `gorm:"column:claimed_until;index" json:"claimed_until,omitempty"`
}

// TableName implements gorm's tabler interface.
func (Job) TableName() string {
	return TableName
}

// Ready reports whether the job is eligible for dispatch at now and not older than cutoff.
func (j *Job) Ready(now, cutoff int64) bool {
	return j.CreatedAt >= cutoff && j.NextRetryAt <= now
}

// Claimed reports whether the job holds a lease that is still live at now.
func (j *Job) Claimed(now int64) bool {
	return j.ClaimedUntil != nil && *j.ClaimedUntil > now
}
