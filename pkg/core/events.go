package core

import "time"

// Event is the interface for all scheduler events.
type Event interface {
	eventMarker()
}

// JobsFetched is emitted after each poll, including empty ones.
type JobsFetched struct {
	Count     int
	Now       int64
	Cutoff    int64
	Timestamp time.Time
}

func (*JobsFetched) eventMarker() {}

// JobSucceeded is emitted when a job was published and deleted.
type JobSucceeded struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobSucceeded) eventMarker() {}

// JobRetrying is emitted when a failure was recorded and a retry scheduled.
type JobRetrying struct {
	Job         *Job
	Attempts    int64
	Error       error
	NextRetryAt int64
	Timestamp   time.Time
}

func (*JobRetrying) eventMarker() {}

// JobDead is emitted after a terminal publish failure. Dropped reports
// whether the row was deleted; otherwise it was parked with NeverRetry and
// keeps its attempts and last_error until purged.
type JobDead struct {
	Job       *Job
	Attempts  int64
	Error     error
	Dropped   bool
	Timestamp time.Time
}

func (*JobDead) eventMarker() {}

// ReportFailed is emitted when an outcome could not be written back.
// The job stays in storage and is picked up again by a later poll.
type ReportFailed struct {
	JobID     int64
	Op        string
	Error     error
	Timestamp time.Time
}

func (*ReportFailed) eventMarker() {}
