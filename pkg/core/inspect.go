package core

// TypeStats summarises queued jobs of one job type.
type TypeStats struct {
	JobType  string `json:"job_type"`
	Total    int64  `json:"total"`
	Ready    int64  `json:"ready"`
	Retrying int64  `json:"retrying"`
	Claimed  int64  `json:"claimed"`
	Oldest   int64  `json:"oldest_created_at"`
}

// JobFilter narrows a job search.
type JobFilter struct {
	JobType string
	// FailedOnly keeps jobs with at least one failed attempt.
	FailedOnly bool
	Limit      int
	Offset     int
}
