// Package stats counts scheduler outcomes per job type in memory.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/jdziat/durable-retry-queue/pkg/core"
)

// Counters are cumulative outcome counts for one job type.
type Counters struct {
	JobType      string `json:"job_type"`
	Succeeded    int64  `json:"succeeded"`
	Retried      int64  `json:"retried"`
	Dead         int64  `json:"dead"`
	ReportFailed int64  `json:"report_failed"`
}

// Snapshot is the collector state at one point in time.
type Snapshot struct {
	Since    time.Time   `json:"since"`
	Polls    int64       `json:"polls"`
	Fetched  int64       `json:"fetched"`
	LastPoll time.Time   `json:"last_poll"`
	JobTypes []*Counters `json:"job_types"`
}

// Collector accumulates scheduler events. Register Collector.Handle with
// scheduler.OnEvent.
type Collector struct {
	mu       sync.Mutex
	since    time.Time
	polls    int64
	fetched  int64
	lastPoll time.Time
	counters map[string]*Counters
	// ReportFailed events carry only the job id.
	jobTypes map[int64]string
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		since:    time.Now(),
		counters: make(map[string]*Counters),
		jobTypes: make(map[int64]string),
	}
}

// Handle records one event.
func (c *Collector) Handle(e core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := e.(type) {
	case *core.JobsFetched:
		c.polls++
		c.fetched += int64(ev.Count)
		c.lastPoll = ev.Timestamp
	case *core.JobSucceeded:
		c.get(ev.Job.JobType).Succeeded++
		delete(c.jobTypes, ev.Job.ID)
	case *core.JobRetrying:
		c.get(ev.Job.JobType).Retried++
		c.jobTypes[ev.Job.ID] = ev.Job.JobType
	case *core.JobDead:
		c.get(ev.Job.JobType).Dead++
		delete(c.jobTypes, ev.Job.ID)
	case *core.ReportFailed:
		c.get(c.jobTypes[ev.JobID]).ReportFailed++
	}
}

func (c *Collector) get(jobType string) *Counters {
	if jobType == "" {
		jobType = "unknown"
	}
	ct, ok := c.counters[jobType]
	if !ok {
		ct = &Counters{JobType: jobType}
		c.counters[jobType] = ct
	}
	return ct
}

// Snapshot returns a copy of the current counts, sorted by job type.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Snapshot{
		Since:    c.since,
		Polls:    c.polls,
		Fetched:  c.fetched,
		LastPoll: c.lastPoll,
		JobTypes: make([]*Counters, 0, len(c.counters)),
	}
	for _, ct := range c.counters {
		cp := *ct
		out.JobTypes = append(out.JobTypes, &cp)
	}
	sort.Slice(out.JobTypes, func(i, j int) bool { return out.JobTypes[i].JobType < out.JobTypes[j].JobType })
	return out
}

// Reset clears every counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.since = time.Now()
	c.polls, c.fetched = 0, 0
	c.lastPoll = time.Time{}
	c.counters = make(map[string]*Counters)
	c.jobTypes = make(map[int64]string)
}
