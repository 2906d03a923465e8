package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the next poll time after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule polls at a fixed interval.
type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that fires every d. Non-positive intervals fall
// back to one second so a misconfigured poller cannot spin.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Second
	}
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// cronSchedule wraps a parsed cron expression.
type cronSchedule struct {
	schedule cron.Schedule
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression. Five fields, an optional leading
// seconds field, and descriptors such as "@every 30s" are accepted.
func ParseCron(expr string) (Schedule, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &cronSchedule{schedule: schedule}, nil
}

// Cron is ParseCron that panics on an invalid expression.
func Cron(expr string) Schedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err.Error())
	}
	return s
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}
