package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery(t *testing.T) {
	s := Every(5 * time.Second)
	now := time.Now()
	next := s.Next(now)

	assert.Equal(t, now.Add(5*time.Second), next)
}

func TestEvery_MultipleNext(t *testing.T) {
	s := Every(time.Minute)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	next1 := s.Next(start)
	next2 := s.Next(next1)
	next3 := s.Next(next2)

	assert.Equal(t, time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC), next1)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 2, 0, 0, time.UTC), next2)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 3, 0, 0, time.UTC), next3)
}

func TestEvery_NonPositiveInterval(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, start.Add(time.Second), Every(0).Next(start))
	assert.Equal(t, start.Add(time.Second), Every(-time.Minute).Next(start))
}

func TestCron(t *testing.T) {
	s := Cron("0 9 * * *") // Every day at 9 AM
	from := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	next := s.Next(from)

	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestCron_MultipleFields(t *testing.T) {
	s := Cron("30 14 * * 1-5")                          // 2:30 PM on weekdays
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday

	next := s.Next(from)
	assert.Equal(t, 14, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestCron_Seconds(t *testing.T) {
	s := Cron("*/15 * * * * *")
	from := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 15, 0, time.UTC), s.Next(from))
}

func TestParseCron_EveryDescriptor(t *testing.T) {
	s, err := ParseCron("@every 30s")
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(30*time.Second), s.Next(from))
}

func TestParseCron_Invalid(t *testing.T) {
	s, err := ParseCron("invalid cron")
	assert.Nil(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron")
}

func TestCron_InvalidExpression_Panics(t *testing.T) {
	assert.Panics(t, func() {
		Cron("invalid cron")
	})
}

func TestScheduleInterface(t *testing.T) {
	var _ Schedule = Every(time.Minute)
	var _ Schedule = Cron("* * * * *")
}
