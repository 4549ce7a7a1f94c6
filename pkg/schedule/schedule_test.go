package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvery(t *testing.T) {
	s := Every(15 * time.Minute)
	from := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(15*time.Minute), s.Next(from))
}

func TestDaily(t *testing.T) {
	s := Daily(3, 30)

	before := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 3, 30, 0, 0, time.UTC), s.Next(before))

	after := time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 2, 3, 30, 0, 0, time.UTC), s.Next(after))
}

func TestCron(t *testing.T) {
	s := Cron("0 * * * *") // top of every hour
	from := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), s.Next(from))
}

func TestCronPanicsOnBadExpression(t *testing.T) {
	assert.Panics(t, func() { Cron("not a cron expr") })
}
