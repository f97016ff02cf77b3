package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetween_Centuries(t *testing.T) {
	from := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2400, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 146097, daysBetween(from, to))
	assert.Equal(t, -146097, daysBetween(to, from))
	assert.Equal(t, 0, daysBetween(from, from))
}

func TestNextAfter_CenturiesAfterAnchor(t *testing.T) {
	spec := daily("09:00", "UTC", "2024-01-01")
	spec.Interval = 7
	r := MustRule(spec)

	got := r.NextAfter(utc("2400-01-01T12:00:00Z"))
	require.NotNil(t, got)
	assert.Equal(t, utc("2400-01-03T09:00:00Z"), *got)
}

func TestLocalAt_NoTransition(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	got := localAt(2024, time.July, 1, 9, 30, loc)
	assert.Equal(t, time.Date(2024, 7, 1, 4, 0, 0, 0, time.UTC), got.UTC())
}
