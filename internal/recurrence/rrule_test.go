package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
	"github.com/tazhate/healthreminders/internal/domain"
)

func TestRRule_Format(t *testing.T) {
	r := MustRule(domain.RecurrenceSpec{
		Frequency:  domain.FrequencyWeekly,
		Interval:   2,
		ByWeekday:  []time.Weekday{time.Friday, time.Monday},
		AnchorDate: "2024-01-01",
		TimeOfDay:  "08:00",
		Timezone:   "UTC",
		EndDate:    "2024-06-30",
	})
	assert.Equal(t, "FREQ=WEEKLY;INTERVAL=2;UNTIL=20240630T235959Z;BYDAY=MO,FR", r.RRule())

	m := MustRule(domain.RecurrenceSpec{
		Frequency:  domain.FrequencyMonthly,
		Interval:   1,
		ByMonthDay: 31,
		AnchorDate: "2024-01-01",
		TimeOfDay:  "00:00",
		Timezone:   "UTC",
	})
	assert.Equal(t, "FREQ=MONTHLY;INTERVAL=1;BYMONTHDAY=31", m.RRule())
}

func TestRRule_RoundTrip(t *testing.T) {
	specs := []domain.RecurrenceSpec{
		daily("09:00", "America/New_York", "2024-01-01"),
		{
			Frequency: domain.FrequencyWeekly, Interval: 1,
			ByWeekday:  []time.Weekday{time.Sunday, time.Wednesday},
			AnchorDate: "2024-01-01", TimeOfDay: "21:15", Timezone: "Europe/Berlin", EndDate: "2025-12-31",
		},
		{
			Frequency: domain.FrequencyMonthly, Interval: 3, ByMonthDay: 15,
			AnchorDate: "2024-02-10", TimeOfDay: "07:00", Timezone: "Asia/Tokyo",
		},
	}

	for _, spec := range specs {
		r := MustRule(spec)
		back, err := ParseRRule(r.RRule(), spec.TimeOfDay, spec.Timezone, spec.AnchorDate)
		require.NoError(t, err, r.RRule())
		assert.Equal(t, r.Spec(), back.Spec())
	}
}

func TestParseRRule_Rejects(t *testing.T) {
	for _, value := range []string{
		"FREQ=YEARLY",
		"FREQ=DAILY;COUNT=3",
		"FREQ=MONTHLY;BYDAY=1MO",
		"FREQ=MONTHLY;BYMONTHDAY=1,15",
		"FREQ=MONTHLY;BYMONTHDAY=-1",
		"INTERVAL=2",
		"garbage",
	} {
		_, err := ParseRRule(value, "09:00", "UTC", "2024-01-01")
		var ve *domain.ValidationError
		assert.True(t, errors.As(err, &ve), "%q: %v", value, err)
	}
}

func TestParseRRule_AcceptsPrefixAndDefaultsInterval(t *testing.T) {
	r, err := ParseRRule("RRULE:FREQ=WEEKLY;BYDAY=TU,TH", "18:30", "UTC", "2024-01-01")
	require.NoError(t, err)

	spec := r.Spec()
	assert.Equal(t, 1, spec.Interval)
	assert.Equal(t, []time.Weekday{time.Tuesday, time.Thursday}, spec.ByWeekday)
}

// Occurrences in UTC must agree with rrule-go's RFC 5545 expansion.
func TestRule_AgreesWithRRuleGo(t *testing.T) {
	specs := []domain.RecurrenceSpec{
		{Frequency: domain.FrequencyDaily, Interval: 3, AnchorDate: "2024-01-01", TimeOfDay: "06:00", Timezone: "UTC"},
		{
			Frequency: domain.FrequencyWeekly, Interval: 2,
			ByWeekday:  []time.Weekday{time.Monday, time.Thursday},
			AnchorDate: "2024-01-03", TimeOfDay: "08:00", Timezone: "UTC",
		},
		{Frequency: domain.FrequencyMonthly, Interval: 1, ByMonthDay: 31, AnchorDate: "2024-01-01", TimeOfDay: "12:00", Timezone: "UTC"},
		{Frequency: domain.FrequencyMonthly, Interval: 5, ByMonthDay: 30, AnchorDate: "2024-01-01", TimeOfDay: "12:00", Timezone: "UTC"},
	}
	from := utc("2024-01-01T00:00:00Z")
	to := utc("2026-01-01T00:00:00Z")

	for _, spec := range specs {
		r := MustRule(spec)

		opt := r.option()
		opt.Dtstart = utc(spec.AnchorDate + "T" + spec.TimeOfDay + ":00Z")
		ref, err := rrule.NewRRule(*opt)
		require.NoError(t, err)

		want := ref.Between(from, to, true)
		got := r.Between(from, to, 1000)
		assert.Equal(t, want, got, r.String())
	}
}
