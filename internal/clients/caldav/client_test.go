package caldav

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCalendar_Encodes(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC)
	event := &Event{
		UID:         "schedule-7@healthreminders",
		Summary:     "Time to track Headache",
		Description: "How is your Headache today?",
		StartTime:   start,
		Location:    berlin,
		Duration:    15 * time.Minute,
		RRule:       "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,FR",
		Stamp:       start,
	}

	text, err := SerializeCalendar(EventCalendar(event))
	require.NoError(t, err)

	assert.Contains(t, text, "BEGIN:VEVENT")
	assert.Contains(t, text, "UID:schedule-7@healthreminders")
	assert.Contains(t, text, "RRULE:FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,FR")
	assert.Contains(t, text, "TZID=Europe/Berlin")
	assert.Contains(t, text, "20240101T200000")
	assert.Contains(t, text, "PRODID:"+productID)

	cal, err := ical.NewDecoder(strings.NewReader(text)).Decode()
	require.NoError(t, err)
	got, err := ParseEvent(cal)
	require.NoError(t, err)
	assert.Equal(t, event.UID, got.UID)
	assert.Equal(t, event.Summary, got.Summary)
	assert.Equal(t, event.RRule, got.RRule)
	assert.True(t, got.StartTime.Equal(start), "got %s", got.StartTime)
	assert.True(t, got.EndTime.Equal(start.Add(15*time.Minute)))
}

func TestEventCalendar_UTCStart(t *testing.T) {
	start := time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)
	text, err := SerializeCalendar(EventCalendar(&Event{UID: "u1", Summary: "s", StartTime: start, Stamp: start}))
	require.NoError(t, err)

	assert.Contains(t, text, "DTSTART:20240305T083000Z")
	assert.NotContains(t, text, "RRULE")
	assert.NotContains(t, text, "DTEND")
}

func TestEventsCalendar_HoldsEveryEvent(t *testing.T) {
	start := time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)
	text, err := SerializeCalendar(EventsCalendar([]*Event{
		{UID: "a", Summary: "A", StartTime: start, Stamp: start},
		{UID: "b", Summary: "B", StartTime: start, Stamp: start},
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(text, "BEGIN:VEVENT"))
	assert.Equal(t, 1, strings.Count(text, "BEGIN:VCALENDAR"))
}

func TestParseEvent_NoEvent(t *testing.T) {
	_, err := ParseEvent(ical.NewCalendar())
	assert.Error(t, err)
}

func TestClient_RequiresCalendarPath(t *testing.T) {
	c := NewClient("", "user", "pass")
	assert.True(t, c.IsConfigured())
	assert.Equal(t, DefaultiCloudURL, c.baseURL)

	err := c.PutEvent(t.Context(), &Event{UID: "x"})
	assert.EqualError(t, err, "calendar path not specified")

	c.SetCalendarID("/calendars/me/health")
	assert.Equal(t, "/calendars/me/health/x.ics", c.eventPath("x"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(errors.New("404 Not Found")))
	assert.False(t, isNotFound(errors.New("500 Internal Server Error")))
}
