package caldav

import "time"

// Calendar represents a calendar collection on the server.
type Calendar struct {
	ID          string // Calendar path/URL
	DisplayName string
	URL         string
}

// Event represents a calendar event
type Event struct {
	UID         string
	Summary     string
	Description string
	StartTime   time.Time
	Location    *time.Location // nil or UTC writes a UTC start
	Duration    time.Duration
	RRule       string // Recurrence rule (e.g., "FREQ=WEEKLY;BYDAY=MO")
	Stamp       time.Time
}
