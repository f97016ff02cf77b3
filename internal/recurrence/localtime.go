package recurrence

import "time"

// localAt resolves a wall-clock time in loc to an instant.
//
// Ambiguous times (clocks turned back) resolve to the earlier instant.
// Nonexistent times (clocks turned forward) are shifted forward by the
// length of the gap, so 02:30 on a spring-forward night becomes 03:30.
//
// time.Date leaves both cases unspecified, so the offsets in force a few
// hours either side of its answer are tried explicitly. No zone moves its
// clock by more than that window.
func localAt(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	wall := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	near := time.Date(year, month, day, hour, minute, 0, 0, loc)

	var best time.Time
	found := false
	minOffset := 0
	for i, shift := range []time.Duration{-3 * time.Hour, 0, 3 * time.Hour} {
		_, offset := near.Add(shift).Zone()
		if i == 0 || offset < minOffset {
			minOffset = offset
		}
		candidate := wall.Add(-time.Duration(offset) * time.Second)
		if !sameWall(candidate.In(loc), wall) {
			continue
		}
		if !found || candidate.Before(best) {
			best, found = candidate, true
		}
	}
	if found {
		return best.In(loc)
	}

	// Gap: read the wall time with the standard offset in force before the
	// transition, which lands past the gap.
	return wall.Add(-time.Duration(minOffset) * time.Second).In(loc)
}

func sameWall(t, wall time.Time) bool {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := wall.Date()
	return y1 == y2 && m1 == m2 && d1 == d2 && t.Hour() == wall.Hour() && t.Minute() == wall.Minute()
}

// civilDate returns the calendar date of t in loc as midnight UTC.
func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole days between two civil dates from civilDate.
// Unix seconds keep it exact where time.Duration would saturate.
func daysBetween(from, to time.Time) int {
	return int((to.Unix() - from.Unix()) / 86400)
}

// mondayOf returns the Monday starting the ISO week containing d.
func mondayOf(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
