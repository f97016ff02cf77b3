package recurrence

import (
	"time"

	"github.com/tazhate/healthreminders/internal/domain"
)

// maxMonthlyMisses bounds how many aligned months in a row may lack the
// requested day before a MONTHLY rule is considered unable to fire.
const maxMonthlyMisses = 100

// NextAfter returns the first occurrence strictly after the given instant,
// or nil when the rule has no further occurrences.
func (r *Rule) NextAfter(after time.Time) *time.Time {
	return r.next(after, false)
}

// NextFrom is like NextAfter but also accepts an occurrence equal to from.
// Schedule edits use it so that an occurrence due right now is not lost.
func (r *Rule) NextFrom(from time.Time) *time.Time {
	return r.next(from, true)
}

// Between returns up to limit occurrences t with from <= t <= to.
func (r *Rule) Between(from, to time.Time, limit int) []time.Time {
	var out []time.Time
	if limit <= 0 || to.Before(from) {
		return out
	}
	r.scan(r.startDate(from), func(t time.Time) bool {
		if t.After(to) {
			return false
		}
		if !t.Before(from) {
			out = append(out, t)
		}
		return len(out) < limit
	})
	return out
}

func (r *Rule) next(ref time.Time, inclusive bool) *time.Time {
	var found *time.Time
	r.scan(r.startDate(ref), func(t time.Time) bool {
		if t.After(ref) || (inclusive && t.Equal(ref)) {
			found = &t
			return false
		}
		return true
	})
	return found
}

// startDate is the first local date worth scanning for occurrences at or
// after ref. Scanning starts a day early so a gap-shifted wall time is
// never skipped.
func (r *Rule) startDate(ref time.Time) time.Time {
	d := civilDate(ref, r.loc).AddDate(0, 0, -1)
	if d.Before(r.anchor) {
		return r.anchor
	}
	return d
}

func (r *Rule) pastEnd(d time.Time) bool {
	return r.end != nil && d.After(*r.end)
}

// at converts a civil date into the occurrence instant on that date.
func (r *Rule) at(d time.Time) time.Time {
	return localAt(d.Year(), d.Month(), d.Day(), r.hour, r.minute, r.loc).UTC()
}

// scan yields occurrences in ascending order on dates >= start until yield
// returns false or the rule is exhausted.
func (r *Rule) scan(start time.Time, yield func(time.Time) bool) {
	switch r.freq {
	case domain.FrequencyDaily:
		r.scanDaily(start, yield)
	case domain.FrequencyWeekly:
		r.scanWeekly(start, yield)
	case domain.FrequencyMonthly:
		r.scanMonthly(start, yield)
	}
}

func (r *Rule) scanDaily(start time.Time, yield func(time.Time) bool) {
	k := ceilDiv(daysBetween(r.anchor, start), r.interval)
	for d := r.anchor.AddDate(0, 0, k*r.interval); !r.pastEnd(d); d = d.AddDate(0, 0, r.interval) {
		if !yield(r.at(d)) {
			return
		}
	}
}

func (r *Rule) scanWeekly(start time.Time, yield func(time.Time) bool) {
	anchorWeek := mondayOf(r.anchor)
	weeks := daysBetween(anchorWeek, mondayOf(start)) / 7
	step := 7 * r.interval
	for w := anchorWeek.AddDate(0, 0, ceilDiv(weeks, r.interval)*step); ; w = w.AddDate(0, 0, step) {
		for i := 0; i < 7; i++ {
			d := w.AddDate(0, 0, i)
			if d.Before(start) {
				continue
			}
			if r.pastEnd(d) {
				return
			}
			if r.weekdays[d.Weekday()] && !yield(r.at(d)) {
				return
			}
		}
	}
}

func (r *Rule) scanMonthly(start time.Time, yield func(time.Time) bool) {
	anchorIdx := r.anchor.Year()*12 + int(r.anchor.Month()) - 1
	startIdx := start.Year()*12 + int(start.Month()) - 1
	idx := anchorIdx + ceilDiv(startIdx-anchorIdx, r.interval)*r.interval

	for misses := 0; misses < maxMonthlyMisses; idx += r.interval {
		year, month := idx/12, time.Month(idx%12+1)
		if r.pastEnd(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)) {
			return
		}
		if r.monthDay > daysIn(year, month) {
			misses++
			continue
		}
		misses = 0
		d := time.Date(year, month, r.monthDay, 0, 0, 0, 0, time.UTC)
		if d.Before(start) {
			continue
		}
		if r.pastEnd(d) {
			return
		}
		if !yield(r.at(d)) {
			return
		}
	}
}
