package recurrence

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"
	"github.com/tazhate/healthreminders/internal/domain"
)

var toRRuleFreq = map[domain.Frequency]rrule.Frequency{
	domain.FrequencyDaily:   rrule.DAILY,
	domain.FrequencyWeekly:  rrule.WEEKLY,
	domain.FrequencyMonthly: rrule.MONTHLY,
}

// indexed by time.Weekday
var toRRuleDay = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// RRule renders the rule's frequency part as an RFC 5545 RRULE value,
// e.g. "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,FR". Time of day, timezone and
// anchor are stored alongside it, not inside it.
func (r *Rule) RRule() string {
	return r.option().RRuleString()
}

func (r *Rule) option() *rrule.ROption {
	opt := &rrule.ROption{
		Freq:     toRRuleFreq[r.freq],
		Interval: r.interval,
	}
	for _, d := range r.spec.ByWeekday {
		opt.Byweekday = append(opt.Byweekday, toRRuleDay[d])
	}
	if r.monthDay != 0 {
		opt.Bymonthday = []int{r.monthDay}
	}
	if r.end != nil {
		// UNTIL carries the local end date; only its date part is read back.
		opt.Until = r.end.Add(24*time.Hour - time.Second)
	}
	return opt
}

// ParseRRule builds a Rule from a stored RRULE value plus the fields kept
// next to it. Only the subset produced by Rule.RRule is accepted.
func ParseRRule(value, timeOfDay, timezone, anchorDate string) (*Rule, error) {
	spec, err := SpecFromRRule(value)
	if err != nil {
		return nil, err
	}
	spec.TimeOfDay = timeOfDay
	spec.Timezone = timezone
	spec.AnchorDate = anchorDate
	return NewRule(spec)
}

// SpecFromRRule decodes the frequency part of a RecurrenceSpec.
func SpecFromRRule(value string) (domain.RecurrenceSpec, error) {
	var spec domain.RecurrenceSpec
	opt, err := rrule.StrToROption(strings.TrimPrefix(strings.TrimSpace(value), "RRULE:"))
	if err != nil {
		return spec, domain.Invalid("rrule", "%v", err)
	}

	switch opt.Freq {
	case rrule.DAILY:
		spec.Frequency = domain.FrequencyDaily
	case rrule.WEEKLY:
		spec.Frequency = domain.FrequencyWeekly
	case rrule.MONTHLY:
		spec.Frequency = domain.FrequencyMonthly
	default:
		return spec, domain.Invalid("rrule", "unsupported frequency %v", opt.Freq)
	}

	if opt.Count != 0 || len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Byyearday) > 0 ||
		len(opt.Byweekno) > 0 || len(opt.Byhour) > 0 || len(opt.Byminute) > 0 ||
		len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return spec, domain.Invalid("rrule", "unsupported rule part in %q", value)
	}

	spec.Interval = opt.Interval
	if spec.Interval == 0 {
		spec.Interval = 1
	}
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return spec, domain.Invalid("rrule", "ordinal weekdays are not supported")
		}
		spec.ByWeekday = append(spec.ByWeekday, time.Weekday((wd.Day()+1)%7))
	}
	switch len(opt.Bymonthday) {
	case 0:
	case 1:
		spec.ByMonthDay = opt.Bymonthday[0]
	default:
		return spec, domain.Invalid("rrule", "only one BYMONTHDAY is supported")
	}
	if !opt.Until.IsZero() {
		spec.EndDate = opt.Until.UTC().Format(domain.DateLayout)
	}
	return spec, nil
}
