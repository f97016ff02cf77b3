// Package recurrence turns a reminder's recurrence specification into
// concrete trigger instants.
//
// A Rule is immutable once built by NewRule; all validation happens there,
// so occurrence computation never fails. Every occurrence is computed as a
// wall-clock time in the rule's IANA timezone and returned in UTC.
package recurrence

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tazhate/healthreminders/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, _, err := parseTimeOfDay(fl.Field().String())
		return err == nil
	})
	return v
}

// Rule is a validated recurrence rule.
type Rule struct {
	spec     domain.RecurrenceSpec
	freq     domain.Frequency
	interval int
	weekdays [7]bool
	monthDay int
	anchor   time.Time // civil date, midnight UTC
	end      *time.Time
	hour     int
	minute   int
	loc      *time.Location
}

// NewRule validates spec and compiles it into a Rule. Any problem is
// reported as a *domain.ValidationError.
func NewRule(spec domain.RecurrenceSpec) (*Rule, error) {
	if err := validate.Struct(spec); err != nil {
		return nil, translateValidation(err)
	}

	r := &Rule{
		freq:     spec.Frequency,
		interval: spec.Interval,
		monthDay: spec.ByMonthDay,
	}

	switch spec.Frequency {
	case domain.FrequencyDaily:
		if len(spec.ByWeekday) > 0 {
			return nil, domain.Invalid("by_weekday", "only allowed for WEEKLY rules")
		}
		if spec.ByMonthDay != 0 {
			return nil, domain.Invalid("by_month_day", "only allowed for MONTHLY rules")
		}
	case domain.FrequencyWeekly:
		if len(spec.ByWeekday) == 0 {
			return nil, domain.Invalid("by_weekday", "WEEKLY rule needs at least one weekday")
		}
		if spec.ByMonthDay != 0 {
			return nil, domain.Invalid("by_month_day", "only allowed for MONTHLY rules")
		}
		for _, d := range spec.ByWeekday {
			r.weekdays[d] = true
		}
	case domain.FrequencyMonthly:
		if spec.ByMonthDay == 0 {
			return nil, domain.Invalid("by_month_day", "MONTHLY rule needs a day of month")
		}
		if len(spec.ByWeekday) > 0 {
			return nil, domain.Invalid("by_weekday", "only allowed for WEEKLY rules")
		}
	}

	loc, err := loadLocation(spec.Timezone)
	if err != nil {
		return nil, err
	}
	r.loc = loc

	r.hour, r.minute, err = parseTimeOfDay(spec.TimeOfDay)
	if err != nil {
		return nil, domain.Invalid("time_of_day", "%v", err)
	}

	r.anchor, err = parseDate(spec.AnchorDate)
	if err != nil {
		return nil, domain.Invalid("anchor_date", "%v", err)
	}
	if spec.EndDate != "" {
		end, err := parseDate(spec.EndDate)
		if err != nil {
			return nil, domain.Invalid("end_date", "%v", err)
		}
		r.end = &end
	}

	r.spec = normalize(spec, r)
	return r, nil
}

// MustRule is NewRule for static rules in tests and defaults. It panics on error.
func MustRule(spec domain.RecurrenceSpec) *Rule {
	r, err := NewRule(spec)
	if err != nil {
		panic(err)
	}
	return r
}

// Spec returns the normalized specification the rule was built from.
func (r *Rule) Spec() domain.RecurrenceSpec {
	s := r.spec
	s.ByWeekday = append([]time.Weekday(nil), r.spec.ByWeekday...)
	return s
}

func (r *Rule) Location() *time.Location { return r.loc }

func (r *Rule) String() string {
	return fmt.Sprintf("%s at %s %s", r.RRule(), r.spec.TimeOfDay, r.spec.Timezone)
}

// normalize sorts weekdays and pads the time of day so equal rules
// serialize identically.
func normalize(spec domain.RecurrenceSpec, r *Rule) domain.RecurrenceSpec {
	spec.TimeOfDay = fmt.Sprintf("%02d:%02d", r.hour, r.minute)
	if len(spec.ByWeekday) > 0 {
		days := make([]time.Weekday, 0, len(spec.ByWeekday))
		for d := time.Sunday; d <= time.Saturday; d++ {
			if r.weekdays[d] {
				days = append(days, d)
			}
		}
		spec.ByWeekday = days
	}
	return spec
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, domain.Invalid("timezone", "an IANA timezone name is required")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, domain.Invalid("timezone", "unknown timezone %q", name)
	}
	return loc, nil
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("want HH:mm, got %q", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour out of range in %q", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute out of range in %q", s)
	}
	return hour, minute, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

func translateValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.Invalid("", "%v", err)
	}
	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return domain.Invalid(field, "is required")
	case "oneof":
		return domain.Invalid(field, "must be one of %s", fe.Param())
	case "min":
		return domain.Invalid(field, "must be at least %s", fe.Param())
	case "max":
		return domain.Invalid(field, "must be at most %s", fe.Param())
	case "unique":
		return domain.Invalid(field, "must not contain duplicates")
	case "datetime":
		return domain.Invalid(field, "want YYYY-MM-DD, got %q", fe.Value())
	case "hhmm":
		return domain.Invalid(field, "want HH:mm, got %q", fe.Value())
	default:
		return domain.Invalid(field, "failed %s check", fe.Tag())
	}
}
