package domain

import (
	"strconv"
	"strings"
	"time"
)

// Frequency of a recurrence rule.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// DateLayout is the calendar-date format used for anchor and end dates.
const DateLayout = "2006-01-02"

// RecurrenceSpec is the caller-facing shape of a recurrence rule.
// It is compiled and validated by recurrence.NewRule.
type RecurrenceSpec struct {
	Frequency  Frequency      `json:"frequency" validate:"required,oneof=DAILY WEEKLY MONTHLY"`
	Interval   int            `json:"interval" validate:"min=1,max=1000"`
	ByWeekday  []time.Weekday `json:"by_weekday,omitempty" validate:"omitempty,unique,dive,min=0,max=6"`
	ByMonthDay int            `json:"by_month_day,omitempty" validate:"omitempty,min=1,max=31"`
	AnchorDate string         `json:"anchor_date" validate:"required,datetime=2006-01-02"`
	TimeOfDay  string         `json:"time_of_day" validate:"required,hhmm"`
	Timezone   string         `json:"timezone" validate:"required"`
	EndDate    string         `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// WeekdaysString renders ByWeekday as "1,3,5".
func (s RecurrenceSpec) WeekdaysString() string {
	parts := make([]string, 0, len(s.ByWeekday))
	for _, d := range s.ByWeekday {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

// Schedule is the persisted recurrence configuration for one reminder.
type Schedule struct {
	ID              int64
	UserID          int64
	UserVariableID  int64
	Spec            RecurrenceSpec
	IsActive        bool
	NextTriggerAt   *time.Time // nil when inactive or the rule is exhausted
	DefaultValue    *float64
	TitleTemplate   string
	MessageTemplate string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Render substitutes {variable} and {value} placeholders in a message template.
func Render(tmpl, variableName string, defaultValue *float64) string {
	value := ""
	if defaultValue != nil {
		value = strconv.FormatFloat(*defaultValue, 'f', -1, 64)
	}
	return strings.NewReplacer("{variable}", variableName, "{value}", value).Replace(tmpl)
}

const (
	DefaultTitleTemplate   = "Time to track {variable}"
	DefaultMessageTemplate = "How is your {variable} today?"
	DefaultReminderTime    = "20:00"
)
