package recur

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidRule = errors.New("invalid recurrence rule")

// Frequency is the closed menu of cadences an operator can pick from.
type Frequency string

const (
	EveryMinute    Frequency = "every_minute"
	Every5Minutes  Frequency = "every_5_minutes"
	Every15Minutes Frequency = "every_15_minutes"
	Every30Minutes Frequency = "every_30_minutes"
	Hourly         Frequency = "hourly"
	Daily          Frequency = "daily"
	Weekly         Frequency = "weekly"
)

// ParseFrequency maps the wire/storage form onto a known Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(s); f {
	case EveryMinute, Every5Minutes, Every15Minutes, Every30Minutes, Hourly, Daily, Weekly:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, s)
}

// Rule is an immutable recurrence rule. Only the fields relevant to the
// frequency are consulted (minute for hourly and up, hour for daily and up,
// weekday for weekly), but all fields must hold in-range values.
// Build it with New; the zero value is not a usable rule.
type Rule struct {
	Frequency Frequency    `json:"frequency"`
	Minute    int          `json:"minute"`
	Hour      int          `json:"hour"`
	Weekday   time.Weekday `json:"weekday"`

	sched cron.Schedule
}

func New(freq Frequency, minute, hour int, weekday time.Weekday) (Rule, error) {
	if _, err := ParseFrequency(string(freq)); err != nil {
		return Rule{}, err
	}
	if minute < 0 || minute > 59 {
		return Rule{}, fmt.Errorf("%w: minute %d out of range", ErrInvalidRule, minute)
	}
	if hour < 0 || hour > 23 {
		return Rule{}, fmt.Errorf("%w: hour %d out of range", ErrInvalidRule, hour)
	}
	if weekday < time.Sunday || weekday > time.Saturday {
		return Rule{}, fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, weekday)
	}
	r := Rule{Frequency: freq, Minute: minute, Hour: hour, Weekday: weekday}
	sched, err := cron.ParseStandard(r.CronExpr())
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	r.sched = sched
	return r, nil
}

// CronExpr projects the rule onto a standard five-field cron expression.
func (r Rule) CronExpr() string {
	switch r.Frequency {
	case EveryMinute:
		return "* * * * *"
	case Every5Minutes:
		return "*/5 * * * *"
	case Every15Minutes:
		return "*/15 * * * *"
	case Every30Minutes:
		return "*/30 * * * *"
	case Hourly:
		return fmt.Sprintf("%d * * * *", r.Minute)
	case Daily:
		return fmt.Sprintf("%d %d * * *", r.Minute, r.Hour)
	case Weekly:
		return fmt.Sprintf("%d %d * * %d", r.Minute, r.Hour, int(r.Weekday))
	}
	return ""
}

// Next returns the earliest instant strictly after the given one that
// satisfies the rule, in UTC. Pure: the same input always yields the same
// output.
func (r Rule) Next(after time.Time) time.Time {
	sched := r.sched
	if sched == nil {
		var err error
		sched, err = cron.ParseStandard(r.CronExpr())
		if err != nil {
			return time.Time{}
		}
	}
	return sched.Next(after.UTC())
}

// Label is the human-readable projection of the rule, for display and
// persistence round-trips. It is never parsed back into a rule.
func (r Rule) Label() string {
	switch r.Frequency {
	case EveryMinute:
		return "Every Minute"
	case Every5Minutes:
		return "Every 5 Minutes"
	case Every15Minutes:
		return "Every 15 Minutes"
	case Every30Minutes:
		return "Every 30 Minutes"
	case Hourly:
		return fmt.Sprintf("Hourly at :%02d", r.Minute)
	case Daily:
		return fmt.Sprintf("Daily at %02d:%02d", r.Hour, r.Minute)
	case Weekly:
		return fmt.Sprintf("Weekly on %s at %02d:%02d", r.Weekday, r.Hour, r.Minute)
	}
	return string(r.Frequency)
}
