// Package recurrence validates interval and cron expressions and computes
// the next run time for a recurring job.
//
// The cron dialect is the assistant's own, not POSIX cron. The known
// deviations are deliberate and pinned by tests:
//   - a wildcard minute resolves to minute 0, not "every minute"
//   - when both day-of-month and day-of-week are restricted, a date
//     matches if it satisfies EITHER constraint
//   - all calculations use the process's local timezone
package recurrence

import (
	"strconv"
	"strings"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
)

// Type selects how an expression is interpreted.
type Type string

const (
	TypeInterval Type = "interval"
	TypeCron     Type = "cron"
)

// Interval ceilings: one year per unit, to bound runaway scheduling.
const (
	maxMinutes = 525600
	maxHours   = 8760
	maxDays    = 365
)

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

// ValidateExpression validates expr for the given recurrence type.
func ValidateExpression(rt Type, expr string) error {
	switch rt {
	case TypeInterval:
		_, _, err := parseInterval(expr)
		return err
	case TypeCron:
		_, err := parseCron(expr)
		return err
	default:
		return fault.New(fault.BadRequest, "unknown recurrence type %q (use %q or %q)", rt, TypeInterval, TypeCron)
	}
}

// ValidateIntervalExpression checks an interval expression like "30m", "2h", "1d".
func ValidateIntervalExpression(expr string) error {
	_, _, err := parseInterval(expr)
	return err
}

// ValidateCronExpression checks a 5-field cron expression.
func ValidateCronExpression(expr string) error {
	_, err := parseCron(expr)
	return err
}

func parseInterval(expr string) (amount int, unit byte, err error) {
	s := strings.TrimSpace(expr)
	if len(s) < 2 {
		return 0, 0, fault.New(fault.BadRequest, "invalid interval %q: use <number><unit> like \"30m\", \"2h\" or \"1d\"", expr)
	}
	unit = s[len(s)-1]
	if unit != 'm' && unit != 'h' && unit != 'd' {
		return 0, 0, fault.New(fault.BadRequest, "invalid interval unit %q in %q: use m (minutes), h (hours) or d (days)", string(unit), expr)
	}
	amount, convErr := strconv.Atoi(s[:len(s)-1])
	if convErr != nil || amount <= 0 {
		return 0, 0, fault.New(fault.BadRequest, "invalid interval amount in %q: use a positive whole number like \"30m\"", expr)
	}
	var ceiling int
	switch unit {
	case 'm':
		ceiling = maxMinutes
	case 'h':
		ceiling = maxHours
	case 'd':
		ceiling = maxDays
	}
	if amount > ceiling {
		return 0, 0, fault.New(fault.BadRequest, "interval %q exceeds the one-year ceiling (%d%s)", expr, ceiling, string(unit))
	}
	return amount, unit, nil
}

// cronField is one parsed field of a cron expression.
type cronField struct {
	wildcard bool
	step     int   // 0 unless */N
	last     bool  // day-of-month "L"
	values   []int // sorted expansion of values/ranges/lists
}

func (f cronField) restricted() bool { return !f.wildcard && f.step == 0 }

type cronSpec struct {
	minute cronField
	hour   cronField
	dom    cronField
	month  cronField
	dow    cronField
}

type fieldDef struct {
	name       string
	min, max   int
	allowStep  bool
	allowLast  bool
	allowNames bool
	example    string
}

var cronFields = [5]fieldDef{
	{name: "minute", min: 0, max: 59, allowStep: true, example: "0, */15 or 10-20"},
	{name: "hour", min: 0, max: 23, allowStep: true, example: "9, */6 or 8-18"},
	{name: "day-of-month", min: 1, max: 31, allowLast: true, example: "1, 15, L or 1-7"},
	{name: "month", min: 1, max: 12, allowNames: true, example: "1, JAN or 3-6"},
	{name: "day-of-week", min: 0, max: 6, example: "0 (Sunday), 1,3,5 or 1-5"},
}

func parseCron(expr string) (cronSpec, error) {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) != 5 {
		return cronSpec{}, fault.New(fault.BadRequest,
			"cron expression %q must have exactly 5 fields (minute hour day-of-month month day-of-week), e.g. \"0 9 * * 1-5\"", expr)
	}

	var spec cronSpec
	dst := [5]*cronField{&spec.minute, &spec.hour, &spec.dom, &spec.month, &spec.dow}
	for i, raw := range parts {
		f, err := parseField(raw, cronFields[i])
		if err != nil {
			return cronSpec{}, err
		}
		*dst[i] = f
	}
	return spec, nil
}

func parseField(raw string, def fieldDef) (cronField, error) {
	if raw == "*" {
		return cronField{wildcard: true}, nil
	}
	if def.allowLast && strings.EqualFold(raw, "L") {
		return cronField{last: true}, nil
	}
	if strings.HasPrefix(raw, "*/") {
		if !def.allowStep {
			return cronField{}, fault.New(fault.BadRequest,
				"stepped values are only supported for minute and hour, not %s (%q)", def.name, raw)
		}
		n, err := strconv.Atoi(raw[2:])
		if err != nil || n <= 0 || n > def.max {
			return cronField{}, fault.New(fault.BadRequest,
				"invalid %s step %q: use */N with 1..%d", def.name, raw, def.max)
		}
		return cronField{step: n}, nil
	}

	var values []int
	for _, part := range strings.Split(raw, ",") {
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, errA := parseFieldValue(lo, def)
			b, errB := parseFieldValue(hi, def)
			if errA != nil {
				return cronField{}, errA
			}
			if errB != nil {
				return cronField{}, errB
			}
			if a > b {
				return cronField{}, fault.New(fault.BadRequest,
					"invalid %s range %q: start must not exceed end (e.g. %s)", def.name, part, def.example)
			}
			for v := a; v <= b; v++ {
				values = append(values, v)
			}
			continue
		}
		v, err := parseFieldValue(part, def)
		if err != nil {
			return cronField{}, err
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

func parseFieldValue(raw string, def fieldDef) (int, error) {
	s := strings.TrimSpace(raw)
	if def.allowNames {
		if v, ok := monthNames[strings.ToUpper(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < def.min || v > def.max {
		return 0, fault.New(fault.BadRequest,
			"invalid %s value %q: use %d..%d (e.g. %s)", def.name, raw, def.min, def.max, def.example)
	}
	return v, nil
}

func (f cronField) contains(v int) bool {
	for _, x := range f.values {
		if x == v {
			return true
		}
	}
	return false
}

// IntervalDuration converts a validated interval expression to a duration.
func IntervalDuration(expr string) (time.Duration, error) {
	amount, unit, err := parseInterval(expr)
	if err != nil {
		return 0, err
	}
	switch unit {
	case 'm':
		return time.Duration(amount) * time.Minute, nil
	case 'h':
		return time.Duration(amount) * time.Hour, nil
	default:
		return time.Duration(amount) * 24 * time.Hour, nil
	}
}
