package recurrence

import (
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
)

// horizonDays bounds the calendar walk to roughly two years. A valid
// expression always matches well inside this window; hitting the bound
// means the calculator itself is broken.
const horizonDays = 732

// NextRunTime computes the first run time strictly after now.
//
// Intervals are a plain addition. Cron expressions resolve a single
// target hour and minute from now, then walk forward one calendar day
// at a time until the month and day constraints are satisfied.
func NextRunTime(rt Type, expr string, now time.Time) (time.Time, error) {
	switch rt {
	case TypeInterval:
		d, err := IntervalDuration(expr)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d), nil
	case TypeCron:
		spec, err := parseCron(expr)
		if err != nil {
			return time.Time{}, err
		}
		return nextCron(spec, now)
	default:
		return time.Time{}, fault.New(fault.BadRequest, "unknown recurrence type %q", rt)
	}
}

// CronMatchesDay reports whether t satisfies the month and day
// constraints of expr. Hour and minute are not checked; the store uses
// this to decide whether a caller-supplied first run time can stand.
func CronMatchesDay(expr string, t time.Time) (bool, error) {
	spec, err := parseCron(expr)
	if err != nil {
		return false, err
	}
	t = t.In(time.Local)
	return matchMonth(spec.month, t) && matchDay(spec, t), nil
}

func nextCron(spec cronSpec, now time.Time) (time.Time, error) {
	now = now.In(time.Local)
	minute := resolveUnit(spec.minute, now.Minute(), 0, 59)
	hour := resolveUnit(spec.hour, now.Hour(), now.Hour(), 23)

	for d := 0; d < horizonDays; d++ {
		day := now.AddDate(0, 0, d)
		cand := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.Local)
		if !cand.After(now) {
			continue
		}
		if !matchMonth(spec.month, cand) {
			continue
		}
		if !matchDay(spec, cand) {
			continue
		}
		return cand, nil
	}
	return time.Time{}, fault.New(fault.Internal, "no matching run time within %d days", horizonDays)
}

// resolveUnit picks the fixed minute/hour target for the day walk.
// Wildcards resolve to wild (0 for minute, the current hour for hour);
// steps round the current value up to the next multiple; lists and
// ranges resolve to their smallest member.
func resolveUnit(f cronField, cur, wild, max int) int {
	switch {
	case f.wildcard:
		return wild
	case f.step > 0:
		v := ((cur + f.step - 1) / f.step) * f.step
		if v > max {
			return 0
		}
		return v
	case len(f.values) > 0:
		min := f.values[0]
		for _, v := range f.values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	default:
		return wild
	}
}

func matchMonth(f cronField, t time.Time) bool {
	if f.wildcard || len(f.values) == 0 {
		return true
	}
	return f.contains(int(t.Month()))
}

// matchDay applies the day-of-month and day-of-week constraints.
// When both are restricted, a date matches if it satisfies either
// one (standard cron OR semantics).
func matchDay(spec cronSpec, t time.Time) bool {
	domRestricted := spec.dom.last || spec.dom.restricted()
	dowRestricted := spec.dow.restricted()

	if !domRestricted && !dowRestricted {
		return true
	}

	domMatch := false
	if domRestricted {
		if spec.dom.last {
			domMatch = t.Day() == lastDayOfMonth(t)
		} else {
			domMatch = spec.dom.contains(t.Day())
		}
	}
	dowMatch := dowRestricted && spec.dow.contains(int(t.Weekday()))

	if domRestricted && dowRestricted {
		return domMatch || dowMatch
	}
	if domRestricted {
		return domMatch
	}
	return dowMatch
}

func lastDayOfMonth(t time.Time) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
