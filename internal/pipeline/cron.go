package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// schedule is a parsed 5-field cron expression:
// "minute hour day-of-month month day-of-week".
type schedule struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// cronField matches a single time component. Values are "*", "*/n", a
// single number, a range "a-b" or a comma list of those.
type cronField struct {
	wildcard bool
	values   map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.wildcard || f.values[v]
}

func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	out := cronField{values: make(map[int]bool)}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "*/"):
			step, err := strconv.Atoi(part[2:])
			if err != nil || step <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", part)
			}
			for v := lo; v <= hi; v += step {
				out.values[v] = true
			}
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			from, err1 := strconv.Atoi(a)
			to, err2 := strconv.Atoi(b)
			if err1 != nil || err2 != nil || from > to || from < lo || to > hi {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
			for v := from; v <= to; v++ {
				out.values[v] = true
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil || v < lo || v > hi {
				return cronField{}, fmt.Errorf("invalid value %q", part)
			}
			out.values[v] = true
		}
	}
	return out, nil
}

func parseSchedule(expr string) (schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return schedule{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return schedule{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

func (s schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dayOfMonth.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dayOfWeek.matches(int(t.Weekday()))
}

// next returns the first minute strictly after the given time that matches,
// searching at most one year ahead.
func (s schedule) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within one year")
}

// ValidateCron reports whether expr is a usable 5-field cron expression.
func ValidateCron(expr string) error {
	_, err := parseSchedule(expr)
	return err
}
