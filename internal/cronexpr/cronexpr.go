// Package cronexpr parses standard 5-field cron expressions and evaluates
// them against wall-clock time: due-ness, next run and previous run.
//
// Supported field syntax: "*", comma lists, "a-b" ranges, "a-b/n", "*/n"
// and "a/n" steps, plus case-insensitive three-letter month (jan-dec) and
// weekday (sun-sat) names. Weekday accepts 0-7 where both 0 and 7 are Sunday.
//
// Day-of-month and weekday are combined with AND: a time is due only when
// every field matches.
package cronexpr

import (
	"math/bits"
	"strings"
	"time"
)

// MinutesPerYear bounds Next and Previous when no explicit limit is given.
const MinutesPerYear = 365 * 24 * 60

// Field identifies one of the five positions of a cron expression.
type Field int

// Cron fields in expression order.
const (
	Minute Field = iota
	Hour
	DayOfMonth
	Month
	Weekday

	fieldCount = 5
)

// noField marks errors that are not tied to a single field.
const noField Field = -1

var fieldNames = [fieldCount]string{"minute", "hour", "day-of-month", "month", "weekday"}

// String implements fmt.Stringer.
func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return "expression"
	}
	return fieldNames[f]
}

type domain struct {
	min, max int
	names    map[string]int
}

var domains = [fieldCount]domain{
	Minute:     {min: 0, max: 59},
	Hour:       {min: 0, max: 23},
	DayOfMonth: {min: 1, max: 31},
	Month: {min: 1, max: 12, names: map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}},
	Weekday: {min: 0, max: 7, names: map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}},
}

// Expression is a parsed cron expression. It is immutable and safe for
// concurrent use.
type Expression struct {
	source string
	sets   [fieldCount]uint64
}

// Parse parses a 5-field cron expression. The returned error is an *Error
// identifying the offending field and value.
func Parse(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != fieldCount {
		return nil, &Error{
			Expression: expr,
			Field:      noField,
			Value:      expr,
			Reason:     "expected 5 fields, got " + itoa(len(parts)),
		}
	}

	e := &Expression{source: strings.Join(parts, " ")}
	for i, part := range parts {
		set, err := parseField(Field(i), part)
		if err != nil {
			err.Expression = expr
			return nil, err
		}
		e.sets[i] = set
	}
	return e, nil
}

// MustParse is like Parse but panics on error. Intended for package-level
// schedules known to be valid.
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// String returns the normalized source expression (single spaces).
func (e *Expression) String() string { return e.source }

// Values returns the sorted, de-duplicated values accepted by field f.
func (e *Expression) Values(f Field) []int {
	set := e.sets[f]
	values := make([]int, 0, bits.OnesCount64(set))
	for set != 0 {
		v := bits.TrailingZeros64(set)
		values = append(values, v)
		set &^= 1 << v
	}
	return values
}

// Contains reports whether field f accepts v.
func (e *Expression) Contains(f Field, v int) bool {
	if v < 0 || v > 63 {
		return false
	}
	return e.sets[f]&(1<<v) != 0
}

func (e *Expression) weekdayMatches(wd time.Weekday) bool {
	if e.Contains(Weekday, int(wd)) {
		return true
	}
	return wd == time.Sunday && e.Contains(Weekday, 7)
}

func (e *Expression) dayMatches(t time.Time) bool {
	return e.Contains(Month, int(t.Month())) &&
		e.Contains(DayOfMonth, t.Day()) &&
		e.weekdayMatches(t.Weekday())
}

// IsDue reports whether t, read in its own location, matches every field.
// Seconds are ignored.
func (e *Expression) IsDue(t time.Time) bool {
	return e.Contains(Minute, t.Minute()) &&
		e.Contains(Hour, t.Hour()) &&
		e.dayMatches(t)
}

// Next returns the first due minute strictly after after, searching at most
// MinutesPerYear minutes. ok is false when nothing matches in that window.
func (e *Expression) Next(after time.Time) (next time.Time, ok bool) {
	return e.NextWithin(after, MinutesPerYear)
}

// NextWithin is Next with an explicit bound on the number of minutes scanned.
func (e *Expression) NextWithin(after time.Time, maxIterations int) (time.Time, bool) {
	loc := after.Location()
	cur := after.Truncate(time.Minute).Add(time.Minute)
	cur = time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour(), cur.Minute(), 0, 0, loc)

	for scanned := 0; scanned < maxIterations; {
		var jump time.Time
		switch {
		case !e.dayMatches(cur):
			jump = time.Date(cur.Year(), cur.Month(), cur.Day()+1, 0, 0, 0, 0, loc)
		case !e.Contains(Hour, cur.Hour()):
			jump = time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour()+1, 0, 0, 0, loc)
		case !e.Contains(Minute, cur.Minute()):
			if m, found := e.nextValue(Minute, cur.Minute()+1); found {
				jump = cur.Add(time.Duration(m-cur.Minute()) * time.Minute)
			} else {
				jump = time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour()+1, 0, 0, 0, loc)
			}
		default:
			return cur, true
		}

		step := int(jump.Sub(cur) / time.Minute)
		if step < 1 {
			// DST normalization can land on or before cur; fall back to a single step.
			jump, step = cur.Add(time.Minute), 1
		}
		scanned += step
		cur = jump
	}
	return time.Time{}, false
}

// Previous returns the last due minute strictly before before, searching at
// most MinutesPerYear minutes backwards.
func (e *Expression) Previous(before time.Time) (time.Time, bool) {
	return e.PreviousWithin(before, MinutesPerYear)
}

// PreviousWithin is Previous with an explicit bound on the minutes scanned.
func (e *Expression) PreviousWithin(before time.Time, maxIterations int) (time.Time, bool) {
	loc := before.Location()
	cur := before.Truncate(time.Minute)
	if !cur.Before(before) {
		cur = cur.Add(-time.Minute)
	}
	cur = time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour(), cur.Minute(), 0, 0, loc)

	for scanned := 0; scanned < maxIterations; {
		var jump time.Time
		switch {
		case !e.dayMatches(cur):
			jump = time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, loc).Add(-time.Minute)
		case !e.Contains(Hour, cur.Hour()):
			jump = time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour(), 0, 0, 0, loc).Add(-time.Minute)
		case !e.Contains(Minute, cur.Minute()):
			if m, found := e.prevValue(Minute, cur.Minute()-1); found {
				jump = cur.Add(-time.Duration(cur.Minute()-m) * time.Minute)
			} else {
				jump = time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour(), 0, 0, 0, loc).Add(-time.Minute)
			}
		default:
			return cur, true
		}

		step := int(cur.Sub(jump) / time.Minute)
		if step < 1 {
			jump, step = cur.Add(-time.Minute), 1
		}
		scanned += step
		cur = jump
	}
	return time.Time{}, false
}

// Upcoming returns up to count due times after after, stopping early when
// Next finds nothing.
func (e *Expression) Upcoming(after time.Time, count int) []time.Time {
	if count <= 0 {
		return nil
	}
	runs := make([]time.Time, 0, count)
	cur := after
	for range count {
		next, ok := e.Next(cur)
		if !ok {
			break
		}
		runs = append(runs, next)
		cur = next
	}
	return runs
}

// nextValue returns the smallest value >= from accepted by field f.
func (e *Expression) nextValue(f Field, from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	if from > 63 {
		return 0, false
	}
	rest := e.sets[f] >> from
	if rest == 0 {
		return 0, false
	}
	return from + bits.TrailingZeros64(rest), true
}

// prevValue returns the largest value <= from accepted by field f.
func (e *Expression) prevValue(f Field, from int) (int, bool) {
	if from < 0 {
		return 0, false
	}
	if from > 63 {
		from = 63
	}
	rest := e.sets[f] & (^uint64(0) >> (63 - from))
	if rest == 0 {
		return 0, false
	}
	return 63 - bits.LeadingZeros64(rest), true
}
