package cronexpr

import (
	"fmt"
	"strings"
	"time"
)

var canonical = map[string]string{
	"* * * * *":   "Every minute",
	"0 * * * *":   "Every hour",
	"0 0 * * *":   "Every day at midnight",
	"0 0 * * 0":   "Every Sunday at midnight",
	"0 0 * * 7":   "Every Sunday at midnight",
	"0 0 1 * *":   "On the first day of every month at midnight",
	"0 0 1 1 *":   "Every year on January 1 at midnight",
	"0 0 * * 1-5": "Every weekday at midnight",
}

// Describe returns a best-effort English summary of the expression. Common
// forms are recognized verbatim; anything else is composed from the fields
// that are not wildcards.
func (e *Expression) Describe() string {
	if s, ok := canonical[e.source]; ok {
		return s
	}

	var b strings.Builder
	minutes, hours := e.Values(Minute), e.Values(Hour)

	switch {
	case len(minutes) == 1 && len(hours) == 1:
		fmt.Fprintf(&b, "At %02d:%02d", hours[0], minutes[0])
	case e.isFull(Minute) && e.isFull(Hour):
		b.WriteString("Every minute")
	default:
		b.WriteString(describeMinutes(e, minutes))
		if !e.isFull(Hour) {
			b.WriteString(" past ")
			b.WriteString(describeHours(e, hours))
		}
	}

	if !e.isFull(DayOfMonth) {
		b.WriteString(" on day ")
		b.WriteString(joinValues(e.Values(DayOfMonth), func(v int) string { return itoa(v) }))
		b.WriteString(" of the month")
	}
	if !e.isFull(Month) {
		b.WriteString(" in ")
		b.WriteString(joinValues(e.Values(Month), func(v int) string { return time.Month(v).String() }))
	}
	if !e.weekdaysFull() {
		b.WriteString(" on ")
		b.WriteString(joinValues(e.weekdays(), func(v int) string { return time.Weekday(v).String() }))
	}
	return b.String()
}

func describeMinutes(e *Expression, minutes []int) string {
	if e.isFull(Minute) {
		return "Every minute"
	}
	if step, ok := stepOf(minutes, domains[Minute]); ok {
		return fmt.Sprintf("Every %d minutes", step)
	}
	if len(minutes) == 1 {
		return fmt.Sprintf("At minute %d", minutes[0])
	}
	return "At minutes " + joinValues(minutes, func(v int) string { return itoa(v) })
}

func describeHours(e *Expression, hours []int) string {
	if step, ok := stepOf(hours, domains[Hour]); ok {
		return fmt.Sprintf("every %d hours", step)
	}
	if len(hours) == 1 {
		return fmt.Sprintf("hour %d", hours[0])
	}
	return "hours " + joinValues(hours, func(v int) string { return itoa(v) })
}

// stepOf reports whether values is exactly "*/n" over d for some n > 1.
func stepOf(values []int, d domain) (int, bool) {
	if len(values) < 2 || values[0] != d.min {
		return 0, false
	}
	step := values[1] - values[0]
	if step < 2 {
		return 0, false
	}
	for i := 1; i < len(values); i++ {
		if values[i]-values[i-1] != step {
			return 0, false
		}
	}
	return step, values[len(values)-1]+step > d.max
}

func (e *Expression) isFull(f Field) bool {
	d := domains[f]
	for v := d.min; v <= d.max; v++ {
		if !e.Contains(f, v) {
			return false
		}
	}
	return true
}

// weekdays folds 7 into 0 so Sunday is listed once.
func (e *Expression) weekdays() []int {
	var days []int
	for wd := range 7 {
		if e.weekdayMatches(time.Weekday(wd)) {
			days = append(days, wd)
		}
	}
	return days
}

func (e *Expression) weekdaysFull() bool { return len(e.weekdays()) == 7 }

func joinValues(values []int, format func(int) string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = format(v)
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}
