package cronexpr

import (
	"strconv"
	"strings"
)

// parseField parses one comma-separated field into a bit set over its domain.
func parseField(f Field, field string) (uint64, *Error) {
	d := domains[f]
	var set uint64

	for part := range strings.SplitSeq(field, ",") {
		if part == "" {
			return 0, fieldError(f, field, "empty list element")
		}
		lo, hi, step, err := parseRange(f, d, part)
		if err != nil {
			return 0, err
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << v
		}
	}

	if set == 0 {
		return 0, fieldError(f, field, "matches no values")
	}
	return set, nil
}

// parseRange parses "*", "v", "a-b", and any of those followed by "/n".
// A bare "v/n" means v through the domain maximum.
func parseRange(f Field, d domain, part string) (lo, hi, step int, _ *Error) {
	rangePart, stepPart, hasStep := strings.Cut(part, "/")
	step = 1
	if hasStep {
		n, err := strconv.Atoi(stepPart)
		if err != nil {
			return 0, 0, 0, fieldError(f, part, "invalid step "+strconv.Quote(stepPart))
		}
		if n <= 0 {
			return 0, 0, 0, fieldError(f, part, "step must be positive")
		}
		if n > d.max-d.min {
			return 0, 0, 0, fieldError(f, part, "step out of range [1,"+itoa(d.max-d.min)+"]")
		}
		step = n
	}

	switch {
	case rangePart == "*":
		return d.min, d.max, step, nil
	case strings.Contains(rangePart, "-"):
		startStr, endStr, _ := strings.Cut(rangePart, "-")
		start, err := parseValue(f, d, startStr)
		if err != nil {
			return 0, 0, 0, err
		}
		end, err := parseValue(f, d, endStr)
		if err != nil {
			return 0, 0, 0, err
		}
		if start > end {
			return 0, 0, 0, fieldError(f, part, "range start "+itoa(start)+" is greater than end "+itoa(end))
		}
		return start, end, step, nil
	default:
		v, err := parseValue(f, d, rangePart)
		if err != nil {
			return 0, 0, 0, err
		}
		if hasStep {
			return v, d.max, step, nil
		}
		return v, v, 1, nil
	}
}

// parseValue parses a single number or name and checks it against the domain.
func parseValue(f Field, d domain, s string) (int, *Error) {
	if s == "" {
		return 0, fieldError(f, s, "missing value")
	}
	if d.names != nil {
		if v, ok := d.names[strings.ToLower(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		if d.names != nil {
			return 0, fieldError(f, s, "unknown name")
		}
		return 0, fieldError(f, s, "not a number")
	}
	if v < d.min || v > d.max {
		return 0, fieldError(f, s, "out of range ["+itoa(d.min)+","+itoa(d.max)+"]")
	}
	return v, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
