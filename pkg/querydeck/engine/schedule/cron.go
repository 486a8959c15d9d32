package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

type fieldSpec struct {
	name     string
	min, max int
}

var cronFields = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// CronExpr is a parsed 5-field cron expression. Each field is a bit set of allowed values.
type CronExpr struct {
	fields [5]uint64
	source string
}

// ParseCron parses "minute hour day-of-month month day-of-week".
// Each field accepts "*", single values, comma lists, ranges "a-b" and steps "*/n", "a/n", "a-b/n".
func ParseCron(expr string) (*CronExpr, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, exception.NewValidationError(moduleName, "cron expression %q must have 5 fields, got %d", expr, len(parts))
	}
	c := &CronExpr{source: expr}
	for i, part := range parts {
		bits, err := parseField(part, cronFields[i])
		if err != nil {
			return nil, err
		}
		c.fields[i] = bits
	}
	return c, nil
}

func parseField(field string, spec fieldSpec) (uint64, error) {
	var bits uint64
	for _, item := range strings.Split(field, ",") {
		b, err := parseItem(item, spec)
		if err != nil {
			return 0, err
		}
		bits |= b
	}
	return bits, nil
}

func parseItem(item string, spec fieldSpec) (uint64, error) {
	invalid := func() error {
		return exception.NewValidationError(moduleName, "invalid %s field item %q", spec.name, item)
	}
	if item == "" {
		return 0, invalid()
	}

	rangePart, step := item, 1
	if i := strings.IndexByte(item, '/'); i >= 0 {
		rangePart = item[:i]
		n, err := strconv.Atoi(item[i+1:])
		if err != nil || n <= 0 {
			return 0, invalid()
		}
		step = n
	}

	lo, hi := spec.min, spec.max
	switch {
	case rangePart == "*":
	case strings.Contains(rangePart, "-"):
		bounds := strings.SplitN(rangePart, "-", 2)
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil || a > b {
			return 0, invalid()
		}
		lo, hi = a, b
	default:
		a, err := strconv.Atoi(rangePart)
		if err != nil {
			return 0, invalid()
		}
		lo = a
		// A bare value without a step matches only itself; "a/n" runs to the field maximum.
		if step == 1 && !strings.Contains(item, "/") {
			hi = a
		}
	}
	if lo < spec.min || hi > spec.max || lo > hi {
		return 0, exception.NewValidationError(moduleName, "%s field item %q out of range %d-%d", spec.name, item, spec.min, spec.max)
	}

	var bits uint64
	for v := lo; v <= hi; v += step {
		bits |= 1 << uint(v)
	}
	return bits, nil
}

// Match reports whether t, in its own location, satisfies every field.
func (c *CronExpr) Match(t time.Time) bool {
	values := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, v := range values {
		if c.fields[i]&(1<<uint(v)) == 0 {
			return false
		}
	}
	return true
}

// String returns the source expression.
func (c *CronExpr) String() string { return c.source }

// IsCronMatch reports whether expr matches t. Malformed expressions never match.
func IsCronMatch(expr string, t time.Time) bool {
	c, err := ParseCron(expr)
	if err != nil {
		return false
	}
	return c.Match(t)
}
