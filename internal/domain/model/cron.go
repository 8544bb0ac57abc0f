package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NextCronRun computes the next fire time strictly after `after`, truncated to
// the minute. The supported expression subset is five fields where the
// minute field may be "*", "*/N" or a fixed minute, and the hour field may
// be "*" or a fixed hour. Expressions outside that subset fall back to one
// minute from `after`, so a rule with an exotic schedule still fires and
// never wedges the poller.
func NextCronRun(expr string, after time.Time) time.Time {
	spec, err := parseCron(expr)
	if err != nil {
		return after.Truncate(time.Minute).Add(time.Minute)
	}

	t := after.Truncate(time.Minute).Add(time.Minute)
	// Bounded scan: a fixed minute+hour pair recurs within 24h.
	for i := 0; i < 24*60; i++ {
		if spec.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return after.Truncate(time.Minute).Add(time.Minute)
}

// ValidateCron reports whether the expression is inside the supported
// subset. Rules with invalid expressions are rejected at creation instead
// of silently degrading to the one-minute fallback.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

type cronSpec struct {
	minuteAny  bool
	minuteStep int // 0 when unset
	minute     int // -1 when unset
	hourAny    bool
	hour       int // -1 when unset
}

func (s cronSpec) matches(t time.Time) bool {
	switch {
	case s.minuteAny:
	case s.minuteStep > 0:
		if t.Minute()%s.minuteStep != 0 {
			return false
		}
	default:
		if t.Minute() != s.minute {
			return false
		}
	}
	if !s.hourAny && t.Hour() != s.hour {
		return false
	}
	return true
}

func parseCron(expr string) (cronSpec, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSpec{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}
	for _, f := range fields[2:] {
		if f != "*" {
			return cronSpec{}, fmt.Errorf("cron %q: field %q not supported", expr, f)
		}
	}

	spec := cronSpec{minute: -1, hour: -1}

	switch m := fields[0]; {
	case m == "*":
		spec.minuteAny = true
	case strings.HasPrefix(m, "*/"):
		n, err := strconv.Atoi(m[2:])
		if err != nil || n < 1 || n > 59 {
			return cronSpec{}, fmt.Errorf("cron %q: bad minute step %q", expr, m)
		}
		spec.minuteStep = n
	default:
		n, err := strconv.Atoi(m)
		if err != nil || n < 0 || n > 59 {
			return cronSpec{}, fmt.Errorf("cron %q: bad minute %q", expr, m)
		}
		spec.minute = n
	}

	switch h := fields[1]; {
	case h == "*":
		spec.hourAny = true
	default:
		n, err := strconv.Atoi(h)
		if err != nil || n < 0 || n > 23 {
			return cronSpec{}, fmt.Errorf("cron %q: bad hour %q", expr, h)
		}
		spec.hour = n
	}

	return spec, nil
}
