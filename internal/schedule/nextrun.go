package schedule

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// ValidateSchedule checks that a task's kind-specific fields parse, so a
// malformed schedule is rejected at creation time rather than discovered at
// the next due-check.
func ValidateSchedule(t Task) error {
	switch t.Kind {
	case KindCron:
		if _, err := cronParser.Parse(t.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", t.CronExpr, err)
		}
		if _, err := resolveLocation(t.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", t.Timezone, err)
		}
	case KindInterval:
		if t.IntervalMs <= 0 {
			return fmt.Errorf("interval task requires interval_ms > 0")
		}
	case KindOnce:
		// NextRunAt is caller-supplied and validated by the caller.
	default:
		return fmt.Errorf("unknown schedule kind %q", t.Kind)
	}
	return nil
}

func resolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// NextRun computes the next run time after `after`, per spec.md §4.6:
// cron schedules are evaluated in the task's timezone (or host local time
// if unset), interval schedules add interval_ms, and once schedules never
// recur (a nil result signals completion).
func NextRun(t Task, after time.Time) (*time.Time, error) {
	switch t.Kind {
	case KindCron:
		loc, err := resolveLocation(t.Timezone)
		if err != nil {
			return nil, err
		}
		sched, err := cronParser.Parse(t.CronExpr)
		if err != nil {
			return nil, err
		}
		next := sched.Next(after.In(loc)).UTC()
		return &next, nil
	case KindInterval:
		next := after.Add(time.Duration(t.IntervalMs) * time.Millisecond)
		return &next, nil
	case KindOnce:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown schedule kind %q", t.Kind)
	}
}

// RetryDelay implements the exponential backoff of spec.md §4.6:
// min(retryMaxMs, retryBaseMs * 2^retryCount).
func RetryDelay(retryCount int, baseMs, maxMs int64) time.Duration {
	if baseMs <= 0 {
		baseMs = DefaultRetryBaseMs
	}
	if maxMs <= 0 {
		maxMs = DefaultRetryMaxMs
	}
	delay := baseMs
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maxMs {
			delay = maxMs
			break
		}
	}
	return time.Duration(delay) * time.Millisecond
}
