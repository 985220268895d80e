package schedule_test

import (
	"testing"
	"time"

	"github.com/dotclaw/host/internal/schedule"
)

func TestRetryDelay_CapsAtMax(t *testing.T) {
	d := schedule.RetryDelay(10, 1000, 30_000)
	if d != 30*time.Second {
		t.Fatalf("expected backoff capped at 30s, got %v", d)
	}
}

func TestRetryDelay_DoublesEachAttempt(t *testing.T) {
	d0 := schedule.RetryDelay(0, 1000, 1_000_000)
	d1 := schedule.RetryDelay(1, 1000, 1_000_000)
	d2 := schedule.RetryDelay(2, 1000, 1_000_000)
	if d0 != time.Second || d1 != 2*time.Second || d2 != 4*time.Second {
		t.Fatalf("expected 1s,2s,4s; got %v,%v,%v", d0, d1, d2)
	}
}

func TestNextRun_IntervalAddsDuration(t *testing.T) {
	now := time.Now()
	next, err := schedule.NextRun(schedule.Task{Kind: schedule.KindInterval, IntervalMs: 5000}, now)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if next == nil || !next.Equal(now.Add(5*time.Second)) {
		t.Fatalf("expected now+5s, got %v", next)
	}
}

func TestNextRun_OnceNeverRecurs(t *testing.T) {
	next, err := schedule.NextRun(schedule.Task{Kind: schedule.KindOnce}, time.Now())
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if next != nil {
		t.Fatalf("expected nil next run for a once-task, got %v", next)
	}
}

func TestValidateSchedule_RejectsUnknownTimezone(t *testing.T) {
	err := schedule.ValidateSchedule(schedule.Task{Kind: schedule.KindCron, CronExpr: "* * * * *", Timezone: "Not/AZone"})
	if err == nil {
		t.Fatal("expected unknown timezone to be rejected")
	}
}
