package ticker

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ahmed-com/tickclock"
)

func TestCronTickerCreation(t *testing.T) {
	tests := []struct {
		name        string
		expression  string
		timezone    string
		shouldError bool
	}{
		{"valid every minute", "*/1 * * * *", "UTC", false},
		{"valid daily at midnight", "0 0 * * *", "", false},
		{"valid descriptor", "@hourly", "UTC", false},
		{"invalid expression", "invalid", "UTC", true},
		{"invalid too many fields", "* * * * * *", "UTC", true},
		{"invalid timezone", "0 * * * *", "Mars/Olympus_Mons", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCronTicker(tt.expression, tt.timezone)

			if tt.shouldError && err == nil {
				t.Errorf("Expected error for expression %s, got nil", tt.expression)
			}
			if !tt.shouldError && err != nil {
				t.Errorf("Unexpected error for expression %s: %v", tt.expression, err)
			}
		})
	}
}

func TestCronTickerNextRun(t *testing.T) {
	ticker, err := NewCronTicker("*/5 * * * *", "UTC") // Every 5 minutes
	if err != nil {
		t.Fatalf("Failed to create ticker: %v", err)
	}

	nextRun, err := ticker.NextRun()
	if err != nil {
		t.Fatalf("Failed to get next run: %v", err)
	}
	if nextRun == nil {
		t.Fatal("Next run should not be nil")
	}

	now := time.Now().UTC()
	if nextRun.Before(now) {
		t.Errorf("Next run should be in the future, got %s (now: %s)", nextRun, now)
	}
	if nextRun.Minute()%5 != 0 {
		t.Errorf("Next run should land on a multiple of 5 minutes, got %s", nextRun)
	}
}

func TestCronTickerStartStop(t *testing.T) {
	ticker, err := NewCronTicker("@every 1s", "UTC")
	if err != nil {
		t.Fatalf("Failed to create ticker: %v", err)
	}

	if err := ticker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Second start is a no-op
	if err := ticker.Start(); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}

	if got := ticker.Expression(); got != "@every 1s" {
		t.Errorf("Expression() = %q, want %q", got, "@every 1s")
	}

	select {
	case ctx := <-ticker.Channel():
		if ctx.ActualTime.Before(ctx.ScheduledTime) {
			t.Errorf("Fired early: scheduled %s, actual %s", ctx.ScheduledTime, ctx.ActualTime)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Ticker did not fire")
	}

	if err := ticker.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := ticker.Stop(); err != nil {
		t.Fatalf("Second stop failed: %v", err)
	}
}

func TestNextSlot(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	period := 10 * time.Millisecond

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"on time", base.Add(2 * time.Millisecond), base.Add(10 * time.Millisecond)},
		{"exactly at next slot", base.Add(10 * time.Millisecond), base.Add(10 * time.Millisecond)},
		{"slightly late", base.Add(12 * time.Millisecond), base.Add(20 * time.Millisecond)},
		{"several slots late", base.Add(37 * time.Millisecond), base.Add(40 * time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextSlot(base, tt.now, period)
			if !got.Equal(tt.want) {
				t.Errorf("nextSlot() = %s, want %s", got.Sub(base), tt.want.Sub(base))
			}
		})
	}
}

func TestRealSchedulerInvalidArguments(t *testing.T) {
	s := NewRealScheduler()

	if _, err := s.ScheduleAtFixedRate(nil, 0, time.Millisecond); !errors.Is(err, tickclock.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for nil fn, got %v", err)
	}
	if _, err := s.ScheduleAtFixedRate(func() {}, 0, 0); !errors.Is(err, tickclock.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero period, got %v", err)
	}
}

func TestRealSchedulerFixedRate(t *testing.T) {
	s := NewRealScheduler()

	var count int32
	schedule, err := s.ScheduleAtFixedRate(func() {
		atomic.AddInt32(&count, 1)
	}, 0, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ScheduleAtFixedRate failed: %v", err)
	}

	time.Sleep(105 * time.Millisecond)
	schedule.Cancel()

	got := atomic.LoadInt32(&count)
	if got < 5 || got > 12 {
		t.Errorf("Expected roughly 11 firings, got %d", got)
	}

	// No firings after cancel
	time.Sleep(30 * time.Millisecond)
	if after := atomic.LoadInt32(&count); after != got {
		t.Errorf("Schedule fired after Cancel: %d -> %d", got, after)
	}

	// Cancel is idempotent
	schedule.Cancel()
}

func TestRealSchedulerInitialDelay(t *testing.T) {
	s := NewRealScheduler()

	fired := make(chan time.Time, 1)
	start := time.Now()
	schedule, err := s.ScheduleAtFixedRate(func() {
		select {
		case fired <- time.Now():
		default:
		}
	}, 30*time.Millisecond, time.Hour)
	if err != nil {
		t.Fatalf("ScheduleAtFixedRate failed: %v", err)
	}
	defer schedule.Cancel()

	select {
	case at := <-fired:
		if at.Sub(start) < 30*time.Millisecond {
			t.Errorf("First firing came after %s, before the initial delay", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Schedule never fired")
	}
}
