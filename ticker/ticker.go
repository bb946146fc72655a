package ticker

import (
	"fmt"
	"sync"
	"time"

	"github.com/ahmed-com/tickclock"
)

// ExecutionContext carries the timing of one cron firing
type ExecutionContext struct {
	ScheduledTime time.Time
	ActualTime    time.Time
}

// RealScheduler is the wall-clock tickclock.Scheduler. Each schedule runs on
// its own goroutine.
type RealScheduler struct{}

// NewRealScheduler returns a scheduler backed by time.Now and timers
func NewRealScheduler() *RealScheduler {
	return &RealScheduler{}
}

// Now returns the current wall-clock time.
func (s *RealScheduler) Now() time.Time {
	return time.Now()
}

// ScheduleAtFixedRate calls fn at origin, origin+period, origin+2*period and
// so on, where origin is now plus initialDelay. Firings never overlap: when
// fn or the runtime falls behind, the missed slots are skipped and the next
// firing lands on the following slot of the original grid.
func (s *RealScheduler) ScheduleAtFixedRate(fn func(), initialDelay, period time.Duration) (tickclock.Schedule, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: fn is required", tickclock.ErrInvalidArgument)
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: period must be positive, got %s", tickclock.ErrInvalidArgument, period)
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	fr := &fixedRate{
		fn:     fn,
		period: period,
		stopCh: make(chan struct{}),
	}
	go fr.run(time.Now().Add(initialDelay))
	return fr, nil
}

type fixedRate struct {
	fn     func()
	period time.Duration
	stopCh chan struct{}
	once   sync.Once
}

// Cancel stops future firings. A firing already in progress completes.
func (fr *fixedRate) Cancel() {
	fr.once.Do(func() { close(fr.stopCh) })
}

func (fr *fixedRate) run(next time.Time) {
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-fr.stopCh:
			return
		case <-timer.C:
		}

		// Cancel may have raced with the timer
		select {
		case <-fr.stopCh:
			return
		default:
		}

		fr.fn()

		next = nextSlot(next, time.Now(), fr.period)
		timer.Reset(time.Until(next))
	}
}

// nextSlot returns the first slot on the grid anchored at last that is
// strictly after last and not before now.
func nextSlot(last, now time.Time, period time.Duration) time.Time {
	next := last.Add(period)
	if behind := now.Sub(next); behind > 0 {
		missed := behind/period + 1
		next = next.Add(missed * period)
	}
	return next
}
