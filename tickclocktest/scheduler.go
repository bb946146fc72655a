// Package tickclocktest provides deterministic doubles for the scheduler and
// pool abstractions so clocks can be driven in simulated time.
package tickclocktest

import (
	"fmt"
	"sync"
	"time"

	"github.com/ahmed-com/tickclock"
)

// FakeScheduler is a tickclock.Scheduler whose time only moves when Advance
// is called. Firings run on the goroutine calling Advance.
type FakeScheduler struct {
	mu        sync.Mutex
	now       time.Time
	schedules []*fakeSchedule
}

type fakeSchedule struct {
	fn     func()
	next   time.Time
	period time.Duration

	mu       sync.Mutex
	canceled bool
}

// Cancel stops future firings.
func (s *fakeSchedule) Cancel() {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
}

func (s *fakeSchedule) isCanceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// NewFakeScheduler returns a scheduler whose clock reads start.
func NewFakeScheduler(start time.Time) *FakeScheduler {
	return &FakeScheduler{now: start}
}

// Now returns the simulated time.
func (f *FakeScheduler) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// ScheduleAtFixedRate registers fn. Nothing fires until Advance is called,
// including a zero initial delay.
func (f *FakeScheduler) ScheduleAtFixedRate(fn func(), initialDelay, period time.Duration) (tickclock.Schedule, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: fn is required", tickclock.ErrInvalidArgument)
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: period must be positive, got %s", tickclock.ErrInvalidArgument, period)
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	s := &fakeSchedule{fn: fn, next: f.now.Add(initialDelay), period: period}
	f.schedules = append(f.schedules, s)
	return s, nil
}

// Advance moves simulated time forward by d, running every firing that
// becomes due in time order. Schedules registered or canceled by a firing
// are honoured for the remainder of the advance.
func (f *FakeScheduler) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		s := f.nextDue(target)
		if s == nil {
			break
		}
		s.fn()
	}

	f.mu.Lock()
	if f.now.Before(target) {
		f.now = target
	}
	f.mu.Unlock()
}

// nextDue pops the earliest firing at or before target, moving simulated
// time to it. Ties go to the schedule registered first.
func (f *FakeScheduler) nextDue(target time.Time) *fakeSchedule {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due *fakeSchedule
	live := f.schedules[:0]
	for _, s := range f.schedules {
		if s.isCanceled() {
			continue
		}
		live = append(live, s)
		if s.next.After(target) {
			continue
		}
		if due == nil || s.next.Before(due.next) {
			due = s
		}
	}
	f.schedules = live

	if due == nil {
		return nil
	}
	f.now = due.next
	due.next = due.next.Add(due.period)
	return due
}

// Active returns the number of schedules that have not been canceled.
func (f *FakeScheduler) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, s := range f.schedules {
		if !s.isCanceled() {
			n++
		}
	}
	return n
}
