package ticker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts five-field expressions and "@every"/"@hourly" style
// descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronTicker emits on a cron schedule. It drives housekeeping such as
// journal pruning, not clock ticks: a firing that finds the previous one
// still unconsumed is dropped and counted.
type CronTicker struct {
	expression string
	schedule   cron.Schedule
	location   *time.Location
	fired      chan ExecutionContext
	dropped    atomic.Int64

	mu   sync.Mutex
	quit chan struct{}
}

// NewCronTicker parses expression in the given IANA timezone. An empty
// timezone means UTC.
func NewCronTicker(expression, timezone string) (*CronTicker, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expression, err)
	}

	return &CronTicker{
		expression: expression,
		schedule:   schedule,
		location:   loc,
		fired:      make(chan ExecutionContext, 1),
	}, nil
}

// Expression returns the expression the ticker was built from
func (t *CronTicker) Expression() string {
	return t.expression
}

// Start launches the firing goroutine. Calling Start on a started ticker does
// nothing; a stopped ticker may be started again.
func (t *CronTicker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.quit == nil {
		t.quit = make(chan struct{})
		go t.loop(t.quit)
	}
	return nil
}

func (t *CronTicker) loop(quit <-chan struct{}) {
	for {
		due := t.schedule.Next(time.Now().In(t.location))
		if due.IsZero() {
			return
		}
		timer := time.NewTimer(time.Until(due))

		select {
		case <-quit:
			timer.Stop()
			return
		case now := <-timer.C:
			select {
			case t.fired <- ExecutionContext{ScheduledTime: due, ActualTime: now.In(t.location)}:
			default:
				t.dropped.Add(1)
			}
		}
	}
}

// Channel delivers one ExecutionContext per firing
func (t *CronTicker) Channel() <-chan ExecutionContext {
	return t.fired
}

// Dropped counts firings discarded because the consumer had not taken the
// previous one yet.
func (t *CronTicker) Dropped() int64 {
	return t.dropped.Load()
}

// Stop ends the firing goroutine. Stopping a stopped ticker does nothing.
func (t *CronTicker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.quit != nil {
		close(t.quit)
		t.quit = nil
	}
	return nil
}

// NextRun returns the next firing time after now, or nil if the schedule
// never fires again.
func (t *CronTicker) NextRun() (*time.Time, error) {
	next := t.schedule.Next(time.Now().In(t.location))
	if next.IsZero() {
		return nil, nil
	}
	return &next, nil
}
