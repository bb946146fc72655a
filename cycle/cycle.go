// Package cycle runs one tick's worth of listener work on a pool.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahmed-com/tickclock"
	"github.com/ahmed-com/tickclock/id"
	"github.com/ahmed-com/tickclock/metrics"
)

const tracerName = "github.com/ahmed-com/tickclock/cycle"

// Config describes a cycle. Only ID and Seq are required.
type Config struct {
	ID        string
	Seq       int64
	ClockID   string
	ClockName string

	Now     func() time.Time
	Tracer  trace.Tracer
	Metrics metrics.Collector
	Logger  *zap.Logger

	// OnFault receives every fault the cycle raises. It is called from
	// worker goroutines and must not block.
	OnFault func(*tickclock.Fault)
}

// Cycle is a single tick's execution over a fixed set of listeners
type Cycle struct {
	cfg Config

	launched chan struct{}

	mu        sync.Mutex
	started   bool
	remaining int
	tasks     []*task
	faults    []*tickclock.Fault
	startTime time.Time
	endTime   *time.Time
	span      trace.Span
	finalized bool
}

type task struct {
	listener  tickclock.Listener
	name      string
	handle    tickclock.Handle
	status    tickclock.TaskStatus
	startTime *time.Time
	duration  time.Duration
	err       error
}

// New creates a cycle that has not started yet
func New(cfg Config) *Cycle {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoOpMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Cycle{
		cfg:      cfg,
		launched: make(chan struct{}),
	}
}

// ID returns the cycle identifier
func (c *Cycle) ID() string {
	return c.cfg.ID
}

// Seq returns the cycle's position in its clock's tick sequence
func (c *Cycle) Seq() int64 {
	return c.cfg.Seq
}

// Start submits one task per listener to pool. Listener errors and panics
// never surface here; they are recorded as faults. A submission failure is
// reported both as a Submit fault and in the returned error. Starting a cycle
// twice returns ErrIllegalState.
func (c *Cycle) Start(ctx context.Context, pool tickclock.Pool, listeners []tickclock.Listener) error {
	if pool == nil {
		return fmt.Errorf("%w: pool is required", tickclock.ErrInvalidArgument)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("%w: cycle %d already started", tickclock.ErrIllegalState, c.cfg.Seq)
	}
	c.started = true
	c.startTime = c.cfg.Now()
	c.remaining = len(listeners)

	ctx, c.span = c.cfg.Tracer.Start(ctx, "tick.cycle", trace.WithAttributes(
		attribute.String("clock.id", c.cfg.ClockID),
		attribute.String("clock.name", c.cfg.ClockName),
		attribute.String("cycle.id", c.cfg.ID),
		attribute.Int64("cycle.seq", c.cfg.Seq),
		attribute.Int("cycle.listeners", len(listeners)),
	))

	c.tasks = make([]*task, len(listeners))
	for i, l := range listeners {
		c.tasks[i] = &task{listener: l, name: tickclock.DescribeListener(l), status: tickclock.TaskStatusPending}
	}
	tasks := c.tasks
	c.mu.Unlock()

	var errs []error
	for _, t := range tasks {
		h, err := pool.Submit(ctx, t.name, c.wrap(t))

		c.mu.Lock()
		if err != nil {
			t.status = tickclock.TaskStatusFailed
			t.err = err
			c.remaining--
		} else {
			t.handle = h
		}
		c.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("submit listener %s: %w", t.name, err)
			errs = append(errs, err)
			c.raise(tickclock.FaultSubmit, t.name, err)
		}
	}

	c.mu.Lock()
	close(c.launched)
	done := c.remaining == 0
	c.mu.Unlock()

	if done {
		c.finalize()
	}
	return errors.Join(errs...)
}

// wrap turns a listener into a pool task that records its outcome
func (c *Cycle) wrap(t *task) tickclock.Task {
	return func(ctx context.Context) (err error) {
		ctx, span := c.cfg.Tracer.Start(ctx, "tick.listener", trace.WithAttributes(
			attribute.String("listener", t.name),
		))
		start := c.cfg.Now()

		c.mu.Lock()
		t.status = tickclock.TaskStatusRunning
		t.startTime = &start
		c.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", tickclock.ErrPanic, r)
			}
			c.complete(t, span, start, err)
		}()

		return t.listener.OnTick(ctx)
	}
}

func (c *Cycle) complete(t *task, span trace.Span, start time.Time, err error) {
	duration := c.cfg.Now().Sub(start)
	c.cfg.Metrics.ObserveListenerDuration(c.cfg.ClockName, t.name, duration)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	c.mu.Lock()
	t.duration = duration
	t.err = err
	if err != nil {
		t.status = tickclock.TaskStatusFailed
	} else {
		t.status = tickclock.TaskStatusSuccess
	}
	c.remaining--
	done := c.remaining == 0 && c.isLaunched()
	c.mu.Unlock()

	if err != nil {
		c.cfg.Metrics.IncListenerFaults(c.cfg.ClockName, t.name)
		c.cfg.Logger.Error("listener fault",
			zap.String("clock", c.cfg.ClockName),
			zap.Int64("cycle", c.cfg.Seq),
			zap.String("listener", t.name),
			zap.Error(err),
		)
		c.raise(tickclock.FaultListener, t.name, err)
	}

	if done {
		c.finalize()
	}
}

// raise records a fault and hands it to OnFault
func (c *Cycle) raise(kind tickclock.FaultKind, listener string, err error) {
	c.mu.Lock()
	f := &tickclock.Fault{
		ID:         id.GenerateFaultID(c.cfg.ID, int64(len(c.faults))),
		ClockID:    c.cfg.ClockID,
		CycleID:    c.cfg.ID,
		CycleSeq:   c.cfg.Seq,
		Kind:       kind,
		Listener:   listener,
		Err:        err,
		OccurredAt: c.cfg.Now(),
	}
	c.faults = append(c.faults, f)
	c.mu.Unlock()

	if c.cfg.OnFault != nil {
		c.cfg.OnFault(f)
	}
}

// finalize closes the cycle span and records the cycle duration once
func (c *Cycle) finalize() {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	c.finalized = true
	end := c.cfg.Now()
	c.endTime = &end
	duration := end.Sub(c.startTime)
	span := c.span
	failed := 0
	for _, t := range c.tasks {
		if t.status == tickclock.TaskStatusFailed {
			failed++
		}
	}
	c.mu.Unlock()

	c.cfg.Metrics.ObserveCycleDuration(c.cfg.ClockName, duration)
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d listeners faulted", failed))
	}
	span.End()
}

func (c *Cycle) isLaunched() bool {
	select {
	case <-c.launched:
		return true
	default:
		return false
	}
}

// IsFinished reports whether the cycle has started and every task is done.
// It never blocks.
func (c *Cycle) IsFinished() bool {
	if !c.isLaunched() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tasks {
		if t.handle != nil && !t.handle.Done() {
			return false
		}
	}
	return true
}

// AwaitShutdown blocks until every task is done or timeout elapses. On
// expiry it returns false and an error wrapping ErrTimeout.
func (c *Cycle) AwaitShutdown(timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case <-c.launched:
	case <-ctx.Done():
		return false, fmt.Errorf("%w: cycle %d did not finish launching within %s", tickclock.ErrTimeout, c.cfg.Seq, timeout)
	}

	c.mu.Lock()
	handles := make([]tickclock.Handle, 0, len(c.tasks))
	for _, t := range c.tasks {
		if t.handle != nil {
			handles = append(handles, t.handle)
		}
	}
	c.mu.Unlock()

	for i, h := range handles {
		if err := h.Wait(ctx); err != nil {
			return false, fmt.Errorf("%w: cycle %d has %d unfinished listeners after %s",
				tickclock.ErrTimeout, c.cfg.Seq, unfinished(handles[i:]), timeout)
		}
	}
	return true, nil
}

func unfinished(handles []tickclock.Handle) int {
	n := 0
	for _, h := range handles {
		if !h.Done() {
			n++
		}
	}
	return n
}

// Cancel stops listeners that have not started and cancels the context of
// those still running. It returns how many pending tasks were prevented
// from starting. The cycle ends once the running listeners return.
func (c *Cycle) Cancel() int {
	type pending struct {
		task   *task
		handle tickclock.Handle
	}

	c.mu.Lock()
	submitted := make([]pending, 0, len(c.tasks))
	for _, t := range c.tasks {
		if t.handle != nil {
			submitted = append(submitted, pending{task: t, handle: t.handle})
		}
	}
	c.mu.Unlock()

	prevented := 0
	done := false
	for _, p := range submitted {
		if !p.handle.Cancel() {
			continue
		}
		prevented++

		c.mu.Lock()
		p.task.status = tickclock.TaskStatusCanceled
		p.task.err = context.Canceled
		c.remaining--
		if c.remaining == 0 && c.isLaunched() {
			done = true
		}
		c.mu.Unlock()
	}

	if done {
		c.finalize()
	}
	return prevented
}

// Faults returns the faults captured so far, in the order they occurred
func (c *Cycle) Faults() []*tickclock.Fault {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*tickclock.Fault(nil), c.faults...)
}

// Report snapshots the cycle's progress
func (c *Cycle) Report() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := &Report{
		CycleID:     c.cfg.ID,
		Seq:         c.cfg.Seq,
		StartTime:   c.startTime,
		EndTime:     c.endTime,
		TaskReports: make([]*TaskReport, 0, len(c.tasks)),
	}
	for _, t := range c.tasks {
		tr := &TaskReport{
			Listener:  t.name,
			Status:    t.status,
			StartTime: t.startTime,
			Duration:  t.duration,
		}
		if t.err != nil {
			tr.ErrorMessage = t.err.Error()
		}
		report.TaskReports = append(report.TaskReports, tr)
	}
	if !c.started {
		report.GroupOutcome = OutcomeRunning
	} else {
		report.GroupOutcome = groupOutcome(report.TaskReports)
	}
	return report
}
