// Package clock implements the fixed-rate tick clock: a four-state machine
// that fans every tick out to its listeners and routes faults to a restorer.
package clock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahmed-com/tickclock"
	"github.com/ahmed-com/tickclock/concurrency"
	"github.com/ahmed-com/tickclock/cycle"
	"github.com/ahmed-com/tickclock/id"
	"github.com/ahmed-com/tickclock/metrics"
	"github.com/ahmed-com/tickclock/recovery"
	"github.com/ahmed-com/tickclock/ticker"
)

// Config holds the construction parameters of a clock
type Config struct {
	Name         string
	TickDuration time.Duration
	// MaxWorkers bounds concurrently running listeners when the clock owns
	// its pool. Zero selects the pool default.
	MaxWorkers int
	// ShutdownGrace bounds how long Shutdown waits for the current cycle.
	// Zero means one tick period.
	ShutdownGrace time.Duration
}

// Option customises a clock
type Option func(*Clock)

// WithScheduler replaces the wall-clock scheduler. The scheduler must not
// invoke fn synchronously from ScheduleAtFixedRate.
func WithScheduler(s tickclock.Scheduler) Option {
	return func(c *Clock) { c.scheduler = s }
}

// WithPool runs listeners on p instead of an owned worker pool. The clock
// never shuts a supplied pool down.
func WithPool(p tickclock.Pool) Option {
	return func(c *Clock) { c.pool = p }
}

// WithLogger sets the structured logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Clock) { c.logger = logger }
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(c *Clock) { c.metrics = m }
}

// WithTracer sets the tracer used for cycle spans
func WithTracer(t trace.Tracer) Option {
	return func(c *Clock) { c.tracer = t }
}

// Clock is the tickclock.Clock implementation
type Clock struct {
	id        string
	name      string
	scheduler tickclock.Scheduler
	pool      tickclock.Pool
	ownsPool  bool
	logger    *zap.Logger
	metrics   metrics.Collector
	tracer    trace.Tracer

	dispatcher *recovery.Dispatcher
	faultSeq   atomic.Int64

	// ctx is handed to every listener and canceled on shutdown
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      tickclock.State
	tick       time.Duration
	grace      time.Duration
	listeners  []tickclock.Listener
	schedule   tickclock.Schedule
	generation uint64
	current    *cycle.Cycle
	seq        int64
}

var _ tickclock.Clock = (*Clock)(nil)

// New creates a STOPPED clock. restorer receives every fault raised while
// the clock runs.
func New(cfg Config, restorer tickclock.Restorer, listeners []tickclock.Listener, opts ...Option) (*Clock, error) {
	if cfg.TickDuration <= 0 {
		return nil, fmt.Errorf("%w: tick duration must be positive, got %s", tickclock.ErrInvalidArgument, cfg.TickDuration)
	}
	if restorer == nil {
		return nil, fmt.Errorf("%w: restorer is required", tickclock.ErrInvalidArgument)
	}
	if cfg.ShutdownGrace < 0 {
		return nil, fmt.Errorf("%w: shutdown grace must not be negative", tickclock.ErrInvalidArgument)
	}
	if cfg.Name == "" {
		cfg.Name = "clock"
	}

	c := &Clock{
		id:    id.NewClockID(cfg.Name),
		name:  cfg.Name,
		state: tickclock.StateStopped,
		tick:  cfg.TickDuration,
		grace: cfg.ShutdownGrace,
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, l := range listeners {
		if l == nil {
			return nil, fmt.Errorf("%w: listener is nil", tickclock.ErrInvalidArgument)
		}
		if !containsListener(c.listeners, l) {
			c.listeners = append(c.listeners, l)
		}
	}

	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("clock", c.name), zap.String("clock_id", c.id))
	if c.metrics == nil {
		c.metrics = metrics.NewNoOpMetrics()
	}
	if c.scheduler == nil {
		c.scheduler = ticker.NewRealScheduler()
	}
	if c.pool == nil {
		prov, err := concurrency.NewProvisioner("tick-"+c.name, c.workerFault)
		if err != nil {
			return nil, err
		}
		pool, err := concurrency.NewWorkerPool(cfg.MaxWorkers, prov)
		if err != nil {
			return nil, err
		}
		c.pool = pool
		c.ownsPool = true
	}

	dispatcher, err := recovery.NewDispatcher(c, restorer,
		recovery.WithLogger(c.logger),
		recovery.WithMetrics(c.metrics, c.name),
	)
	if err != nil {
		return nil, err
	}
	if err := dispatcher.Start(); err != nil {
		return nil, err
	}
	c.dispatcher = dispatcher

	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.metrics.SetListeners(c.name, len(c.listeners))
	c.metrics.SetState(c.name, string(c.state))
	return c, nil
}

// ID returns the clock's unique identifier
func (c *Clock) ID() string {
	return c.id
}

// Name returns the configured clock name
func (c *Clock) Name() string {
	return c.name
}

// State returns the current state. It is legal in every state.
func (c *Clock) State() tickclock.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentCycle returns the most recent tick cycle, or nil before the first
// tick.
func (c *Clock) CurrentCycle() *cycle.Cycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AddListener registers l for subsequent ticks. A listener already
// registered is not added twice. Cycles already in flight keep the listener
// set they started with.
func (c *Clock) AddListener(l tickclock.Listener) error {
	if l == nil {
		return fmt.Errorf("%w: listener is nil", tickclock.ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == tickclock.StateShutdown {
		return c.illegal("add listener")
	}
	if containsListener(c.listeners, l) {
		return nil
	}
	c.listeners = append(c.listeners, l)
	c.metrics.SetListeners(c.name, len(c.listeners))
	return nil
}

// SetTickDuration changes the tick period to n units. It is only legal
// while STOPPED or PAUSED; a paused clock resumes at the new rate.
func (c *Clock) SetTickDuration(n int64, unit time.Duration) error {
	if n <= 0 {
		return fmt.Errorf("%w: tick duration must be positive, got %d", tickclock.ErrInvalidArgument, n)
	}
	if unit <= 0 {
		return fmt.Errorf("%w: time unit is required", tickclock.ErrInvalidArgument)
	}
	if n > math.MaxInt64/int64(unit) {
		return fmt.Errorf("%w: %d x %s overflows", tickclock.ErrInvalidArgument, n, unit)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != tickclock.StateStopped && c.state != tickclock.StatePaused {
		return c.illegal("set tick duration")
	}
	c.tick = time.Duration(n) * unit
	return nil
}

// TickDuration returns the tick period in whole units.
func (c *Clock) TickDuration(unit time.Duration) (int64, error) {
	if unit <= 0 {
		return 0, fmt.Errorf("%w: time unit is required", tickclock.ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == tickclock.StateShutdown {
		return 0, c.illegal("read tick duration")
	}
	return int64(c.tick / unit), nil
}

// Start moves a STOPPED clock to RUNNING. The first tick is due immediately.
func (c *Clock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != tickclock.StateStopped {
		return c.illegal("start")
	}
	if err := c.scheduleTicks(); err != nil {
		return err
	}
	c.setState(tickclock.StateRunning)
	return nil
}

// Pause stops future ticks. A cycle already in flight keeps running.
func (c *Clock) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != tickclock.StateRunning {
		return c.illegal("pause")
	}
	c.cancelTicks()
	c.setState(tickclock.StatePaused)
	return nil
}

// Resume restarts ticking from now. Ticks missed while paused are not
// replayed.
func (c *Clock) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != tickclock.StatePaused {
		return c.illegal("resume")
	}
	if err := c.scheduleTicks(); err != nil {
		return err
	}
	c.setState(tickclock.StateRunning)
	return nil
}

// Stop halts a RUNNING or PAUSED clock. A stopped clock can be started
// again.
func (c *Clock) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CanTransition(tickclock.StateStopped) {
		return c.illegal("stop")
	}
	if c.state == tickclock.StateRunning {
		c.cancelTicks()
		c.setState(tickclock.StatePaused)
	}
	c.setState(tickclock.StateStopped)
	return nil
}

// Shutdown permanently retires a STOPPED clock. It waits up to the shutdown
// grace for the current cycle, cancels whatever is still running and
// releases the pool and the fault dispatcher. The clock is SHUTDOWN on
// return even when ErrTimeout is reported.
func (c *Clock) Shutdown() error {
	c.mu.Lock()
	if c.state != tickclock.StateStopped {
		defer c.mu.Unlock()
		return c.illegal("shut down")
	}
	c.setState(tickclock.StateShutdown)
	current := c.current
	grace := c.grace
	if grace <= 0 {
		grace = c.tick
	}
	c.mu.Unlock()

	// The cycle and the pool share one grace window.
	deadline := time.Now().Add(grace)

	var errs []error
	if current != nil {
		if done, err := current.AwaitShutdown(time.Until(deadline)); !done {
			prevented := current.Cancel()
			c.logger.Warn("cycle still running at shutdown",
				zap.Int64("cycle", current.Seq()),
				zap.Int("prevented", prevented),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}

	c.cancel()

	if c.ownsPool {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()
		if err := c.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.dispatcher.Terminate()
	return errors.Join(errs...)
}

// scheduleTicks registers a new fixed-rate schedule. Callers hold c.mu.
func (c *Clock) scheduleTicks() error {
	c.generation++
	gen := c.generation

	s, err := c.scheduler.ScheduleAtFixedRate(func() { c.fire(gen) }, 0, c.tick)
	if err != nil {
		return fmt.Errorf("schedule ticks: %w", err)
	}
	c.schedule = s
	return nil
}

// cancelTicks drops the current schedule. Bumping the generation makes a
// firing that is already waiting on c.mu a no-op. Callers hold c.mu.
func (c *Clock) cancelTicks() {
	c.generation++
	if c.schedule != nil {
		c.schedule.Cancel()
		c.schedule = nil
	}
}

// fire runs on the scheduler for every due tick
func (c *Clock) fire(gen uint64) {
	c.mu.Lock()
	if c.state != tickclock.StateRunning || gen != c.generation {
		c.mu.Unlock()
		return
	}

	if prev := c.current; prev != nil && !prev.IsFinished() {
		c.mu.Unlock()
		c.overrun(prev)
		return
	}

	c.seq++
	cyc := cycle.New(cycle.Config{
		ID:        id.GenerateCycleID(c.id, c.seq),
		Seq:       c.seq,
		ClockID:   c.id,
		ClockName: c.name,
		Now:       c.scheduler.Now,
		Tracer:    c.tracer,
		Metrics:   c.metrics,
		Logger:    c.logger,
		OnFault:   c.notify,
	})
	c.current = cyc
	listeners := append([]tickclock.Listener(nil), c.listeners...)
	c.mu.Unlock()

	c.metrics.IncTicks(c.name)
	if err := cyc.Start(c.ctx, c.pool, listeners); err != nil {
		c.logger.Error("cycle start incomplete", zap.Int64("cycle", cyc.Seq()), zap.Error(err))
	}
}

func (c *Clock) overrun(prev *cycle.Cycle) {
	c.metrics.IncOverruns(c.name)
	c.logger.Warn("tick overrun", zap.Int64("cycle", prev.Seq()))

	c.notify(&tickclock.Fault{
		CycleID:  prev.ID(),
		CycleSeq: prev.Seq(),
		Kind:     tickclock.FaultOverrun,
		Err:      fmt.Errorf("%w: cycle %d still running when the next tick was due", tickclock.ErrOverrun, prev.Seq()),
	})
}

// workerFault is the last-resort handler for panics that escape a worker
func (c *Clock) workerFault(w *concurrency.Worker, recovered any) {
	c.logger.Error("worker panicked outside task capture",
		zap.String("worker", w.Name()),
		zap.Any("panic", recovered),
	)
	c.notify(&tickclock.Fault{
		Kind:     tickclock.FaultWorker,
		Listener: w.Name(),
		Err:      fmt.Errorf("%w: %v", tickclock.ErrPanic, recovered),
	})
}

// notify stamps f with the clock identity and hands it to the dispatcher
func (c *Clock) notify(f *tickclock.Fault) {
	if f.ClockID == "" {
		f.ClockID = c.id
	}
	if f.ID == "" {
		f.ID = id.GenerateFaultID(c.id, c.faultSeq.Add(1))
	}
	if f.OccurredAt.IsZero() {
		f.OccurredAt = c.scheduler.Now()
	}
	c.dispatcher.Notify(f)
}

// setState records a transition. Callers hold c.mu.
func (c *Clock) setState(to tickclock.State) {
	c.logger.Debug("clock state changed", zap.String("from", string(c.state)), zap.String("to", string(to)))
	c.state = to
	c.metrics.SetState(c.name, string(to))
}

func (c *Clock) illegal(op string) error {
	return fmt.Errorf("%w: cannot %s while %s", tickclock.ErrIllegalState, op, c.state)
}

// containsListener reports whether l is already in set. Listeners whose
// dynamic type is not comparable are never considered duplicates.
func containsListener(set []tickclock.Listener, l tickclock.Listener) bool {
	if !reflect.TypeOf(l).Comparable() {
		return false
	}
	for _, existing := range set {
		if reflect.TypeOf(existing) == reflect.TypeOf(l) && existing == l {
			return true
		}
	}
	return false
}
