// Package recovery routes faults raised on a clock's scheduling path to its
// restorer, one delivery at a time.
package recovery

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ahmed-com/tickclock"
	"github.com/ahmed-com/tickclock/metrics"
)

// Restoration outcomes recorded in metrics
const (
	OutcomeDelivered = "delivered"
	OutcomePanicked  = "panicked"
)

// Dispatcher hands faults to a restorer on a dedicated goroutine. It holds
// at most one pending fault; faults arriving while one is pending are
// folded into it and counted.
type Dispatcher struct {
	clock     tickclock.Clock
	restorer  tickclock.Restorer
	logger    *zap.Logger
	metrics   metrics.Collector
	clockName string

	mu         sync.Mutex
	pending    *tickclock.Fault
	coalesced  int
	started    bool
	terminated bool

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger used for restorer panics
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records restorations under clockName
func WithMetrics(m metrics.Collector, clockName string) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
		d.clockName = clockName
	}
}

// NewDispatcher creates a dispatcher delivering to restorer on behalf of
// clock. Call Start to begin deliveries.
func NewDispatcher(clock tickclock.Clock, restorer tickclock.Restorer, opts ...DispatcherOption) (*Dispatcher, error) {
	if clock == nil {
		return nil, fmt.Errorf("%w: clock is required", tickclock.ErrInvalidArgument)
	}
	if restorer == nil {
		return nil, fmt.Errorf("%w: restorer is required", tickclock.ErrInvalidArgument)
	}

	d := &Dispatcher{
		clock:    clock,
		restorer: restorer,
		logger:   zap.NewNop(),
		metrics:  metrics.NewNoOpMetrics(),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start launches the delivery goroutine
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.terminated {
		return fmt.Errorf("%w: dispatcher terminated", tickclock.ErrIllegalState)
	}
	if d.started {
		return fmt.Errorf("%w: dispatcher already started", tickclock.ErrIllegalState)
	}
	d.started = true
	go d.run()
	return nil
}

// Notify queues f for delivery without blocking. If a fault is already
// pending, f is counted against it instead. It returns false once the
// dispatcher has been terminated.
func (d *Dispatcher) Notify(f *tickclock.Fault) bool {
	if f == nil {
		return false
	}

	d.mu.Lock()
	if d.terminated {
		d.mu.Unlock()
		return false
	}
	if d.pending == nil {
		d.pending = f
	} else {
		d.coalesced++
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
		// Already signalled
	}
	return true
}

// Terminate stops deliveries. It does not wait for a restorer invocation in
// progress, so it is safe to call from inside the restorer. A pending fault
// that has not been taken yet is dropped.
func (d *Dispatcher) Terminate() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.terminated {
		return
	}
	d.terminated = true
	d.pending = nil
	close(d.stopCh)
	if !d.started {
		close(d.done)
	}
}

// Done is closed once the delivery goroutine has exited
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		select {
		case <-d.stopCh:
			return
		case <-d.wake:
		}

		d.mu.Lock()
		if d.terminated {
			d.mu.Unlock()
			return
		}
		f, n := d.pending, d.coalesced
		d.pending, d.coalesced = nil, 0
		d.mu.Unlock()

		if f == nil {
			continue
		}

		delivered := *f
		delivered.Coalesced = n
		d.deliver(&delivered)
	}
}

// deliver invokes the restorer once, containing any panic it raises
func (d *Dispatcher) deliver(f *tickclock.Fault) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncRestorations(d.clockName, OutcomePanicked)
			d.logger.Error("restorer panicked",
				zap.String("clock", d.clockName),
				zap.String("fault", f.ID),
				zap.Any("panic", r),
			)
		}
	}()

	if f.Coalesced > 0 {
		d.metrics.AddCoalescedFaults(d.clockName, f.Coalesced)
	}
	d.restorer.Restore(d.clock, f)
	d.metrics.IncRestorations(d.clockName, OutcomeDelivered)
}
