package tickclock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Call sites wrap them with fmt.Errorf("%w: ...") so callers
// can match with errors.Is.
var (
	// ErrIllegalState is returned when an operation is not legal in the
	// current clock state.
	ErrIllegalState = errors.New("illegal state")

	// ErrInvalidArgument is returned for absent or invalid parameters.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTimeout is returned when in-flight work did not finish within the
	// shutdown grace period.
	ErrTimeout = errors.New("timeout")

	// ErrOverrun marks a tick that became due before the previous cycle
	// finished.
	ErrOverrun = errors.New("tick overrun")

	// ErrPanic wraps a value recovered from a panicking task.
	ErrPanic = errors.New("panic")
)

// State represents the lifecycle state of a clock
type State string

const (
	StateStopped  State = "STOPPED"
	StateRunning  State = "RUNNING"
	StatePaused   State = "PAUSED"
	StateShutdown State = "SHUTDOWN"
)

// CanTransition reports whether moving from s to the target state is one of
// the legal clock edges. SHUTDOWN is absorbing.
func (s State) CanTransition(to State) bool {
	switch s {
	case StateStopped:
		return to == StateRunning || to == StateShutdown
	case StateRunning:
		return to == StatePaused || to == StateStopped
	case StatePaused:
		return to == StateRunning || to == StateStopped
	default:
		return false
	}
}

// TaskStatus represents the status of one listener task inside a cycle
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "Pending"
	TaskStatusRunning  TaskStatus = "Running"
	TaskStatusSuccess  TaskStatus = "Success"
	TaskStatusFailed   TaskStatus = "Failed"
	TaskStatusCanceled TaskStatus = "Canceled"
)

// FaultKind classifies a fault raised during scheduled execution
type FaultKind string

const (
	// FaultOverrun: a tick was due before the previous cycle finished.
	FaultOverrun FaultKind = "Overrun"
	// FaultListener: a listener returned an error or panicked.
	FaultListener FaultKind = "Listener"
	// FaultSubmit: a cycle could not hand a task to the pool.
	FaultSubmit FaultKind = "Submit"
	// FaultWorker: a panic escaped a worker outside result capture.
	FaultWorker FaultKind = "Worker"
)

// Fault describes a failure that happened on the scheduling path. Faults are
// never returned to callers of the clock; they are routed to the Restorer.
type Fault struct {
	ID         string
	ClockID    string
	CycleID    string
	CycleSeq   int64
	Kind       FaultKind
	Listener   string
	Err        error
	OccurredAt time.Time

	// Coalesced counts faults folded into this delivery while it was
	// pending. Zero means the fault was delivered on its own.
	Coalesced int
}

// Error implements the error interface.
func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s fault in clock %s", f.Kind, f.ClockID)
	if f.CycleID != "" {
		msg += fmt.Sprintf(" (cycle %d %s)", f.CycleSeq, f.CycleID)
	}
	if f.Listener != "" {
		msg += " listener " + f.Listener
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Clock is the control surface handed to restorers and callers.
type Clock interface {
	ID() string
	AddListener(l Listener) error
	SetTickDuration(n int64, unit time.Duration) error
	TickDuration(unit time.Duration) (int64, error)
	Start() error
	Pause() error
	Resume() error
	Stop() error
	Shutdown() error
	State() State
}

// Task is the unit of work handed to a Pool.
type Task func(ctx context.Context) error

// Handle tracks one submitted task.
type Handle interface {
	// Done reports whether the task completed, failed or was canceled.
	// It never blocks.
	Done() bool
	// Err returns the task's captured error, nil while not done.
	Err() error
	// Cancel prevents a pending task from starting and returns true.
	// A running task only has its context canceled and false is returned.
	Cancel() bool
	// Wait blocks until the task is done or ctx ends.
	Wait(ctx context.Context) error
}

// Pool runs tasks concurrently. Implementations must capture task errors and
// panics into the returned Handle rather than propagate them.
type Pool interface {
	Submit(ctx context.Context, name string, task Task) (Handle, error)
	Shutdown(ctx context.Context) error
}

// Schedule is a cancellable periodic registration.
type Schedule interface {
	// Cancel stops future firings. It does not wait for a firing that is
	// already executing.
	Cancel()
}

// Scheduler produces fixed-rate firings. Production code uses wall-clock
// time; tests substitute simulated time.
type Scheduler interface {
	Now() time.Time
	ScheduleAtFixedRate(fn func(), initialDelay, period time.Duration) (Schedule, error)
}
