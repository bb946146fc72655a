package tickclock

import (
	"context"
	"fmt"
)

// Listener is invoked once per tick. A returned error or a panic is reported
// as a listener fault.
type Listener interface {
	OnTick(ctx context.Context) error
}

// ListenerFunc adapts a function to the Listener interface
type ListenerFunc func(ctx context.Context) error

// OnTick calls f(ctx).
func (f ListenerFunc) OnTick(ctx context.Context) error {
	return f(ctx)
}

// NamedListener attaches a diagnosable name to a listener
type NamedListener struct {
	Name     string
	Listener Listener
}

// Named wraps fn with a name used in logs, worker names and fault records.
func Named(name string, fn func(ctx context.Context) error) *NamedListener {
	return &NamedListener{Name: name, Listener: ListenerFunc(fn)}
}

// OnTick delegates to the wrapped listener.
func (n *NamedListener) OnTick(ctx context.Context) error {
	return n.Listener.OnTick(ctx)
}

func (n *NamedListener) String() string {
	return n.Name
}

// Restorer decides how to recover a clock after a fault. It is invoked on a
// dedicated goroutine, never concurrently with itself for the same clock,
// and is expected to call back into the clock's control operations.
type Restorer interface {
	Restore(c Clock, fault *Fault)
}

// RestorerFunc adapts a function to the Restorer interface
type RestorerFunc func(c Clock, fault *Fault)

// Restore calls f(c, fault).
func (f RestorerFunc) Restore(c Clock, fault *Fault) {
	f(c, fault)
}

// DescribeListener returns a human readable name for l.
func DescribeListener(l Listener) string {
	if l == nil {
		return "<nil>"
	}
	if s, ok := l.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", l)
}
