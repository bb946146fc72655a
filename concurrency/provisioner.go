package concurrency

import (
	"context"
	"fmt"
	"runtime/pprof"
	"sync/atomic"

	"github.com/ahmed-com/tickclock"
)

// instanceCount numbers provisioners so worker names stay unique across
// every clock in the process.
var instanceCount atomic.Int64

// FaultHandler receives a value recovered from a worker whose task panicked
// outside the pool's result capture.
type FaultHandler func(w *Worker, recovered any)

// Provisioner creates the goroutines that run listener tasks
type Provisioner struct {
	prefix   string
	instance int64
	seq      atomic.Int64
	handler  FaultHandler
}

// NewProvisioner creates a provisioner whose workers report escaped panics
// to handler.
func NewProvisioner(prefix string, handler FaultHandler) (*Provisioner, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: fault handler is required", tickclock.ErrInvalidArgument)
	}
	if prefix == "" {
		prefix = "tick-worker"
	}

	return &Provisioner{
		prefix:   prefix,
		instance: instanceCount.Add(1) - 1,
		handler:  handler,
	}, nil
}

// Instance returns the provisioner's process-wide instance number.
func (p *Provisioner) Instance() int64 {
	return p.instance
}

// NewWorker returns a ready-to-start worker for task. The worker name is
// <prefix>-<instance>-<seq>-<desc>.
func (p *Provisioner) NewWorker(desc string, task func()) (*Worker, error) {
	if task == nil {
		return nil, fmt.Errorf("%w: task is required", tickclock.ErrInvalidArgument)
	}

	seq := p.seq.Add(1) - 1
	return &Worker{
		name:    fmt.Sprintf("%s-%d-%d-%s", p.prefix, p.instance, seq, desc),
		task:    task,
		handler: p.handler,
	}, nil
}

// Worker is a single provisioned goroutine. Goroutines never keep the process
// alive, so a worker behaves like a daemon thread.
type Worker struct {
	name    string
	task    func()
	handler FaultHandler
	started atomic.Bool
}

// Name returns the worker's diagnosable identity. It is also attached to the
// goroutine as the "worker" pprof label.
func (w *Worker) Name() string {
	return w.name
}

// Start launches the worker goroutine.
func (w *Worker) Start() error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: worker %s already started", tickclock.ErrIllegalState, w.name)
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.handler(w, r)
			}
		}()

		pprof.Do(context.Background(), pprof.Labels("worker", w.name), func(context.Context) {
			w.task()
		})
	}()
	return nil
}
