package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ahmed-com/tickclock"
)

// WorkerPool runs submitted tasks on provisioned workers while limiting how
// many execute at once.
type WorkerPool struct {
	maxWorkers  int
	provisioner *Provisioner
	slots       chan struct{}
	queued      atomic.Int64
	wg          sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	futures map[*Future]struct{}
}

// NewWorkerPool creates a new worker pool with the specified max workers
func NewWorkerPool(maxWorkers int, provisioner *Provisioner) (*WorkerPool, error) {
	if provisioner == nil {
		return nil, fmt.Errorf("%w: provisioner is required", tickclock.ErrInvalidArgument)
	}
	if maxWorkers <= 0 {
		maxWorkers = 10 // default
	}

	return &WorkerPool{
		maxWorkers:  maxWorkers,
		provisioner: provisioner,
		slots:       make(chan struct{}, maxWorkers),
		futures:     make(map[*Future]struct{}),
	}, nil
}

// Submit hands task to a new worker. The task starts as soon as a slot is
// free; its error or panic is captured in the returned handle.
func (p *WorkerPool) Submit(ctx context.Context, name string, task tickclock.Task) (tickclock.Handle, error) {
	if task == nil {
		return nil, fmt.Errorf("%w: task is required", tickclock.ErrInvalidArgument)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, fmt.Errorf("%w: pool is shut down", tickclock.ErrIllegalState)
	}

	f := newFuture(ctx, name)
	w, err := p.provisioner.NewWorker(name, func() { p.run(f, task) })
	if err != nil {
		f.cancel()
		return nil, err
	}

	p.futures[f] = struct{}{}
	p.wg.Add(1)
	p.queued.Add(1)
	if err := w.Start(); err != nil {
		delete(p.futures, f)
		p.wg.Done()
		p.queued.Add(-1)
		f.cancel()
		return nil, err
	}
	return f, nil
}

// run is the body of every worker goroutine
func (p *WorkerPool) run(f *Future, task tickclock.Task) {
	defer p.wg.Done()
	defer p.forget(f)

	select {
	case p.slots <- struct{}{}:
		p.queued.Add(-1)
	case <-f.ctx.Done():
		p.queued.Add(-1)
		f.finish(tickclock.TaskStatusCanceled, f.ctx.Err())
		return
	}
	defer func() { <-p.slots }()

	if !f.markRunning() {
		return
	}

	f.finish(execute(f.ctx, task))
}

// execute runs task and converts a panic into an error
func execute(ctx context.Context, task tickclock.Task) (status tickclock.TaskStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = tickclock.TaskStatusFailed
			err = fmt.Errorf("%w: %v", tickclock.ErrPanic, r)
		}
	}()

	if err := task(ctx); err != nil {
		return tickclock.TaskStatusFailed, err
	}
	return tickclock.TaskStatusSuccess, nil
}

func (p *WorkerPool) forget(f *Future) {
	p.mu.Lock()
	delete(p.futures, f)
	p.mu.Unlock()
}

// Shutdown stops accepting tasks and waits for in-flight work until ctx
// ends. Work still outstanding at that point is canceled and ErrTimeout is
// returned.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	select {
	case <-done:
		return nil
	default:
	}

	p.mu.Lock()
	outstanding := len(p.futures)
	for f := range p.futures {
		f.Cancel()
	}
	p.mu.Unlock()

	return fmt.Errorf("%w: %d pool tasks still running", tickclock.ErrTimeout, outstanding)
}

// QueueLength returns the number of tasks waiting for a free slot
func (p *WorkerPool) QueueLength() int {
	return int(p.queued.Load())
}

// MaxWorkers returns the maximum number of workers in the pool
func (p *WorkerPool) MaxWorkers() int {
	return p.maxWorkers
}

// Future is the pool's tickclock.Handle implementation
type Future struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status tickclock.TaskStatus
	err    error
}

func newFuture(parent context.Context, name string) *Future {
	ctx, cancel := context.WithCancel(parent)
	return &Future{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		status: tickclock.TaskStatusPending,
	}
}

// Name returns the task name given at submission.
func (f *Future) Name() string {
	return f.name
}

// Status returns the task's current status.
func (f *Future) Status() tickclock.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Future) markRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != tickclock.TaskStatusPending {
		return false
	}
	f.status = tickclock.TaskStatusRunning
	return true
}

func (f *Future) finish(status tickclock.TaskStatus, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.done:
		return
	default:
	}
	f.status = status
	f.err = err
	close(f.done)
	f.cancel()
}

// Done reports whether the task reached a terminal status.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the captured error once the task is done.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Cancel prevents a pending task from starting. For a running task it only
// cancels the task context and returns false.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	switch f.status {
	case tickclock.TaskStatusPending:
		f.status = tickclock.TaskStatusCanceled
		f.err = context.Canceled
		close(f.done)
		f.mu.Unlock()
		f.cancel()
		return true
	case tickclock.TaskStatusRunning:
		f.mu.Unlock()
		f.cancel()
		return false
	}
	f.mu.Unlock()
	return false
}

// Wait blocks until the task is done or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
