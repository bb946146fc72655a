package tickclocktest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahmed-com/tickclock"
)

// handle is a minimal tickclock.Handle
type handle struct {
	name   string
	task   tickclock.Task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

func newHandle(ctx context.Context, name string, task tickclock.Task) *handle {
	ctx, cancel := context.WithCancel(ctx)
	return &handle{name: name, task: task, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// run executes the task once, capturing errors and panics. It reports false
// when the handle was already finished.
func (h *handle) run() bool {
	h.mu.Lock()
	if h.running || h.isDone() {
		h.mu.Unlock()
		return false
	}
	h.running = true
	h.mu.Unlock()

	err := capture(h.ctx, h.task)

	h.mu.Lock()
	h.err = err
	close(h.done)
	h.mu.Unlock()
	h.cancel()
	return true
}

func capture(ctx context.Context, task tickclock.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", tickclock.ErrPanic, r)
		}
	}()
	return task(ctx)
}

func (h *handle) isDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *handle) Done() bool { return h.isDone() }

func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isDone() {
		return false
	}
	h.cancel()
	if h.running {
		return false
	}
	h.err = context.Canceled
	close(h.done)
	return true
}

func (h *handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SequentialPool runs every task inline inside Submit.
type SequentialPool struct {
	mu        sync.Mutex
	submitted int
	stopped   bool
}

// Submit runs task to completion before returning its handle.
func (p *SequentialPool) Submit(ctx context.Context, name string, task tickclock.Task) (tickclock.Handle, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pool is shut down", tickclock.ErrIllegalState)
	}
	p.submitted++
	p.mu.Unlock()

	h := newHandle(ctx, name, task)
	h.run()
	return h, nil
}

// Shutdown refuses further submissions.
func (p *SequentialPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	return nil
}

// Submitted returns how many tasks were accepted.
func (p *SequentialPool) Submitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted
}

// ManualPool holds submitted tasks until the test runs them, which makes an
// unfinished cycle trivial to arrange.
type ManualPool struct {
	mu       sync.Mutex
	pending  []*handle
	all      []*handle
	stopped  bool
	failWith error
}

// FailSubmissions makes every later Submit return err. Pass nil to accept
// submissions again.
func (p *ManualPool) FailSubmissions(err error) {
	p.mu.Lock()
	p.failWith = err
	p.mu.Unlock()
}

// Submit queues task without running it.
func (p *ManualPool) Submit(ctx context.Context, name string, task tickclock.Task) (tickclock.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, fmt.Errorf("%w: pool is shut down", tickclock.ErrIllegalState)
	}
	if p.failWith != nil {
		return nil, p.failWith
	}
	h := newHandle(ctx, name, task)
	p.pending = append(p.pending, h)
	p.all = append(p.all, h)
	return h, nil
}

// Pending returns the number of queued tasks.
func (p *ManualPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Submitted returns the names of all accepted tasks in submission order.
func (p *ManualPool) Submitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, len(p.all))
	for i, h := range p.all {
		names[i] = h.name
	}
	return names
}

// RunAll runs every queued task on the calling goroutine and returns how
// many actually executed. Tasks canceled while queued are skipped.
func (p *ManualPool) RunAll() int {
	p.mu.Lock()
	queued := p.pending
	p.pending = nil
	p.mu.Unlock()

	ran := 0
	for _, h := range queued {
		if h.run() {
			ran++
		}
	}
	return ran
}

// Shutdown cancels every queued task and refuses further submissions.
func (p *ManualPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	queued := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, h := range queued {
		h.Cancel()
	}
	return nil
}
