package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahmed-com/tickclock"
	"github.com/ahmed-com/tickclock/storage"
)

// RestartRestorer brings a faulted clock back by stopping and starting it.
// Overruns additionally stretch the tick period by BackoffFactor.
type RestartRestorer struct {
	// BackoffFactor multiplies the tick period after an overrun. Values of
	// 1 or less leave the period alone.
	BackoffFactor float64
	// MaxTickDuration caps the stretched period. Zero means no cap.
	MaxTickDuration time.Duration
	// MaxRestarts bounds how often the clock is restarted. Once spent the
	// clock is left STOPPED. Zero means unlimited.
	MaxRestarts int
	Logger      *zap.Logger

	mu       sync.Mutex
	restarts int
}

// Restore implements tickclock.Restorer.
func (r *RestartRestorer) Restore(c tickclock.Clock, fault *tickclock.Fault) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("clock", c.ID()))

	switch c.State() {
	case tickclock.StateShutdown:
		return
	case tickclock.StateRunning, tickclock.StatePaused:
		if err := c.Stop(); err != nil {
			logger.Error("stop before restart failed", zap.Error(err))
			return
		}
	}

	r.mu.Lock()
	if r.MaxRestarts > 0 && r.restarts >= r.MaxRestarts {
		r.mu.Unlock()
		logger.Warn("restart budget exhausted, leaving clock stopped", zap.Int("restarts", r.MaxRestarts))
		return
	}
	r.restarts++
	attempt := r.restarts
	r.mu.Unlock()

	if fault != nil && fault.Kind == tickclock.FaultOverrun {
		r.stretch(c, logger)
	}

	if err := c.Start(); err != nil {
		logger.Error("restart failed", zap.Int("attempt", attempt), zap.Error(err))
		return
	}
	logger.Info("clock restarted", zap.Int("attempt", attempt), zap.String("fault", kindOf(fault)))
}

func (r *RestartRestorer) stretch(c tickclock.Clock, logger *zap.Logger) {
	if r.BackoffFactor <= 1 {
		return
	}

	cur, err := c.TickDuration(time.Nanosecond)
	if err != nil {
		logger.Error("read tick duration", zap.Error(err))
		return
	}

	next := time.Duration(float64(cur) * r.BackoffFactor)
	if r.MaxTickDuration > 0 && next > r.MaxTickDuration {
		next = r.MaxTickDuration
	}
	if next <= time.Duration(cur) {
		return
	}

	if err := c.SetTickDuration(int64(next), time.Nanosecond); err != nil {
		logger.Error("stretch tick duration", zap.Error(err))
		return
	}
	logger.Warn("tick duration stretched after overrun",
		zap.Duration("from", time.Duration(cur)),
		zap.Duration("to", next),
	)
}

// Restarts returns how many times the clock was restarted.
func (r *RestartRestorer) Restarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

func kindOf(fault *tickclock.Fault) string {
	if fault == nil {
		return "none"
	}
	return string(fault.Kind)
}

// JournalRestorer records every fault before handing it to Next.
type JournalRestorer struct {
	Journal storage.Journal
	Next    tickclock.Restorer
	Logger  *zap.Logger
	// Timeout bounds each journal write. Defaults to five seconds.
	Timeout time.Duration
}

// Restore implements tickclock.Restorer.
func (r *JournalRestorer) Restore(c tickclock.Clock, fault *tickclock.Fault) {
	if fault != nil && r.Journal != nil {
		r.record(fault)
	}
	if r.Next != nil {
		r.Next.Restore(c, fault)
	}
}

func (r *JournalRestorer) record(fault *tickclock.Fault) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := r.Journal.RecordFault(ctx, storage.NewFaultRecord(fault, time.Now())); err != nil && r.Logger != nil {
		r.Logger.Error("record fault", zap.String("fault", fault.ID), zap.Error(err))
	}
}

// Chain returns a restorer that calls each of restorers in order.
func Chain(restorers ...tickclock.Restorer) tickclock.Restorer {
	return tickclock.RestorerFunc(func(c tickclock.Clock, fault *tickclock.Fault) {
		for _, r := range restorers {
			if r != nil {
				r.Restore(c, fault)
			}
		}
	})
}
