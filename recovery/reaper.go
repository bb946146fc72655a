package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahmed-com/tickclock/storage"
	"github.com/ahmed-com/tickclock/ticker"
)

// Reaper periodically prunes fault records older than its retention window
type Reaper struct {
	journal   storage.Journal
	ticker    *ticker.CronTicker
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped chan struct{}
}

// NewReaper creates a reaper that fires on the cron expression schedule
func NewReaper(journal storage.Journal, expression string, retention time.Duration, logger *zap.Logger) (*Reaper, error) {
	if journal == nil {
		return nil, fmt.Errorf("journal is required")
	}
	if retention <= 0 {
		retention = 24 * time.Hour // default
	}
	if expression == "" {
		expression = "@hourly"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t, err := ticker.NewCronTicker(expression, "UTC")
	if err != nil {
		return nil, err
	}

	return &Reaper{
		journal:   journal,
		ticker:    t,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Start starts the reaper goroutine. It runs until ctx ends or Stop is called.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopCh != nil {
		return fmt.Errorf("reaper already started")
	}
	if err := r.ticker.Start(); err != nil {
		return err
	}

	r.stopCh = make(chan struct{})
	r.stopped = make(chan struct{})
	go r.run(ctx, r.stopCh, r.stopped)

	fields := []zap.Field{
		zap.String("schedule", r.ticker.Expression()),
		zap.Duration("retention", r.retention),
	}
	if next := r.NextRun(); next != nil {
		fields = append(fields, zap.Time("next_run", *next))
	}
	r.logger.Info("fault journal reaper started", fields...)
	return nil
}

// NextRun returns when the journal is pruned next, or nil if the schedule
// never fires again.
func (r *Reaper) NextRun() *time.Time {
	next, _ := r.ticker.NextRun()
	return next
}

// run is the main reaper loop
func (r *Reaper) run(ctx context.Context, stopCh, stopped chan struct{}) {
	defer close(stopped)
	defer r.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-r.ticker.Channel():
			r.ReapOnce(ctx)
		}
	}
}

// ReapOnce prunes expired records immediately and returns how many were
// removed.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.retention)

	removed, err := r.journal.PruneBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("prune fault journal", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}
	if removed > 0 {
		r.logger.Info("pruned fault journal", zap.Int("removed", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

// Stop stops the reaper and waits for its goroutine to exit
func (r *Reaper) Stop() {
	r.mu.Lock()
	stopCh, stopped := r.stopCh, r.stopped
	r.stopCh, r.stopped = nil, nil
	r.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-stopped

	if n := r.ticker.Dropped(); n > 0 {
		r.logger.Warn("reaper skipped firings while a prune was running", zap.Int64("dropped", n))
	}
}
