package watch

import (
	"context"
	"time"

	"slotwatch/internal/center"
	logx "slotwatch/pkg/logx"
)

type SchedulerConfig struct {
	// PollInterval is the cadence between polling passes.
	PollInterval time.Duration
	// RetryInterval is the accelerated re-check used when the tracker lock
	// was contended, so a busy cache never stalls polling for long.
	RetryInterval time.Duration
}

// queuer is the worker-side endpoint the scheduler produces into.
type queuer interface {
	EnqueuePoll(centerID center.ID) error
	EnqueueShutdown() error
}

// Scheduler decides when to poll and which centers to cover. Each pass is
// non-blocking: it try-reads the reverse index and either enqueues one poll
// per subscribed center (next pass in PollInterval) or, on lock contention,
// enqueues nothing and re-checks after RetryInterval. It never performs
// network or store I/O itself.
type Scheduler struct {
	interval time.Duration
	retry    time.Duration

	dir   Directory
	queue queuer
	log   logx.Logger
}

func NewScheduler(cfg SchedulerConfig, dir Directory, queue queuer, log logx.Logger) *Scheduler {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		interval: interval,
		retry:    retry,
		dir:      dir,
		queue:    queue,
		log:      log,
	}
}

// Run drives the scheduling loop: timer fires, advance enqueues work and
// computes the next deadline, the timer is re-armed. On cancellation a
// shutdown item is sent best-effort (the process is exiting anyway).
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.queue.EnqueueShutdown(); err != nil {
				s.log.Warn("could not send shutdown to worker", logx.Err(err))
			}
			s.log.Info("scheduler stopped")
			return nil
		case <-timer.C:
			timer.Reset(s.advance())
		}
	}
}

// advance performs one scheduling pass and returns the delay until the
// next one. A failed enqueue for one center never aborts the pass.
func (s *Scheduler) advance() time.Duration {
	idx, ok := s.dir.TryReverseIndex()
	if !ok {
		s.log.Debug("tracker busy; retrying shortly")
		return s.retry
	}

	for id := range idx {
		if err := s.queue.EnqueuePoll(id); err != nil {
			s.log.Warn("could not queue poll", logx.Uint32("center", id), logx.Err(err))
		}
	}
	if len(idx) > 0 {
		s.log.Debug("polling pass queued", logx.Int("centers", len(idx)))
	}
	return s.interval
}
