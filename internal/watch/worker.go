package watch

import (
	"context"
	"sync"

	"slotwatch/internal/center"
	"slotwatch/internal/slotsource"
	kit "slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

type WorkerConfig struct {
	// QueueSize bounds the work item queue shared with the scheduler.
	QueueSize int
	// ScheduleURL is the fixed link included in every notification.
	ScheduleURL string
	// Window filters which slot dates are worth notifying about.
	Window Window
}

// Worker runs the slot queries and notification delivery on its own
// goroutine, strictly one item at a time, so network latency never delays
// the scheduling loop. Items are processed in arrival order; a poll that
// finds slots re-enqueues a notify item rather than fanning out inline,
// keeping all cache-touching logic behind one code path.
type Worker struct {
	queue chan item

	src      SlotSource
	dir      Directory
	notifier Notifier
	centers  *center.Catalog
	log      logx.Logger

	scheduleURL string

	winMu  sync.RWMutex
	window Window
}

func NewWorker(cfg WorkerConfig, src SlotSource, dir Directory, notifier Notifier, centers *center.Catalog, log logx.Logger) *Worker {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{
		queue:       make(chan item, size),
		src:         src,
		dir:         dir,
		notifier:    notifier,
		centers:     centers,
		log:         log,
		scheduleURL: cfg.ScheduleURL,
		window:      cfg.Window,
	}
}

// SetWindow swaps the eligibility window at runtime (config hot reload).
func (w *Worker) SetWindow(win Window) {
	w.winMu.Lock()
	w.window = win
	w.winMu.Unlock()
}

func (w *Worker) currentWindow() Window {
	w.winMu.RLock()
	defer w.winMu.RUnlock()
	return w.window
}

// EnqueuePoll queues a slot query for one center. Non-blocking: if the
// worker is behind, the item is dropped and the next scheduled poll covers it.
func (w *Worker) EnqueuePoll(centerID center.ID) error {
	return w.enqueue(item{kind: itemPoll, center: centerID})
}

// EnqueueShutdown asks the worker loop to return. Fire-and-forget.
func (w *Worker) EnqueueShutdown() error {
	return w.enqueue(item{kind: itemShutdown})
}

func (w *Worker) enqueue(it item) error {
	select {
	case w.queue <- it:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run is the worker loop. It blocks on the next item and fully completes
// it (including awaited I/O) before pulling another. Returns on a shutdown
// item or context cancellation, without draining the queue.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping (context)")
			return nil
		case it := <-w.queue:
			switch it.kind {
			case itemPoll:
				w.handlePoll(ctx, it.center)
			case itemNotify:
				w.handleNotify(ctx, it.center, it.slots)
			case itemShutdown:
				w.log.Info("worker stopping (shutdown item)")
				return nil
			}
		}
	}
}

func (w *Worker) handlePoll(ctx context.Context, centerID center.ID) {
	slots, err := w.src.Soonest(ctx, centerID)
	if err != nil {
		// No retry here; the next scheduled poll is the retry.
		w.log.Warn("slot query failed", logx.Uint32("center", centerID), logx.Err(err))
		return
	}
	if len(slots) == 0 {
		w.log.Info("no slots available", logx.Uint32("center", centerID))
		return
	}
	if err := w.enqueue(item{kind: itemNotify, center: centerID, slots: slots}); err != nil {
		w.log.Warn("could not queue notification pass",
			logx.Uint32("center", centerID), logx.Err(err))
	}
}

func (w *Worker) handleNotify(ctx context.Context, centerID center.ID, slots []slotsource.Slot) {
	if len(slots) == 0 {
		// Unreachable via handlePoll; guard against other producers.
		w.log.Warn("empty slot batch", logx.Uint32("center", centerID))
		return
	}

	users := w.dir.Subscribers(centerID)
	if len(users) == 0 {
		w.log.Info("center has no subscribers", logx.Uint32("center", centerID))
		return
	}

	win := w.currentWindow()
	for _, user := range users {
		rec, ok := w.dir.SubscriberData(ctx, user)
		if !ok {
			w.log.Warn("no record for subscriber; skipping", logx.Int64("user", user))
			continue
		}
		for _, slot := range slots {
			start, err := slot.Start()
			if err != nil {
				w.log.Warn("unparsable slot timestamp",
					logx.Uint32("center", centerID),
					logx.String("ts", slot.StartTimestamp),
				)
				continue
			}
			if !win.Contains(start) {
				continue
			}
			c, ok := w.centers.Get(slot.LocationID)
			if !ok {
				w.log.Warn("slot for unknown center", logx.Uint32("center", slot.LocationID))
				continue
			}
			msg := c.AvailabilityMessage(start, w.scheduleURL)
			to := kit.ChatTarget{ChatID: rec.ChatID}
			if err := w.notifier.SendMarkdown(ctx, to, msg); err != nil {
				// Already logged by the notifier; keep going for the rest.
				continue
			}
		}
	}
}
