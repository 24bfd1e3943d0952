// Package watch is the polling pipeline: a timer-driven scheduler decides
// which centers are worth querying and a single worker goroutine performs
// the slot queries and notification fan-out, connected by a FIFO queue of
// work items.
package watch

import (
	"context"
	"errors"
	"time"

	"slotwatch/internal/center"
	"slotwatch/internal/slotsource"
	"slotwatch/internal/tracker"
	kit "slotwatch/internal/transport"
)

var (
	// ErrQueueFull means the worker is behind and this work item was dropped.
	// Recovery is the next scheduled poll; never fatal.
	ErrQueueFull = errors.New("work queue full")
)

type itemKind uint8

const (
	itemPoll itemKind = iota + 1
	itemNotify
	itemShutdown
)

// item is one unit of deferred work handed from the scheduler to the
// worker. It lives for exactly one pass through the queue.
type item struct {
	kind   itemKind
	center center.ID
	slots  []slotsource.Slot
}

// Window is the eligibility date range for notifying about a slot. A zero
// bound is open-ended. Comparison is by calendar day.
type Window struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w Window) Contains(t time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if !w.NotBefore.IsZero() && day.Before(w.NotBefore) {
		return false
	}
	if !w.NotAfter.IsZero() && day.After(w.NotAfter) {
		return false
	}
	return true
}

// SlotSource performs the external query for open slots at a location.
type SlotSource interface {
	Soonest(ctx context.Context, locationID center.ID) ([]slotsource.Slot, error)
}

// Notifier delivers one formatted message to a chat destination.
type Notifier interface {
	SendMarkdown(ctx context.Context, to kit.ChatTarget, text string) error
}

// Directory is the slice of the tracker the pipeline consumes.
type Directory interface {
	// TryReverseIndex must not block; ok=false signals lock contention.
	TryReverseIndex() (map[center.ID][]tracker.UserID, bool)
	Subscribers(centerID center.ID) []tracker.UserID
	SubscriberData(ctx context.Context, user tracker.UserID) (tracker.Record, bool)
}
