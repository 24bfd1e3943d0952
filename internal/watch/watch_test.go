package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"slotwatch/internal/center"
	"slotwatch/internal/slotsource"
	"slotwatch/internal/tracker"
	kit "slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

// ---- fakes ----

type fakeSource struct {
	mu    sync.Mutex
	slots []slotsource.Slot
	err   error
	calls int
}

func (f *fakeSource) Soonest(ctx context.Context, locationID center.ID) ([]slotsource.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.slots, f.err
}

type fakeDirectory struct {
	index   map[center.ID][]tracker.UserID
	records map[tracker.UserID]tracker.Record
	tryOK   bool
}

func (f *fakeDirectory) TryReverseIndex() (map[center.ID][]tracker.UserID, bool) {
	if !f.tryOK {
		return nil, false
	}
	return f.index, true
}

func (f *fakeDirectory) Subscribers(centerID center.ID) []tracker.UserID {
	return f.index[centerID]
}

func (f *fakeDirectory) SubscriberData(ctx context.Context, user tracker.UserID) (tracker.Record, bool) {
	rec, ok := f.records[user]
	return rec, ok
}

type sentMsg struct {
	to   kit.ChatTarget
	text string
}

type fakeNotifier struct {
	sent chan sentMsg
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(chan sentMsg, 16)}
}

func (f *fakeNotifier) SendMarkdown(ctx context.Context, to kit.ChatTarget, text string) error {
	f.sent <- sentMsg{to: to, text: text}
	return nil
}

func testCatalog(t *testing.T) *center.Catalog {
	t.Helper()
	cat, err := center.NewCatalog([]center.Center{
		{ID: 7, ShortName: "nx", FullName: "Nexus Center", Address: "1 Main St"},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return cat
}

func openWindow() Window { return Window{} }

func newTestWorker(t *testing.T, src SlotSource, dir Directory, n Notifier, win Window) *Worker {
	t.Helper()
	return NewWorker(WorkerConfig{
		QueueSize:   16,
		ScheduleURL: "https://example.test/schedule",
		Window:      win,
	}, src, dir, n, testCatalog(t), logx.Nop())
}

// runUntilShutdown drives the worker until a shutdown item is processed.
func runUntilShutdown(t *testing.T, w *Worker) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		_ = w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// ---- worker ----

func TestPollEmptyResultProducesNoNotify(t *testing.T) {
	src := &fakeSource{}
	dir := &fakeDirectory{index: map[center.ID][]tracker.UserID{7: {42}}}
	n := newFakeNotifier()
	w := newTestWorker(t, src, dir, n, openWindow())

	if err := w.EnqueuePoll(7); err != nil {
		t.Fatalf("EnqueuePoll: %v", err)
	}
	if err := w.EnqueueShutdown(); err != nil {
		t.Fatalf("EnqueueShutdown: %v", err)
	}
	runUntilShutdown(t, w)

	if src.calls != 1 {
		t.Fatalf("source calls = %d, want 1", src.calls)
	}
	if len(w.queue) != 0 {
		t.Fatalf("queue not empty after empty poll: %d items", len(w.queue))
	}
	if len(n.sent) != 0 {
		t.Fatalf("unexpected notifications: %d", len(n.sent))
	}
}

func TestPollFailureIsDropped(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	dir := &fakeDirectory{index: map[center.ID][]tracker.UserID{7: {42}}}
	n := newFakeNotifier()
	w := newTestWorker(t, src, dir, n, openWindow())

	if err := w.EnqueuePoll(7); err != nil {
		t.Fatalf("EnqueuePoll: %v", err)
	}
	if err := w.EnqueueShutdown(); err != nil {
		t.Fatalf("EnqueueShutdown: %v", err)
	}
	runUntilShutdown(t, w)

	if len(w.queue) != 0 || len(n.sent) != 0 {
		t.Fatalf("failed poll left work behind: queue=%d sent=%d", len(w.queue), len(n.sent))
	}
}

func TestPollWithSlotsNotifiesSubscriber(t *testing.T) {
	src := &fakeSource{slots: []slotsource.Slot{
		{LocationID: 7, StartTimestamp: "2026-09-10T09:30"},
		{LocationID: 7, StartTimestamp: "2026-12-01T10:00"}, // outside window
	}}
	dir := &fakeDirectory{
		index:   map[center.ID][]tracker.UserID{7: {42}},
		records: map[tracker.UserID]tracker.Record{42: {Subscriptions: []center.ID{7}, ChatID: 555}},
	}
	n := newFakeNotifier()
	win := Window{
		NotBefore: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:  time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
	}
	w := newTestWorker(t, src, dir, n, win)

	if err := w.EnqueuePoll(7); err != nil {
		t.Fatalf("EnqueuePoll: %v", err)
	}

	go func() { _ = w.Run(context.Background()) }()

	var got sentMsg
	select {
	case got = <-n.sent:
	case <-time.After(5 * time.Second):
		t.Fatal("no notification arrived")
	}
	if err := w.EnqueueShutdown(); err != nil {
		t.Fatalf("EnqueueShutdown: %v", err)
	}

	if got.to.ChatID != 555 {
		t.Fatalf("notified chat %d, want 555", got.to.ChatID)
	}
	if !strings.Contains(got.text, "Nexus Center") {
		t.Fatalf("message does not name the center: %q", got.text)
	}
	if !strings.Contains(got.text, "Schedule appointment") {
		t.Fatalf("message has no scheduling link: %q", got.text)
	}

	// The out-of-window slot must not produce a second send.
	select {
	case extra := <-n.sent:
		t.Fatalf("unexpected extra notification: %q", extra.text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifyWithoutSubscribersIsNoop(t *testing.T) {
	src := &fakeSource{slots: []slotsource.Slot{{LocationID: 7, StartTimestamp: "2026-09-10T09:30"}}}
	dir := &fakeDirectory{index: map[center.ID][]tracker.UserID{}}
	n := newFakeNotifier()
	w := newTestWorker(t, src, dir, n, openWindow())

	if err := w.EnqueuePoll(7); err != nil {
		t.Fatalf("EnqueuePoll: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = w.Run(context.Background())
		close(done)
	}()
	// Give the poll->notify round trip a moment, then stop.
	time.Sleep(100 * time.Millisecond)
	if err := w.EnqueueShutdown(); err != nil {
		t.Fatalf("EnqueueShutdown: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	if len(n.sent) != 0 {
		t.Fatalf("notified %d times for a center without subscribers", len(n.sent))
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	w := newTestWorker(t, &fakeSource{}, &fakeDirectory{}, newFakeNotifier(), openWindow())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker ignored context cancellation")
	}
}

// ---- scheduler ----

type fakeQueue struct {
	mu        sync.Mutex
	polls     []center.ID
	shutdowns int
	err       error
}

func (f *fakeQueue) EnqueuePoll(centerID center.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.polls = append(f.polls, centerID)
	return nil
}

func (f *fakeQueue) EnqueueShutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}

func TestAdvanceEnqueuesEverySubscribedCenter(t *testing.T) {
	dir := &fakeDirectory{
		tryOK: true,
		index: map[center.ID][]tracker.UserID{7: {42}, 9: {42, 43}},
	}
	q := &fakeQueue{}
	s := NewScheduler(SchedulerConfig{PollInterval: 15 * time.Second, RetryInterval: time.Second}, dir, q, logx.Nop())

	if d := s.advance(); d != 15*time.Second {
		t.Fatalf("advance = %v, want 15s", d)
	}
	if len(q.polls) != 2 {
		t.Fatalf("enqueued %d polls, want 2: %v", len(q.polls), q.polls)
	}
}

func TestAdvanceDefersOnLockContention(t *testing.T) {
	dir := &fakeDirectory{tryOK: false}
	q := &fakeQueue{}
	s := NewScheduler(SchedulerConfig{PollInterval: 15 * time.Second, RetryInterval: time.Second}, dir, q, logx.Nop())

	if d := s.advance(); d != time.Second {
		t.Fatalf("advance under contention = %v, want 1s", d)
	}
	if len(q.polls) != 0 {
		t.Fatalf("enqueued %d polls under contention, want 0", len(q.polls))
	}
}

func TestAdvanceSurvivesEnqueueFailure(t *testing.T) {
	dir := &fakeDirectory{
		tryOK: true,
		index: map[center.ID][]tracker.UserID{7: {42}, 9: {43}},
	}
	q := &fakeQueue{err: ErrQueueFull}
	s := NewScheduler(SchedulerConfig{}, dir, q, logx.Nop())

	if d := s.advance(); d != 15*time.Second {
		t.Fatalf("advance = %v, want default 15s despite enqueue failures", d)
	}
}

func TestSchedulerSendsShutdownOnCancel(t *testing.T) {
	dir := &fakeDirectory{tryOK: true, index: map[center.ID][]tracker.UserID{}}
	q := &fakeQueue{}
	s := NewScheduler(SchedulerConfig{}, dir, q, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdowns != 1 {
		t.Fatalf("shutdown sent %d times, want 1", q.shutdowns)
	}
}

// ---- window ----

func TestWindowContains(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	win := Window{NotBefore: day(2026, 9, 1), NotAfter: day(2026, 9, 30)}

	tests := []struct {
		name string
		win  Window
		t    time.Time
		want bool
	}{
		{name: "inside", win: win, t: time.Date(2026, 9, 15, 9, 30, 0, 0, time.UTC), want: true},
		{name: "first day counts", win: win, t: time.Date(2026, 9, 1, 23, 0, 0, 0, time.UTC), want: true},
		{name: "last day counts", win: win, t: time.Date(2026, 9, 30, 1, 0, 0, 0, time.UTC), want: true},
		{name: "before", win: win, t: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), want: false},
		{name: "after", win: win, t: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), want: false},
		{name: "open window accepts anything", win: Window{}, t: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC), want: true},
		{name: "only lower bound", win: Window{NotBefore: day(2026, 9, 1)}, t: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.win.Contains(tt.t); got != tt.want {
				t.Fatalf("Contains(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}
