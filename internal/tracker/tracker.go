// Package tracker owns the shared subscriber state: an in-memory mirror of
// per-subscriber records plus the manifest of all known subscriber ids,
// kept in sync with the persistent store by read-through resync.
//
// Locking contract: one mutex guards the whole cache. Mutating and blocking
// read operations wait on it; the poll scheduler must only ever use
// TryReverseIndex, which gives up immediately on contention so the
// scheduling loop is never stalled by a slow store round-trip.
package tracker

import (
	"context"
	"fmt"
	"sync"

	"slotwatch/internal/center"
	"slotwatch/internal/storage"
	logx "slotwatch/pkg/logx"
)

// UserID is a chat-platform subscriber id.
type UserID = int64

type Tracker struct {
	mu    sync.Mutex
	store storage.Store
	log   logx.Logger

	records  map[UserID]Record
	manifest []UserID
}

// New builds the tracker and warm-loads every record named by the manifest.
// A missing or corrupt manifest is not fatal: the cache starts empty and
// repopulates as subscribers interact.
func New(ctx context.Context, store storage.Store, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Tracker{
		store:   store,
		log:     log,
		records: map[UserID]Record{},
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncManifestLocked(ctx)
	for _, user := range t.manifest {
		rec, ok := t.loadRecordLocked(ctx, user)
		if !ok {
			t.log.Warn("could not load record for manifest member", logx.Int64("user", user))
			continue
		}
		t.records[user] = rec
	}
	t.log.Info("tracker warmed",
		logx.Int("manifest", len(t.manifest)),
		logx.Int("records", len(t.records)),
	)
	return t
}

// Track subscribes user to centerID, creating the record on first contact.
func (t *Tracker) Track(ctx context.Context, chatID int64, user UserID, centerID center.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resyncLocked(ctx, user)

	rec, exists := t.records[user]
	if exists && rec.tracks(centerID) {
		return ErrAlreadyTracking
	}
	if !exists {
		rec = Record{ChatID: chatID}
	}
	rec = rec.Clone()
	rec.Subscriptions = append(rec.Subscriptions, centerID)

	t.records[user] = rec
	return t.writeRecordLocked(ctx, user, rec)
}

// Untrack removes centerID from user's subscriptions.
func (t *Tracker) Untrack(ctx context.Context, user UserID, centerID center.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resyncLocked(ctx, user)

	rec, exists := t.records[user]
	if !exists {
		return ErrNotTrackingAny
	}
	idx := -1
	for i, c := range rec.Subscriptions {
		if c == centerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotTracking
	}
	rec = rec.Clone()
	rec.Subscriptions = append(rec.Subscriptions[:idx], rec.Subscriptions[idx+1:]...)

	t.records[user] = rec
	return t.writeRecordLocked(ctx, user, rec)
}

// SubscriberData resyncs and returns the user's record, if any.
func (t *Tracker) SubscriberData(ctx context.Context, user UserID) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resyncLocked(ctx, user)

	rec, ok := t.records[user]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Subscribers returns the ids currently tracking centerID (blocking read).
func (t *Tracker) Subscribers(centerID center.ID) []UserID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reverseIndexLocked()[centerID]
}

// ReverseIndex returns center id -> subscriber ids (blocking read).
func (t *Tracker) ReverseIndex() map[center.ID][]UserID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reverseIndexLocked()
}

// TryReverseIndex is the scheduler's non-blocking variant. ok=false means
// the cache lock was held elsewhere and the caller should retry shortly.
func (t *Tracker) TryReverseIndex() (map[center.ID][]UserID, bool) {
	if !t.mu.TryLock() {
		return nil, false
	}
	defer t.mu.Unlock()
	return t.reverseIndexLocked(), true
}

// RefreshAll re-reads the manifest and every member record from the store.
// Run from the maintenance schedule; the lock is held for the duration.
func (t *Tracker) RefreshAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncManifestLocked(ctx)
	refreshed := 0
	for _, user := range t.manifest {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, ok := t.loadRecordLocked(ctx, user)
		if !ok {
			continue
		}
		t.records[user] = rec
		refreshed++
	}
	t.log.Info("tracker refreshed",
		logx.Int("manifest", len(t.manifest)),
		logx.Int("records", refreshed),
	)
	return nil
}

// resyncLocked is the read-through step that precedes every read or
// mutation: reload the manifest, then this subscriber's record. Failures
// leave the previous in-memory state in place.
func (t *Tracker) resyncLocked(ctx context.Context, user UserID) {
	t.syncManifestLocked(ctx)

	if rec, ok := t.loadRecordLocked(ctx, user); ok {
		t.records[user] = rec
	}
}

func (t *Tracker) syncManifestLocked(ctx context.Context) {
	raw, ok, err := t.store.Get(ctx, manifestKey)
	if err != nil {
		t.log.Warn("could not read manifest", logx.Err(err))
		return
	}
	if !ok {
		t.log.Debug("manifest not present in store")
		return
	}
	users, err := decodeManifest(raw)
	if err != nil {
		// Keep the previous in-memory manifest rather than adopt garbage.
		t.log.Warn("could not parse manifest", logx.Err(err))
		return
	}
	t.manifest = users
}

func (t *Tracker) loadRecordLocked(ctx context.Context, user UserID) (Record, bool) {
	raw, ok, err := t.store.Get(ctx, userKey(user))
	if err != nil {
		t.log.Warn("could not read record", logx.Int64("user", user), logx.Err(err))
		return Record{}, false
	}
	if !ok {
		return Record{}, false
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		t.log.Warn("could not parse record", logx.Int64("user", user), logx.Err(err))
		return Record{}, false
	}
	return rec, true
}

// writeRecordLocked persists the record, first making sure the subscriber
// is reachable through the manifest.
func (t *Tracker) writeRecordLocked(ctx context.Context, user UserID, rec Record) error {
	t.ensureInManifestLocked(ctx, user)

	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := t.store.Set(ctx, userKey(user), raw); err != nil {
		return fmt.Errorf("persist record for %d: %w", user, err)
	}
	return nil
}

// ensureInManifestLocked appends user to the stored manifest if absent.
//
// When the stored manifest is missing or unparsable it is recreated with
// only this subscriber. That can drop other subscribers' membership under
// store corruption or a concurrent writer; it is deliberate last-write-wins
// behavior and is logged loudly when it happens.
func (t *Tracker) ensureInManifestLocked(ctx context.Context, user UserID) {
	raw, ok, err := t.store.Get(ctx, manifestKey)
	if err == nil && ok {
		users, derr := decodeManifest(raw)
		if derr == nil {
			if containsUser(users, user) {
				t.manifest = users
				return
			}
			users = append(users, user)
			t.manifest = users
			t.persistManifestLocked(ctx, users)
			return
		}
		t.log.Warn("could not parse manifest", logx.Err(derr))
	} else if err != nil {
		t.log.Warn("could not read manifest", logx.Err(err))
	}

	t.log.Warn("recreating manifest from scratch", logx.Int64("user", user))
	t.manifest = []UserID{user}
	t.persistManifestLocked(ctx, t.manifest)
}

func (t *Tracker) persistManifestLocked(ctx context.Context, users []UserID) {
	raw, err := encodeManifest(users)
	if err != nil {
		t.log.Warn("could not encode manifest", logx.Err(err))
		return
	}
	if err := t.store.Set(ctx, manifestKey, raw); err != nil {
		t.log.Warn("could not persist manifest", logx.Err(err))
	}
}

// reverseIndexLocked derives center id -> subscriber ids. A subscriber
// contributes only if it is both in the manifest and present in the cache.
func (t *Tracker) reverseIndexLocked() map[center.ID][]UserID {
	out := map[center.ID][]UserID{}
	for _, user := range t.manifest {
		rec, ok := t.records[user]
		if !ok {
			continue
		}
		for _, c := range rec.Subscriptions {
			out[c] = append(out[c], user)
		}
	}
	return out
}

func containsUser(users []UserID, user UserID) bool {
	for _, u := range users {
		if u == user {
			return true
		}
	}
	return false
}
