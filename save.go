package collabkit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SaveState tracks the local document's relation to the shared record.
type SaveState int32

const (
	// StateClean means the captured version marker matches the remote one and
	// no local edits are pending.
	StateClean SaveState = iota
	// StateDirty means local edits are pending and the marker still matches.
	StateDirty
	// StateConflicted means the remote marker advanced past the captured one
	// while local edits were pending. Resolved by ReloadLatest or ForceSave.
	StateConflicted
)

func (s SaveState) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateConflicted:
		return "conflicted"
	default:
		return "unknown"
	}
}

// saveCoordinator implements optimistic concurrency on whole-document saves:
// capture the version marker on load, write conditionally on it, and surface
// a conflict for a human decision on mismatch. Conflicts are expected and
// recoverable, they are never logged as errors.
type saveCoordinator struct {
	store  *recordStore
	clock  Clock
	actor  Actor
	log    *zap.Logger
	events *eventHub

	mu         sync.Mutex
	capturedAt time.Time
	state      SaveState
}

func newSaveCoordinator(s *Session) *saveCoordinator {
	return &saveCoordinator{
		store:  s.store,
		clock:  s.clock,
		actor:  s.actor,
		log:    s.log.Named("save"),
		events: s.events,
	}
}

// captureVersion records the current version marker. Called once on document
// load; every later save is conditional on the value captured here.
func (c *saveCoordinator) captureVersion(ctx context.Context) error {
	rec, err := c.store.get(ctx)
	if err != nil {
		return err
	}
	c.recapture(rec.UpdatedAt)
	return nil
}

func (c *saveCoordinator) recapture(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturedAt = at
	c.state = StateClean
}

// markDirty notes that local edits are pending. Conflicted stays conflicted.
func (c *saveCoordinator) markDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClean {
		c.state = StateDirty
	}
}

func (c *saveCoordinator) currentState() SaveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// save writes payload conditionally on the captured version marker. On
// mismatch nothing is written and a *ConflictError carries who advanced the
// document and when. A store failure leaves the state Dirty, it never
// silently pretends the save landed.
func (c *saveCoordinator) save(ctx context.Context, payload map[string]interface{}) error {
	c.mu.Lock()
	captured := c.capturedAt
	c.mu.Unlock()

	var conflict *ConflictError
	rec, err := c.store.mutate(ctx, func(rec *Record) error {
		if !rec.UpdatedAt.Equal(captured) {
			conflict = &ConflictError{
				RemoteUpdatedAt: rec.UpdatedAt,
				RemoteUpdatedBy: rec.UpdatedBy,
			}
			return errSkipWrite
		}
		rec.Payload = payload
		rec.UpdatedAt = c.nextVersion(rec.UpdatedAt)
		rec.UpdatedBy = c.actor.ID
		return nil
	})
	switch {
	case conflict != nil:
		c.setConflicted(conflict)
		return conflict
	case errors.Is(err, errCASMismatch):
		//the marker still matched on every re-read, so the contention came
		//from presence or lock writes, not a competing save
		return &TransientError{Op: "save", Err: err}
	case err != nil:
		return err
	}
	c.recapture(rec.UpdatedAt)
	return nil
}

// forceSave overwrites the document regardless of the version marker, still
// advancing it so later savers see this write.
func (c *saveCoordinator) forceSave(ctx context.Context, payload map[string]interface{}) error {
	rec, err := c.store.get(ctx)
	if err != nil {
		return err
	}
	rec.Payload = payload
	rec.UpdatedAt = c.nextVersion(rec.UpdatedAt)
	rec.UpdatedBy = c.actor.ID
	if err := c.store.forcePut(ctx, rec); err != nil {
		return err
	}
	c.recapture(rec.UpdatedAt)
	return nil
}

// reloadLatest refetches the document, recaptures the version marker and
// returns the remote payload. Local edits are the caller's to discard.
func (c *saveCoordinator) reloadLatest(ctx context.Context) (map[string]interface{}, error) {
	rec, err := c.store.get(ctx)
	if err != nil {
		return nil, err
	}
	c.recapture(rec.UpdatedAt)
	return rec.Payload, nil
}

// nextVersion strictly advances the marker even when editor clocks disagree.
func (c *saveCoordinator) nextVersion(prev time.Time) time.Time {
	now := c.clock.Now()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

func (c *saveCoordinator) setConflicted(conflict *ConflictError) {
	c.mu.Lock()
	c.state = StateConflicted
	c.mu.Unlock()
	c.log.Info("save conflict detected",
		zap.String("remote_actor", conflict.RemoteUpdatedBy),
		zap.Time("remote_updated_at", conflict.RemoteUpdatedAt))
	c.events.emitConflict(conflict.RemoteUpdatedAt, conflict.RemoteUpdatedBy)
}

// observeRemote flips Dirty to Conflicted when a change notification shows
// the marker advanced past the captured value, so the UI can warn before the
// user even attempts to save.
func (c *saveCoordinator) observeRemote(rec *Record) {
	c.mu.Lock()
	if c.state != StateDirty || !rec.UpdatedAt.After(c.capturedAt) {
		c.mu.Unlock()
		return
	}
	c.state = StateConflicted
	at, by := rec.UpdatedAt, rec.UpdatedBy
	c.mu.Unlock()
	c.events.emitConflict(at, by)
}
