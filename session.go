package collabkit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	//per-call deadline for background loop writes
	opTimeout = 10 * time.Second
	//teardown is fire-and-forget, lease expiry covers whatever does not land
	teardownTimeout = 5 * time.Second
)

// Session is the single integration point for the UI layer: presence, field
// locks, save coordination and one event surface, bound to one document and
// one actor. All methods are safe for concurrent use.
type Session struct {
	store    *recordStore
	docID    string
	identity IdentityProvider
	clock    Clock
	log      *zap.Logger

	heartbeatInterval time.Duration
	presenceTimeout   time.Duration
	leaseDuration     time.Duration
	renewInterval     time.Duration
	watchInterval     time.Duration
	sweepInterval     time.Duration

	actor Actor

	events   *eventHub
	presence *presenceManager
	locks    *lockManager
	saver    *saveCoordinator
	watcher  *watcher
	sweeper  *sweeper

	mu      sync.Mutex
	started bool
	closed  bool
}

// DocumentID returns the document this session coordinates.
func (s *Session) DocumentID() string { return s.docID }

// Actor returns the local actor's identity.
func (s *Session) Actor() Actor { return s.actor }

// Start begins presence, captures the document version marker and starts the
// renewal, watch and sweep loops. Presence comes up before any lock is
// handed out: a lock holder must be a tracked, live actor. Idempotent.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	if err := s.presence.start(ctx); err != nil {
		return err
	}
	if err := s.saver.captureVersion(ctx); err != nil {
		s.presence.stopPresence(ctx)
		return err
	}
	s.locks.start()
	s.watcher.start()
	s.sweeper.start()
	s.started = true
	return nil
}

// Close releases every lock this actor holds, then stops presence and the
// background loops. Best effort with a bounded deadline: delivery is not
// guaranteed and does not need to be, lease expiry is the backstop.
// Idempotent; closing a never-started session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	s.watcher.stopWatch()
	s.sweeper.stopSweep()
	s.locks.stopRenew()
	s.locks.releaseAll(ctx)
	s.presence.stopPresence(ctx)
	return nil
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// ActiveEditors lists everyone else currently viewing the document.
func (s *Session) ActiveEditors(ctx context.Context) ([]PresenceEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.presence.activeEditors(ctx)
}

// Acquire takes a lease on fieldPath, typically on focus. On success the
// returned channel closes once the lease is released or lost. Contention is
// reported as *DeniedError, a normal outcome the UI renders as "locked by X".
func (s *Session) Acquire(ctx context.Context, fieldPath string) (<-chan struct{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.locks.acquire(ctx, fieldPath)
}

// Renew extends a lease this actor holds; absent or foreign locks are left
// alone. The session also renews held leases in the background.
func (s *Session) Renew(ctx context.Context, fieldPath string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.locks.renew(ctx, fieldPath)
}

// Release frees the lease on fieldPath, typically on blur. Releasing a lock
// that is absent or not ours is a no-op.
func (s *Session) Release(ctx context.Context, fieldPath string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.locks.release(ctx, fieldPath)
}

// ForceTakeover evicts the current holder and acquires fieldPath. Invoke
// only after the user explicitly confirmed the takeover warning.
func (s *Session) ForceTakeover(ctx context.Context, fieldPath string) (<-chan struct{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.locks.forceTakeover(ctx, fieldPath)
}

// Holder returns the live lock on fieldPath, or nil when the field is free.
func (s *Session) Holder(ctx context.Context, fieldPath string) (*FieldLock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.locks.holder(ctx, fieldPath)
}

// CaptureVersion re-reads the version marker the next Save is conditional
// on. Start already captures once on load.
func (s *Session) CaptureVersion(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.saver.captureVersion(ctx)
}

// MarkDirty notes that local edits are pending, enabling early conflict
// warnings from background change notifications.
func (s *Session) MarkDirty() {
	s.saver.markDirty()
}

// State reports the save coordinator's view: Clean, Dirty or Conflicted.
func (s *Session) State() SaveState {
	return s.saver.currentState()
}

// Save writes payload conditionally on the captured version marker. A
// *ConflictError means someone else saved first and nothing was written; the
// user decides between ReloadLatest and ForceSave.
func (s *Session) Save(ctx context.Context, payload map[string]interface{}) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.saver.save(ctx, payload)
}

// ForceSave overwrites the document regardless of the version marker.
// Invoke only after the user explicitly confirmed "save anyway".
func (s *Session) ForceSave(ctx context.Context, payload map[string]interface{}) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.saver.forceSave(ctx, payload)
}

// ReloadLatest refetches the document, recaptures the version marker and
// returns the remote payload, discarding local edits.
func (s *Session) ReloadLatest(ctx context.Context) (map[string]interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.saver.reloadLatest(ctx)
}

// OnPresenceChanged subscribes to active-editor list changes.
func (s *Session) OnPresenceChanged(fn func(editors []PresenceEntry)) {
	s.events.onPresenceChanged(fn)
}

// OnFieldLockChanged subscribes to lock holder changes. holder is nil when
// the field became free.
func (s *Session) OnFieldLockChanged(fn func(fieldPath string, holder *FieldLock)) {
	s.events.onFieldLockChanged(fn)
}

// OnConflict subscribes to save conflicts, both those detected on a save
// attempt and those spotted early by change notifications.
func (s *Session) OnConflict(fn func(remoteUpdatedAt time.Time, remoteUpdatedBy string)) {
	s.events.onConflict(fn)
}
