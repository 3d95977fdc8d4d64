package collabkit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// lockManager hands out field-level leases backed by the record's revision
// check. The store is the only ordering authority: two simultaneous acquires
// race on the revision and exactly one write lands.
type lockManager struct {
	store  *recordStore
	clock  Clock
	actor  Actor
	log    *zap.Logger
	events *eventHub

	leaseDuration time.Duration
	renewInterval time.Duration

	mu       sync.Mutex
	held     map[string]chan struct{} //lost channels, keyed by fieldPath
	inflight map[string]struct{}      //fields with an acquire or takeover in progress
	started  bool
	stop     chan struct{}
	done     chan struct{}
}

func newLockManager(s *Session) *lockManager {
	return &lockManager{
		store:         s.store,
		clock:         s.clock,
		actor:         s.actor,
		log:           s.log.Named("fieldlock"),
		events:        s.events,
		leaseDuration: s.leaseDuration,
		renewInterval: s.renewInterval,
		held:          map[string]chan struct{}{},
		inflight:      map[string]struct{}{},
	}
}

func (m *lockManager) start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.renewLoop()
	m.started = true
}

func (m *lockManager) stopRenew() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stop)
	<-m.done
}

// acquire takes a lease on fieldPath. On success it returns a channel that
// is closed once the lease is released or lost, so the UI can re-enable or
// re-claim the input. Contention comes back as *DeniedError with the current
// holder's display name.
func (m *lockManager) acquire(ctx context.Context, fieldPath string) (<-chan struct{}, error) {
	if err := m.beginOp(fieldPath); err != nil {
		return nil, err
	}
	defer m.endOp(fieldPath)

	var (
		denied  *DeniedError
		granted FieldLock
	)
	_, err := m.store.mutate(ctx, func(rec *Record) error {
		now := m.clock.Now()
		if cur, ok := rec.liveLock(fieldPath, now); ok && cur.HolderID != m.actor.ID {
			denied = &DeniedError{
				FieldPath:         fieldPath,
				HolderID:          cur.HolderID,
				HolderDisplayName: cur.HolderDisplayName,
			}
			return errSkipWrite
		}
		granted = m.newLease(now)
		rec.Locks[fieldPath] = granted
		return nil
	})
	switch {
	case denied != nil:
		return nil, denied
	case errors.Is(err, errCASMismatch):
		//lost the write race twice in a row, same as being beaten to it
		return nil, m.deniedFromStore(ctx, fieldPath)
	case err != nil:
		return nil, err
	}

	//a cancelled acquire that nonetheless landed must not leave a
	//half-acquired lock behind
	if ctx.Err() != nil {
		m.releaseStored(context.Background(), fieldPath)
		return nil, ctx.Err()
	}
	lost := m.track(fieldPath)
	m.events.emitFieldLock(fieldPath, &granted)
	return lost, nil
}

func (m *lockManager) newLease(now time.Time) FieldLock {
	return FieldLock{
		HolderID:          m.actor.ID,
		HolderDisplayName: m.actor.DisplayName,
		AcquiredAt:        now,
		ExpiresAt:         now.Add(m.leaseDuration),
	}
}

// deniedFromStore names the winner of a lost acquire race, best effort.
func (m *lockManager) deniedFromStore(ctx context.Context, fieldPath string) error {
	denied := &DeniedError{FieldPath: fieldPath}
	rec, err := m.store.get(ctx)
	if err != nil {
		return denied
	}
	if cur, ok := rec.liveLock(fieldPath, m.clock.Now()); ok && cur.HolderID != m.actor.ID {
		denied.HolderID = cur.HolderID
		denied.HolderDisplayName = cur.HolderDisplayName
	}
	return denied
}

// renew extends the lease relative to the renewal time, not the original
// acquisition. A lock that is absent or held by someone else is left alone.
func (m *lockManager) renew(ctx context.Context, fieldPath string) error {
	var lost bool
	_, err := m.store.mutate(ctx, func(rec *Record) error {
		now := m.clock.Now()
		cur, ok := rec.Locks[fieldPath]
		if !ok || !cur.heldBy(m.actor.ID, now) {
			lost = true
			return errSkipWrite
		}
		cur.ExpiresAt = now.Add(m.leaseDuration)
		rec.Locks[fieldPath] = cur
		return nil
	})
	if lost {
		m.untrack(fieldPath)
		return nil
	}
	if errors.Is(err, errCASMismatch) {
		//a missed renewal, the next tick has leaseDuration of slack
		m.log.Debug("renewal lost a revision race", zap.String("field", fieldPath))
		return nil
	}
	return err
}

func (m *lockManager) renewLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.renewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
		for _, fp := range m.heldFields() {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			if err := m.renew(ctx, fp); err != nil {
				//never aborts the edit, lease expiry is the backstop
				m.log.Warn("lease renewal failed", zap.String("field", fp), zap.Error(err))
			}
			cancel()
		}
	}
}

// release deletes the lock if this actor holds it. Releasing a lock that was
// already released, expired or taken over is a no-op, and the field is only
// reported free when our lock was actually removed: someone else may hold a
// live lease by now.
func (m *lockManager) release(ctx context.Context, fieldPath string) error {
	m.untrack(fieldPath)
	deleted, err := m.releaseStored(ctx, fieldPath)
	if err != nil {
		return err
	}
	if deleted {
		m.events.emitFieldLock(fieldPath, nil)
	}
	return nil
}

// releaseStored reports whether it removed this actor's lock from the record.
func (m *lockManager) releaseStored(ctx context.Context, fieldPath string) (bool, error) {
	var deleted bool
	_, err := m.store.mutate(ctx, func(rec *Record) error {
		deleted = false
		cur, ok := rec.Locks[fieldPath]
		if !ok || cur.HolderID != m.actor.ID {
			return errSkipWrite
		}
		delete(rec.Locks, fieldPath)
		deleted = true
		return nil
	})
	if errors.Is(err, errCASMismatch) {
		//someone force-took it or the sweeper got there, expiry is the backstop
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// forceTakeover evicts whoever holds the field and acquires it. This is the
// one operation that mutates another actor's key; callers must have explicit
// user confirmation before invoking it.
func (m *lockManager) forceTakeover(ctx context.Context, fieldPath string) (<-chan struct{}, error) {
	if err := m.beginOp(fieldPath); err != nil {
		return nil, err
	}
	defer m.endOp(fieldPath)

	var taken FieldLock
	_, err := m.store.mutate(ctx, func(rec *Record) error {
		taken = m.newLease(m.clock.Now())
		rec.Locks[fieldPath] = taken
		return nil
	})
	if errors.Is(err, errCASMismatch) {
		return nil, &TransientError{Op: "forceTakeover", Err: err}
	}
	if err != nil {
		return nil, err
	}
	lost := m.track(fieldPath)
	m.events.emitFieldLock(fieldPath, &taken)
	return lost, nil
}

// holder reports the live lock on fieldPath, if any. Expired locks are
// absent no matter what is physically stored.
func (m *lockManager) holder(ctx context.Context, fieldPath string) (*FieldLock, error) {
	rec, err := m.store.get(ctx)
	if err != nil {
		return nil, err
	}
	if l, ok := rec.liveLock(fieldPath, m.clock.Now()); ok {
		return &l, nil
	}
	return nil, nil
}

// releaseAll frees every lease this actor holds, best effort. Used on
// teardown; failures are logged because expiry will free them anyway.
func (m *lockManager) releaseAll(ctx context.Context) {
	for _, fp := range m.heldFields() {
		if err := m.release(ctx, fp); err != nil {
			m.log.Warn("release on teardown failed", zap.String("field", fp), zap.Error(err))
		}
	}
}

func (m *lockManager) beginOp(fieldPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[fieldPath]; busy {
		return ErrAcquireInFlight
	}
	m.inflight[fieldPath] = struct{}{}
	return nil
}

func (m *lockManager) endOp(fieldPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, fieldPath)
}

func (m *lockManager) track(fieldPath string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.held[fieldPath]; ok {
		return ch //re-acquire of a field we already hold keeps the channel
	}
	ch := make(chan struct{})
	m.held[fieldPath] = ch
	return ch
}

func (m *lockManager) untrack(fieldPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.held[fieldPath]; ok {
		close(ch)
		delete(m.held, fieldPath)
	}
}

func (m *lockManager) heldFields() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.held))
	for fp := range m.held {
		out = append(out, fp)
	}
	return out
}
