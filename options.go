package collabkit

import (
	"time"

	"go.uber.org/zap"
)

// SessionBuilder configures a Session before it is wired together.
type SessionBuilder struct {
	s *Session
}

// New prepares a coordination session for one document in the given
// collection.
//
// Default windows: heartbeat every 60s with a 300s presence timeout, 90s
// field leases renewed every 30s. A lease outlives one missed renewal but
// expires well before the holder's presence entry goes stale, so a crashed
// editor's locks free up first.
func New(collection Collection, documentID string) *SessionBuilder {
	log := zap.NewNop()
	return &SessionBuilder{s: &Session{
		store:    &recordStore{coll: collection, docID: documentID, log: log},
		docID:    documentID,
		identity: StaticIdentity("", ""),
		clock:    systemClock{},
		log:      log,

		heartbeatInterval: 60 * time.Second,
		presenceTimeout:   300 * time.Second,
		leaseDuration:     90 * time.Second,
		renewInterval:     30 * time.Second,
		watchInterval:     2 * time.Second,
		sweepInterval:     300 * time.Second,
	}}
}

// WithIdentity sets the identity provider for the local actor.
func (b *SessionBuilder) WithIdentity(p IdentityProvider) *SessionBuilder {
	b.s.identity = p
	return b
}

// WithClock replaces the wall clock, mostly for tests.
func (b *SessionBuilder) WithClock(c Clock) *SessionBuilder {
	b.s.clock = c
	return b
}

// WithLogger sets the structured logger. Default is a no-op logger.
func (b *SessionBuilder) WithLogger(l *zap.Logger) *SessionBuilder {
	b.s.log = l
	b.s.store.log = l
	return b
}

// WithHeartbeatInterval sets how often this actor's presence entry is
// refreshed.
func (b *SessionBuilder) WithHeartbeatInterval(d time.Duration) *SessionBuilder {
	b.s.heartbeatInterval = d
	return b
}

// WithPresenceTimeout sets how old a heartbeat may be before the entry is
// considered stale by readers.
func (b *SessionBuilder) WithPresenceTimeout(d time.Duration) *SessionBuilder {
	b.s.presenceTimeout = d
	return b
}

// WithLeaseDuration sets the field lock lease length. Renewal runs at a
// third of it so one missed renewal does not spuriously unlock the field.
func (b *SessionBuilder) WithLeaseDuration(d time.Duration) *SessionBuilder {
	b.s.leaseDuration = d
	b.s.renewInterval = d / 3
	return b
}

// WithWatchInterval sets the change-notification polling cadence.
func (b *SessionBuilder) WithWatchInterval(d time.Duration) *SessionBuilder {
	b.s.watchInterval = d
	return b
}

// WithSweepInterval sets how often this client volunteers to clean up stale
// entries.
func (b *SessionBuilder) WithSweepInterval(d time.Duration) *SessionBuilder {
	b.s.sweepInterval = d
	return b
}

// Build wires the managers together and returns the session. Call Start on
// it before any lock or save operation.
func (b *SessionBuilder) Build() *Session {
	s := b.s
	s.actor = s.identity.CurrentActor()
	s.events = newEventHub()
	s.saver = newSaveCoordinator(s)
	s.presence = newPresenceManager(s)
	s.locks = newLockManager(s)
	s.watcher = newWatcher(s)
	s.sweeper = newSweeper(s)
	return s
}
