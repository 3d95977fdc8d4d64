package collabkit

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// presenceManager publishes this actor's liveness entry on the shared record
// and keeps it fresh. Presence is advisory: it affects what other editors
// see, never whether their operations succeed, so every failure here degrades
// gracefully instead of interrupting input.
type presenceManager struct {
	store *recordStore
	clock Clock
	actor Actor
	log   *zap.Logger

	heartbeatInterval time.Duration
	presenceTimeout   time.Duration

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func newPresenceManager(s *Session) *presenceManager {
	return &presenceManager{
		store:             s.store,
		clock:             s.clock,
		actor:             s.actor,
		log:               s.log.Named("presence"),
		heartbeatInterval: s.heartbeatInterval,
		presenceTimeout:   s.presenceTimeout,
	}
}

// start ensures the coordination record exists, publishes this actor's entry
// and begins heartbeat renewal. Idempotent.
func (p *presenceManager) start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.ensure(ctx); err != nil {
		return err
	}
	if err := p.publish(ctx); err != nil {
		return err
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.heartbeatLoop()
	p.started = true
	return nil
}

// publish overwrites this actor's own presence entry. Each actor only ever
// writes its own key; the revision retry inside mutate is only there so we
// never clobber unrelated concurrent writes to the record.
func (p *presenceManager) publish(ctx context.Context) error {
	_, err := p.store.mutate(ctx, func(rec *Record) error {
		rec.Presence[p.actor.ID] = PresenceEntry{
			ActorID:     p.actor.ID,
			DisplayName: p.actor.DisplayName,
			HeartbeatAt: p.clock.Now(),
		}
		return nil
	})
	return err
}

func (p *presenceManager) heartbeatLoop() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-time.After(p.heartbeatInterval + jitter(p.heartbeatInterval/10)):
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if err := p.publish(ctx); err != nil {
			//a missed heartbeat self-heals on the next successful tick
			p.log.Warn("heartbeat failed", zap.Error(err))
		}
		cancel()
	}
}

// stopPresence removes this actor's entry, best effort. Idempotent; calling
// it without a prior start is a no-op.
func (p *presenceManager) stopPresence(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stop)
	<-p.done
	_, err := p.store.mutate(ctx, func(rec *Record) error {
		if _, ok := rec.Presence[p.actor.ID]; !ok {
			return errSkipWrite
		}
		delete(rec.Presence, p.actor.ID)
		return nil
	})
	if err != nil {
		//the entry will go stale and readers already ignore stale entries
		p.log.Warn("could not remove presence entry", zap.Error(err))
	}
}

// activeEditors returns every live presence entry except the local actor,
// sorted by display name for stable rendering.
func (p *presenceManager) activeEditors(ctx context.Context) ([]PresenceEntry, error) {
	rec, err := p.store.get(ctx)
	if err != nil {
		return nil, err
	}
	return liveEditors(rec, p.actor.ID, p.clock.Now(), p.presenceTimeout), nil
}

func liveEditors(rec *Record, selfID string, now time.Time, timeout time.Duration) []PresenceEntry {
	var out []PresenceEntry
	for id, e := range rec.Presence {
		if id == selfID || !e.live(now, timeout) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}
