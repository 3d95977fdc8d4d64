package collabkit

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// watcher polls the shared record and turns raw changes into the event
// surface. Notifications are at-least-once and may coalesce several remote
// writes into one tick; heartbeat refreshes and lease renewals are not
// changes, only membership and holders are diffed.
type watcher struct {
	store  *recordStore
	clock  Clock
	actor  Actor
	log    *zap.Logger
	events *eventHub
	saver  *saveCoordinator

	presenceTimeout time.Duration
	interval        time.Duration

	mu           sync.Mutex
	lastPresence map[string]PresenceEntry //live entries, local actor excluded
	lastLocks    map[string]FieldLock     //live locks
	started      bool
	stop         chan struct{}
	done         chan struct{}
}

func newWatcher(s *Session) *watcher {
	return &watcher{
		store:           s.store,
		clock:           s.clock,
		actor:           s.actor,
		log:             s.log.Named("watch"),
		events:          s.events,
		saver:           s.saver,
		presenceTimeout: s.presenceTimeout,
		interval:        s.watchInterval,
		lastPresence:    map[string]PresenceEntry{},
		lastLocks:       map[string]FieldLock{},
	}
}

func (w *watcher) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop()
	w.started = true
}

func (w *watcher) stopWatch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.started = false
	close(w.stop)
	<-w.done
}

func (w *watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-time.After(w.interval + jitter(w.interval/5)):
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if err := w.pollOnce(ctx); err != nil {
			//a missed poll only delays notifications, the next tick catches up
			w.log.Debug("watch poll failed", zap.Error(err))
		}
		cancel()
	}
}

// pollOnce reads the record, diffs it against the previous snapshot and
// emits the resulting events.
func (w *watcher) pollOnce(ctx context.Context) error {
	rec, err := w.store.get(ctx)
	if err != nil {
		return err
	}
	now := w.clock.Now()

	live := map[string]PresenceEntry{}
	for id, e := range rec.Presence {
		if id != w.actor.ID && e.live(now, w.presenceTimeout) {
			live[id] = e
		}
	}
	liveLocks := map[string]FieldLock{}
	for fp, l := range rec.Locks {
		if !l.expired(now) {
			liveLocks[fp] = l
		}
	}

	w.mu.Lock()
	presenceChanged := !sameEditors(w.lastPresence, live)
	changedFields := holderDiff(w.lastLocks, liveLocks)
	w.lastPresence = live
	w.lastLocks = liveLocks
	w.mu.Unlock()

	if presenceChanged {
		w.events.emitPresence(liveEditors(rec, w.actor.ID, now, w.presenceTimeout))
	}
	for _, fp := range changedFields {
		if l, ok := liveLocks[fp]; ok {
			w.events.emitFieldLock(fp, &l)
		} else {
			w.events.emitFieldLock(fp, nil)
		}
	}
	w.saver.observeRemote(rec)
	return nil
}

// sameEditors compares membership and display names; a heartbeat refresh is
// not a presence change.
func sameEditors(prev, cur map[string]PresenceEntry) bool {
	if len(prev) != len(cur) {
		return false
	}
	for id, e := range cur {
		p, ok := prev[id]
		if !ok || p.DisplayName != e.DisplayName {
			return false
		}
	}
	return true
}

// holderDiff lists field paths whose live holder changed; a renewal of the
// same holder is not a lock change.
func holderDiff(prev, cur map[string]FieldLock) []string {
	var out []string
	for fp, l := range cur {
		if p, ok := prev[fp]; !ok || p.HolderID != l.HolderID {
			out = append(out, fp)
		}
	}
	for fp := range prev {
		if _, ok := cur[fp]; !ok {
			out = append(out, fp)
		}
	}
	sort.Strings(out)
	return out
}
