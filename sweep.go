package collabkit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sweeper opportunistically deletes entries every reader already ignores:
// stale presence and expired locks. Pure storage hygiene; correctness never
// depends on it running, so every failure is swallowed.
type sweeper struct {
	store *recordStore
	clock Clock
	log   *zap.Logger

	presenceTimeout time.Duration
	interval        time.Duration

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func newSweeper(s *Session) *sweeper {
	return &sweeper{
		store:           s.store,
		clock:           s.clock,
		log:             s.log.Named("sweep"),
		presenceTimeout: s.presenceTimeout,
		interval:        s.sweepInterval,
	}
}

func (s *sweeper) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop()
	s.started = true
}

func (s *sweeper) stopSweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	close(s.stop)
	<-s.done
}

func (s *sweeper) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		//full-interval jitter so a fleet of clients doesn't sweep in lockstep
		case <-time.After(s.interval + jitter(s.interval)):
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if err := s.sweepOnce(ctx); err != nil {
			s.log.Debug("sweep failed", zap.Error(err))
		}
		cancel()
	}
}

// sweepOnce removes stale presence entries and expired locks in one
// revision-checked write. Losing the race to another sweeper is success.
func (s *sweeper) sweepOnce(ctx context.Context) error {
	var removed int
	_, err := s.store.mutate(ctx, func(rec *Record) error {
		removed = 0
		now := s.clock.Now()
		for id, e := range rec.Presence {
			if !e.live(now, s.presenceTimeout) {
				delete(rec.Presence, id)
				removed++
			}
		}
		for fp, l := range rec.Locks {
			if l.expired(now) {
				delete(rec.Locks, fp)
				removed++
			}
		}
		if removed == 0 {
			return errSkipWrite
		}
		return nil
	})
	if errors.Is(err, errCASMismatch) {
		return nil
	}
	if err == nil && removed > 0 {
		s.log.Debug("swept stale entries", zap.Int("removed", removed))
	}
	return err
}
