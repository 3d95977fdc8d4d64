package collabkit

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"gocloud.dev/docstore"
	"gocloud.dev/gcerrors"
	"golang.org/x/exp/rand"
)

//go:generate mockgen -source=store.go -destination=mock_collection_test.go -package=collabkit

// Collection is the subset of *docstore.Collection the coordinator needs.
// Any gocloud.dev docstore collection satisfies it; tests plug in mocks.
type Collection interface {
	Get(ctx context.Context, doc docstore.Document, fps ...docstore.FieldPath) error
	Put(ctx context.Context, doc docstore.Document) error
	Create(ctx context.Context, doc docstore.Document) error
}

const (
	//total tries per raw store call, transient failures only
	storeTries = 3
	//read-evaluate-write cycles per mutate: the initial one plus one retry,
	//a second revision loss is reported to the caller, never spun on
	casTries = 2
)

var (
	errNotFound    = errors.New("collabkit: record not found")
	errCASMismatch = errors.New("collabkit: revision changed under us")
	// errSkipWrite aborts a mutate cycle without writing and without error.
	errSkipWrite = errors.New("collabkit: skip write")
)

// recordStore wraps the collection with the two write disciplines everything
// else is built on: revision-checked mutate and unconditional forcePut.
type recordStore struct {
	coll  Collection
	docID string
	log   *zap.Logger
	//nil means gcerrors.Code; tests substitute it because the coded error
	//type is internal to gocloud.dev
	code func(error) gcerrors.ErrorCode
}

func (s *recordStore) errCode(err error) gcerrors.ErrorCode {
	if s.code != nil {
		return s.code(err)
	}
	return gcerrors.Code(err)
}

func newStoreBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// run executes one raw store call, retrying only genuinely transient
// failures, at most storeTries times.
func (s *recordStore) run(ctx context.Context, op string, fn func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.classify(op, fn())
	}, backoff.WithBackOff(newStoreBackOff()), backoff.WithMaxTries(storeTries))
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, errNotFound), errors.Is(err, errCASMismatch):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		var perm *PermissionError
		if errors.As(err, &perm) {
			return err
		}
		return &TransientError{Op: op, Err: err}
	}
}

// classify maps store errors onto the coordinator's taxonomy. Everything not
// recognized stays retryable.
func (s *recordStore) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch s.errCode(err) {
	case gcerrors.NotFound:
		return backoff.Permanent(errNotFound)
	case gcerrors.FailedPrecondition, gcerrors.AlreadyExists:
		return backoff.Permanent(errCASMismatch)
	case gcerrors.PermissionDenied:
		return backoff.Permanent(&PermissionError{Err: err})
	case gcerrors.Canceled, gcerrors.DeadlineExceeded:
		return backoff.Permanent(err)
	default:
		s.log.Debug("store call failed, retrying",
			zap.String("op", op), zap.String("doc", s.docID), zap.Error(err))
		return err
	}
}

func (s *recordStore) get(ctx context.Context) (*Record, error) {
	rec := &Record{ID: s.docID}
	err := s.run(ctx, "get", func() error {
		*rec = Record{ID: s.docID}
		return s.coll.Get(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	if rec.Presence == nil {
		rec.Presence = map[string]PresenceEntry{}
	}
	if rec.Locks == nil {
		rec.Locks = map[string]FieldLock{}
	}
	if rec.Payload == nil {
		rec.Payload = map[string]interface{}{}
	}
	return rec, nil
}

// ensure creates the coordination record when it does not exist yet. Losing
// the create race to another editor is fine, first one wins.
func (s *recordStore) ensure(ctx context.Context) error {
	_, err := s.get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNotFound) {
		return err
	}
	err = s.run(ctx, "create", func() error {
		return s.coll.Create(ctx, &Record{
			ID:       s.docID,
			Presence: map[string]PresenceEntry{},
			Locks:    map[string]FieldLock{},
			Payload:  map[string]interface{}{},
		})
	})
	if errors.Is(err, errCASMismatch) {
		return nil
	}
	return err
}

// mutate runs fn on a fresh copy of the record and writes it back with the
// revision observed on the read, so the write fails if anyone else touched
// the record in between. The whole read-evaluate-write cycle is retried at
// most once; a second revision loss surfaces as errCASMismatch so contention
// can never live-lock two editors. fn may return errSkipWrite to bail out
// without writing.
func (s *recordStore) mutate(ctx context.Context, fn func(*Record) error) (*Record, error) {
	var lastErr error
	for attempt := 0; attempt < casTries; attempt++ {
		rec, err := s.get(ctx)
		if err != nil {
			return nil, err
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, errSkipWrite) {
				return rec, nil
			}
			return nil, err
		}
		err = s.run(ctx, "put", func() error {
			return s.coll.Put(ctx, rec)
		})
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, errCASMismatch) {
			return nil, err
		}
		lastErr = err
		s.log.Debug("revision lost, re-reading",
			zap.String("doc", s.docID), zap.Int("attempt", attempt+1))
	}
	return nil, lastErr
}

// forcePut overwrites the record regardless of concurrent writes. Only the
// explicit, user-confirmed escape hatches go through here.
func (s *recordStore) forcePut(ctx context.Context, rec *Record) error {
	rec.DocstoreRevision = nil
	return s.run(ctx, "put", func() error {
		return s.coll.Put(ctx, rec)
	})
}

// jitter returns a random duration in [0, max) to spread periodic writes
// from many independent editors.
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
