package collabkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/docstore"
	"gocloud.dev/docstore/memdocstore"
)

const testDocID = "doc-1"

func newTestCollection(t *testing.T) *docstore.Collection {
	t.Helper()
	coll, err := memdocstore.OpenCollection("id", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coll.Close() })
	return coll
}

// fakeClock lets tests cross lease and staleness windows without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestSession disables the background polling cadences; tests drive
// pollOnce, publish and sweepOnce by hand to stay deterministic.
func newTestSession(t *testing.T, coll Collection, clk Clock, id, name string) *Session {
	t.Helper()
	return buildTestSession(t, New(coll, testDocID).
		WithIdentity(StaticIdentity(id, name)).
		WithClock(clk).
		WithWatchInterval(time.Hour).
		WithSweepInterval(time.Hour))
}

func buildTestSession(t *testing.T, b *SessionBuilder) *Session {
	t.Helper()
	s := b.WithLogger(zaptest.NewLogger(t)).Build()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func startTestSession(t *testing.T, coll Collection, clk Clock, id, name string) *Session {
	t.Helper()
	s := newTestSession(t, coll, clk, id, name)
	require.NoError(t, s.Start(context.Background()))
	return s
}

// readRecord inspects raw stored state, bypassing the coordinator.
func readRecord(t *testing.T, coll Collection) *Record {
	t.Helper()
	rec := &Record{ID: testDocID}
	require.NoError(t, coll.Get(context.Background(), rec))
	return rec
}

var errNetwork = errors.New("network down")

// flakyCollection injects transient failures in front of a real collection.
type flakyCollection struct {
	inner Collection

	mu       sync.Mutex
	failGets int
	failPuts int
	puts     int
}

func (f *flakyCollection) Get(ctx context.Context, doc docstore.Document, fps ...docstore.FieldPath) error {
	f.mu.Lock()
	fail := f.failGets > 0
	if fail {
		f.failGets--
	}
	f.mu.Unlock()
	if fail {
		return errNetwork
	}
	return f.inner.Get(ctx, doc, fps...)
}

func (f *flakyCollection) Put(ctx context.Context, doc docstore.Document) error {
	f.mu.Lock()
	f.puts++
	fail := f.failPuts > 0
	if fail {
		f.failPuts--
	}
	f.mu.Unlock()
	if fail {
		return errNetwork
	}
	return f.inner.Put(ctx, doc)
}

func (f *flakyCollection) Create(ctx context.Context, doc docstore.Document) error {
	return f.inner.Create(ctx, doc)
}

// interferingCollection, once armed, performs a competing write right before
// every Put so the caller's revision is always stale.
type interferingCollection struct {
	inner *docstore.Collection

	mu    sync.Mutex
	armed bool
}

func (i *interferingCollection) arm() {
	i.mu.Lock()
	i.armed = true
	i.mu.Unlock()
}

func (i *interferingCollection) Get(ctx context.Context, doc docstore.Document, fps ...docstore.FieldPath) error {
	return i.inner.Get(ctx, doc, fps...)
}

func (i *interferingCollection) Put(ctx context.Context, doc docstore.Document) error {
	i.mu.Lock()
	armed := i.armed
	i.mu.Unlock()
	if armed {
		rec := &Record{ID: testDocID}
		if err := i.inner.Get(ctx, rec); err == nil {
			_ = i.inner.Put(ctx, rec)
		}
	}
	return i.inner.Put(ctx, doc)
}

func (i *interferingCollection) Create(ctx context.Context, doc docstore.Document) error {
	return i.inner.Create(ctx, doc)
}

// cancelOnPut cancels the given context once, right after a Put lands,
// simulating a user navigating away mid-acquire.
type cancelOnPut struct {
	inner  Collection
	cancel context.CancelFunc

	mu    sync.Mutex
	armed bool
}

func (c *cancelOnPut) Get(ctx context.Context, doc docstore.Document, fps ...docstore.FieldPath) error {
	return c.inner.Get(ctx, doc, fps...)
}

func (c *cancelOnPut) Put(ctx context.Context, doc docstore.Document) error {
	err := c.inner.Put(ctx, doc)
	c.mu.Lock()
	fire := c.armed && err == nil
	if fire {
		c.armed = false
	}
	c.mu.Unlock()
	if fire {
		c.cancel()
	}
	return err
}

func (c *cancelOnPut) Create(ctx context.Context, doc docstore.Document) error {
	return c.inner.Create(ctx, doc)
}
