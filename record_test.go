package collabkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresenceEntry_Liveness(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e := PresenceEntry{ActorID: "a", HeartbeatAt: t0}
	timeout := 300 * time.Second

	assert.True(t, e.live(t0.Add(299*time.Second), timeout))
	assert.False(t, e.live(t0.Add(300*time.Second), timeout), "exactly at the window edge is stale")
	assert.False(t, e.live(t0.Add(301*time.Second), timeout))
}

func TestFieldLock_Expiry(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	l := FieldLock{HolderID: "a", ExpiresAt: t0.Add(30 * time.Second)}

	assert.False(t, l.expired(t0.Add(29*time.Second)))
	assert.True(t, l.expired(t0.Add(30*time.Second)), "now >= leaseExpiresAt means absent")
	assert.True(t, l.heldBy("a", t0))
	assert.False(t, l.heldBy("b", t0))
	assert.False(t, l.heldBy("a", t0.Add(31*time.Second)), "an expired lock is held by nobody")
}

func TestRecord_LiveLock(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := &Record{Locks: map[string]FieldLock{
		"title": {HolderID: "a", ExpiresAt: t0.Add(time.Minute)},
	}}

	_, ok := rec.liveLock("title", t0)
	assert.True(t, ok)
	_, ok = rec.liveLock("title", t0.Add(2*time.Minute))
	assert.False(t, ok)
	_, ok = rec.liveLock("missing", t0)
	assert.False(t, ok)
}
