package collabkit

import "time"

// Record is the shared coordination record, one per edited document.
// Exported only for marshalling.
type Record struct {
	ID string `docstore:"id"` //the documentID

	Presence map[string]PresenceEntry `docstore:"presence"` //keyed by actorID
	Locks    map[string]FieldLock     `docstore:"locks"`    //keyed by fieldPath

	//version marker, strictly advanced by every successful save
	UpdatedAt time.Time `docstore:"updated_at"`
	UpdatedBy string    `docstore:"updated_by"`

	Payload map[string]interface{} `docstore:"payload"`

	//for optimistic concurrency
	DocstoreRevision interface{}
}

// PresenceEntry is one actor currently viewing the document. Staleness is
// evaluated by readers against the clock, never by remote deletion.
type PresenceEntry struct {
	ActorID     string    `docstore:"actor_id"`
	DisplayName string    `docstore:"display_name"`
	HeartbeatAt time.Time `docstore:"heartbeat_at"`
}

func (e PresenceEntry) live(now time.Time, timeout time.Duration) bool {
	return now.Sub(e.HeartbeatAt) < timeout
}

// FieldLock is a lease granting exclusive editing rights over one field path.
// Once now reaches ExpiresAt the lock is absent for every reader, whether or
// not it was physically deleted.
type FieldLock struct {
	HolderID          string    `docstore:"holder_id"`
	HolderDisplayName string    `docstore:"holder_name"`
	AcquiredAt        time.Time `docstore:"acquired_at"`
	ExpiresAt         time.Time `docstore:"expires_at"`
}

func (l FieldLock) expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

func (l FieldLock) heldBy(actorID string, now time.Time) bool {
	return !l.expired(now) && l.HolderID == actorID
}

// liveLock returns the lock on fieldPath if one exists and has not expired.
func (r *Record) liveLock(fieldPath string, now time.Time) (FieldLock, bool) {
	l, ok := r.Locks[fieldPath]
	if !ok || l.expired(now) {
		return FieldLock{}, false
	}
	return l, true
}
