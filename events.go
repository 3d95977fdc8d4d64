package collabkit

import (
	"sync"
	"time"
)

// eventHub fans coordination changes out to the UI layer. Callbacks run on
// the goroutine that detected the change and must not block; rendering
// decisions belong entirely to the subscriber.
type eventHub struct {
	mu        sync.RWMutex
	presence  []func(editors []PresenceEntry)
	fieldLock []func(fieldPath string, holder *FieldLock)
	conflict  []func(remoteUpdatedAt time.Time, remoteUpdatedBy string)
}

func newEventHub() *eventHub { return &eventHub{} }

func (h *eventHub) onPresenceChanged(fn func([]PresenceEntry)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presence = append(h.presence, fn)
}

func (h *eventHub) onFieldLockChanged(fn func(string, *FieldLock)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fieldLock = append(h.fieldLock, fn)
}

func (h *eventHub) onConflict(fn func(time.Time, string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflict = append(h.conflict, fn)
}

func (h *eventHub) emitPresence(editors []PresenceEntry) {
	h.mu.RLock()
	subs := h.presence
	h.mu.RUnlock()
	for _, fn := range subs {
		fn(editors)
	}
}

func (h *eventHub) emitFieldLock(fieldPath string, holder *FieldLock) {
	h.mu.RLock()
	subs := h.fieldLock
	h.mu.RUnlock()
	for _, fn := range subs {
		fn(fieldPath, holder)
	}
}

func (h *eventHub) emitConflict(at time.Time, by string) {
	h.mu.RLock()
	subs := h.conflict
	h.mu.RUnlock()
	for _, fn := range subs {
		fn(at, by)
	}
}
