// Package collabkit coordinates multiple simultaneous editors of one shared
// document: presence tracking, field-level lease locks and save-time conflict
// detection.
//
// There is no central lock server. Every editor talks to the same shared
// coordination record in a docstore collection, and the collection's
// optimistic concurrency (revision check on write) is the only serialization
// authority. Lock and presence entries carry leases that readers evaluate
// against the clock, so a crashed editor can never wedge a field forever.
//
// The UI layer integrates through a single Session: acquire/release on
// focus/blur, save/forceSave/reload on user action, and the OnPresenceChanged,
// OnFieldLockChanged and OnConflict callbacks for rendering.
package collabkit
