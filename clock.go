package collabkit

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies wall-clock time. Injected so lease and staleness windows are
// testable without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Actor identifies the local editor.
type Actor struct {
	ID          string
	DisplayName string
}

// IdentityProvider supplies the local actor. Embedding applications usually
// back this with their auth layer.
type IdentityProvider interface {
	CurrentActor() Actor
}

type staticIdentity struct {
	actor Actor
}

func (s staticIdentity) CurrentActor() Actor { return s.actor }

// StaticIdentity returns a provider for a fixed actor. An empty id gets a
// random one, an empty display name falls back to the id.
func StaticIdentity(id, displayName string) IdentityProvider {
	if id == "" {
		id = uuid.NewString()
	}
	if displayName == "" {
		displayName = id
	}
	return staticIdentity{actor: Actor{ID: id, DisplayName: displayName}}
}
