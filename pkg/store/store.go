package store

import (
	"context"
	"errors"
	"strings"

	"reelsync/pkg/domain"
)

// ErrIdentityRequired is returned when an adapter call has no identity key.
var ErrIdentityRequired = errors.New("identity required")

// Adapter persists one UserState document per identity.
//
// Synchronous adapters (IsAsync false) are local and never fail on a missing
// document. Asynchronous adapters talk to a remote document store and may
// fail on connectivity or permission problems after the caller has already
// applied the change in memory.
type Adapter interface {
	Name() string
	IsAsync() bool
	Load(ctx context.Context, id string) (domain.UserState, error)
	Save(ctx context.Context, id string, state domain.UserState) error
	Clear(ctx context.Context, id string) error
}

// Tracker receives one event per adapter call.
type Tracker interface {
	Track(operation, source string)
}

type sourceContextKey struct{}

// WithSource tags ctx with the action that triggered an adapter call.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceContextKey{}, source)
}

// SourceFromContext returns the action tag set by WithSource.
func SourceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	source, _ := ctx.Value(sourceContextKey{}).(string)
	return source
}

// TrackedAdapter reports every call of the wrapped adapter to a Tracker.
type TrackedAdapter struct {
	Adapter
	tracker Tracker
}

// Tracked wraps a with call tracking. A nil tracker returns a unchanged.
func Tracked(a Adapter, tracker Tracker) Adapter {
	if tracker == nil {
		return a
	}
	return &TrackedAdapter{Adapter: a, tracker: tracker}
}

func (t *TrackedAdapter) Load(ctx context.Context, id string) (domain.UserState, error) {
	t.tracker.Track(t.Name()+".load", SourceFromContext(ctx))
	return t.Adapter.Load(ctx, id)
}

func (t *TrackedAdapter) Save(ctx context.Context, id string, state domain.UserState) error {
	t.tracker.Track(t.Name()+".save", SourceFromContext(ctx))
	return t.Adapter.Save(ctx, id, state)
}

func (t *TrackedAdapter) Clear(ctx context.Context, id string) error {
	t.tracker.Track(t.Name()+".clear", SourceFromContext(ctx))
	return t.Adapter.Clear(ctx, id)
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrIdentityRequired
	}
	return id, nil
}

// defaultKind guesses the identity kind for documents that were never saved.
func defaultKind(id string) domain.IdentityKind {
	if strings.HasPrefix(id, "guest_") {
		return domain.KindGuest
	}
	return domain.KindUser
}

// prepareLoaded fixes up a decoded document before handing it to callers.
func prepareLoaded(state domain.UserState, id string) domain.UserState {
	state.ID = id
	if state.Kind == "" {
		state.Kind = defaultKind(id)
	}
	state.Normalize()
	state.SyncStatus = domain.SyncSynced
	return state
}

func emptyState(id string) domain.UserState {
	return domain.NewUserState(id, defaultKind(id))
}
