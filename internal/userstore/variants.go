package userstore

import (
	"context"
	"errors"
	"fmt"

	"reelsync/internal/collections"
	"reelsync/internal/syncmgr"
	"reelsync/pkg/domain"
	"reelsync/pkg/store"
)

// GuestStore serves anonymous visitors from a local adapter.
type GuestStore struct {
	*Store
}

// NewGuestStore builds a store with guest restrictions and no remote sync.
func NewGuestStore(cfg Config) (*GuestStore, error) {
	s, err := newStore(cfg, domain.KindGuest, Capabilities{GuestRestrictions: true})
	if err != nil {
		return nil, err
	}
	if cfg.Adapter.IsAsync() {
		s.logger.Warn("guest store backed by a remote adapter")
	}
	return &GuestStore{Store: s}, nil
}

// UserStore serves authenticated users and pulls their document through a
// sync manager.
type UserStore struct {
	*Store
	syncs *syncmgr.Manager
}

// NewUserStore builds a store with remote sync enabled.
func NewUserStore(cfg Config, syncs *syncmgr.Manager) (*UserStore, error) {
	if syncs == nil {
		return nil, errors.New("sync manager required")
	}
	s, err := newStore(cfg, domain.KindUser, Capabilities{RemoteSync: true})
	if err != nil {
		return nil, err
	}
	return &UserStore{Store: s, syncs: syncs}, nil
}

// SyncWithStorage pulls the stored document for id into memory. Switching to
// a new id resets the state first. Documents written before the current
// schema are seeded with default collections and saved back at once.
// A pull never replaces local changes whose saves are still outstanding or
// that were made while the document was loading.
func (u *UserStore) SyncWithStorage(ctx context.Context, id string) (syncmgr.Outcome, error) {
	if id == "" {
		return syncmgr.OutcomeSkipped, ErrNoIdentity
	}
	u.switchIdentity(id)

	outcome, err := u.syncs.Execute(ctx, id, "syncWithStorage", func(ctx context.Context) error {
		seq, ok := u.beginPull(id)
		if !ok {
			u.logger.Info("pull deferred until local saves finish", u.field, id)
			return nil
		}
		u.setStatus(id, domain.SyncSyncing)
		ctx = store.WithSource(ctx, "syncWithStorage")
		loaded, err := u.adapter.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("load %s: %w", id, err)
		}
		migrated, seeded := u.migrate(loaded)
		mark, applied := u.applyPulled(migrated, seq)
		if !applied {
			u.logger.Info("pulled document dropped, local changes are newer", u.field, id)
			return nil
		}
		if seeded {
			if _, err := u.write(ctx, "syncWithStorage", migrated, mark); err != nil {
				return fmt.Errorf("save seeded state %s: %w", id, err)
			}
			u.logger.Info("seeded defaults", u.field, id, "schema_version", migrated.SchemaVersion)
		}
		return nil
	})
	if err != nil {
		u.setStatus(id, domain.SyncOffline)
		return outcome, err
	}
	u.logger.Debug("sync finished", u.field, id, "outcome", outcome.String())
	return outcome, nil
}

// switchIdentity resets memory and sync bookkeeping when id differs from the
// held identity.
func (u *UserStore) switchIdentity(id string) {
	prev := u.Identity()
	if prev == id {
		return
	}
	if prev != "" {
		u.logger.Warn("identity changed without reset", "previous", prev, u.field, id)
		u.syncs.ClearUserSync(prev)
	}
	u.syncs.ClearUserSync(id)
	u.SetIdentity(id)
}

func (u *UserStore) migrate(state domain.UserState) (domain.UserState, bool) {
	if state.SchemaVersion >= domain.CurrentSchemaVersion {
		return state, false
	}
	state = state.Clone()
	state.Normalize()
	state.UserCreatedWatchlists, _ = collections.Seed(state.UserCreatedWatchlists, u.limits, u.clock.Now().UTC())
	state.SchemaVersion = domain.CurrentSchemaVersion
	return state, true
}
