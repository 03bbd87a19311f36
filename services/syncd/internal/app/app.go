package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"reelsync/internal/calltrack"
	"reelsync/internal/collections"
	"reelsync/internal/identity"
	"reelsync/internal/syncmgr"
	"reelsync/internal/userstore"
	"reelsync/pkg/domain"
	"reelsync/pkg/events"
	"reelsync/pkg/store"
)

// ErrUnavailable is returned when a user's stored document cannot be read.
var ErrUnavailable = errors.New("user data unavailable")

// Config holds runtime configuration for the core application.
type Config struct {
	UserAdapter     store.Adapter
	GuestAdapter    store.Adapter
	Cache           userstore.ContentCache
	Publisher       events.Publisher
	Tracker         *calltrack.Tracker
	SyncTimeout     time.Duration
	SyncMinInterval time.Duration
	SaveTimeout     time.Duration
	Clock           clockwork.Clock
	Logger          *slog.Logger
}

type entry struct {
	store *userstore.Store
	user  *userstore.UserStore
}

// App keeps one store per active identity.
type App struct {
	userAdapter  store.Adapter
	guestAdapter store.Adapter
	cache        userstore.ContentCache
	publisher    events.Publisher
	tracker      *calltrack.Tracker
	syncs        *syncmgr.Manager
	lists        *collections.Service
	saveTimeout  time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	opening singleflight.Group
}

// New constructs the application. Adapters are wrapped with call tracking
// when a tracker is configured.
func New(cfg Config) (*App, error) {
	if cfg.UserAdapter == nil || cfg.GuestAdapter == nil {
		return nil, errors.New("user and guest adapters required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	var tracker store.Tracker
	if cfg.Tracker != nil {
		tracker = cfg.Tracker
	}
	return &App{
		userAdapter:  store.Tracked(cfg.UserAdapter, tracker),
		guestAdapter: store.Tracked(cfg.GuestAdapter, tracker),
		cache:        cfg.Cache,
		publisher:    cfg.Publisher,
		tracker:      cfg.Tracker,
		syncs: syncmgr.New(syncmgr.Config{
			Timeout:     cfg.SyncTimeout,
			MinInterval: cfg.SyncMinInterval,
			Clock:       cfg.Clock,
			Logger:      cfg.Logger,
		}),
		lists:       collections.NewService(cfg.Clock),
		saveTimeout: cfg.SaveTimeout,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		entries:     make(map[string]*entry),
	}, nil
}

// Tracker returns the storage call tracker, which may be nil.
func (a *App) Tracker() *calltrack.Tracker { return a.tracker }

// Store returns the store of id, loading its document on first use.
func (a *App) Store(ctx context.Context, id identity.Identity) (*userstore.Store, error) {
	e, err := a.open(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.store, nil
}

// Sync pulls the stored document of an authenticated user. Guests are served
// from a local adapter and never need a pull.
func (a *App) Sync(ctx context.Context, id identity.Identity) (*userstore.Store, syncmgr.Outcome, error) {
	e, err := a.open(ctx, id)
	if err != nil {
		return nil, syncmgr.OutcomeSkipped, err
	}
	if e.user == nil {
		return e.store, syncmgr.OutcomeSkipped, nil
	}
	outcome, err := e.user.SyncWithStorage(ctx, id.ID)
	if err != nil {
		return e.store, outcome, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e.store, outcome, nil
}

func (a *App) open(ctx context.Context, id identity.Identity) (*entry, error) {
	key := entryKey(id)
	a.mu.Lock()
	if e, ok := a.entries[key]; ok {
		a.mu.Unlock()
		return e, nil
	}
	a.mu.Unlock()

	v, err, _ := a.opening.Do(key, func() (any, error) {
		a.mu.Lock()
		if e, ok := a.entries[key]; ok {
			a.mu.Unlock()
			return e, nil
		}
		a.mu.Unlock()
		e, err := a.newEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.entries[key] = e
		a.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

func (a *App) newEntry(ctx context.Context, id identity.Identity) (*entry, error) {
	cfg := userstore.Config{
		Publisher:   a.publisher,
		Collections: a.lists,
		Clock:       a.clock,
		Logger:      a.logger,
		SaveTimeout: a.saveTimeout,
		Cache:       a.cache,
	}
	switch id.Kind {
	case domain.KindGuest:
		cfg.Adapter = a.guestAdapter
		g, err := userstore.NewGuestStore(cfg)
		if err != nil {
			return nil, err
		}
		g.SetIdentity(id.ID)
		if err := g.Hydrate(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return &entry{store: g.Store}, nil
	case domain.KindUser:
		cfg.Adapter = a.userAdapter
		u, err := userstore.NewUserStore(cfg, a.syncs)
		if err != nil {
			return nil, err
		}
		// Writing before the first successful pull would overwrite the
		// stored document with an empty one.
		if _, err := u.SyncWithStorage(ctx, id.ID); err != nil {
			a.syncs.ClearUserSync(id.ID)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return &entry{store: u.Store, user: u}, nil
	}
	return nil, fmt.Errorf("unknown identity kind %q", id.Kind)
}

// Logout drops the in-memory store of id after its pending saves finish.
// The stored document is kept.
func (a *App) Logout(id identity.Identity) {
	a.mu.Lock()
	e, ok := a.entries[entryKey(id)]
	delete(a.entries, entryKey(id))
	a.mu.Unlock()
	if !ok {
		return
	}
	e.store.Wait()
	a.syncs.ClearUserSync(id.ID)
	a.logger.Info("identity logged out", id.Kind.IdentityField(), id.ID)
}

// Forget deletes the stored document of id and drops its store.
func (a *App) Forget(ctx context.Context, id identity.Identity) error {
	s, err := a.Store(ctx, id)
	if err != nil {
		return err
	}
	s.Wait()
	if err := s.Reset(ctx); err != nil {
		return err
	}
	a.Logout(id)
	return nil
}

// ActiveStores reports how many identities are held in memory.
func (a *App) ActiveStores() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Close waits for background saves of every store, bounded by ctx.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	stores := make([]*userstore.Store, 0, len(a.entries))
	for _, e := range a.entries {
		stores = append(stores, e.store)
	}
	a.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		for _, s := range stores {
			g.Go(func() error {
				s.Wait()
				return nil
			})
		}
		done <- g.Wait()
	}()
	select {
	case err := <-done:
		if a.tracker != nil {
			a.tracker.PrintSummary(a.logger)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("drain pending saves: %w", ctx.Err())
	}
}

func entryKey(id identity.Identity) string {
	return string(id.Kind) + ":" + id.ID
}
