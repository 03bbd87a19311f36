// Package userstore holds the in-memory state of one identity and keeps it
// in step with a storage adapter.
//
// Every mutation is applied to memory first and persisted afterwards.
// Persistence failures only downgrade the sync status; they are logged and
// never undo the change or reach the caller.
package userstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"reelsync/internal/collections"
	"reelsync/pkg/domain"
	"reelsync/pkg/events"
	"reelsync/pkg/store"
)

const defaultSaveTimeout = 10 * time.Second

var (
	ErrNoIdentity           = errors.New("no identity set")
	ErrInvalidContent       = errors.New("invalid content")
	ErrInvalidVolume        = errors.New("default volume must be between 0 and 1")
	ErrNotificationNotFound = errors.New("notification not found")
)

// ContentCache is the catalog cache dropped when child safety mode changes.
type ContentCache interface {
	Invalidate(ctx context.Context) error
}

// Capabilities switches optional engine behavior.
type Capabilities struct {
	// RemoteSync enables pull synchronization through a sync manager.
	RemoteSync bool
	// GuestRestrictions drops changes guests may not make.
	GuestRestrictions bool
}

// Config wires a Store. Adapter is required.
type Config struct {
	Adapter     store.Adapter
	Cache       ContentCache
	Publisher   events.Publisher
	Collections *collections.Service
	Clock       clockwork.Clock
	Logger      *slog.Logger
	SaveTimeout time.Duration
}

// Store is the synchronization engine shared by GuestStore and UserStore.
type Store struct {
	adapter     store.Adapter
	caps        Capabilities
	kind        domain.IdentityKind
	field       string
	cache       ContentCache
	publisher   events.Publisher
	lists       *collections.Service
	limits      collections.Limits
	clock       clockwork.Clock
	logger      *slog.Logger
	saveTimeout time.Duration

	mu          sync.RWMutex
	state       domain.UserState
	hasIdentity bool
	inflight    int
	// gen changes whenever the in-memory slot is replaced by SetIdentity or
	// Reset; save bookkeeping from an older gen is ignored.
	gen uint64
	// seq increases with every state the store commits.
	seq uint64
	// resets counts Reset calls per identity. Snapshots taken before a
	// reset are never written.
	resets map[string]uint64

	// saveMu serializes adapter writes and clears. savedSeq holds the seq
	// of the last state written per identity.
	saveMu   sync.Mutex
	savedSeq map[string]uint64

	subMu   sync.Mutex
	subs    map[int]func(domain.UserState)
	nextSub int

	bgMu    sync.Mutex
	bgIdle  *sync.Cond
	pending int
}

// saveMark identifies the state a snapshot was taken from.
type saveMark struct {
	gen    uint64
	seq    uint64
	resets uint64
}

func newStore(cfg Config, kind domain.IdentityKind, caps Capabilities) (*Store, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("storage adapter required")
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
	if cfg.Collections == nil {
		cfg.Collections = collections.NewService(cfg.Clock)
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = defaultSaveTimeout
	}
	s := &Store{
		adapter:     cfg.Adapter,
		caps:        caps,
		kind:        kind,
		field:       kind.IdentityField(),
		cache:       cfg.Cache,
		publisher:   cfg.Publisher,
		lists:       cfg.Collections,
		limits:      collections.LimitsFor(kind),
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("store", string(kind), "adapter", cfg.Adapter.Name()),
		saveTimeout: cfg.SaveTimeout,
		resets:      make(map[string]uint64),
		savedSeq:    make(map[string]uint64),
		subs:        make(map[int]func(domain.UserState)),
	}
	s.bgIdle = sync.NewCond(&s.bgMu)
	return s, nil
}

// Capabilities reports the enabled engine features.
func (s *Store) Capabilities() Capabilities { return s.caps }

// Kind reports the identity kind the store serves.
func (s *Store) Kind() domain.IdentityKind { return s.kind }

// SetIdentity switches the store to id with an empty state. Setting the
// identity already held is a no-op.
func (s *Store) SetIdentity(id string) {
	s.mu.Lock()
	if s.hasIdentity && s.state.ID == id {
		s.mu.Unlock()
		return
	}
	s.state = domain.NewUserState(id, s.kind)
	s.hasIdentity = true
	s.inflight = 0
	s.gen++
	s.seq++
	snapshot := s.state.Clone()
	s.mu.Unlock()
	s.logger.Info("identity set", s.field, id)
	s.notify(snapshot)
}

// Identity returns the identity held, or "" when none is set.
func (s *Store) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasIdentity {
		return ""
	}
	return s.state.ID
}

// LoadData replaces the in-memory state with state. It refuses, logs and
// reports false when state belongs to another identity.
func (s *Store) LoadData(state domain.UserState) bool {
	s.mu.Lock()
	if !s.hasIdentity || state.ID != s.state.ID {
		held := s.state.ID
		s.mu.Unlock()
		s.logger.Warn("ignoring data for another identity", s.field, held, "incoming", state.ID)
		return false
	}
	next := state.Clone()
	next.Normalize()
	if next.Kind == "" {
		next.Kind = s.kind
	}
	next.SyncStatus = domain.SyncSynced
	s.state = next
	s.seq++
	snapshot := next.Clone()
	s.mu.Unlock()
	s.notify(snapshot)
	return true
}

// Hydrate loads the stored document of the held identity into memory.
func (s *Store) Hydrate(ctx context.Context) error {
	id := s.Identity()
	if id == "" {
		return ErrNoIdentity
	}
	loaded, err := s.adapter.Load(store.WithSource(ctx, "hydrate"), id)
	if err != nil {
		s.setStatus(id, domain.SyncOffline)
		return err
	}
	s.LoadData(loaded)
	return nil
}

// Reset clears the stored document and the in-memory state. The identity
// slot is kept. Saves of earlier states that have not reached the adapter
// yet are dropped.
func (s *Store) Reset(ctx context.Context) error {
	s.saveMu.Lock()
	s.mu.Lock()
	if !s.hasIdentity {
		s.mu.Unlock()
		s.saveMu.Unlock()
		return nil
	}
	id := s.state.ID
	s.state = domain.NewUserState(id, s.kind)
	s.inflight = 0
	s.gen++
	s.seq++
	s.resets[id]++
	delete(s.savedSeq, id)
	snapshot := s.state.Clone()
	s.mu.Unlock()

	err := s.adapter.Clear(store.WithSource(ctx, "reset"), id)
	s.saveMu.Unlock()
	s.notify(snapshot)
	if err != nil {
		s.logger.Warn("clear stored state failed", s.field, id, "err", err)
		return err
	}
	s.logger.Info("store reset", s.field, id)
	return nil
}

// State returns a copy of the current state.
func (s *Store) State() domain.UserState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) SyncStatus() domain.SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SyncStatus
}

func (s *Store) IsLiked(contentID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IndexOf(s.state.LikedMovies, contentID) >= 0
}

func (s *Store) IsHidden(contentID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IndexOf(s.state.HiddenMovies, contentID) >= 0
}

func (s *Store) InWatchlist(contentID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IndexOf(s.state.DefaultWatchlist, contentID) >= 0
}

// Subscribe registers fn to receive a copy of every new state. The returned
// func removes the subscription.
func (s *Store) Subscribe(fn func(domain.UserState)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Wait blocks until background saves and cache invalidations finish.
func (s *Store) Wait() {
	s.bgMu.Lock()
	for s.pending > 0 {
		s.bgIdle.Wait()
	}
	s.bgMu.Unlock()
}

func (s *Store) goBackground(fn func()) {
	s.bgMu.Lock()
	s.pending++
	s.bgMu.Unlock()
	go func() {
		defer func() {
			s.bgMu.Lock()
			s.pending--
			if s.pending == 0 {
				s.bgIdle.Broadcast()
			}
			s.bgMu.Unlock()
		}()
		fn()
	}()
}

func (s *Store) notify(state domain.UserState) {
	s.subMu.Lock()
	fns := make([]func(domain.UserState), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(state.Clone())
	}
}

// setStatus updates the sync status if id is still the held identity.
func (s *Store) setStatus(id string, status domain.SyncStatus) {
	s.mu.Lock()
	if !s.hasIdentity || s.state.ID != id || s.state.SyncStatus == status {
		s.mu.Unlock()
		return
	}
	s.state.SyncStatus = status
	snapshot := s.state.Clone()
	s.mu.Unlock()
	s.notify(snapshot)
}

// mutation computes the next state in place and reports whether anything
// changed. A returned error aborts the action and leaves state untouched.
type mutation func(next *domain.UserState) (bool, error)

// apply runs one store action: compute, commit to memory, persist.
func (s *Store) apply(ctx context.Context, action string, mutate mutation) (bool, error) {
	s.mu.Lock()
	if !s.hasIdentity {
		s.mu.Unlock()
		return false, ErrNoIdentity
	}
	id := s.state.ID
	next := s.state.Clone()
	changed, err := mutate(&next)
	if err != nil {
		s.mu.Unlock()
		s.logger.Info("store action rejected", "action", action, s.field, id, "err", err)
		return false, err
	}
	if !changed {
		s.mu.Unlock()
		s.logger.Debug("store action had no effect", "action", action, s.field, id)
		return false, nil
	}
	next.LastActive = s.clock.Now().UTC()
	if s.adapter.IsAsync() {
		next.SyncStatus = domain.SyncSyncing
		s.inflight++
	}
	s.state = next
	s.seq++
	mark := s.markLocked(id)
	snapshot := next.Clone()
	s.mu.Unlock()

	s.notify(snapshot)
	s.persist(ctx, action, snapshot, mark)
	s.logger.Info("store action applied", "action", action, s.field, id)
	return true, nil
}

func (s *Store) markLocked(id string) saveMark {
	return saveMark{gen: s.gen, seq: s.seq, resets: s.resets[id]}
}

func (s *Store) persist(ctx context.Context, action string, snapshot domain.UserState, mark saveMark) {
	if !s.adapter.IsAsync() {
		s.save(ctx, action, snapshot, mark)
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.goBackground(func() {
		s.save(ctx, action, snapshot, mark)
	})
}

func (s *Store) save(ctx context.Context, action string, snapshot domain.UserState, mark saveMark) {
	written, err := s.write(ctx, action, snapshot, mark)
	s.finishSave(snapshot.ID, mark.gen, err)
	if err != nil {
		s.logger.Warn("persist failed, working offline", "action", action, s.field, snapshot.ID, "err", err)
		return
	}
	if !written {
		s.logger.Debug("superseded save skipped", "action", action, s.field, snapshot.ID)
		return
	}
	ev := events.ChangeEvent{Identity: snapshot.ID, Kind: string(s.kind), Action: action, At: snapshot.LastActive}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish change event failed", "action", action, s.field, snapshot.ID, "err", err)
	}
}

// write stores snapshot unless a newer state was already written or the
// identity was reset after the snapshot was taken.
func (s *Store) write(ctx context.Context, action string, snapshot domain.UserState, mark saveMark) (bool, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.RLock()
	stale := s.resets[snapshot.ID] != mark.resets
	s.mu.RUnlock()
	if stale || mark.seq <= s.savedSeq[snapshot.ID] {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(store.WithSource(ctx, action), s.saveTimeout)
	defer cancel()
	if err := s.adapter.Save(ctx, snapshot.ID, snapshot); err != nil {
		return false, err
	}
	s.savedSeq[snapshot.ID] = mark.seq
	return true, nil
}

// finishSave settles the sync status after one save. A failure marks the
// store offline; the last outstanding success marks it synced.
func (s *Store) finishSave(id string, gen uint64, err error) {
	s.mu.RLock()
	current := s.hasIdentity && s.state.ID == id && s.gen == gen
	s.mu.RUnlock()
	if !current {
		return
	}
	if !s.adapter.IsAsync() {
		if err != nil {
			s.setStatus(id, domain.SyncOffline)
		} else {
			s.setStatus(id, domain.SyncSynced)
		}
		return
	}
	s.mu.Lock()
	if !s.hasIdentity || s.state.ID != id || s.gen != gen {
		s.mu.Unlock()
		return
	}
	if s.inflight > 0 {
		s.inflight--
	}
	status := s.state.SyncStatus
	switch {
	case err != nil:
		status = domain.SyncOffline
	case s.inflight == 0:
		status = domain.SyncSynced
	}
	if status == s.state.SyncStatus {
		s.mu.Unlock()
		return
	}
	s.state.SyncStatus = status
	snapshot := s.state.Clone()
	s.mu.Unlock()
	s.notify(snapshot)
}

// invalidateCache drops cached catalog content in the background.
func (s *Store) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.goBackground(func() {
		ctx, cancel := context.WithTimeout(ctx, s.saveTimeout)
		defer cancel()
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("content cache invalidation failed", "err", err)
			return
		}
		s.logger.Info("content cache invalidated")
	})
}

// beginPull reports the current seq when id is held and no save of a local
// change is outstanding.
func (s *Store) beginPull(id string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasIdentity || s.state.ID != id || s.inflight > 0 {
		return 0, false
	}
	return s.seq, true
}

// applyPulled replaces memory with a pulled document unless the store
// committed anything since seq. Local changes always win over a pull.
func (s *Store) applyPulled(state domain.UserState, seq uint64) (saveMark, bool) {
	s.mu.Lock()
	if !s.hasIdentity || state.ID != s.state.ID || s.seq != seq || s.inflight > 0 {
		settled := s.hasIdentity && s.inflight == 0 && s.state.SyncStatus == domain.SyncSyncing
		if settled {
			s.state.SyncStatus = domain.SyncSynced
		}
		snapshot := s.state.Clone()
		s.mu.Unlock()
		if settled {
			s.notify(snapshot)
		}
		return saveMark{}, false
	}
	next := state.Clone()
	next.Normalize()
	if next.Kind == "" {
		next.Kind = s.kind
	}
	next.SyncStatus = domain.SyncSynced
	s.state = next
	s.seq++
	mark := s.markLocked(next.ID)
	snapshot := next.Clone()
	s.mu.Unlock()
	s.notify(snapshot)
	return mark, true
}
