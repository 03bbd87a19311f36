package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"reelsync/pkg/domain"
)

func sampleState(id string) domain.UserState {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	state := domain.NewUserState(id, domain.KindUser)
	state.LikedMovies = []domain.Content{{ID: 603, MediaType: domain.MediaMovie, Title: "The Matrix", AddedAt: now}}
	state.HiddenMovies = []domain.Content{{ID: 1399, MediaType: domain.MediaTV, AddedAt: now}}
	state.DefaultWatchlist = []domain.Content{
		{ID: 27205, MediaType: domain.MediaMovie, PosterPath: "/inception.jpg", AddedAt: now},
		{ID: 1396, MediaType: domain.MediaTV, AddedAt: now},
	}
	state.UserCreatedWatchlists = []domain.Collection{{
		ID:           "c-1",
		Name:         "Weekend",
		Items:        []domain.Content{{ID: 550, MediaType: domain.MediaMovie, AddedAt: now}},
		Type:         domain.CollectionTMDBGenre,
		Genres:       []int{28, 12},
		DisplayOrder: 1,
		AutoUpdate:   &domain.AutoUpdateSettings{Enabled: true, IntervalHours: 24, LastUpdated: now},
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	state.Notifications = []domain.Notification{{ID: "n-1", Kind: "new-season", Message: "Season 2 is out", ContentID: 1396, CreatedAt: now}}
	state.Preferences.ChildSafetyMode = true
	state.Preferences.DefaultVolume = 0.8
	state.LastActive = now
	state.SchemaVersion = domain.CurrentSchemaVersion
	return state
}

// stripTimes zeroes timestamps so documents compare equal across encoders.
func stripTimes(s domain.UserState) domain.UserState {
	s = s.Clone()
	s.LastActive = time.Time{}
	for _, list := range [][]domain.Content{s.LikedMovies, s.HiddenMovies, s.DefaultWatchlist} {
		for i := range list {
			list[i].AddedAt = time.Time{}
		}
	}
	for i := range s.UserCreatedWatchlists {
		c := &s.UserCreatedWatchlists[i]
		c.CreatedAt, c.UpdatedAt = time.Time{}, time.Time{}
		for j := range c.Items {
			c.Items[j].AddedAt = time.Time{}
		}
		if c.AutoUpdate != nil {
			c.AutoUpdate.LastUpdated = time.Time{}
		}
	}
	for i := range s.Notifications {
		s.Notifications[i].CreatedAt = time.Time{}
	}
	return s
}

func assertRoundTrip(t *testing.T, a Adapter) {
	t.Helper()
	ctx := context.Background()
	want := sampleState("user-1")
	if err := a.Save(ctx, "user-1", want); err != nil {
		t.Fatalf("%s save: %v", a.Name(), err)
	}
	got, err := a.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("%s load: %v", a.Name(), err)
	}
	if !reflect.DeepEqual(stripTimes(want), stripTimes(got)) {
		t.Fatalf("%s round trip mismatch:\nwant %+v\ngot  %+v", a.Name(), want, got)
	}
	if !got.LastActive.Equal(want.LastActive) {
		t.Fatalf("%s lastActive = %v, want %v", a.Name(), got.LastActive, want.LastActive)
	}

	if err := a.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("%s clear: %v", a.Name(), err)
	}
	cleared, err := a.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("%s load after clear: %v", a.Name(), err)
	}
	if len(cleared.LikedMovies) != 0 || len(cleared.DefaultWatchlist) != 0 || cleared.ID != "user-1" {
		t.Fatalf("%s expected defaults after clear, got %+v", a.Name(), cleared)
	}
}

func TestMemoryAdapterRoundTrip(t *testing.T) {
	assertRoundTrip(t, NewMemoryAdapter())
}

func TestFileAdapterRoundTrip(t *testing.T) {
	a, err := NewFileAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("new file adapter: %v", err)
	}
	assertRoundTrip(t, a)
}

func TestRedisAdapterRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	a, err := NewRedisAdapter(RedisAdapterConfig{Addr: srv.Addr(), KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("new redis adapter: %v", err)
	}
	defer a.Close()
	assertRoundTrip(t, a)
}

func TestRedisAdapterUsesDocumentPath(t *testing.T) {
	srv := miniredis.RunT(t)
	a, err := NewRedisAdapter(RedisAdapterConfig{Addr: srv.Addr(), KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("new redis adapter: %v", err)
	}
	defer a.Close()
	if err := a.Save(context.Background(), "user-9", sampleState("user-9")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !srv.Exists("test:users/user-9") {
		t.Fatalf("expected document at test:users/user-9, keys: %v", srv.Keys())
	}
}

func TestRedisAdapterFailsWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	a, err := NewRedisAdapter(RedisAdapterConfig{Addr: srv.Addr(), Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("new redis adapter: %v", err)
	}
	defer a.Close()
	srv.Close()
	if err := a.Save(context.Background(), "user-1", sampleState("user-1")); err == nil {
		t.Fatalf("expected save to fail against closed redis")
	}
	if _, err := a.Load(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected load to fail against closed redis")
	}
}

func TestNewRedisAdapterRequiresAddr(t *testing.T) {
	if _, err := NewRedisAdapter(RedisAdapterConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestAdaptersRejectEmptyIdentity(t *testing.T) {
	a := NewMemoryAdapter()
	if _, err := a.Load(context.Background(), "  "); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
	if err := a.Save(context.Background(), "", domain.UserState{}); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
}

func TestSyncAdaptersReturnDefaultsForMissingIdentity(t *testing.T) {
	fileAdapter, err := NewFileAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("new file adapter: %v", err)
	}
	for _, a := range []Adapter{NewMemoryAdapter(), fileAdapter} {
		state, err := a.Load(context.Background(), "guest_abc")
		if err != nil {
			t.Fatalf("%s load: %v", a.Name(), err)
		}
		if state.Kind != domain.KindGuest {
			t.Fatalf("%s kind = %q, want guest", a.Name(), state.Kind)
		}
		if state.Preferences != domain.DefaultPreferences() {
			t.Fatalf("%s expected default preferences, got %+v", a.Name(), state.Preferences)
		}
		if a.IsAsync() {
			t.Fatalf("%s should be synchronous", a.Name())
		}
	}
}

func TestFileAdapterDegradesOnCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileAdapter(dir)
	if err != nil {
		t.Fatalf("new file adapter: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "guest_1.toml"), []byte("not = [valid"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	state, err := a.Load(context.Background(), "guest_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(state.DefaultWatchlist) != 0 {
		t.Fatalf("expected empty defaults, got %+v", state)
	}
}

func TestFileAdapterSurfacesReadErrors(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileAdapter(dir)
	if err != nil {
		t.Fatalf("new file adapter: %v", err)
	}
	// A directory where the document should be makes ReadFile fail with
	// something other than "not exist".
	if err := os.Mkdir(filepath.Join(dir, "guest_2.toml"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := a.Load(context.Background(), "guest_2"); err == nil {
		t.Fatalf("expected read error instead of defaults")
	}

	state, err := a.Load(context.Background(), "guest_missing")
	if err != nil || len(state.LikedMovies) != 0 {
		t.Fatalf("missing document should yield defaults: %+v err=%v", state, err)
	}
}

func TestFileAdapterSanitizesIdentity(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileAdapter(dir)
	if err != nil {
		t.Fatalf("new file adapter: %v", err)
	}
	if err := a.Save(context.Background(), "../escape", sampleState("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "___escape.toml")); err != nil {
		t.Fatalf("expected sanitized file inside base dir: %v", err)
	}
}

type countingTracker struct {
	calls map[string]int
}

func (c *countingTracker) Track(op, source string) {
	c.calls[op+"|"+source]++
}

func TestTrackedAdapterReportsCalls(t *testing.T) {
	tracker := &countingTracker{calls: make(map[string]int)}
	a := Tracked(NewMemoryAdapter(), tracker)
	ctx := WithSource(context.Background(), "addToWatchlist")

	_ = a.Save(ctx, "user-1", sampleState("user-1"))
	_ = a.Save(ctx, "user-1", sampleState("user-1"))
	_, _ = a.Load(context.Background(), "user-1")
	_ = a.Clear(ctx, "user-1")

	if tracker.calls["memory.save|addToWatchlist"] != 2 {
		t.Fatalf("unexpected save count: %v", tracker.calls)
	}
	if tracker.calls["memory.load|"] != 1 {
		t.Fatalf("unexpected load count: %v", tracker.calls)
	}
	if tracker.calls["memory.clear|addToWatchlist"] != 1 {
		t.Fatalf("unexpected clear count: %v", tracker.calls)
	}
	if Tracked(NewMemoryAdapter(), nil).Name() != "memory" {
		t.Fatalf("nil tracker should return adapter unchanged")
	}
}

func TestModelConversionRoundTrip(t *testing.T) {
	want := sampleState("user-7")
	m, err := toModel("user-7", want, time.Now().UTC())
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	if m.Kind != "user" || m.SchemaVersion != domain.CurrentSchemaVersion {
		t.Fatalf("unexpected model columns: %+v", m)
	}
	got, err := fromModel(m)
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	if !reflect.DeepEqual(stripTimes(want), stripTimes(got)) {
		t.Fatalf("model round trip mismatch:\nwant %+v\ngot  %+v", want, got)
	}
}

func TestObjectKeyIsSanitized(t *testing.T) {
	if got := objectKey("user/../1"); got != "users/user____1.json" {
		t.Fatalf("objectKey = %q", got)
	}
}
