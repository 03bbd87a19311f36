package collections

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"reelsync/pkg/domain"
)

func newTestService() (*Service, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(clock)
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("list-%d", n)
	}
	return svc, clock
}

func movie(id int64) domain.Content {
	return domain.Content{ID: id, MediaType: domain.MediaMovie, Title: fmt.Sprintf("Movie %d", id)}
}

func TestCreateAssignsIDOrderAndTimestamps(t *testing.T) {
	svc, clock := newTestService()
	limits := LimitsFor(domain.KindUser)

	lists, first, err := svc.Create(nil, CreateRequest{Name: "  Weekend  "}, limits)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != "list-1" || first.Name != "Weekend" || first.Type != domain.CollectionManual {
		t.Fatalf("unexpected collection: %+v", first)
	}
	if !first.CreatedAt.Equal(clock.Now()) || first.Items == nil {
		t.Fatalf("expected timestamps and empty items: %+v", first)
	}

	lists, second, err := svc.Create(lists, CreateRequest{Name: "Horror", Items: []domain.Content{movie(1), movie(1), movie(2)}}, limits)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if len(lists) != 2 || second.DisplayOrder != first.DisplayOrder+1 {
		t.Fatalf("unexpected order: %+v", lists)
	}
	if len(second.Items) != 2 || second.Items[0].AddedAt.IsZero() {
		t.Fatalf("expected deduplicated stamped items: %+v", second.Items)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	limits := LimitsFor(domain.KindUser)

	cases := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"blank name", CreateRequest{Name: "   "}, ErrNameTooShort},
		{"long name", CreateRequest{Name: strings.Repeat("a", 51)}, ErrNameTooLong},
		{"long description", CreateRequest{Name: "ok", Description: strings.Repeat("d", 201)}, ErrDescriptionTooLong},
		{"bad type", CreateRequest{Name: "ok", Type: "smart"}, ErrInvalidType},
		{"no genres", CreateRequest{Name: "ok", Type: domain.CollectionTMDBGenre}, ErrInvalidGenres},
		{"too many genres", CreateRequest{Name: "ok", Type: domain.CollectionTMDBGenre, Genres: []int{1, 2, 3, 4}}, ErrInvalidGenres},
		{"duplicate genres", CreateRequest{Name: "ok", Type: domain.CollectionTMDBGenre, Genres: []int{5, 5}}, ErrInvalidGenres},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lists, _, err := svc.Create(nil, tc.req, limits)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if lists != nil {
				t.Fatalf("input should be returned unchanged")
			}
		})
	}

	if _, _, err := svc.Create(nil, CreateRequest{Name: strings.Repeat("é", 50)}, limits); err != nil {
		t.Fatalf("50 runes should be accepted: %v", err)
	}
}

func TestCreateGuestQuota(t *testing.T) {
	svc, _ := newTestService()
	limits := LimitsFor(domain.KindGuest)

	var lists []domain.Collection
	for i := 0; i < GuestQuota; i++ {
		var err error
		lists, _, err = svc.Create(lists, CreateRequest{Name: fmt.Sprintf("List %d", i)}, limits)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	before := domain.CloneCollections(lists)

	got, _, err := svc.Create(lists, CreateRequest{Name: "One too many"}, limits)
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Reason != ReasonQuotaExceeded {
		t.Fatalf("expected quota_exceeded, got %v", err)
	}
	if len(got) != GuestQuota || !reflect.DeepEqual(lists, before) {
		t.Fatalf("state must be unchanged after rejection")
	}
}

func TestSystemCollectionsDoNotCountAgainstQuota(t *testing.T) {
	svc, clock := newTestService()
	limits := LimitsFor(domain.KindGuest)
	lists := SystemRecommendations(clock.Now())

	for i := 0; i < GuestQuota; i++ {
		var err error
		if lists, _, err = svc.Create(lists, CreateRequest{Name: fmt.Sprintf("L%d", i)}, limits); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if CountUserCollections(lists) != GuestQuota {
		t.Fatalf("unexpected count %d", CountUserCollections(lists))
	}
}

func TestAddItemIsIdempotentAndDoesNotMutateInput(t *testing.T) {
	svc, _ := newTestService()
	lists, created, err := svc.Create(nil, CreateRequest{Name: "Later"}, LimitsFor(domain.KindUser))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	next, added, err := svc.AddItem(lists, created.ID, movie(7))
	if err != nil || !added {
		t.Fatalf("add: added=%v err=%v", added, err)
	}
	if len(lists[0].Items) != 0 {
		t.Fatalf("input was mutated")
	}
	if len(next[0].Items) != 1 || next[0].Items[0].AddedAt.IsZero() {
		t.Fatalf("unexpected items: %+v", next[0].Items)
	}

	again, added, err := svc.AddItem(next, created.ID, movie(7))
	if err != nil || added {
		t.Fatalf("second add: added=%v err=%v", added, err)
	}
	if len(again[0].Items) != 1 {
		t.Fatalf("duplicate item added")
	}

	removed, ok, err := svc.RemoveItem(again, created.ID, 7)
	if err != nil || !ok || len(removed[0].Items) != 0 {
		t.Fatalf("remove: ok=%v err=%v items=%v", ok, err, removed[0].Items)
	}
	if _, ok, err := svc.RemoveItem(removed, created.ID, 7); err != nil || ok {
		t.Fatalf("remove missing: ok=%v err=%v", ok, err)
	}
}

func TestOperationsOnMissingOrSystemCollection(t *testing.T) {
	svc, clock := newTestService()
	lists := SystemRecommendations(clock.Now())

	if _, _, err := svc.AddItem(lists, "nope", movie(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if _, _, err := svc.AddItem(lists, RecommendedComedyID, movie(1)); !errors.Is(err, ErrSystemCollection) {
		t.Fatalf("expected system_collection, got %v", err)
	}
	name := "Mine"
	if _, err := svc.Update(lists, RecommendedComedyID, UpdateRequest{Name: &name}, LimitsFor(domain.KindUser)); !errors.Is(err, ErrSystemCollection) {
		t.Fatalf("expected system_collection, got %v", err)
	}
	if _, err := svc.Delete(lists, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	out, err := svc.Delete(lists, RecommendedComedyID)
	if err != nil || len(out) != len(lists)-1 {
		t.Fatalf("delete system: err=%v len=%d", err, len(out))
	}
}

func TestUpdate(t *testing.T) {
	svc, clock := newTestService()
	limits := LimitsFor(domain.KindUser)
	lists, manual, _ := svc.Create(nil, CreateRequest{Name: "Old"}, limits)
	lists, genre, _ := svc.Create(lists, CreateRequest{Name: "Sci-fi", Type: domain.CollectionTMDBGenre, Genres: []int{878}}, limits)
	clock.Advance(time.Minute)

	name, public := "New", true
	next, err := svc.Update(lists, manual.ID, UpdateRequest{Name: &name, IsPublic: &public}, limits)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if next[0].Name != "New" || !next[0].IsPublic || !next[0].UpdatedAt.After(next[0].CreatedAt) {
		t.Fatalf("unexpected update: %+v", next[0])
	}
	if lists[0].Name != "Old" {
		t.Fatalf("input was mutated")
	}

	empty := ""
	if _, err := svc.Update(lists, manual.ID, UpdateRequest{Name: &empty}, limits); !errors.Is(err, ErrNameTooShort) {
		t.Fatalf("expected name_too_short, got %v", err)
	}
	if _, err := svc.Update(lists, manual.ID, UpdateRequest{Genres: []int{1}}, limits); !errors.Is(err, ErrInvalidGenres) {
		t.Fatalf("genres on manual list: %v", err)
	}
	next, err = svc.Update(lists, genre.ID, UpdateRequest{Genres: []int{878, 53}}, limits)
	if err != nil || !reflect.DeepEqual(next[1].Genres, []int{878, 53}) {
		t.Fatalf("genre update: err=%v genres=%v", err, next[1].Genres)
	}
}

func TestSeed(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limits := LimitsFor(domain.KindUser)

	seeded, changed := Seed(nil, limits, now)
	if !changed {
		t.Fatalf("expected seeding on empty lists")
	}
	want := len(DefaultCollections(now)) + len(SystemRecommendations(now))
	if len(seeded) != want {
		t.Fatalf("seeded %d collections, want %d", len(seeded), want)
	}
	if again, changed := Seed(seeded, limits, now); changed || len(again) != want {
		t.Fatalf("seeding must be idempotent")
	}

	full := make([]domain.Collection, 0, GuestQuota)
	for i := 0; i < GuestQuota; i++ {
		full = append(full, domain.Collection{ID: fmt.Sprintf("g-%d", i), Name: "x"})
	}
	out, _ := Seed(full, LimitsFor(domain.KindGuest), now)
	if CountUserCollections(out) != GuestQuota {
		t.Fatalf("seeding must respect the quota, got %d", CountUserCollections(out))
	}
}
