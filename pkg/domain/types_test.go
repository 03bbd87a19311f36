package domain

import "testing"

func TestPreferencesApplyLeavesNilFields(t *testing.T) {
	vol := 0.8
	safe := true
	got := DefaultPreferences().Apply(PreferencesPatch{DefaultVolume: &vol, ChildSafetyMode: &safe})
	if got.DefaultVolume != 0.8 || !got.ChildSafetyMode {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.AutoMute || !got.AutoplayTrailers {
		t.Fatalf("untouched fields changed: %+v", got)
	}
}

func TestUserStateCloneIsDeep(t *testing.T) {
	s := NewUserState("u1", KindUser)
	s.DefaultWatchlist = append(s.DefaultWatchlist, Content{ID: 1, MediaType: MediaMovie})
	s.UserCreatedWatchlists = append(s.UserCreatedWatchlists, Collection{
		ID:         "c1",
		Items:      []Content{{ID: 2, MediaType: MediaTV}},
		Genres:     []int{28},
		AutoUpdate: &AutoUpdateSettings{Enabled: true, IntervalHours: 24},
	})

	c := s.Clone()
	c.DefaultWatchlist[0].Title = "changed"
	c.UserCreatedWatchlists[0].Items[0].ID = 99
	c.UserCreatedWatchlists[0].Genres[0] = 35
	c.UserCreatedWatchlists[0].AutoUpdate.Enabled = false

	orig := s.UserCreatedWatchlists[0]
	if s.DefaultWatchlist[0].Title != "" || orig.Items[0].ID != 2 || orig.Genres[0] != 28 || !orig.AutoUpdate.Enabled {
		t.Fatalf("clone shares memory with the original: %+v", s)
	}
}

func TestNormalizeFillsNilSlices(t *testing.T) {
	s := UserState{ID: "u1", UserCreatedWatchlists: []Collection{{ID: "c1"}}}
	s.Normalize()
	if s.LikedMovies == nil || s.HiddenMovies == nil || s.DefaultWatchlist == nil || s.Notifications == nil {
		t.Fatalf("nil slices left after normalize: %+v", s)
	}
	if s.UserCreatedWatchlists[0].Items == nil {
		t.Fatalf("collection items left nil")
	}
}

func TestWithoutAndIndexOf(t *testing.T) {
	items := []Content{{ID: 1}, {ID: 2}, {ID: 3}}
	if IndexOf(items, 2) != 1 || IndexOf(items, 7) != -1 {
		t.Fatalf("unexpected IndexOf results")
	}
	out := Without(items, 2)
	if len(out) != 2 || IndexOf(out, 2) != -1 || len(items) != 3 {
		t.Fatalf("Without mutated input or kept the item: %v %v", out, items)
	}
}

func TestValidators(t *testing.T) {
	if !MediaMovie.Valid() || MediaType("book").Valid() {
		t.Fatalf("media type validation wrong")
	}
	if KindGuest.IdentityField() == KindUser.IdentityField() {
		t.Fatalf("identity fields must differ")
	}
}
