package domain

import "time"

type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
)

// Valid reports whether m is a known media type.
func (m MediaType) Valid() bool {
	return m == MediaMovie || m == MediaTV
}

type IdentityKind string

const (
	KindGuest IdentityKind = "guest"
	KindUser  IdentityKind = "user"
)

// IdentityField is the name used for the identity in logs and documents.
func (k IdentityKind) IdentityField() string {
	if k == KindGuest {
		return "guestId"
	}
	return "userId"
}

type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncSyncing SyncStatus = "syncing"
	SyncOffline SyncStatus = "offline"
)

type CollectionType string

const (
	CollectionManual      CollectionType = "manual"
	CollectionAIGenerated CollectionType = "ai-generated"
	CollectionTMDBGenre   CollectionType = "tmdb-genre"
)

// Valid reports whether t is a known collection type.
func (t CollectionType) Valid() bool {
	switch t {
	case CollectionManual, CollectionAIGenerated, CollectionTMDBGenre:
		return true
	}
	return false
}

// CurrentSchemaVersion is bumped whenever a load-time migration is added.
// Version 1 introduced default collections and system recommendations.
const CurrentSchemaVersion = 1

// Content references a third-party catalog item.
type Content struct {
	ID         int64     `json:"id" toml:"id"`
	MediaType  MediaType `json:"media_type" toml:"media_type"`
	Title      string    `json:"title,omitempty" toml:"title,omitempty"`
	PosterPath string    `json:"poster_path,omitempty" toml:"poster_path,omitempty"`
	AddedAt    time.Time `json:"addedAt" toml:"added_at"`
}

type AutoUpdateSettings struct {
	Enabled       bool      `json:"enabled" toml:"enabled"`
	IntervalHours int       `json:"intervalHours" toml:"interval_hours"`
	LastUpdated   time.Time `json:"lastUpdated" toml:"last_updated"`
}

type Collection struct {
	ID           string              `json:"id" toml:"id"`
	Name         string              `json:"name" toml:"name"`
	Description  string              `json:"description,omitempty" toml:"description,omitempty"`
	Items        []Content           `json:"items" toml:"items"`
	Type         CollectionType      `json:"type" toml:"type"`
	IsPublic     bool                `json:"isPublic" toml:"is_public"`
	DisplayOrder int                 `json:"displayOrder" toml:"display_order"`
	Color        string              `json:"color,omitempty" toml:"color,omitempty"`
	Genres       []int               `json:"genres,omitempty" toml:"genres,omitempty"`
	AutoUpdate   *AutoUpdateSettings `json:"autoUpdate,omitempty" toml:"auto_update,omitempty"`
	System       bool                `json:"system,omitempty" toml:"system,omitempty"`
	CreatedAt    time.Time           `json:"createdAt" toml:"created_at"`
	UpdatedAt    time.Time           `json:"updatedAt" toml:"updated_at"`
}

// HasItem reports whether the collection already holds contentID.
func (c Collection) HasItem(contentID int64) bool {
	return IndexOf(c.Items, contentID) >= 0
}

type Notification struct {
	ID        string    `json:"id" toml:"id"`
	Kind      string    `json:"kind" toml:"kind"`
	Message   string    `json:"message" toml:"message"`
	ContentID int64     `json:"contentId,omitempty" toml:"content_id,omitempty"`
	Read      bool      `json:"read" toml:"read"`
	CreatedAt time.Time `json:"createdAt" toml:"created_at"`
}

type Preferences struct {
	AutoMute         bool    `json:"autoMute" toml:"auto_mute"`
	DefaultVolume    float64 `json:"defaultVolume" toml:"default_volume"`
	ChildSafetyMode  bool    `json:"childSafetyMode" toml:"child_safety_mode"`
	AutoplayTrailers bool    `json:"autoplayTrailers" toml:"autoplay_trailers"`
}

// DefaultPreferences returns the preferences of a fresh identity.
func DefaultPreferences() Preferences {
	return Preferences{
		AutoMute:         false,
		DefaultVolume:    0.5,
		ChildSafetyMode:  false,
		AutoplayTrailers: true,
	}
}

// PreferencesPatch carries a partial preferences update. Nil fields are left unchanged.
type PreferencesPatch struct {
	AutoMute         *bool    `json:"autoMute,omitempty"`
	DefaultVolume    *float64 `json:"defaultVolume,omitempty"`
	ChildSafetyMode  *bool    `json:"childSafetyMode,omitempty"`
	AutoplayTrailers *bool    `json:"autoplayTrailers,omitempty"`
}

// Apply returns p with the non-nil fields of patch applied.
func (p Preferences) Apply(patch PreferencesPatch) Preferences {
	if patch.AutoMute != nil {
		p.AutoMute = *patch.AutoMute
	}
	if patch.DefaultVolume != nil {
		p.DefaultVolume = *patch.DefaultVolume
	}
	if patch.ChildSafetyMode != nil {
		p.ChildSafetyMode = *patch.ChildSafetyMode
	}
	if patch.AutoplayTrailers != nil {
		p.AutoplayTrailers = *patch.AutoplayTrailers
	}
	return p
}

// UserState is the full per-identity document.
type UserState struct {
	ID                    string         `json:"id" toml:"id"`
	Kind                  IdentityKind   `json:"kind" toml:"kind"`
	LikedMovies           []Content      `json:"likedMovies" toml:"liked_movies"`
	HiddenMovies          []Content      `json:"hiddenMovies" toml:"hidden_movies"`
	DefaultWatchlist      []Content      `json:"defaultWatchlist" toml:"default_watchlist"`
	UserCreatedWatchlists []Collection   `json:"userCreatedWatchlists" toml:"user_created_watchlists"`
	Notifications         []Notification `json:"notifications" toml:"notifications"`
	Preferences           Preferences    `json:"preferences" toml:"preferences"`
	LastActive            time.Time      `json:"lastActive" toml:"last_active"`
	SchemaVersion         int            `json:"schemaVersion" toml:"schema_version"`

	// SyncStatus is transient and never persisted.
	SyncStatus SyncStatus `json:"-" toml:"-"`
}

// NewUserState returns the empty state for a freshly created identity.
func NewUserState(id string, kind IdentityKind) UserState {
	return UserState{
		ID:                    id,
		Kind:                  kind,
		LikedMovies:           []Content{},
		HiddenMovies:          []Content{},
		DefaultWatchlist:      []Content{},
		UserCreatedWatchlists: []Collection{},
		Notifications:         []Notification{},
		Preferences:           DefaultPreferences(),
		SyncStatus:            SyncSynced,
	}
}

// Normalize replaces nil slices with empty ones so documents round-trip
// identically across encoders.
func (s *UserState) Normalize() {
	if s.LikedMovies == nil {
		s.LikedMovies = []Content{}
	}
	if s.HiddenMovies == nil {
		s.HiddenMovies = []Content{}
	}
	if s.DefaultWatchlist == nil {
		s.DefaultWatchlist = []Content{}
	}
	if s.UserCreatedWatchlists == nil {
		s.UserCreatedWatchlists = []Collection{}
	}
	for i := range s.UserCreatedWatchlists {
		if s.UserCreatedWatchlists[i].Items == nil {
			s.UserCreatedWatchlists[i].Items = []Content{}
		}
	}
	if s.Notifications == nil {
		s.Notifications = []Notification{}
	}
}

// Clone returns a deep copy of s.
func (s UserState) Clone() UserState {
	out := s
	out.LikedMovies = append([]Content{}, s.LikedMovies...)
	out.HiddenMovies = append([]Content{}, s.HiddenMovies...)
	out.DefaultWatchlist = append([]Content{}, s.DefaultWatchlist...)
	out.UserCreatedWatchlists = CloneCollections(s.UserCreatedWatchlists)
	out.Notifications = append([]Notification{}, s.Notifications...)
	return out
}

// CloneCollections deep-copies a collection slice.
func CloneCollections(in []Collection) []Collection {
	out := make([]Collection, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// Clone returns a deep copy of c.
func (c Collection) Clone() Collection {
	out := c
	out.Items = append([]Content{}, c.Items...)
	if c.Genres != nil {
		out.Genres = append([]int{}, c.Genres...)
	}
	if c.AutoUpdate != nil {
		au := *c.AutoUpdate
		out.AutoUpdate = &au
	}
	return out
}

// IndexOf returns the position of contentID in items or -1.
func IndexOf(items []Content, contentID int64) int {
	for i, item := range items {
		if item.ID == contentID {
			return i
		}
	}
	return -1
}

// Without returns a copy of items lacking contentID.
func Without(items []Content, contentID int64) []Content {
	out := make([]Content, 0, len(items))
	for _, item := range items {
		if item.ID != contentID {
			out = append(out, item)
		}
	}
	return out
}
