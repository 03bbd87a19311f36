// Package collections implements named, ordered content collections.
//
// Every operation takes the current slice and returns a new one; inputs are
// never modified, so callers can apply the result optimistically and keep
// the old slice for comparison.
package collections

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"reelsync/pkg/domain"
)

const (
	GuestQuota = 3
	UserQuota  = 20

	minNameLength        = 1
	maxNameLength        = 50
	maxDescriptionLength = 200
	minGenres            = 1
	maxGenres            = 3
)

// Limits bounds what an identity may create.
type Limits struct {
	MaxCollections       int
	MinNameLength        int
	MaxNameLength        int
	MaxDescriptionLength int
	MinGenres            int
	MaxGenres            int
}

// LimitsFor returns the limits of an identity kind.
func LimitsFor(kind domain.IdentityKind) Limits {
	quota := UserQuota
	if kind == domain.KindGuest {
		quota = GuestQuota
	}
	return Limits{
		MaxCollections:       quota,
		MinNameLength:        minNameLength,
		MaxNameLength:        maxNameLength,
		MaxDescriptionLength: maxDescriptionLength,
		MinGenres:            minGenres,
		MaxGenres:            maxGenres,
	}
}

type CreateRequest struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Type        domain.CollectionType      `json:"type"`
	Genres      []int                      `json:"genres"`
	IsPublic    bool                       `json:"isPublic"`
	Color       string                     `json:"color"`
	Items       []domain.Content           `json:"items"`
	AutoUpdate  *domain.AutoUpdateSettings `json:"autoUpdate"`
}

// UpdateRequest changes the non-nil fields of a collection.
type UpdateRequest struct {
	Name         *string                    `json:"name"`
	Description  *string                    `json:"description"`
	IsPublic     *bool                      `json:"isPublic"`
	Color        *string                    `json:"color"`
	DisplayOrder *int                       `json:"displayOrder"`
	Genres       []int                      `json:"genres"`
	AutoUpdate   *domain.AutoUpdateSettings `json:"autoUpdate"`
}

// Service applies collection operations with an injected clock and id source.
type Service struct {
	clock clockwork.Clock
	newID func() string
}

// NewService builds a Service. A nil clock uses wall time.
func NewService(clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{clock: clock, newID: uuid.NewString}
}

// Create validates req and appends a new collection.
func (s *Service) Create(lists []domain.Collection, req CreateRequest, limits Limits) ([]domain.Collection, domain.Collection, error) {
	name := strings.TrimSpace(req.Name)
	if err := validateName(name, limits); err != nil {
		return lists, domain.Collection{}, err
	}
	description := strings.TrimSpace(req.Description)
	if err := validateDescription(description, limits); err != nil {
		return lists, domain.Collection{}, err
	}
	kind := req.Type
	if kind == "" {
		kind = domain.CollectionManual
	}
	if !kind.Valid() {
		return lists, domain.Collection{}, failure(ReasonInvalidType, "unknown type %q", kind)
	}
	if kind == domain.CollectionTMDBGenre {
		if err := validateGenres(req.Genres, limits); err != nil {
			return lists, domain.Collection{}, err
		}
	}
	if n := CountUserCollections(lists); n >= limits.MaxCollections {
		return lists, domain.Collection{}, failure(ReasonQuotaExceeded, "limit of %d collections reached", limits.MaxCollections)
	}

	now := s.clock.Now().UTC()
	created := domain.Collection{
		ID:           s.newID(),
		Name:         name,
		Description:  description,
		Items:        dedupeItems(req.Items, now),
		Type:         kind,
		IsPublic:     req.IsPublic,
		DisplayOrder: nextDisplayOrder(lists),
		Color:        strings.TrimSpace(req.Color),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if kind == domain.CollectionTMDBGenre {
		created.Genres = append([]int{}, req.Genres...)
	}
	if req.AutoUpdate != nil {
		au := *req.AutoUpdate
		created.AutoUpdate = &au
	}

	out := domain.CloneCollections(lists)
	out = append(out, created)
	return out, created.Clone(), nil
}

// AddItem appends content to the collection listID. It reports false and
// returns lists unchanged when the item is already present.
func (s *Service) AddItem(lists []domain.Collection, listID string, content domain.Content) ([]domain.Collection, bool, error) {
	idx, err := findMutable(lists, listID)
	if err != nil {
		return lists, false, err
	}
	if lists[idx].HasItem(content.ID) {
		return lists, false, nil
	}
	now := s.clock.Now().UTC()
	if content.AddedAt.IsZero() {
		content.AddedAt = now
	}
	out := domain.CloneCollections(lists)
	out[idx].Items = append(out[idx].Items, content)
	out[idx].UpdatedAt = now
	return out, true, nil
}

// RemoveItem drops contentID from the collection listID. It reports false
// when the item was not present.
func (s *Service) RemoveItem(lists []domain.Collection, listID string, contentID int64) ([]domain.Collection, bool, error) {
	idx, err := findMutable(lists, listID)
	if err != nil {
		return lists, false, err
	}
	if !lists[idx].HasItem(contentID) {
		return lists, false, nil
	}
	out := domain.CloneCollections(lists)
	out[idx].Items = domain.Without(out[idx].Items, contentID)
	out[idx].UpdatedAt = s.clock.Now().UTC()
	return out, true, nil
}

// Update applies req to the collection listID.
func (s *Service) Update(lists []domain.Collection, listID string, req UpdateRequest, limits Limits) ([]domain.Collection, error) {
	idx, err := findMutable(lists, listID)
	if err != nil {
		return lists, err
	}
	next := lists[idx].Clone()
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if err := validateName(name, limits); err != nil {
			return lists, err
		}
		next.Name = name
	}
	if req.Description != nil {
		description := strings.TrimSpace(*req.Description)
		if err := validateDescription(description, limits); err != nil {
			return lists, err
		}
		next.Description = description
	}
	if req.IsPublic != nil {
		next.IsPublic = *req.IsPublic
	}
	if req.Color != nil {
		next.Color = strings.TrimSpace(*req.Color)
	}
	if req.DisplayOrder != nil {
		next.DisplayOrder = *req.DisplayOrder
	}
	if req.Genres != nil {
		if next.Type != domain.CollectionTMDBGenre {
			return lists, failure(ReasonInvalidGenres, "genres only apply to %s collections", domain.CollectionTMDBGenre)
		}
		if err := validateGenres(req.Genres, limits); err != nil {
			return lists, err
		}
		next.Genres = append([]int{}, req.Genres...)
	}
	if req.AutoUpdate != nil {
		au := *req.AutoUpdate
		next.AutoUpdate = &au
	}
	next.UpdatedAt = s.clock.Now().UTC()

	out := domain.CloneCollections(lists)
	out[idx] = next
	return out, nil
}

// Delete removes the collection listID. System recommendations may be
// deleted; they are not re-seeded once the schema is current.
func (s *Service) Delete(lists []domain.Collection, listID string) ([]domain.Collection, error) {
	idx := indexOf(lists, listID)
	if idx < 0 {
		return lists, failure(ReasonNotFound, "collection %q", listID)
	}
	out := make([]domain.Collection, 0, len(lists)-1)
	for i, c := range lists {
		if i != idx {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// CountUserCollections counts collections that count against the quota.
func CountUserCollections(lists []domain.Collection) int {
	n := 0
	for _, c := range lists {
		if !c.System {
			n++
		}
	}
	return n
}

func findMutable(lists []domain.Collection, listID string) (int, error) {
	idx := indexOf(lists, listID)
	if idx < 0 {
		return -1, failure(ReasonNotFound, "collection %q", listID)
	}
	if lists[idx].System {
		return -1, failure(ReasonSystemCollection, "collection %q is managed automatically", listID)
	}
	return idx, nil
}

func indexOf(lists []domain.Collection, listID string) int {
	for i, c := range lists {
		if c.ID == listID {
			return i
		}
	}
	return -1
}

func validateName(name string, limits Limits) error {
	n := utf8.RuneCountInString(name)
	if n < limits.MinNameLength {
		return failure(ReasonNameTooShort, "name must have at least %d characters", limits.MinNameLength)
	}
	if n > limits.MaxNameLength {
		return failure(ReasonNameTooLong, "name must have at most %d characters", limits.MaxNameLength)
	}
	return nil
}

func validateDescription(description string, limits Limits) error {
	if utf8.RuneCountInString(description) > limits.MaxDescriptionLength {
		return failure(ReasonDescriptionTooLong, "description must have at most %d characters", limits.MaxDescriptionLength)
	}
	return nil
}

func validateGenres(genres []int, limits Limits) error {
	if len(genres) < limits.MinGenres || len(genres) > limits.MaxGenres {
		return failure(ReasonInvalidGenres, "need %d to %d genres, got %d", limits.MinGenres, limits.MaxGenres, len(genres))
	}
	seen := make(map[int]struct{}, len(genres))
	for _, g := range genres {
		if g <= 0 {
			return failure(ReasonInvalidGenres, "genre id %d", g)
		}
		if _, dup := seen[g]; dup {
			return failure(ReasonInvalidGenres, "duplicate genre %d", g)
		}
		seen[g] = struct{}{}
	}
	return nil
}

func nextDisplayOrder(lists []domain.Collection) int {
	order := 0
	for _, c := range lists {
		if c.DisplayOrder >= order {
			order = c.DisplayOrder + 1
		}
	}
	return order
}

func dedupeItems(items []domain.Content, now time.Time) []domain.Content {
	out := make([]domain.Content, 0, len(items))
	for _, item := range items {
		if domain.IndexOf(out, item.ID) >= 0 {
			continue
		}
		if item.AddedAt.IsZero() {
			item.AddedAt = now
		}
		out = append(out, item)
	}
	return out
}
