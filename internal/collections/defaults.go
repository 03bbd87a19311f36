package collections

import (
	"time"

	"reelsync/pkg/domain"
)

// Well-known ids of seeded collections. Seeding is idempotent by id.
const (
	FavoritesID         = "default-favorites"
	RecommendedActionID = "system-action-adventure"
	RecommendedComedyID = "system-comedy"
	RecommendedFamilyID = "system-family"
	recommendInterval   = 24
)

// DefaultCollections returns the manual collections every new account starts with.
func DefaultCollections(now time.Time) []domain.Collection {
	return []domain.Collection{
		{
			ID:          FavoritesID,
			Name:        "Favorites",
			Description: "Titles you never get tired of",
			Items:       []domain.Content{},
			Type:        domain.CollectionManual,
			Color:       "#e50914",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// SystemRecommendations returns the genre-driven collections maintained by
// the service. They are marked System and do not count against the quota.
func SystemRecommendations(now time.Time) []domain.Collection {
	rec := func(id, name string, genres ...int) domain.Collection {
		return domain.Collection{
			ID:     id,
			Name:   name,
			Items:  []domain.Content{},
			Type:   domain.CollectionTMDBGenre,
			Genres: genres,
			AutoUpdate: &domain.AutoUpdateSettings{
				Enabled:       true,
				IntervalHours: recommendInterval,
			},
			System:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return []domain.Collection{
		rec(RecommendedActionID, "Action & Adventure", 28, 12),
		rec(RecommendedComedyID, "Comedy Picks", 35),
		rec(RecommendedFamilyID, "Family Night", 10751, 16),
	}
}

// Seed appends the defaults missing from lists and reports whether anything
// was added. Default manual collections are only added while the quota
// leaves room for them.
func Seed(lists []domain.Collection, limits Limits, now time.Time) ([]domain.Collection, bool) {
	out := domain.CloneCollections(lists)
	added := false
	order := nextDisplayOrder(out)
	for _, c := range DefaultCollections(now) {
		if indexOf(out, c.ID) >= 0 || CountUserCollections(out) >= limits.MaxCollections {
			continue
		}
		c.DisplayOrder = order
		order++
		out = append(out, c)
		added = true
	}
	for _, c := range SystemRecommendations(now) {
		if indexOf(out, c.ID) >= 0 {
			continue
		}
		c.DisplayOrder = order
		order++
		out = append(out, c)
		added = true
	}
	if !added {
		return lists, false
	}
	return out, true
}
