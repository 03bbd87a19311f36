package userstore

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"reelsync/internal/collections"
	"reelsync/pkg/domain"
)

// maxNotifications caps the notification inbox; the oldest entries go first.
const maxNotifications = 50

func validContent(c domain.Content) error {
	if c.ID <= 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidContent, c.ID)
	}
	if !c.MediaType.Valid() {
		return fmt.Errorf("%w: media type %q", ErrInvalidContent, c.MediaType)
	}
	return nil
}

func (s *Store) stamp(c domain.Content) domain.Content {
	if c.AddedAt.IsZero() {
		c.AddedAt = s.clock.Now().UTC()
	}
	return c
}

// AddToWatchlist appends content to the default watchlist.
func (s *Store) AddToWatchlist(ctx context.Context, content domain.Content) error {
	if err := validContent(content); err != nil {
		return err
	}
	_, err := s.apply(ctx, "addToWatchlist", func(next *domain.UserState) (bool, error) {
		if domain.IndexOf(next.DefaultWatchlist, content.ID) >= 0 {
			return false, nil
		}
		next.DefaultWatchlist = append(next.DefaultWatchlist, s.stamp(content))
		return true, nil
	})
	return err
}

func (s *Store) RemoveFromWatchlist(ctx context.Context, contentID int64) error {
	_, err := s.apply(ctx, "removeFromWatchlist", func(next *domain.UserState) (bool, error) {
		if domain.IndexOf(next.DefaultWatchlist, contentID) < 0 {
			return false, nil
		}
		next.DefaultWatchlist = domain.Without(next.DefaultWatchlist, contentID)
		return true, nil
	})
	return err
}

// AddLikedMovie marks content as liked and removes it from the hidden list.
func (s *Store) AddLikedMovie(ctx context.Context, content domain.Content) error {
	if err := validContent(content); err != nil {
		return err
	}
	_, err := s.apply(ctx, "addLikedMovie", func(next *domain.UserState) (bool, error) {
		if domain.IndexOf(next.LikedMovies, content.ID) >= 0 {
			return false, nil
		}
		next.LikedMovies = append(next.LikedMovies, s.stamp(content))
		next.HiddenMovies = domain.Without(next.HiddenMovies, content.ID)
		return true, nil
	})
	return err
}

func (s *Store) RemoveLikedMovie(ctx context.Context, contentID int64) error {
	_, err := s.apply(ctx, "removeLikedMovie", func(next *domain.UserState) (bool, error) {
		if domain.IndexOf(next.LikedMovies, contentID) < 0 {
			return false, nil
		}
		next.LikedMovies = domain.Without(next.LikedMovies, contentID)
		return true, nil
	})
	return err
}

// AddHiddenMovie hides content and removes it from the liked list.
func (s *Store) AddHiddenMovie(ctx context.Context, content domain.Content) error {
	if err := validContent(content); err != nil {
		return err
	}
	_, err := s.apply(ctx, "addHiddenMovie", func(next *domain.UserState) (bool, error) {
		if domain.IndexOf(next.HiddenMovies, content.ID) >= 0 {
			return false, nil
		}
		next.HiddenMovies = append(next.HiddenMovies, s.stamp(content))
		next.LikedMovies = domain.Without(next.LikedMovies, content.ID)
		return true, nil
	})
	return err
}

func (s *Store) RemoveHiddenMovie(ctx context.Context, contentID int64) error {
	_, err := s.apply(ctx, "removeHiddenMovie", func(next *domain.UserState) (bool, error) {
		if domain.IndexOf(next.HiddenMovies, contentID) < 0 {
			return false, nil
		}
		next.HiddenMovies = domain.Without(next.HiddenMovies, contentID)
		return true, nil
	})
	return err
}

// CreateList creates a collection within the identity's quota.
func (s *Store) CreateList(ctx context.Context, req collections.CreateRequest) (domain.Collection, error) {
	var created domain.Collection
	_, err := s.apply(ctx, "createList", func(next *domain.UserState) (bool, error) {
		lists, c, err := s.lists.Create(next.UserCreatedWatchlists, req, s.limits)
		if err != nil {
			return false, err
		}
		next.UserCreatedWatchlists = lists
		created = c
		return true, nil
	})
	return created, err
}

func (s *Store) AddToList(ctx context.Context, listID string, content domain.Content) error {
	if err := validContent(content); err != nil {
		return err
	}
	_, err := s.apply(ctx, "addToList", func(next *domain.UserState) (bool, error) {
		lists, added, err := s.lists.AddItem(next.UserCreatedWatchlists, listID, content)
		if err != nil || !added {
			return false, err
		}
		next.UserCreatedWatchlists = lists
		return true, nil
	})
	return err
}

func (s *Store) RemoveFromList(ctx context.Context, listID string, contentID int64) error {
	_, err := s.apply(ctx, "removeFromList", func(next *domain.UserState) (bool, error) {
		lists, removed, err := s.lists.RemoveItem(next.UserCreatedWatchlists, listID, contentID)
		if err != nil || !removed {
			return false, err
		}
		next.UserCreatedWatchlists = lists
		return true, nil
	})
	return err
}

func (s *Store) UpdateList(ctx context.Context, listID string, req collections.UpdateRequest) error {
	_, err := s.apply(ctx, "updateList", func(next *domain.UserState) (bool, error) {
		lists, err := s.lists.Update(next.UserCreatedWatchlists, listID, req, s.limits)
		if err != nil {
			return false, err
		}
		next.UserCreatedWatchlists = lists
		return true, nil
	})
	return err
}

func (s *Store) DeleteList(ctx context.Context, listID string) error {
	_, err := s.apply(ctx, "deleteList", func(next *domain.UserState) (bool, error) {
		lists, err := s.lists.Delete(next.UserCreatedWatchlists, listID)
		if err != nil {
			return false, err
		}
		next.UserCreatedWatchlists = lists
		return true, nil
	})
	return err
}

// UpdatePreferences applies patch. Guests cannot change child safety mode;
// such changes are dropped. Flipping child safety mode invalidates the
// content cache once.
func (s *Store) UpdatePreferences(ctx context.Context, patch domain.PreferencesPatch) error {
	if v := patch.DefaultVolume; v != nil && (math.IsNaN(*v) || *v < 0 || *v > 1) {
		return ErrInvalidVolume
	}
	if s.caps.GuestRestrictions && patch.ChildSafetyMode != nil {
		s.logger.Info("dropping child safety change for guest", s.field, s.Identity())
		patch.ChildSafetyMode = nil
	}
	var safetyChanged bool
	changed, err := s.apply(ctx, "updatePreferences", func(next *domain.UserState) (bool, error) {
		prefs := next.Preferences.Apply(patch)
		if prefs == next.Preferences {
			return false, nil
		}
		safetyChanged = prefs.ChildSafetyMode != next.Preferences.ChildSafetyMode
		next.Preferences = prefs
		return true, nil
	})
	if err != nil {
		return err
	}
	if changed && safetyChanged {
		s.invalidateCache(ctx)
	}
	return nil
}

// AddNotification records a notification for the identity.
func (s *Store) AddNotification(ctx context.Context, kind, message string, contentID int64) (domain.Notification, error) {
	n := domain.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		ContentID: contentID,
		CreatedAt: s.clock.Now().UTC(),
	}
	_, err := s.apply(ctx, "addNotification", func(next *domain.UserState) (bool, error) {
		next.Notifications = append(next.Notifications, n)
		if over := len(next.Notifications) - maxNotifications; over > 0 {
			next.Notifications = append([]domain.Notification{}, next.Notifications[over:]...)
		}
		return true, nil
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, notificationID string) error {
	_, err := s.apply(ctx, "markNotificationRead", func(next *domain.UserState) (bool, error) {
		for i := range next.Notifications {
			if next.Notifications[i].ID != notificationID {
				continue
			}
			if next.Notifications[i].Read {
				return false, nil
			}
			next.Notifications[i].Read = true
			return true, nil
		}
		return false, ErrNotificationNotFound
	})
	return err
}

func (s *Store) ClearNotifications(ctx context.Context) error {
	_, err := s.apply(ctx, "clearNotifications", func(next *domain.UserState) (bool, error) {
		if len(next.Notifications) == 0 {
			return false, nil
		}
		next.Notifications = []domain.Notification{}
		return true, nil
	})
	return err
}
