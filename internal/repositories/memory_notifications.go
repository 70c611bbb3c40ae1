package repositories

import (
	"context"
	"sort"
	"time"

	"boutique/internal/models"

	"github.com/google/uuid"
)

// MemoryNotifications adapts a MemoryStore to NotificationRepository. Its
// Create method would otherwise clash with the product Create.
type MemoryNotifications struct {
	store *MemoryStore
}

// Notifications returns the store's notification repository.
func (s *MemoryStore) Notifications() *MemoryNotifications {
	return &MemoryNotifications{store: s}
}

// Create stores a new notification.
func (r *MemoryNotifications) Create(_ context.Context, n *models.Notification) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	r.store.notifications[n.ID] = *n
	return nil
}

// ListByUser returns the user's notifications, newest first.
func (r *MemoryNotifications) ListByUser(_ context.Context, userID string) ([]models.Notification, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	list := make([]models.Notification, 0)
	for _, n := range r.store.notifications {
		if n.UserID == userID {
			list = append(list, n)
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// MarkRead flags one of the user's notifications as read.
func (r *MemoryNotifications) MarkRead(_ context.Context, id, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	n, ok := r.store.notifications[id]
	if !ok || n.UserID != userID {
		return models.ErrNotificationNotFound
	}
	n.IsRead = true
	r.store.notifications[id] = n
	return nil
}

// MarkSent records when the push for a notification went out.
func (r *MemoryNotifications) MarkSent(_ context.Context, id string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	n, ok := r.store.notifications[id]
	if !ok {
		return models.ErrNotificationNotFound
	}
	n.SentAt = &at
	r.store.notifications[id] = n
	return nil
}
