package repositories

import (
	"context"
	"sort"
	"time"

	"boutique/internal/models"

	"github.com/google/uuid"
)

// MemoryCategories adapts a MemoryStore to CategoryRepository.
type MemoryCategories struct {
	store *MemoryStore
}

// Categories returns the store's category repository.
func (s *MemoryStore) Categories() *MemoryCategories {
	return &MemoryCategories{store: s}
}

// GetAll returns every category ordered by name.
func (r *MemoryCategories) GetAll(_ context.Context) ([]models.Category, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	list := make([]models.Category, 0, len(r.store.categories))
	for _, c := range r.store.categories {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// GetByID returns a category by its ID.
func (r *MemoryCategories) GetByID(_ context.Context, id string) (*models.Category, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	c, ok := r.store.categories[id]
	if !ok {
		return nil, models.ErrCategoryNotFound
	}
	return &c, nil
}

// Create stores a new category.
func (r *MemoryCategories) Create(_ context.Context, category *models.Category) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if category.ID == "" {
		category.ID = uuid.New().String()
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	r.store.categories[category.ID] = *category
	return nil
}
