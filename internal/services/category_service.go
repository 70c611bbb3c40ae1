package services

import (
	"context"
	"fmt"
	"strings"

	"boutique/internal/models"
	"boutique/internal/repositories"
)

// CategoryService serves the read-only category tree of the catalog.
type CategoryService struct {
	repo repositories.CategoryRepository
}

// NewCategoryService creates a new CategoryService.
func NewCategoryService(repo repositories.CategoryRepository) *CategoryService {
	return &CategoryService{repo: repo}
}

// ListCategories returns every category ordered by name.
func (s *CategoryService) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if categories == nil {
		categories = []models.Category{}
	}
	return categories, nil
}

// GetCategory returns a single category.
func (s *CategoryService) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	return s.repo.GetByID(ctx, id)
}

// SeedIfEmpty creates the given categories when none exist yet and returns
// the resulting name to ID index, including categories that already existed.
func (s *CategoryService) SeedIfEmpty(ctx context.Context, categories []models.Category) (map[string]string, error) {
	existing, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		for i := range categories {
			if strings.TrimSpace(categories[i].Name) == "" {
				return nil, fmt.Errorf("category %d has no name", i+1)
			}
			if err := s.repo.Create(ctx, &categories[i]); err != nil {
				return nil, fmt.Errorf("failed to seed category %s: %w", categories[i].Name, err)
			}
		}
		existing = categories
	}

	byName := make(map[string]string, len(existing))
	for _, c := range existing {
		byName[c.Name] = c.ID
	}
	return byName, nil
}
