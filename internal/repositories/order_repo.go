package repositories

import (
	"context"

	"boutique/internal/models"
)

// OrderRepository defines read access to committed orders.
type OrderRepository interface {
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	GetForUser(ctx context.Context, id, userID string) (*models.Order, error)
}
