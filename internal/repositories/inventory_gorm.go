package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boutique/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormScope struct {
	tx *gorm.DB
}

func (s gormScope) Inventory() InventoryLedger { return gormLedger{tx: s.tx} }
func (s gormScope) Orders() OrderWriter        { return gormOrderWriter{tx: s.tx} }

// gormLedger locks product rows with SELECT ... FOR UPDATE. SQLite has no row
// locks and relies on the single-connection pool set up by the database package.
type gormLedger struct {
	tx *gorm.DB
}

// lockQuery selects the stock row of productID FOR UPDATE.
func lockQuery(db *gorm.DB, productID string) *gorm.DB {
	return db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "stock", "price", "is_active").
		Where("id = ?", productID)
}

func (l gormLedger) LockAndRead(ctx context.Context, productID string) (*models.StockRow, error) {
	var product models.Product
	err := lockQuery(l.tx.WithContext(ctx), productID).Take(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &models.ProductNotFoundError{ProductID: productID}
		}
		return nil, fmt.Errorf("failed to lock product %s: %w", productID, err)
	}
	return product.Row(), nil
}

func (l gormLedger) Decrement(ctx context.Context, productID string, amount int) error {
	if amount <= 0 {
		return models.ErrInvalidQuantity
	}
	res := l.tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock >= ?", productID, amount).
		Update("stock", gorm.Expr("stock - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("failed to decrement stock for product %s: %w", productID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var product models.Product
	if err := l.tx.WithContext(ctx).Select("id", "stock").Where("id = ?", productID).Take(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.ProductNotFoundError{ProductID: productID}
		}
		return fmt.Errorf("failed to read stock for product %s: %w", productID, err)
	}
	return &models.InsufficientStockError{ProductID: productID, Requested: amount, Available: product.Stock}
}

type gormOrderWriter struct {
	tx *gorm.DB
}

func (w gormOrderWriter) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if err := w.tx.WithContext(ctx).Omit(clause.Associations).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (w gormOrderWriter) AddItem(ctx context.Context, item *models.OrderItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if err := w.tx.WithContext(ctx).Omit(clause.Associations).Create(item).Error; err != nil {
		return fmt.Errorf("failed to add item to order %s: %w", item.OrderID, err)
	}
	return nil
}

func (w gormOrderWriter) Finalize(ctx context.Context, order *models.Order) error {
	order.UpdatedAt = time.Now().UTC()
	res := w.tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"status":       order.Status,
			"total_amount": order.TotalAmount,
			"updated_at":   order.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to finalize order %s: %w", order.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}
