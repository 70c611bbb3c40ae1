package repositories

import (
	"context"

	"boutique/internal/models"
)

// InventoryLedger is the transaction-scoped view of product stock.
//
// LockAndRead takes an exclusive lock on the product row that is held until the
// surrounding transaction ends. Locking a row the transaction already holds does
// not block and returns the stock as modified so far by that transaction.
type InventoryLedger interface {
	LockAndRead(ctx context.Context, productID string) (*models.StockRow, error)
	Decrement(ctx context.Context, productID string, amount int) error
}

// OrderWriter persists an order and its lines inside a transaction.
type OrderWriter interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	AddItem(ctx context.Context, item *models.OrderItem) error
	Finalize(ctx context.Context, order *models.Order) error
}

// TxScope exposes the repositories bound to one transaction.
type TxScope interface {
	Inventory() InventoryLedger
	Orders() OrderWriter
}

// UnitOfWork runs fn in a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Row locks are released either way.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(TxScope) error) error
}
