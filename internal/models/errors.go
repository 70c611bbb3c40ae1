package models

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrMissingUser          = errors.New("user is required")
	ErrInvalidQuantity      = errors.New("quantity must be greater than zero")
	ErrMissingProduct       = errors.New("product id is required")
	ErrProductNotFound      = errors.New("product not found")
	ErrCategoryNotFound     = errors.New("category not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrLockNotHeld          = errors.New("product row is not locked by this transaction")
	ErrInvalidTransition    = errors.New("invalid order status transition")

	// ErrLockConflict aborts a transaction that would deadlock or could not be
	// serialized. Running it again is safe.
	ErrLockConflict = errors.New("transaction aborted by a conflicting lock")
)

// ProductNotFoundError reports a cart line whose product does not exist or is inactive.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product with ID %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// InsufficientStockError reports a cart line asking for more than is in stock.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (requested: %d, available: %d)", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
