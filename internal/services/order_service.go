package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"boutique/internal/models"
	"boutique/internal/repositories"

	"github.com/shopspring/decimal"
)

// maxTxAttempts bounds how often an order transaction runs when it is aborted
// by a lock conflict.
const maxTxAttempts = 2

// OrderNotifier announces confirmed orders. It returns how many transports
// accepted the announcement and one message per failure.
type OrderNotifier interface {
	NotifyOrderConfirmed(ctx context.Context, order *models.Order) (int, []string)
}

// OrderService handles business logic related to orders.
type OrderService struct {
	uow           repositories.UnitOfWork
	orderRepo     repositories.OrderRepository
	notifier      OrderNotifier
	notifyTimeout time.Duration
	now           func() time.Time
	wg            sync.WaitGroup
}

// NewOrderService creates a new OrderService. notifier may be nil.
func NewOrderService(uow repositories.UnitOfWork, orderRepo repositories.OrderRepository, notifier OrderNotifier, notifyTimeout time.Duration) *OrderService {
	if notifyTimeout <= 0 {
		notifyTimeout = 10 * time.Second
	}
	return &OrderService{
		uow:           uow,
		orderRepo:     orderRepo,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder places an order for the cart in one transaction. Every line locks
// its product row, checks stock, freezes the unit price and decrements stock.
// Any failing line rolls the whole order back. The confirmation notification is
// sent after commit and never affects the result.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, cart models.Cart) (*models.Order, error) {
	if len(cart.Lines) == 0 {
		return nil, models.ErrEmptyCart
	}
	if userID == "" {
		return nil, models.ErrMissingUser
	}
	for i, line := range cart.Lines {
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: line %d", models.ErrMissingProduct, i+1)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s", models.ErrInvalidQuantity, line.ProductID)
		}
	}

	var order *models.Order
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.uow.WithinTx(ctx, func(tx repositories.TxScope) error {
			built, err := s.buildOrder(ctx, tx, userID, cart)
			if err != nil {
				return err
			}
			order = built
			return nil
		})
		if !errors.Is(err, models.ErrLockConflict) {
			break
		}
		log.Printf("Warning: order for user %s hit a lock conflict (attempt %d/%d): %v", userID, attempt, maxTxAttempts, err)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("Order %s confirmed for user %s: %d line(s), total %s", order.ID, userID, len(order.Items), order.TotalAmount.StringFixed(2))
	s.notifyAsync(order.Clone())
	return order, nil
}

func (s *OrderService) buildOrder(ctx context.Context, tx repositories.TxScope, userID string, cart models.Cart) (*models.Order, error) {
	now := s.now()
	order := &models.Order{
		UserID:          userID,
		Status:          models.StatusPending,
		TotalAmount:     decimal.Zero,
		ShippingAddress: cart.ShippingAddress,
		Note:            cart.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.Orders().CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	total := decimal.Zero
	for i, line := range cart.Lines {
		row, err := tx.Inventory().LockAndRead(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !row.IsActive {
			return nil, &models.ProductNotFoundError{ProductID: line.ProductID}
		}
		if row.Stock < line.Quantity {
			return nil, &models.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: row.Stock,
			}
		}

		item := models.OrderItem{
			OrderID:   order.ID,
			Position:  i,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: row.Price,
		}
		if err := tx.Orders().AddItem(ctx, &item); err != nil {
			return nil, err
		}
		if err := tx.Inventory().Decrement(ctx, line.ProductID, line.Quantity); err != nil {
			return nil, err
		}

		total = total.Add(item.LineTotal())
		order.Items = append(order.Items, item)
	}

	if !models.CanTransition(order.Status, models.StatusConfirmed) {
		return nil, models.ErrInvalidTransition
	}
	order.Status = models.StatusConfirmed
	order.TotalAmount = total
	if err := tx.Orders().Finalize(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) notifyAsync(order *models.Order) {
	if s.notifier == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Warning: order notifier panicked for order %s: %v", order.ID, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		sent, errs := s.notifier.NotifyOrderConfirmed(ctx, order)
		if len(errs) > 0 {
			log.Printf("Warning: confirmation for order %s had %d delivery error(s): %v", order.ID, len(errs), errs)
		}
		log.Printf("Confirmation for order %s delivered to %d transport(s)", order.ID, sent)
	}()
}

// Wait blocks until every pending confirmation notification has finished.
func (s *OrderService) Wait() {
	s.wg.Wait()
}

// ListOrders returns the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := s.orderRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// GetOrder returns one of the user's orders.
func (s *OrderService) GetOrder(ctx context.Context, id, userID string) (*models.Order, error) {
	return s.orderRepo.GetForUser(ctx, id, userID)
}
