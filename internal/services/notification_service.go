package services

import (
	"context"
	"fmt"
	"time"

	"boutique/internal/models"
	"boutique/internal/repositories"
)

// PushDispatcher delivers a push message over one transport.
type PushDispatcher interface {
	Name() string
	Dispatch(ctx context.Context, msg models.PushMessage) error
}

// NotificationService stores notifications and pushes them to the user.
type NotificationService struct {
	repo        repositories.NotificationRepository
	products    repositories.ProductRepository
	dispatchers []PushDispatcher
	ordersURL   string
	cartURL     string
	now         func() time.Time
}

// NewNotificationService creates a new NotificationService. ordersURL is the
// frontend page listing orders; cartURL is the frontend cart page.
func NewNotificationService(repo repositories.NotificationRepository, products repositories.ProductRepository, dispatchers []PushDispatcher, ordersURL, cartURL string) *NotificationService {
	return &NotificationService{
		repo:        repo,
		products:    products,
		dispatchers: dispatchers,
		ordersURL:   ordersURL,
		cartURL:     cartURL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NotifyOrderConfirmed stores an order notification and pushes it. Calling it
// again for the same order creates another notification and never touches the order.
func (s *NotificationService) NotifyOrderConfirmed(ctx context.Context, order *models.Order) (int, []string) {
	n := &models.Notification{
		UserID:  order.UserID,
		Title:   "Order confirmed",
		Message: fmt.Sprintf("Your order #%s has been confirmed.", order.ID),
		Type:    models.NotificationOrder,
		URL:     s.ordersURL + "/" + order.ID,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return 0, []string{err.Error()}
	}
	return s.push(ctx, n)
}

// NotifyCartAdd tells the user a product landed in their cart.
func (s *NotificationService) NotifyCartAdd(ctx context.Context, userID string, req models.CartAddRequest) (*models.Notification, int, []string, error) {
	product, err := s.products.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, 0, nil, err
	}
	if !product.IsActive {
		return nil, 0, nil, &models.ProductNotFoundError{ProductID: req.ProductID}
	}
	name := req.ProductName
	if name == "" {
		name = product.Name
	}

	n := &models.Notification{
		UserID:  userID,
		Title:   "Added to cart",
		Message: fmt.Sprintf("%s was added to your cart.", name),
		Type:    models.NotificationOrder,
		URL:     s.cartURL,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, 0, nil, err
	}
	sent, errs := s.push(ctx, n)
	return n, sent, errs, nil
}

func (s *NotificationService) push(ctx context.Context, n *models.Notification) (int, []string) {
	msg := n.Push()
	sent := 0
	errs := []string{}
	for _, d := range s.dispatchers {
		if err := d.Dispatch(ctx, msg); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", d.Name(), err))
			continue
		}
		sent++
	}

	if sent > 0 {
		at := s.now()
		if err := s.repo.MarkSent(ctx, n.ID, at); err != nil {
			errs = append(errs, err.Error())
		} else {
			n.SentAt = &at
		}
	}
	return sent, errs
}

// ListForUser returns the user's notifications, newest first.
func (s *NotificationService) ListForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	list, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Notification{}
	}
	return list, nil
}

// MarkRead flags one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	return s.repo.MarkRead(ctx, id, userID)
}
