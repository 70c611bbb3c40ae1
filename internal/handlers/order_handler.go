package handlers

import (
	"errors"
	"fmt"
	"log"
	"time"

	"boutique/internal/idempotency"
	"boutique/internal/models"
	"boutique/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// IdempotencyHeader lets a client retry an order submission safely.
const IdempotencyHeader = "Idempotency-Key"

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service  *services.OrderService
	keys     idempotency.Store
	validate *validator.Validate
}

// NewOrderHandler creates a new OrderHandler. keys may be nil, which disables
// Idempotency-Key support.
func NewOrderHandler(service *services.OrderService, keys idempotency.Store) *OrderHandler {
	return &OrderHandler{
		service:  service,
		keys:     keys,
		validate: validator.New(),
	}
}

// RegisterRoutes registers the order routes with the Fiber app.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", h.HandleGetOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Post("/", h.HandleCreateOrder)
}

type orderItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type orderResponse struct {
	OrderID         string              `json:"order_id"`
	Status          models.OrderStatus  `json:"status"`
	Total           string              `json:"total"`
	ShippingAddress string              `json:"shipping_address,omitempty"`
	Note            string              `json:"note,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	Items           []orderItemResponse `json:"items"`
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, it := range order.Items {
		item := orderItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			LineTotal: it.LineTotal().StringFixed(2),
		}
		if it.Product != nil {
			item.ProductName = it.Product.Name
		}
		items = append(items, item)
	}
	return orderResponse{
		OrderID:         order.ID,
		Status:          order.Status,
		Total:           order.TotalAmount.StringFixed(2),
		ShippingAddress: order.ShippingAddress,
		Note:            order.Note,
		CreatedAt:       order.CreatedAt,
		Items:           items,
	}
}

// HandleGetOrders lists the caller's orders, newest first.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return unauthorized(c)
	}

	orders, err := h.service.ListOrders(c.UserContext(), uid)
	if err != nil {
		log.Printf("Error getting orders for user %s: %v", uid, err)
		return internalError(c, "Could not retrieve orders")
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	return c.JSON(resp)
}

// HandleGetOrderByID retrieves one of the caller's orders.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return unauthorized(c)
	}

	orderID := c.Params("id")
	order, err := h.service.GetOrder(c.UserContext(), orderID, uid)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Order with ID %s not found", orderID),
				"error":   "order_not_found",
			})
		}
		log.Printf("Error getting order by ID %s: %v", orderID, err)
		return internalError(c, "Could not retrieve order")
	}
	return c.JSON(newOrderResponse(order))
}

// HandleCreateOrder places an order for the cart in the request body.
func (h *OrderHandler) HandleCreateOrder(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req models.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("Error parsing request body: %v", err)
		return invalidBody(c, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err, validationKind(err))
	}

	ctx := c.UserContext()
	key := c.Get(IdempotencyHeader)
	reserved := false
	if key != "" && h.keys != nil {
		existing, ok, err := h.keys.Reserve(ctx, uid, key)
		switch {
		case err != nil:
			log.Printf("Warning: idempotency reservation failed for user %s: %v", uid, err)
		case ok:
			reserved = true
		case existing == idempotency.Pending:
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"message": "A request with this Idempotency-Key is still being processed.",
				"error":   "request_in_progress",
			})
		default:
			order, err := h.service.GetOrder(ctx, existing, uid)
			if err == nil {
				return c.Status(fiber.StatusOK).JSON(newOrderResponse(order))
			}
			log.Printf("Warning: idempotency key %s points at unreadable order %s: %v", key, existing, err)
		}
	}

	order, err := h.service.CreateOrder(ctx, uid, req.Cart())
	if err != nil {
		if reserved {
			if rerr := h.keys.Release(ctx, uid, key); rerr != nil {
				log.Printf("Warning: failed to release idempotency key %s: %v", key, rerr)
			}
		}
		return orderError(c, err)
	}

	if key != "" && h.keys != nil {
		if err := h.keys.Put(ctx, uid, key, order.ID); err != nil {
			log.Printf("Warning: failed to remember idempotency key for order %s: %v", order.ID, err)
		}
	}
	return c.Status(fiber.StatusCreated).JSON(newOrderResponse(order))
}

func validationKind(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			if e.Field() == "Quantity" {
				return "invalid_quantity"
			}
		}
	}
	return "validation_failed"
}

// orderError maps order creation failures onto HTTP responses.
func orderError(c *fiber.Ctx, err error) error {
	var notFound *models.ProductNotFoundError
	var short *models.InsufficientStockError

	switch {
	case errors.Is(err, models.ErrEmptyCart):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Order must contain at least one item.",
			"error":   "empty_cart",
		})
	case errors.Is(err, models.ErrInvalidQuantity):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": err.Error(),
			"error":   "invalid_quantity",
		})
	case errors.Is(err, models.ErrMissingProduct):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": err.Error(),
			"error":   "validation_failed",
		})
	case errors.Is(err, models.ErrLockConflict):
		log.Printf("Warning: order aborted by a lock conflict: %v", err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message": "Order could not be placed because of a concurrent checkout. Please retry.",
			"error":   "lock_conflict",
		})
	case errors.As(err, &notFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message":    notFound.Error(),
			"error":      "product_not_found",
			"product_id": notFound.ProductID,
		})
	case errors.As(err, &short):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message":    "Order creation failed due to insufficient stock.",
			"error":      "insufficient_stock",
			"product_id": short.ProductID,
			"requested":  short.Requested,
			"available":  short.Available,
		})
	}

	log.Printf("Error creating order: %v", err)
	return internalError(c, "Could not create order")
}
