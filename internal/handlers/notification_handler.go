package handlers

import (
	"errors"
	"fmt"
	"log"

	"boutique/internal/models"
	"boutique/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// NotificationHandler handles HTTP requests for the user's notifications.
type NotificationHandler struct {
	service  *services.NotificationService
	validate *validator.Validate
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes registers the notification routes with the Fiber app.
func (h *NotificationHandler) RegisterRoutes(router fiber.Router) {
	notificationRoutes := router.Group("/notifications")
	notificationRoutes.Get("/", h.HandleList)
	notificationRoutes.Post("/cart-add", h.HandleCartAdd)
	notificationRoutes.Post("/:id/read", h.HandleMarkRead)
}

// HandleList returns the caller's notifications, newest first.
func (h *NotificationHandler) HandleList(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return unauthorized(c)
	}

	list, err := h.service.ListForUser(c.UserContext(), uid)
	if err != nil {
		log.Printf("Error listing notifications for user %s: %v", uid, err)
		return internalError(c, "Could not retrieve notifications")
	}
	return c.JSON(list)
}

// HandleMarkRead flags one notification as read.
func (h *NotificationHandler) HandleMarkRead(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return unauthorized(c)
	}

	id := c.Params("id")
	if err := h.service.MarkRead(c.UserContext(), id, uid); err != nil {
		if errors.Is(err, models.ErrNotificationNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Notification with ID %s not found", id),
				"error":   "notification_not_found",
			})
		}
		log.Printf("Error marking notification %s as read: %v", id, err)
		return internalError(c, "Could not update notification")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleCartAdd pushes an "added to cart" notification to the caller.
func (h *NotificationHandler) HandleCartAdd(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req models.CartAddRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err, "validation_failed")
	}

	_, sent, errs, err := h.service.NotifyCartAdd(c.UserContext(), uid, req)
	if err != nil {
		if errors.Is(err, models.ErrProductNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message":    err.Error(),
				"error":      "product_not_found",
				"product_id": req.ProductID,
			})
		}
		log.Printf("Error sending cart notification: %v", err)
		return internalError(c, "Could not send notification")
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"sent":   sent,
		"errors": errs,
	})
}
