package handlers

import (
	"errors"
	"fmt"
	"log"

	"boutique/internal/models"
	"boutique/internal/services"

	"github.com/gofiber/fiber/v2"
)

// CategoryHandler serves the public category listing.
type CategoryHandler struct {
	service *services.CategoryService
}

// NewCategoryHandler creates a new CategoryHandler.
func NewCategoryHandler(service *services.CategoryService) *CategoryHandler {
	return &CategoryHandler{service: service}
}

// RegisterRoutes registers the category routes with the Fiber app.
func (h *CategoryHandler) RegisterRoutes(router fiber.Router) {
	categoryRoutes := router.Group("/categories")
	categoryRoutes.Get("/", h.HandleGetCategories)
	categoryRoutes.Get("/:id", h.HandleGetCategoryByID)
}

// HandleGetCategories lists every category.
func (h *CategoryHandler) HandleGetCategories(c *fiber.Ctx) error {
	categories, err := h.service.ListCategories(c.UserContext())
	if err != nil {
		log.Printf("Error getting categories: %v", err)
		return internalError(c, "Could not retrieve categories")
	}
	return c.JSON(categories)
}

// HandleGetCategoryByID retrieves a single category.
func (h *CategoryHandler) HandleGetCategoryByID(c *fiber.Ctx) error {
	categoryID := c.Params("id")
	category, err := h.service.GetCategory(c.UserContext(), categoryID)
	if err != nil {
		if errors.Is(err, models.ErrCategoryNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Category with ID %s not found", categoryID),
				"error":   "category_not_found",
			})
		}
		log.Printf("Error getting category by ID %s: %v", categoryID, err)
		return internalError(c, "Could not retrieve category")
	}
	return c.JSON(category)
}
