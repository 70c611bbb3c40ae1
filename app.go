package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"boutique/internal/config"
	"boutique/internal/database"
	"boutique/internal/handlers"
	"boutique/internal/idempotency"
	"boutique/internal/middleware"
	"boutique/internal/models"
	"boutique/internal/notifier"
	"boutique/internal/repositories"
	"boutique/internal/services"
	"boutique/pkg/rabbitmq"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/shopspring/decimal"
)

// App is the wired service: HTTP server plus the resources it owns.
type App struct {
	Fiber  *fiber.App
	Auth   *services.AuthService
	Orders *services.OrderService

	closers []func() error
}

type storage struct {
	uow           repositories.UnitOfWork
	orders        repositories.OrderRepository
	products      repositories.ProductRepository
	categories    repositories.CategoryRepository
	notifications repositories.NotificationRepository
}

// NewApp builds the service described by cfg.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Auth: services.NewAuthService(cfg.JWTSecret)}

	store, err := a.openStorage(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	productService := services.NewProductService(store.products)
	categoryService := services.NewCategoryService(store.categories)
	if cfg.SeedProducts {
		categoryIDs, err := categoryService.SeedIfEmpty(ctx, seedCategories())
		if err != nil {
			log.Printf("Warning: failed to seed categories: %v", err)
		}
		n, err := productService.SeedIfEmpty(ctx, seedProducts(categoryIDs))
		if err != nil {
			log.Printf("Warning: failed to seed products: %v", err)
		} else if n > 0 {
			log.Printf("Seeded %d products", n)
		}
	}

	dispatchers, err := a.pushDispatchers(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	notificationService := services.NewNotificationService(store.notifications, store.products, dispatchers, cfg.FrontendOrdersURL, cfg.FrontendCartURL)
	a.Orders = services.NewOrderService(store.uow, store.orders, notificationService, cfg.NotifyTimeout)

	app := fiber.New(fiber.Config{
		AppName:      "boutique",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// The catalog is public; everything registered on protected needs a token.
	apiV1 := app.Group("/api/v1")
	handlers.NewProductHandler(productService).RegisterRoutes(apiV1)
	handlers.NewCategoryHandler(categoryService).RegisterRoutes(apiV1)
	protected := apiV1.Group("", middleware.AuthRequired(a.Auth))
	handlers.NewOrderHandler(a.Orders, a.idempotencyStore(ctx, cfg)).RegisterRoutes(protected)
	handlers.NewNotificationHandler(notificationService).RegisterRoutes(protected)
	a.Fiber = app

	if cfg.DevUserID != "" {
		token, err := a.Auth.GenerateToken(cfg.DevUserID, cfg.DevUserID)
		if err != nil {
			log.Printf("Warning: failed to issue development token: %v", err)
		} else {
			log.Printf("Development token for %s: %s", cfg.DevUserID, token)
		}
	}

	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg config.Config) (storage, error) {
	if cfg.DatabaseDriver == "memory" {
		mem := repositories.NewMemoryStore()
		log.Println("Using in-memory storage")
		return storage{uow: mem, orders: mem, products: mem, categories: mem.Categories(), notifications: mem.Notifications()}, nil
	}

	db, err := database.Open(ctx, database.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN})
	if err != nil {
		return storage{}, err
	}
	a.closers = append(a.closers, func() error { return database.Close(db) })
	if err := database.Migrate(db); err != nil {
		return storage{}, err
	}
	log.Printf("Connected to %s database", cfg.DatabaseDriver)

	orders := repositories.NewGORMOrderRepository(db)
	return storage{
		uow:           orders,
		orders:        orders,
		products:      repositories.NewGORMProductRepository(db),
		categories:    repositories.NewGORMCategoryRepository(db),
		notifications: repositories.NewGORMNotificationRepository(db),
	}, nil
}

func (a *App) pushDispatchers(cfg config.Config) ([]services.PushDispatcher, error) {
	var dispatchers []services.PushDispatcher

	if cfg.HasTransport("amqp") {
		mq, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL, Queue: cfg.RabbitMQQueue})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ client: %w", err)
		}
		a.closers = append(a.closers, mq.Close)

		worker := notifier.NewPushWorker(notifier.LogDispatcher{}, cfg.NotifyTimeout)
		if err := mq.Consume(worker.Handle); err != nil {
			log.Printf("Warning: push worker not started: %v", err)
		}
		dispatchers = append(dispatchers, notifier.NewAMQPDispatcher(mq))
	}

	if cfg.HasTransport("kafka") {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka transport enabled but KAFKA_BROKERS is empty")
		}
		kd := notifier.NewKafkaDispatcher(notifier.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		a.closers = append(a.closers, kd.Close)
		dispatchers = append(dispatchers, kd)
	}

	if cfg.HasTransport("log") {
		dispatchers = append(dispatchers, notifier.LogDispatcher{})
	}

	if len(dispatchers) == 0 {
		log.Println("Warning: no push transport enabled; notifications are stored only")
	}
	return dispatchers, nil
}

func (a *App) idempotencyStore(ctx context.Context, cfg config.Config) idempotency.Store {
	if cfg.RedisAddr == "" {
		return idempotency.NewMemoryStore(idempotency.TTL)
	}

	rdb := idempotency.NewRedisClient(cfg.RedisAddr)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis at %s unreachable, keeping idempotency keys in memory: %v", cfg.RedisAddr, err)
		_ = rdb.Close()
		return idempotency.NewMemoryStore(idempotency.TTL)
	}
	a.closers = append(a.closers, rdb.Close)
	return idempotency.NewRedisStore(rdb, idempotency.TTL)
}

// Shutdown stops the HTTP server, waits for pending notifications and releases
// every resource in reverse order of acquisition.
func (a *App) Shutdown() error {
	var firstErr error
	if a.Fiber != nil {
		if err := a.Fiber.Shutdown(); err != nil {
			log.Printf("Error during Fiber shutdown: %v", err)
			firstErr = err
		}
	}
	if a.Orders != nil {
		a.Orders.Wait()
	}
	if err := a.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close releases the resources opened by NewApp.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("Error closing resource: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.closers = nil
	return firstErr
}

func seedCategories() []models.Category {
	return []models.Category{
		{Name: "Computers", Description: "Laptops and desktops"},
		{Name: "Accessories", Description: "Keyboards, mice and other peripherals"},
	}
}

// seedProducts is the starter catalog created on an empty database.
// categoryIDs maps category names to IDs; unknown names leave the product
// uncategorized.
func seedProducts(categoryIDs map[string]string) []models.Product {
	inCategory := func(name string) *string {
		if id, ok := categoryIDs[name]; ok {
			return &id
		}
		return nil
	}
	return []models.Product{
		{CategoryID: inCategory("Computers"), Name: "Laptop", Description: "High performance laptop", Price: decimal.RequireFromString("1200.00"), Stock: 10, IsActive: true},
		{CategoryID: inCategory("Accessories"), Name: "Keyboard", Description: "Mechanical keyboard", Price: decimal.RequireFromString("75.00"), Stock: 25, IsActive: true},
		{CategoryID: inCategory("Accessories"), Name: "Mouse", Description: "Ergonomic wireless mouse", Price: decimal.RequireFromString("25.00"), Stock: 50, IsActive: true},
	}
}
