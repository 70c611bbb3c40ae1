package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"boutique/internal/database"
	"boutique/internal/models"
	"boutique/internal/repositories"
	"boutique/internal/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MockUnitOfWork is a mock implementation of repositories.UnitOfWork
type MockUnitOfWork struct {
	mock.Mock
}

func (m *MockUnitOfWork) WithinTx(ctx context.Context, fn func(repositories.TxScope) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

// MockOrderNotifier is a mock implementation of services.OrderNotifier
type MockOrderNotifier struct {
	mock.Mock
}

func (m *MockOrderNotifier) NotifyOrderConfirmed(ctx context.Context, order *models.Order) (int, []string) {
	args := m.Called(ctx, order)
	return args.Int(0), args.Get(1).([]string)
}

type orderFixture struct {
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	uow      repositories.UnitOfWork
	db       *gorm.DB
}

func memoryFixture(t *testing.T) orderFixture {
	s := repositories.NewMemoryStore()
	return orderFixture{products: s, orders: s, uow: s}
}

func sqliteFixture(t *testing.T) orderFixture {
	db, err := database.Open(context.Background(), database.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	orderRepo := repositories.NewGORMOrderRepository(db)
	return orderFixture{
		products: repositories.NewGORMProductRepository(db),
		orders:   orderRepo,
		uow:      orderRepo,
		db:       db,
	}
}

var fixtures = map[string]func(t *testing.T) orderFixture{
	"memory": memoryFixture,
	"sqlite": sqliteFixture,
}

func (f orderFixture) product(t *testing.T, stock int, price string) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:     "Item " + uuid.NewString()[:8],
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		IsActive: true,
	}
	require.NoError(t, f.products.Create(context.Background(), p))
	return p
}

func (f orderFixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f orderFixture) orderCount(t *testing.T, userID string) int {
	t.Helper()
	orders, err := f.orders.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	return len(orders)
}

func cart(lines ...models.CartLine) models.Cart {
	return models.Cart{Lines: lines}
}

func line(productID string, qty int) models.CartLine {
	return models.CartLine{ProductID: productID, Quantity: qty}
}

func TestOrderService_CreateOrder_Confirms(t *testing.T) {
	for name, open := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := open(t)
			service := services.NewOrderService(f.uow, f.orders, nil, time.Second)
			p := f.product(t, 5, "10.00")

			order, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 3)))

			require.NoError(t, err)
			assert.Equal(t, models.StatusConfirmed, order.Status)
			assert.Equal(t, "30.00", order.TotalAmount.StringFixed(2))
			require.Len(t, order.Items, 1)
			assert.Equal(t, "10.00", order.Items[0].UnitPrice.StringFixed(2))
			assert.Equal(t, 2, f.stock(t, p.ID))

			stored, err := service.GetOrder(context.Background(), order.ID, "user-1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusConfirmed, stored.Status)
			assert.True(t, stored.TotalAmount.Equal(stored.ItemsTotal()))
			assert.Equal(t, "30.00", stored.TotalAmount.StringFixed(2))
		})
	}
}

func TestOrderService_CreateOrder_InsufficientStock(t *testing.T) {
	for name, open := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := open(t)
			service := services.NewOrderService(f.uow, f.orders, nil, time.Second)
			p := f.product(t, 2, "10.00")

			order, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 3)))

			assert.Nil(t, order)
			var short *models.InsufficientStockError
			require.ErrorAs(t, err, &short)
			assert.Equal(t, p.ID, short.ProductID)
			assert.Equal(t, 2, short.Available)
			assert.Equal(t, 3, short.Requested)
			assert.Equal(t, 2, f.stock(t, p.ID))
			assert.Zero(t, f.orderCount(t, "user-1"))
		})
	}
}

func TestOrderService_CreateOrder_IsAtomic(t *testing.T) {
	for name, open := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := open(t)
			service := services.NewOrderService(f.uow, f.orders, nil, time.Second)
			a := f.product(t, 5, "3.00")
			b := f.product(t, 1, "4.00")

			_, err := service.CreateOrder(context.Background(), "user-1", cart(line(a.ID, 2), line("missing", 1)))
			assert.ErrorIs(t, err, models.ErrProductNotFound)

			_, err = service.CreateOrder(context.Background(), "user-1", cart(line(a.ID, 2), line(b.ID, 2)))
			assert.ErrorIs(t, err, models.ErrInsufficientStock)

			assert.Equal(t, 5, f.stock(t, a.ID))
			assert.Equal(t, 1, f.stock(t, b.ID))
			assert.Zero(t, f.orderCount(t, "user-1"))
		})
	}
}

func TestOrderService_CreateOrder_InactiveProduct(t *testing.T) {
	for name, open := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := open(t)
			service := services.NewOrderService(f.uow, f.orders, nil, time.Second)
			p := &models.Product{Name: "Retired lamp", Price: decimal.NewFromInt(8), Stock: 4}
			require.NoError(t, f.products.Create(context.Background(), p))

			_, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 1)))

			var notFound *models.ProductNotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, p.ID, notFound.ProductID)
			assert.Equal(t, 4, f.stock(t, p.ID))
		})
	}
}

func TestOrderService_CreateOrder_DuplicateLines(t *testing.T) {
	for name, open := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := open(t)
			service := services.NewOrderService(f.uow, f.orders, nil, time.Second)
			p := f.product(t, 5, "2.50")
			other := f.product(t, 9, "1.00")

			order, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 2), line(other.ID, 1), line(p.ID, 2)))
			require.NoError(t, err)
			assert.Equal(t, 1, f.stock(t, p.ID))
			assert.Equal(t, "11.00", order.TotalAmount.StringFixed(2))

			stored, err := service.GetOrder(context.Background(), order.ID, "user-1")
			require.NoError(t, err)
			require.Len(t, stored.Items, 3)
			assert.Equal(t, []string{p.ID, other.ID, p.ID}, []string{stored.Items[0].ProductID, stored.Items[1].ProductID, stored.Items[2].ProductID})

			// The second visit sees the first visit's decrement.
			_, err = service.CreateOrder(context.Background(), "user-1", cart(line(other.ID, 5), line(other.ID, 5)))
			var short *models.InsufficientStockError
			require.ErrorAs(t, err, &short)
			assert.Equal(t, 3, short.Available)
			assert.Equal(t, 8, f.stock(t, other.ID))
		})
	}
}

func TestOrderService_CreateOrder_LastUnitRace(t *testing.T) {
	for name, open := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := open(t)
			service := services.NewOrderService(f.uow, f.orders, nil, time.Second)
			p := f.product(t, 1, "99.00")

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = service.CreateOrder(context.Background(), fmt.Sprintf("user-%d", i), cart(line(p.ID, 1)))
				}(i)
			}
			wg.Wait()

			var ok, short int
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, models.ErrInsufficientStock):
					short++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			assert.Equal(t, 1, ok)
			assert.Equal(t, 1, short)
			assert.Equal(t, 0, f.stock(t, p.ID))
		})
	}
}

func TestOrderService_CreateOrder_ManyBuyersNeverOversell(t *testing.T) {
	for name, open := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := open(t)
			service := services.NewOrderService(f.uow, f.orders, nil, time.Second)
			p := f.product(t, 10, "1.25")

			const buyers = 25
			var wg sync.WaitGroup
			var mu sync.Mutex
			confirmed := 0
			for i := 0; i < buyers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					order, err := service.CreateOrder(context.Background(), "crowd", cart(line(p.ID, 1)))
					if err != nil {
						assert.ErrorIs(t, err, models.ErrInsufficientStock)
						return
					}
					assert.True(t, order.TotalAmount.Equal(order.ItemsTotal()))
					mu.Lock()
					confirmed++
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Equal(t, 10, confirmed)
			assert.Equal(t, 0, f.stock(t, p.ID))
			assert.Equal(t, 10, f.orderCount(t, "crowd"))
		})
	}
}

func TestOrderService_CreateOrder_UnitPriceIsSnapshot(t *testing.T) {
	f := sqliteFixture(t)
	service := services.NewOrderService(f.uow, f.orders, nil, time.Second)
	p := f.product(t, 5, "10.00")

	order, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 1)))
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Product{}).Where("id = ?", p.ID).Update("price", decimal.RequireFromString("15.00")).Error)

	stored, err := service.GetOrder(context.Background(), order.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "10.00", stored.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "10.00", stored.TotalAmount.StringFixed(2))
	assert.Equal(t, "15.00", stored.Items[0].Product.Price.StringFixed(2))
}

func TestOrderService_CreateOrder_RejectsBeforeAnyLock(t *testing.T) {
	uow := new(MockUnitOfWork)
	service := services.NewOrderService(uow, nil, nil, time.Second)

	_, err := service.CreateOrder(context.Background(), "user-1", models.Cart{})
	assert.ErrorIs(t, err, models.ErrEmptyCart)

	_, err = service.CreateOrder(context.Background(), "user-1", cart(line("p", 0)))
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = service.CreateOrder(context.Background(), "", cart(line("p", 1)))
	assert.ErrorIs(t, err, models.ErrMissingUser)

	_, err = service.CreateOrder(context.Background(), "user-1", cart(line("p", 1), line("", 1)))
	assert.ErrorIs(t, err, models.ErrMissingProduct)
	assert.NotErrorIs(t, err, models.ErrProductNotFound)
	assert.Contains(t, err.Error(), "line 2")

	uow.AssertNotCalled(t, "WithinTx", mock.Anything, mock.Anything)
}

// conflictingUnitOfWork aborts the first failures transactions with a lock
// conflict and runs the rest on the wrapped store.
type conflictingUnitOfWork struct {
	repositories.UnitOfWork
	failures int
	calls    int
}

func (u *conflictingUnitOfWork) WithinTx(ctx context.Context, fn func(repositories.TxScope) error) error {
	u.calls++
	if u.calls <= u.failures {
		return fmt.Errorf("%w: product x", models.ErrLockConflict)
	}
	return u.UnitOfWork.WithinTx(ctx, fn)
}

func TestOrderService_CreateOrder_RetriesLockConflictOnce(t *testing.T) {
	f := memoryFixture(t)
	p := f.product(t, 3, "4.00")
	uow := &conflictingUnitOfWork{UnitOfWork: f.uow, failures: 1}
	service := services.NewOrderService(uow, f.orders, nil, time.Second)

	order, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 1)))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, order.Status)
	assert.Equal(t, 2, uow.calls)
	assert.Equal(t, 2, f.stock(t, p.ID))

	uow = &conflictingUnitOfWork{UnitOfWork: f.uow, failures: 5}
	service = services.NewOrderService(uow, f.orders, nil, time.Second)
	_, err = service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 1)))
	assert.ErrorIs(t, err, models.ErrLockConflict)
	assert.Equal(t, 2, uow.calls)
	assert.Equal(t, 2, f.stock(t, p.ID))
}

func TestOrderService_CreateOrder_CrossedCartsBothComplete(t *testing.T) {
	for name, open := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := open(t)
			a := f.product(t, 20, "1.00")
			b := f.product(t, 20, "2.00")
			service := services.NewOrderService(f.uow, f.orders, nil, time.Second)

			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 10; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, err := service.CreateOrder(context.Background(), "user-ab", cart(line(a.ID, 1), line(b.ID, 1)))
					errs <- err
				}()
				go func() {
					defer wg.Done()
					_, err := service.CreateOrder(context.Background(), "user-ba", cart(line(b.ID, 1), line(a.ID, 1)))
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			completed := 0
			for err := range errs {
				if err == nil {
					completed++
				} else {
					assert.ErrorIs(t, err, models.ErrLockConflict)
				}
			}
			assert.Positive(t, completed)
			assert.Equal(t, 20-completed, f.stock(t, a.ID))
			assert.Equal(t, 20-completed, f.stock(t, b.ID))
			assert.Equal(t, completed, f.orderCount(t, "user-ab")+f.orderCount(t, "user-ba"))
		})
	}
}

func TestOrderService_CreateOrder_NotifiesAfterCommit(t *testing.T) {
	f := memoryFixture(t)
	notifier := new(MockOrderNotifier)
	service := services.NewOrderService(f.uow, f.orders, notifier, time.Second)
	p := f.product(t, 5, "10.00")

	var seen *models.Order
	notifier.On("NotifyOrderConfirmed", mock.Anything, mock.AnythingOfType("*models.Order")).
		Run(func(args mock.Arguments) {
			order := args.Get(1).(*models.Order)
			stored, err := f.orders.GetForUser(context.Background(), order.ID, order.UserID)
			assert.NoError(t, err)
			seen = stored
		}).
		Return(1, []string{}).Once()

	order, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 1)))
	require.NoError(t, err)
	service.Wait()

	notifier.AssertExpectations(t)
	require.NotNil(t, seen)
	assert.Equal(t, order.ID, seen.ID)
	assert.Equal(t, models.StatusConfirmed, seen.Status)
}

func TestOrderService_CreateOrder_NotifierFailureDoesNotRollBack(t *testing.T) {
	f := memoryFixture(t)
	notifier := new(MockOrderNotifier)
	service := services.NewOrderService(f.uow, f.orders, notifier, time.Second)
	p := f.product(t, 5, "10.00")

	notifier.On("NotifyOrderConfirmed", mock.Anything, mock.Anything).Return(0, []string{"amqp: connection refused"}).Once()
	notifier.On("NotifyOrderConfirmed", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("push gateway exploded") }).Once()

	first, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 1)))
	require.NoError(t, err)
	second, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 1)))
	require.NoError(t, err)
	service.Wait()

	for _, id := range []string{first.ID, second.ID} {
		stored, err := service.GetOrder(context.Background(), id, "user-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, stored.Status)
	}
	assert.Equal(t, 3, f.stock(t, p.ID))
	notifier.AssertExpectations(t)
}

func TestOrderService_ListOrders(t *testing.T) {
	f := memoryFixture(t)
	service := services.NewOrderService(f.uow, f.orders, nil, time.Second)
	p := f.product(t, 5, "1.00")

	_, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 1)))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	latest, err := service.CreateOrder(context.Background(), "user-1", cart(line(p.ID, 2)))
	require.NoError(t, err)

	orders, err := service.ListOrders(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, latest.ID, orders[0].ID)

	orders, err = service.ListOrders(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Empty(t, orders)

	_, err = service.GetOrder(context.Background(), latest.ID, "nobody")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}
