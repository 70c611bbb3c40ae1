package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"boutique/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of every repository in this
// package. Transactions stage their writes and apply them on commit. Product
// rows are locked per transaction; a lock request that would close a cycle of
// waiting transactions fails with models.ErrLockConflict instead of blocking.
type MemoryStore struct {
	mu            sync.RWMutex
	products      map[string]models.Product
	categories    map[string]models.Category
	orders        map[string]models.Order
	notifications map[string]models.Notification
	rowLocks      map[string]*rowLock
	waiting       map[*memoryTx]string // transaction -> product row it waits for
}

type rowLock struct {
	holder *memoryTx
	free   chan struct{} // closed when holder releases the row
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:      make(map[string]models.Product),
		categories:    make(map[string]models.Category),
		orders:        make(map[string]models.Order),
		notifications: make(map[string]models.Notification),
		rowLocks:      make(map[string]*rowLock),
		waiting:       make(map[*memoryTx]string),
	}
}

// acquire blocks until tx holds the row lock for productID. It fails with
// models.ErrLockConflict when waiting would deadlock and with ctx.Err() when ctx ends.
func (s *MemoryStore) acquire(ctx context.Context, tx *memoryTx, productID string) error {
	for {
		s.mu.Lock()
		l, ok := s.rowLocks[productID]
		if !ok {
			l = &rowLock{}
			s.rowLocks[productID] = l
		}
		if l.holder == nil || l.holder == tx {
			l.holder = tx
			l.free = make(chan struct{})
			delete(s.waiting, tx)
			s.mu.Unlock()
			return nil
		}
		if s.waitsOn(l.holder, tx) {
			delete(s.waiting, tx)
			s.mu.Unlock()
			return fmt.Errorf("%w: product %s", models.ErrLockConflict, productID)
		}
		s.waiting[tx] = productID
		free := l.free
		s.mu.Unlock()

		select {
		case <-free:
		case <-ctx.Done():
			s.mu.Lock()
			delete(s.waiting, tx)
			s.mu.Unlock()
			return ctx.Err()
		}
	}
}

// waitsOn reports whether from is, directly or through other waiters, waiting
// for a row held by target. Callers hold s.mu.
func (s *MemoryStore) waitsOn(from, target *memoryTx) bool {
	cur := from
	for steps := 0; steps <= len(s.waiting); steps++ {
		productID, ok := s.waiting[cur]
		if !ok {
			return false
		}
		next := s.rowLocks[productID].holder
		if next == nil {
			return false
		}
		if next == target {
			return true
		}
		cur = next
	}
	return false
}

// WithinTx runs fn against a staged view of the store.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(TxScope) error) error {
	tx := &memoryTx{
		store:  s,
		held:   make(map[string]bool),
		stock:  make(map[string]int),
		orders: make(map[string]*models.Order),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memoryTx struct {
	store  *MemoryStore
	held   map[string]bool
	stock  map[string]int
	orders map[string]*models.Order
	seq    []string
}

func (tx *memoryTx) Inventory() InventoryLedger { return tx }
func (tx *memoryTx) Orders() OrderWriter        { return tx }

func (tx *memoryTx) LockAndRead(ctx context.Context, productID string) (*models.StockRow, error) {
	if !tx.held[productID] {
		tx.store.mu.RLock()
		_, ok := tx.store.products[productID]
		tx.store.mu.RUnlock()
		if !ok {
			return nil, &models.ProductNotFoundError{ProductID: productID}
		}

		if err := tx.store.acquire(ctx, tx, productID); err != nil {
			return nil, err
		}
		tx.held[productID] = true
	}

	tx.store.mu.RLock()
	product, ok := tx.store.products[productID]
	tx.store.mu.RUnlock()
	if !ok {
		return nil, &models.ProductNotFoundError{ProductID: productID}
	}
	if _, staged := tx.stock[productID]; !staged {
		tx.stock[productID] = product.Stock
	}

	row := product.Row()
	row.Stock = tx.stock[productID]
	return row, nil
}

func (tx *memoryTx) Decrement(_ context.Context, productID string, amount int) error {
	if !tx.held[productID] {
		return models.ErrLockNotHeld
	}
	if amount <= 0 {
		return models.ErrInvalidQuantity
	}
	available := tx.stock[productID]
	if amount > available {
		return &models.InsufficientStockError{ProductID: productID, Requested: amount, Available: available}
	}
	tx.stock[productID] = available - amount
	return nil
}

func (tx *memoryTx) CreateOrder(_ context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	staged := *order
	staged.Items = nil
	tx.orders[order.ID] = &staged
	tx.seq = append(tx.seq, order.ID)
	return nil
}

func (tx *memoryTx) AddItem(_ context.Context, item *models.OrderItem) error {
	order, ok := tx.orders[item.OrderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	order.Items = append(order.Items, *item)
	return nil
}

func (tx *memoryTx) Finalize(_ context.Context, order *models.Order) error {
	staged, ok := tx.orders[order.ID]
	if !ok {
		return models.ErrOrderNotFound
	}
	order.UpdatedAt = time.Now().UTC()
	staged.Status = order.Status
	staged.TotalAmount = order.TotalAmount
	staged.UpdatedAt = order.UpdatedAt
	return nil
}

func (tx *memoryTx) commit() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	now := time.Now().UTC()
	for id, stock := range tx.stock {
		product := tx.store.products[id]
		if product.Stock != stock {
			product.Stock = stock
			product.UpdatedAt = now
		}
		tx.store.products[id] = product
	}
	for _, id := range tx.seq {
		tx.store.orders[id] = *tx.orders[id]
	}
}

func (tx *memoryTx) release() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for id := range tx.held {
		if l := tx.store.rowLocks[id]; l != nil && l.holder == tx {
			l.holder = nil
			close(l.free)
		}
	}
	delete(tx.store.waiting, tx)
	tx.held = nil
}

// GetAll returns the active products ordered by name.
func (s *MemoryStore) GetAll(_ context.Context) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	productList := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.IsActive {
			productList = append(productList, p)
		}
	}
	sort.Slice(productList, func(i, j int) bool { return productList[i].Name < productList[j].Name })
	return productList, nil
}

// GetByID returns a product by its ID.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, &models.ProductNotFoundError{ProductID: id}
	}
	return &product, nil
}

// Create adds a new product.
func (s *MemoryStore) Create(_ context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = *product
	return nil
}

// Count returns the number of stored products.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.products)), nil
}

// ListByUser returns the user's committed orders, newest first.
func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderList := make([]models.Order, 0)
	for _, order := range s.orders {
		if order.UserID == userID {
			orderList = append(orderList, s.withProducts(order))
		}
	}
	sort.SliceStable(orderList, func(i, j int) bool { return orderList[i].CreatedAt.After(orderList[j].CreatedAt) })
	return orderList, nil
}

// GetForUser returns one of the user's committed orders.
func (s *MemoryStore) GetForUser(_ context.Context, id, userID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok || order.UserID != userID {
		return nil, models.ErrOrderNotFound
	}
	out := s.withProducts(order)
	return &out, nil
}

// withProducts copies the order's items sorted by position with their products attached.
// Callers hold s.mu.
func (s *MemoryStore) withProducts(order models.Order) models.Order {
	items := make([]models.OrderItem, len(order.Items))
	copy(items, order.Items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	for i := range items {
		if p, ok := s.products[items[i].ProductID]; ok {
			items[i].Product = &p
		}
	}
	order.Items = items
	return order
}
