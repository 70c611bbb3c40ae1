package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusCanceled  OrderStatus = "canceled"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	StatusPending:   {StatusConfirmed: true, StatusCanceled: true},
	StatusConfirmed: {},
	StatusCanceled:  {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// OrderItem represents a single line within an order.
type OrderItem struct {
	ID        string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID   string          `json:"order_id" gorm:"type:varchar(36);index;not null"`
	Position  int             `json:"position" gorm:"not null"`
	ProductID string          `json:"product_id" gorm:"type:varchar(36);index;not null"`
	Product   *Product        `json:"product,omitempty" gorm:"foreignKey:ProductID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Quantity  int             `json:"quantity" gorm:"not null"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:decimal(10,2);not null"` // price at the time of order
}

// LineTotal is quantity times the frozen unit price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order represents a customer order.
type Order struct {
	ID              string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID          string          `json:"user_id" gorm:"type:varchar(64);index;not null"`
	Status          OrderStatus     `json:"status" gorm:"type:varchar(16);not null"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:decimal(12,2);not null"`
	ShippingAddress string          `json:"shipping_address,omitempty" gorm:"type:text"`
	Note            string          `json:"note,omitempty" gorm:"type:text"`
	Items           []OrderItem     `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time       `json:"created_at" gorm:"<-:create"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ItemsTotal sums the line totals of the order.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// Clone returns a deep copy of the order and its items.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}

// CartLine is one requested product and quantity.
type CartLine struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

// Cart is the input to order creation. Lines are processed in order.
type Cart struct {
	Lines           []CartLine
	ShippingAddress string
	Note            string
}

// CreateOrderRequest is the request body for placing an order.
type CreateOrderRequest struct {
	Items           []CartLine `json:"items" validate:"dive"`
	ShippingAddress string     `json:"shipping_address" validate:"omitempty,max=1000"`
	Note            string     `json:"note" validate:"omitempty,max=1000"`
}

// Cart converts the request into the service input.
func (r CreateOrderRequest) Cart() Cart {
	return Cart{
		Lines:           r.Items,
		ShippingAddress: r.ShippingAddress,
		Note:            r.Note,
	}
}
