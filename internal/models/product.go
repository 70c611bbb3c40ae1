package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the store.
type Product struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)" validate:"omitempty,uuid"`
	CategoryID  *string         `json:"category_id,omitempty" gorm:"type:varchar(36);index"`
	Category    *Category       `json:"-" gorm:"foreignKey:CategoryID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Name        string          `json:"name" gorm:"type:varchar(200);not null" validate:"required,min=3,max=200"`
	Description string          `json:"description" gorm:"type:text" validate:"omitempty,max=2000"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null"`
	Stock       int             `json:"stock" gorm:"not null" validate:"gte=0"`
	IsActive    bool            `json:"is_active" gorm:"not null;index"`
	ImageURL    string          `json:"image_url,omitempty" gorm:"type:varchar(500)" validate:"omitempty,url"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StockRow is the locked view of a product that the inventory ledger hands out.
type StockRow struct {
	ProductID string
	Stock     int
	Price     decimal.Decimal
	IsActive  bool
}

// Row returns the ledger view of the product.
func (p *Product) Row() *StockRow {
	return &StockRow{
		ProductID: p.ID,
		Stock:     p.Stock,
		Price:     p.Price,
		IsActive:  p.IsActive,
	}
}
