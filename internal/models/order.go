// internal/models/order.go
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrImmutableHistory = errors.New("order status history is append-only")

// AddressSnapshot is copied into the order at checkout so later address edits
// never alter historical orders.
type AddressSnapshot struct {
	FullName   string `json:"full_name" gorm:"size:255"`
	Phone      string `json:"phone" gorm:"size:50"`
	Line1      string `json:"line1" gorm:"size:255"`
	Line2      string `json:"line2,omitempty" gorm:"size:255"`
	City       string `json:"city" gorm:"size:100"`
	State      string `json:"state" gorm:"size:100"`
	PostalCode string `json:"postal_code" gorm:"size:20"`
	Country    string `json:"country" gorm:"size:2"`
}

type Order struct {
	BaseModel
	OrderNumber      string          `json:"order_number" gorm:"size:32;uniqueIndex;not null"`
	CustomerID       *uuid.UUID      `json:"customer_id,omitempty" gorm:"type:uuid;index"`
	CustomerEmail    string          `json:"customer_email" gorm:"size:255;not null;index"`
	CustomerPhone    string          `json:"customer_phone" gorm:"size:50"`
	ShippingAddress  AddressSnapshot `json:"shipping_address" gorm:"embedded;embeddedPrefix:shipping_"`
	BillingAddress   AddressSnapshot `json:"billing_address" gorm:"embedded;embeddedPrefix:billing_"`
	Subtotal         decimal.Decimal `json:"subtotal" gorm:"type:decimal(12,2);not null"`
	TaxAmount        decimal.Decimal `json:"tax_amount" gorm:"type:decimal(12,2);not null"`
	ShippingCost     decimal.Decimal `json:"shipping_cost" gorm:"type:decimal(12,2);not null"`
	DiscountAmount   decimal.Decimal `json:"discount_amount" gorm:"type:decimal(12,2);not null"`
	TotalAmount      decimal.Decimal `json:"total_amount" gorm:"type:decimal(12,2);not null"`
	Currency         string          `json:"currency" gorm:"size:3;not null"`
	Status           OrderStatus     `json:"status" gorm:"type:varchar(20);not null;index"`
	PaymentStatus    PaymentStatus   `json:"payment_status" gorm:"type:varchar(20);not null;index"`
	PaymentMethod    string          `json:"payment_method,omitempty" gorm:"size:50"`
	PaymentReference string          `json:"payment_reference,omitempty" gorm:"size:255"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount" gorm:"type:decimal(12,2);not null;default:0"`
	IsMultiVendor    bool            `json:"is_multi_vendor" gorm:"not null;default:false"`
	Notes            string          `json:"notes,omitempty" gorm:"type:text"`
	ConfirmedAt      *time.Time      `json:"confirmed_at,omitempty"`
	ShippedAt        *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`

	// Relationships
	Items   []OrderItem          `json:"items,omitempty" gorm:"foreignKey:OrderID"`
	History []OrderStatusHistory `json:"history,omitempty" gorm:"foreignKey:OrderID"`
}

// ComputedTotal is the only total an order may be created with.
func (o *Order) ComputedTotal() decimal.Decimal {
	return o.Subtotal.Add(o.TaxAmount).Add(o.ShippingCost).Sub(o.DiscountAmount)
}

// VendorIDs returns the distinct vendors of the order's items in first-seen order.
func (o *Order) VendorIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, item := range o.Items {
		if !seen[item.VendorID] {
			seen[item.VendorID] = true
			ids = append(ids, item.VendorID)
		}
	}
	return ids
}

type OrderItem struct {
	BaseModel
	OrderID              uuid.UUID       `json:"order_id" gorm:"type:uuid;not null;index"`
	ProductID            uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;index"`
	VendorID             uuid.UUID       `json:"vendor_id" gorm:"type:uuid;not null;index"`
	BrandID              *uuid.UUID      `json:"brand_id,omitempty" gorm:"type:uuid;index"`
	ProductName          string          `json:"product_name" gorm:"size:255;not null"`
	ProductSKU           string          `json:"product_sku" gorm:"size:100"`
	BrandName            string          `json:"brand_name,omitempty" gorm:"size:255"`
	Size                 string          `json:"size,omitempty" gorm:"size:50"`
	Color                string          `json:"color,omitempty" gorm:"size:50"`
	UnitPrice            decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,2);not null"`
	Quantity             int             `json:"quantity" gorm:"not null"`
	TotalPrice           decimal.Decimal `json:"total_price" gorm:"type:decimal(12,2);not null"`
	VendorCommissionRate decimal.Decimal `json:"vendor_commission_rate" gorm:"type:decimal(5,2);not null"`
	VendorCommission     decimal.Decimal `json:"vendor_commission" gorm:"type:decimal(12,2);not null"`
	Status               OrderStatus     `json:"status" gorm:"type:varchar(20);not null;index"`
}

// OrderStatusHistory rows are append-only. Sequence is 1 for the creation row.
type OrderStatusHistory struct {
	ID         uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	OrderID    uuid.UUID   `json:"order_id" gorm:"type:uuid;not null;uniqueIndex:idx_order_history_seq"`
	Sequence   int         `json:"sequence" gorm:"not null;uniqueIndex:idx_order_history_seq"`
	FromStatus OrderStatus `json:"from_status" gorm:"type:varchar(20)"`
	ToStatus   OrderStatus `json:"to_status" gorm:"type:varchar(20);not null"`
	ChangedBy  string      `json:"changed_by" gorm:"size:255;not null"`
	Notes      string      `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt  time.Time   `json:"created_at" gorm:"index"`
}

func (OrderStatusHistory) TableName() string {
	return "order_status_history"
}

func (h *OrderStatusHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

func (h *OrderStatusHistory) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableHistory
}
