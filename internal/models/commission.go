// internal/models/commission.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Commission struct {
	BaseModel
	VendorID         uuid.UUID        `json:"vendor_id" gorm:"type:uuid;not null;uniqueIndex:idx_commission_vendor_item;index:idx_commission_vendor_status"`
	OrderItemID      uuid.UUID        `json:"order_item_id" gorm:"type:uuid;not null;uniqueIndex:idx_commission_vendor_item"`
	OrderID          uuid.UUID        `json:"order_id" gorm:"type:uuid;not null;index"`
	GrossAmount      decimal.Decimal  `json:"gross_amount" gorm:"type:decimal(12,2);not null"`
	CommissionRate   decimal.Decimal  `json:"commission_rate" gorm:"type:decimal(5,2);not null"`
	CommissionAmount decimal.Decimal  `json:"commission_amount" gorm:"type:decimal(12,2);not null"`
	PlatformFee      decimal.Decimal  `json:"platform_fee" gorm:"type:decimal(12,2);not null"`
	NetAmount        decimal.Decimal  `json:"net_amount" gorm:"type:decimal(12,2);not null"`
	Status           CommissionStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_commission_vendor_status"`
	ActivePayoutID   *uuid.UUID       `json:"active_payout_id,omitempty" gorm:"type:uuid;index"`
	ApprovedAt       *time.Time       `json:"approved_at,omitempty"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	CancelledAt      *time.Time       `json:"cancelled_at,omitempty"`
	CancelReason     string           `json:"cancel_reason,omitempty" gorm:"type:text"`
}
