// internal/models/payout.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Payout struct {
	BaseModel
	PayoutNumber  string          `json:"payout_number" gorm:"size:32;uniqueIndex;not null"`
	VendorID      uuid.UUID       `json:"vendor_id" gorm:"type:uuid;not null;index"`
	PeriodStart   time.Time       `json:"period_start" gorm:"not null"`
	PeriodEnd     time.Time       `json:"period_end" gorm:"not null"`
	BankSnapshot  BankDetails     `json:"bank_snapshot" gorm:"embedded;embeddedPrefix:bank_"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	ProcessingFee decimal.Decimal `json:"processing_fee" gorm:"type:decimal(12,2);not null"`
	NetAmount     decimal.Decimal `json:"net_amount" gorm:"type:decimal(12,2);not null"`
	Currency      string          `json:"currency" gorm:"size:3;not null"`
	Status        PayoutStatus    `json:"status" gorm:"type:varchar(20);not null;index"`
	Reference     string          `json:"reference,omitempty" gorm:"size:255"`
	FailureReason string          `json:"failure_reason,omitempty" gorm:"type:text"`
	Notes         string          `json:"notes,omitempty" gorm:"type:text"`
	CreatedBy     string          `json:"created_by" gorm:"size:255"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`

	// Relationships
	Items []PayoutItem `json:"items,omitempty" gorm:"foreignKey:PayoutID"`
}

// PayoutItem fixes the membership of a payout at creation time.
type PayoutItem struct {
	ID           uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	PayoutID     uuid.UUID       `json:"payout_id" gorm:"type:uuid;not null;uniqueIndex:idx_payout_item"`
	CommissionID uuid.UUID       `json:"commission_id" gorm:"type:uuid;not null;uniqueIndex:idx_payout_item;index"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (p *PayoutItem) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
