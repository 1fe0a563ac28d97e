// internal/models/vendor.go
package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BankDetails is used both for the vendor's live bank record and for the
// snapshot frozen into each payout.
type BankDetails struct {
	AccountName     string `json:"account_name" gorm:"size:255"`
	AccountNumber   string `json:"account_number" gorm:"size:64"`
	BankName        string `json:"bank_name" gorm:"size:255"`
	RoutingNumber   string `json:"routing_number" gorm:"size:64"`
	StripeAccountID string `json:"stripe_account_id,omitempty" gorm:"size:64"`
}

func (b BankDetails) IsZero() bool {
	return b == BankDetails{}
}

type Vendor struct {
	BaseModel
	Name           string              `json:"name" gorm:"size:255;not null"`
	Email          string              `json:"email" gorm:"size:255;not null;uniqueIndex"`
	CommissionRate decimal.NullDecimal `json:"commission_rate" gorm:"type:decimal(5,2)"`
	Bank           BankDetails         `json:"bank" gorm:"embedded;embeddedPrefix:bank_"`
	IsActive       bool                `json:"is_active" gorm:"not null;default:true"`

	// Relationships
	Brands []Brand `json:"brands,omitempty" gorm:"foreignKey:VendorID"`
}

type Brand struct {
	BaseModel
	VendorID       uuid.UUID           `json:"vendor_id" gorm:"type:uuid;not null;index"`
	Name           string              `json:"name" gorm:"size:255;not null"`
	CommissionRate decimal.NullDecimal `json:"commission_rate" gorm:"type:decimal(5,2)"`
}
