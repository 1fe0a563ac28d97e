// internal/models/report.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SalesReport is a regenerable rollup. A nil VendorID is the platform-wide row.
// GrossRevenue sums item totals of non-cancelled orders on every row.
type SalesReport struct {
	BaseModel
	ReportType       ReportType      `json:"report_type" gorm:"type:varchar(20);not null;uniqueIndex:idx_sales_report_period"`
	ReportDate       time.Time       `json:"report_date" gorm:"not null;uniqueIndex:idx_sales_report_period"`
	VendorID         *uuid.UUID      `json:"vendor_id,omitempty" gorm:"type:uuid;uniqueIndex:idx_sales_report_period"`
	TotalOrders      int64           `json:"total_orders" gorm:"not null;default:0"`
	CancelledOrders  int64           `json:"cancelled_orders" gorm:"not null;default:0"`
	TotalItems       int64           `json:"total_items" gorm:"not null;default:0"`
	GrossRevenue     decimal.Decimal `json:"gross_revenue" gorm:"type:decimal(14,2);not null"`
	// Sum of order totals; zero on vendor rows.
	OrderRevenue     decimal.Decimal `json:"order_revenue" gorm:"type:decimal(14,2);not null;default:0"`
	TotalCommission  decimal.Decimal `json:"total_commission" gorm:"type:decimal(14,2);not null"`
	TotalPlatformFee decimal.Decimal `json:"total_platform_fee" gorm:"type:decimal(14,2);not null"`
	NetCommission    decimal.Decimal `json:"net_commission" gorm:"type:decimal(14,2);not null"`
	GeneratedAt      time.Time       `json:"generated_at" gorm:"not null"`
}
