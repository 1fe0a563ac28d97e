// internal/services/report_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/database"
	"github.com/javajoker/settlement-backend/internal/models"
)

// Exporter stores a finished report export. StorageService satisfies it.
type Exporter interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (*UploadResult, error)
}

type ReportService struct {
	db       *gorm.DB
	exporter Exporter
	logger   *logrus.Entry
	nowFunc  func() time.Time
}

type GenerateReportRequest struct {
	ReportType models.ReportType `json:"report_type" validate:"required"`
	Date       time.Time         `json:"date" validate:"required"`
	VendorID   *uuid.UUID        `json:"vendor_id,omitempty"`
}

type ExportReportRequest struct {
	ReportType models.ReportType `json:"report_type" validate:"required"`
	Date       time.Time         `json:"date" validate:"required"`
}

type ReportExport struct {
	ReportType  models.ReportType    `json:"report_type"`
	PeriodStart time.Time            `json:"period_start"`
	PeriodEnd   time.Time            `json:"period_end"`
	ExportedAt  time.Time            `json:"exported_at"`
	Reports     []models.SalesReport `json:"reports"`
}

func NewReportService(db *gorm.DB, exporter Exporter) *ReportService {
	return &ReportService{
		db:       db,
		exporter: exporter,
		logger:   logrus.WithField("component", "report_service"),
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

func sumDecimals(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// aggregate computes the rollup for [start, end). Cancelled orders are counted
// but contribute no revenue.
func (s *ReportService) aggregate(tx *gorm.DB, start, end time.Time, vendorID *uuid.UUID) (*models.SalesReport, error) {
	report := &models.SalesReport{VendorID: vendorID}

	inWindow := func(q *gorm.DB, column string) *gorm.DB {
		return q.Where(column+" >= ? AND "+column+" < ?", start, end)
	}

	orders := inWindow(tx.Model(&models.Order{}), "created_at")
	if vendorID != nil {
		orders = orders.Where("id IN (?)", tx.Model(&models.OrderItem{}).Select("order_id").Where("vendor_id = ?", *vendorID))
	}
	if err := orders.Session(&gorm.Session{}).Count(&report.TotalOrders).Error; err != nil {
		return nil, err
	}
	if err := orders.Session(&gorm.Session{}).Where("status = ?", models.OrderStatusCancelled).Count(&report.CancelledOrders).Error; err != nil {
		return nil, err
	}

	items := tx.Model(&models.OrderItem{}).
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.created_at >= ? AND orders.created_at < ?", start, end).
		Where("orders.status <> ?", models.OrderStatusCancelled)
	if vendorID != nil {
		items = items.Where("order_items.vendor_id = ?", *vendorID)
	}
	var quantities []int64
	if err := items.Session(&gorm.Session{}).Pluck("order_items.quantity", &quantities).Error; err != nil {
		return nil, err
	}
	for _, q := range quantities {
		report.TotalItems += q
	}

	// Gross revenue is item value on every row so vendor rows add up to the
	// platform row. Order totals carry tax, shipping and discounts that belong
	// to no single vendor and are reported on the platform row only.
	var revenue []decimal.Decimal
	if err := items.Session(&gorm.Session{}).Pluck("order_items.total_price", &revenue).Error; err != nil {
		return nil, err
	}
	report.GrossRevenue = sumDecimals(revenue)

	report.OrderRevenue = decimal.Zero
	if vendorID == nil {
		var totals []decimal.Decimal
		if err := orders.Session(&gorm.Session{}).Where("status <> ?", models.OrderStatusCancelled).Pluck("total_amount", &totals).Error; err != nil {
			return nil, err
		}
		report.OrderRevenue = sumDecimals(totals)
	}

	var commissions []models.Commission
	cq := inWindow(tx.Model(&models.Commission{}), "created_at").
		Where("status <> ?", models.CommissionStatusCancelled)
	if vendorID != nil {
		cq = cq.Where("vendor_id = ?", *vendorID)
	}
	if err := cq.Select("commission_amount", "platform_fee", "net_amount").Find(&commissions).Error; err != nil {
		return nil, err
	}
	report.TotalCommission = decimal.Zero
	report.TotalPlatformFee = decimal.Zero
	report.NetCommission = decimal.Zero
	for _, c := range commissions {
		report.TotalCommission = report.TotalCommission.Add(c.CommissionAmount)
		report.TotalPlatformFee = report.TotalPlatformFee.Add(c.PlatformFee)
		report.NetCommission = report.NetCommission.Add(c.NetAmount)
	}

	return report, nil
}

// Generate recomputes the report for the period containing date and upserts
// the (type, period, vendor) row.
func (s *ReportService) Generate(ctx context.Context, reportType models.ReportType, date time.Time, vendorID *uuid.UUID) (*models.SalesReport, error) {
	if !reportType.IsValid() {
		return nil, newValidationError("report_type", "unknown report type %q", reportType)
	}
	start, end := reportType.Window(date)

	var result models.SalesReport
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		computed, err := s.aggregate(tx, start, end, vendorID)
		if err != nil {
			return err
		}

		var existing models.SalesReport
		q := tx.Where("report_type = ? AND report_date = ?", reportType, start)
		if vendorID == nil {
			q = q.Where("vendor_id IS NULL")
		} else {
			q = q.Where("vendor_id = ?", *vendorID)
		}
		findErr := q.First(&existing).Error
		if findErr != nil && !database.IsNotFound(findErr) {
			return findErr
		}

		computed.ReportType = reportType
		computed.ReportDate = start
		computed.GeneratedAt = s.nowFunc()

		if findErr == nil {
			computed.ID = existing.ID
			computed.CreatedAt = existing.CreatedAt
			if err := tx.Save(computed).Error; err != nil {
				return err
			}
		} else if err := tx.Create(computed).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return err
		}

		result = *computed
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "failed to generate report")
	}

	s.logger.WithFields(logrus.Fields{
		"report_type": reportType,
		"report_date": start.Format("2006-01-02"),
		"vendor_id":   vendorID,
	}).Info("Sales report generated")
	return &result, nil
}

// GenerateAll regenerates the platform row plus one row per vendor with sales
// in the period.
func (s *ReportService) GenerateAll(ctx context.Context, reportType models.ReportType, date time.Time) ([]models.SalesReport, error) {
	if !reportType.IsValid() {
		return nil, newValidationError("report_type", "unknown report type %q", reportType)
	}
	start, end := reportType.Window(date)

	var vendorIDs []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.OrderItem{}).
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.created_at >= ? AND orders.created_at < ?", start, end).
		Distinct().Pluck("order_items.vendor_id", &vendorIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to list vendors for report: %w", err)
	}

	platform, err := s.Generate(ctx, reportType, date, nil)
	if err != nil {
		return nil, err
	}
	reports := []models.SalesReport{*platform}
	for i := range vendorIDs {
		report, err := s.Generate(ctx, reportType, date, &vendorIDs[i])
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

func (s *ReportService) ListReports(ctx context.Context, reportType models.ReportType, date time.Time) ([]models.SalesReport, error) {
	if !reportType.IsValid() {
		return nil, newValidationError("report_type", "unknown report type %q", reportType)
	}
	start, _ := reportType.Window(date)

	var reports []models.SalesReport
	if err := s.db.WithContext(ctx).
		Where("report_type = ? AND report_date = ?", reportType, start).
		Order("vendor_id IS NOT NULL, created_at ASC").
		Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch reports: %w", err)
	}
	return reports, nil
}

// Export writes every stored row of the period as one JSON document.
func (s *ReportService) Export(ctx context.Context, reportType models.ReportType, date time.Time) (*UploadResult, error) {
	if s.exporter == nil {
		return nil, fmt.Errorf("no report exporter configured")
	}

	reports, err := s.ListReports(ctx, reportType, date)
	if err != nil {
		return nil, err
	}
	start, end := reportType.Window(date)

	payload, err := json.MarshalIndent(ReportExport{
		ReportType:  reportType,
		PeriodStart: start,
		PeriodEnd:   end,
		ExportedAt:  s.nowFunc(),
		Reports:     reports,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report export: %w", err)
	}

	key := fmt.Sprintf("reports/%s/%s.json", reportType, start.Format("2006-01-02"))
	result, err := s.exporter.Upload(ctx, key, payload, "application/json")
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"report_type": reportType,
		"rows":        len(reports),
		"key":         result.Key,
	}).Info("Sales reports exported")
	return result, nil
}
