// internal/services/order_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/database"
	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/utils"
)

// OrderLifecycleHook runs inside the transaction that changes an order or item
// status. Returning an error rolls the change back.
type OrderLifecycleHook interface {
	OnOrderStatusChanged(ctx context.Context, tx *gorm.DB, order *models.Order, from, to models.OrderStatus) error
	OnItemStatusChanged(ctx context.Context, tx *gorm.DB, item *models.OrderItem, from, to models.OrderStatus) error
}

type OrderService struct {
	db       *gorm.DB
	config   *config.Config
	rates    RateResolverChain
	hook     OrderLifecycleHook
	logger   *logrus.Entry
	nowFunc  func() time.Time
	numberFn func(prefix string, at time.Time) string
}

type CreateOrderRequest struct {
	CustomerID      *uuid.UUID                `json:"customer_id,omitempty"`
	CustomerEmail   string                    `json:"customer_email" validate:"required,email"`
	CustomerPhone   string                    `json:"customer_phone,omitempty" validate:"max=50"`
	ShippingAddress models.AddressSnapshot    `json:"shipping_address"`
	BillingAddress  models.AddressSnapshot    `json:"billing_address"`
	Subtotal        decimal.Decimal           `json:"subtotal" validate:"money"`
	TaxAmount       decimal.Decimal           `json:"tax_amount" validate:"money"`
	ShippingCost    decimal.Decimal           `json:"shipping_cost" validate:"money"`
	DiscountAmount  decimal.Decimal           `json:"discount_amount" validate:"money"`
	TotalAmount     decimal.Decimal           `json:"total_amount" validate:"money"`
	Currency        string                    `json:"currency,omitempty" validate:"omitempty,len=3"`
	PaymentMethod   string                    `json:"payment_method,omitempty" validate:"max=50"`
	Notes           string                    `json:"notes,omitempty"`
	Items           []*CreateOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type CreateOrderItemRequest struct {
	ProductID    uuid.UUID        `json:"product_id" validate:"required"`
	VendorID     uuid.UUID        `json:"vendor_id" validate:"required"`
	BrandID      *uuid.UUID       `json:"brand_id,omitempty"`
	ProductName  string           `json:"product_name" validate:"required,max=255"`
	ProductSKU   string           `json:"product_sku,omitempty" validate:"max=100"`
	BrandName    string           `json:"brand_name,omitempty" validate:"max=255"`
	Size         string           `json:"size,omitempty" validate:"max=50"`
	Color        string           `json:"color,omitempty" validate:"max=50"`
	UnitPrice    decimal.Decimal  `json:"unit_price" validate:"money"`
	Quantity     int              `json:"quantity" validate:"min=1"`
	TotalPrice   decimal.Decimal  `json:"total_price" validate:"money"`
	RateOverride *decimal.Decimal `json:"commission_rate_override,omitempty" validate:"omitempty,rate"`
}

type OrderFilter struct {
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	VendorID      *uuid.UUID
	CustomerEmail string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
}

func NewOrderService(db *gorm.DB, cfg *config.Config, rates RateResolverChain, hook OrderLifecycleHook) *OrderService {
	return &OrderService{
		db:       db,
		config:   cfg,
		rates:    rates,
		hook:     hook,
		logger:   logrus.WithField("component", "order_service"),
		nowFunc:  func() time.Time { return time.Now().UTC() },
		numberFn: generateNumber,
	}
}

// generateNumber builds identifiers like ORD-20240131-1A2B3C4D.
func generateNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), suffix)
}

// validateMoney rejects amounts that a decimal(12,2) column would round.
func validateMoney(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return newValidationError(field, "cannot be negative")
	}
	if !d.Equal(d.Round(2)) {
		return newValidationError(field, "must have at most 2 decimal places")
	}
	return nil
}

func validateOrderRequest(req *CreateOrderRequest) error {
	money := []struct {
		field string
		value decimal.Decimal
	}{
		{"subtotal", req.Subtotal},
		{"tax_amount", req.TaxAmount},
		{"shipping_cost", req.ShippingCost},
		{"discount_amount", req.DiscountAmount},
		{"total_amount", req.TotalAmount},
	}
	for _, m := range money {
		if err := validateMoney(m.field, m.value); err != nil {
			return err
		}
	}

	if len(req.Items) == 0 {
		return newValidationError("items", "order must contain at least one item")
	}

	itemSum := decimal.Zero
	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if item.VendorID == uuid.Nil {
			return newValidationError(field+".vendor_id", "is required")
		}
		if item.Quantity < 1 {
			return newValidationError(field+".quantity", "must be at least 1")
		}
		if err := validateMoney(field+".unit_price", item.UnitPrice); err != nil {
			return err
		}
		if err := validateMoney(field+".total_price", item.TotalPrice); err != nil {
			return err
		}
		expected := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		if !item.TotalPrice.Equal(expected) {
			return newValidationError(field+".total_price", "expected %s, got %s", expected.StringFixed(2), item.TotalPrice.StringFixed(2))
		}
		if err := validateRate(field+".commission_rate_override", item.RateOverride); err != nil {
			return err
		}
		itemSum = itemSum.Add(item.TotalPrice)
	}

	if !req.Subtotal.Equal(itemSum) {
		return newValidationError("subtotal", "expected %s from items, got %s", itemSum.StringFixed(2), req.Subtotal.StringFixed(2))
	}

	computed := req.Subtotal.Add(req.TaxAmount).Add(req.ShippingCost).Sub(req.DiscountAmount)
	if !req.TotalAmount.Equal(computed) {
		return newValidationError("total_amount", "expected %s, got %s", computed.StringFixed(2), req.TotalAmount.StringFixed(2))
	}
	return nil
}

func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest, actor string) (*models.Order, error) {
	if err := validateOrderRequest(req); err != nil {
		return nil, err
	}

	now := s.nowFunc()
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.config.Payment.Currency
	}

	order := &models.Order{
		OrderNumber:     s.numberFn("ORD", now),
		CustomerID:      req.CustomerID,
		CustomerEmail:   strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Subtotal:        req.Subtotal,
		TaxAmount:       req.TaxAmount,
		ShippingCost:    req.ShippingCost,
		DiscountAmount:  req.DiscountAmount,
		TotalAmount:     req.TotalAmount,
		Currency:        currency,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
	}

	// Lock each item's rate at sale time
	for _, item := range req.Items {
		rate, err := s.rates.Resolve(ctx, RateQuery{
			VendorID:     item.VendorID,
			BrandID:      item.BrandID,
			ItemOverride: item.RateOverride,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve commission rate: %w", err)
		}

		order.Items = append(order.Items, models.OrderItem{
			ProductID:            item.ProductID,
			VendorID:             item.VendorID,
			BrandID:              item.BrandID,
			ProductName:          item.ProductName,
			ProductSKU:           item.ProductSKU,
			BrandName:            item.BrandName,
			Size:                 item.Size,
			Color:                item.Color,
			UnitPrice:            item.UnitPrice,
			Quantity:             item.Quantity,
			TotalPrice:           item.TotalPrice,
			VendorCommissionRate: rate,
			VendorCommission:     commissionAmount(item.TotalPrice, rate),
			Status:               models.OrderStatusPending,
		})
	}
	order.IsMultiVendor = len(order.VendorIDs()) > 1

	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		history := &models.OrderStatusHistory{
			OrderID:   order.ID,
			Sequence:  1,
			ToStatus:  models.OrderStatusPending,
			ChangedBy: actor,
			Notes:     "Order created",
		}
		if err := tx.Create(history).Error; err != nil {
			return err
		}
		order.History = []models.OrderStatusHistory{*history}
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "failed to create order")
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":        order.ID,
		"order_number":    order.OrderNumber,
		"items":           len(order.Items),
		"is_multi_vendor": order.IsMultiVendor,
		"actor":           actor,
	}).Info("Order created")

	return order, nil
}

func latestHistory(tx *gorm.DB, orderID uuid.UUID) (*models.OrderStatusHistory, error) {
	var history models.OrderStatusHistory
	if err := tx.Where("order_id = ?", orderID).Order("sequence DESC").First(&history).Error; err != nil {
		return nil, err
	}
	return &history, nil
}

// TransitionStatus moves the order along its state machine and appends a
// history row in the same transaction. Re-entering the current status is a
// no-op that returns the latest history row.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID uuid.UUID, newStatus models.OrderStatus, actor, notes string) (*models.OrderStatusHistory, error) {
	if !newStatus.IsValid() {
		return nil, newValidationError("status", "unknown order status %q", newStatus)
	}

	var (
		result *models.OrderStatusHistory
		from   models.OrderStatus
	)
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var order models.Order
		if err := database.ForUpdate(tx).First(&order, "id = ?", orderID).Error; err != nil {
			return translateStorageError(err, "order not found")
		}
		from = order.Status

		if order.Status == newStatus {
			latest, err := latestHistory(tx, order.ID)
			if err != nil {
				return err
			}
			result = latest
			return nil
		}

		if !order.Status.CanTransitionTo(newStatus) {
			return newTransitionError("order", order.Status, newStatus)
		}

		now := s.nowFunc()
		updates := map[string]interface{}{"status": newStatus}
		switch newStatus {
		case models.OrderStatusConfirmed:
			if order.ConfirmedAt == nil {
				updates["confirmed_at"] = now
			}
		case models.OrderStatusShipped:
			if order.ShippedAt == nil {
				updates["shipped_at"] = now
			}
		case models.OrderStatusDelivered:
			if order.DeliveredAt == nil {
				updates["delivered_at"] = now
			}
		case models.OrderStatusCancelled:
			if order.CancelledAt == nil {
				updates["cancelled_at"] = now
			}
		}

		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, order.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrConcurrencyConflict
		}

		// Items that still mirror the order follow it
		if err := tx.Model(&models.OrderItem{}).
			Where("order_id = ? AND status = ?", order.ID, order.Status).
			Update("status", newStatus).Error; err != nil {
			return err
		}

		latest, err := latestHistory(tx, order.ID)
		if err != nil {
			return err
		}
		history := &models.OrderStatusHistory{
			OrderID:    order.ID,
			Sequence:   latest.Sequence + 1,
			FromStatus: order.Status,
			ToStatus:   newStatus,
			ChangedBy:  actor,
			Notes:      notes,
		}
		if err := tx.Create(history).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return err
		}

		if s.hook != nil {
			order.Status = newStatus
			if err := s.hook.OnOrderStatusChanged(ctx, tx, &order, history.FromStatus, newStatus); err != nil {
				return err
			}
		}

		result = history
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "failed to transition order")
	}

	if from != newStatus {
		s.logger.WithFields(logrus.Fields{
			"order_id": orderID,
			"from":     from,
			"to":       newStatus,
			"actor":    actor,
		}).Info("Order status changed")
	}
	return result, nil
}

// paymentPath returns the steps needed to reach target. A completed
// notification for a pending payment passes through processing.
func paymentPath(from, target models.PaymentStatus) ([]models.PaymentStatus, bool) {
	if from.CanTransitionTo(target) {
		return []models.PaymentStatus{target}, true
	}
	if from == models.PaymentStatusPending && target == models.PaymentStatusCompleted {
		return []models.PaymentStatus{models.PaymentStatusProcessing, models.PaymentStatusCompleted}, true
	}
	return nil, false
}

func (s *OrderService) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status models.PaymentStatus, gatewayRef, actor string) (*models.Order, error) {
	return s.updatePayment(ctx, orderID, status, gatewayRef, actor, decimal.Zero)
}

// RecordRefund adds amount to the refunded total and moves the payment status
// in one transaction.
func (s *OrderService) RecordRefund(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, status models.PaymentStatus, actor string) (*models.Order, error) {
	if !amount.IsPositive() {
		return nil, newValidationError("amount", "must be positive")
	}
	if err := validateMoney("amount", amount); err != nil {
		return nil, err
	}
	if status != models.PaymentStatusPartiallyRefunded && status != models.PaymentStatusRefunded {
		return nil, newValidationError("payment_status", "a refund requires status %s or %s",
			models.PaymentStatusPartiallyRefunded, models.PaymentStatusRefunded)
	}
	return s.updatePayment(ctx, orderID, status, "", actor, amount)
}

func (s *OrderService) updatePayment(ctx context.Context, orderID uuid.UUID, status models.PaymentStatus, gatewayRef, actor string, refunded decimal.Decimal) (*models.Order, error) {
	if !status.IsValid() {
		return nil, newValidationError("payment_status", "unknown payment status %q", status)
	}

	var from models.PaymentStatus
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var order models.Order
		if err := database.ForUpdate(tx).First(&order, "id = ?", orderID).Error; err != nil {
			return translateStorageError(err, "order not found")
		}
		from = order.PaymentStatus

		updates := map[string]interface{}{}
		if gatewayRef != "" && gatewayRef != order.PaymentReference {
			updates["payment_reference"] = gatewayRef
		}
		if refunded.IsPositive() {
			total := order.RefundedAmount.Add(refunded)
			if total.GreaterThan(order.TotalAmount) {
				return newValidationError("refund_amount", "refunds would total %s, exceeding order total %s",
					total.StringFixed(2), order.TotalAmount.StringFixed(2))
			}
			if total.Equal(order.TotalAmount) {
				status = models.PaymentStatusRefunded
			}
			updates["refunded_amount"] = total
		}

		if order.PaymentStatus != status || refunded.IsPositive() {
			// partially_refunded -> partially_refunded is a further partial refund
			repeatPartial := order.PaymentStatus == status && status == models.PaymentStatusPartiallyRefunded
			if order.PaymentStatus == status && !repeatPartial {
				return newTransitionError("payment", order.PaymentStatus, status)
			}
			if !repeatPartial {
				if _, ok := paymentPath(order.PaymentStatus, status); !ok {
					return newTransitionError("payment", order.PaymentStatus, status)
				}
				updates["payment_status"] = status
			}
			if status == models.PaymentStatusCompleted && order.PaidAt == nil {
				updates["paid_at"] = s.nowFunc()
			}
		}

		if len(updates) == 0 {
			return nil
		}

		res := tx.Model(&models.Order{}).
			Where("id = ? AND payment_status = ?", order.ID, order.PaymentStatus).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrConcurrencyConflict
		}
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "failed to update payment status")
	}

	if from != status {
		s.logger.WithFields(logrus.Fields{
			"order_id": orderID,
			"from":     from,
			"to":       status,
			"actor":    actor,
		}).Info("Payment status changed")
	}
	return s.GetOrder(ctx, orderID)
}

// UpdateItemStatus moves one item independently of its order.
func (s *OrderService) UpdateItemStatus(ctx context.Context, itemID uuid.UUID, newStatus models.OrderStatus, actor, notes string) (*models.OrderItem, error) {
	if !newStatus.IsValid() {
		return nil, newValidationError("status", "unknown order status %q", newStatus)
	}

	var item models.OrderItem
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := database.ForUpdate(tx).First(&item, "id = ?", itemID).Error; err != nil {
			return translateStorageError(err, "order item not found")
		}
		if item.Status == newStatus {
			return nil
		}
		if !item.Status.CanTransitionTo(newStatus) {
			return newTransitionError("order item", item.Status, newStatus)
		}

		from := item.Status
		res := tx.Model(&models.OrderItem{}).
			Where("id = ? AND status = ?", item.ID, from).
			Update("status", newStatus)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrConcurrencyConflict
		}
		item.Status = newStatus

		if s.hook != nil {
			if err := s.hook.OnItemStatusChanged(ctx, tx, &item, from, newStatus); err != nil {
				return err
			}
		}

		s.logger.WithFields(logrus.Fields{
			"order_item_id": item.ID,
			"order_id":      item.OrderID,
			"from":          from,
			"to":            newStatus,
			"actor":         actor,
			"notes":         notes,
		}).Info("Order item status changed")
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "failed to update order item status")
	}
	return &item, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		First(&order, "id = ?", orderID).Error
	if err != nil {
		return nil, translateStorageError(err, "order not found")
	}
	return &order, nil
}

func (s *OrderService) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to look up order: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("order not found: %w", ErrNotFound)
	}

	var history []models.OrderStatusHistory
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("sequence ASC").Find(&history).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch order history: %w", err)
	}
	return history, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter OrderFilter, params utils.PaginationParams) ([]models.Order, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Order{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PaymentStatus != "" {
		query = query.Where("payment_status = ?", filter.PaymentStatus)
	}
	if filter.VendorID != nil {
		query = query.Where("id IN (?)", s.db.Model(&models.OrderItem{}).Select("order_id").Where("vendor_id = ?", *filter.VendorID))
	}
	if filter.CustomerEmail != "" {
		query = query.Where("customer_email = ?", strings.ToLower(filter.CustomerEmail))
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", filter.CreatedTo.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	allowedSortFields := []string{"created_at", "total_amount", "status", "order_number"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var orders []models.Order
	if err := query.Preload("Items").Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch orders: %w", err)
	}
	return orders, total, nil
}

// DeleteOrder removes an order together with its items and history. Orders
// with settlement records that still matter are refused.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID uuid.UUID, actor string) error {
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var order models.Order
		if err := database.ForUpdate(tx).First(&order, "id = ?", orderID).Error; err != nil {
			return translateStorageError(err, "order not found")
		}

		var open int64
		if err := tx.Model(&models.Commission{}).
			Where("order_id = ? AND status <> ?", order.ID, models.CommissionStatusCancelled).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return newValidationError("order", "order has %d active commission(s) and cannot be deleted", open)
		}

		var inPayout int64
		if err := tx.Model(&models.PayoutItem{}).
			Where("commission_id IN (?)", tx.Model(&models.Commission{}).Select("id").Where("order_id = ?", order.ID)).
			Count(&inPayout).Error; err != nil {
			return err
		}
		if inPayout > 0 {
			return newValidationError("order", "order is referenced by payout records and cannot be deleted")
		}

		steps := []struct {
			model interface{}
			where string
		}{
			{&models.Commission{}, "order_id = ?"},
			{&models.OrderStatusHistory{}, "order_id = ?"},
			{&models.OrderItem{}, "order_id = ?"},
			{&models.Order{}, "id = ?"},
		}
		for _, step := range steps {
			if err := tx.Where(step.where, order.ID).Delete(step.model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapTxError(err, "failed to delete order")
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"actor":    actor,
	}).Info("Order deleted")
	return nil
}
