// internal/services/commission_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/database"
	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type CommissionService struct {
	db      *gorm.DB
	fees    PlatformFeePolicy
	logger  *logrus.Entry
	nowFunc func() time.Time
}

type CommissionFilter struct {
	VendorID *uuid.UUID
	OrderID  *uuid.UUID
	Status   models.CommissionStatus
	PayoutID *uuid.UUID
}

func NewCommissionService(db *gorm.DB, fees PlatformFeePolicy) *CommissionService {
	if fees == nil {
		fees = NoPlatformFee{}
	}
	return &CommissionService{
		db:      db,
		fees:    fees,
		logger:  logrus.WithField("component", "commission_service"),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Item statuses after which no commission is owed.
func itemClosed(status models.OrderStatus) bool {
	return status == models.OrderStatusCancelled ||
		status == models.OrderStatusReturned ||
		status == models.OrderStatusRefunded
}

// buildCommission freezes the item's locked rate into a new pending commission.
func (s *CommissionService) buildCommission(item *models.OrderItem) *models.Commission {
	amount := commissionAmount(item.TotalPrice, item.VendorCommissionRate)
	fee := s.fees.Fee(amount)

	return &models.Commission{
		VendorID:         item.VendorID,
		OrderItemID:      item.ID,
		OrderID:          item.OrderID,
		GrossAmount:      item.TotalPrice,
		CommissionRate:   item.VendorCommissionRate,
		CommissionAmount: amount,
		PlatformFee:      fee,
		NetAmount:        amount.Sub(fee),
		Status:           models.CommissionStatusPending,
	}
}

func (s *CommissionService) insertCommission(tx *gorm.DB, item *models.OrderItem) (*models.Commission, error) {
	commission := s.buildCommission(item)
	if err := tx.Create(commission).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("order item %s: %w", item.ID, ErrDuplicateCommission)
		}
		return nil, err
	}

	if err := tx.Model(&models.OrderItem{}).
		Where("id = ?", item.ID).
		Update("vendor_commission", commission.CommissionAmount).Error; err != nil {
		return nil, err
	}
	return commission, nil
}

// CreateCommission is idempotent through the (vendor, order item) unique
// index. A second call fails with ErrDuplicateCommission.
func (s *CommissionService) CreateCommission(ctx context.Context, orderItemID uuid.UUID) (*models.Commission, error) {
	var commission *models.Commission
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var item models.OrderItem
		if err := tx.First(&item, "id = ?", orderItemID).Error; err != nil {
			return translateStorageError(err, "order item not found")
		}
		if itemClosed(item.Status) {
			return newValidationError("order_item", "item is %s and earns no commission", item.Status)
		}

		created, err := s.insertCommission(tx, &item)
		if err != nil {
			return err
		}
		commission = created
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "failed to create commission")
	}

	s.logger.WithFields(logrus.Fields{
		"commission_id": commission.ID,
		"vendor_id":     commission.VendorID,
		"order_item_id": commission.OrderItemID,
		"amount":        commission.CommissionAmount.StringFixed(2),
	}).Info("Commission created")
	return commission, nil
}

// CreateCommissionsForOrder creates the missing commissions for every open
// item of the order using the caller's transaction.
func (s *CommissionService) CreateCommissionsForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.Commission, error) {
	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Order("created_at ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	var existing []uuid.UUID
	if err := tx.Model(&models.Commission{}).Where("order_id = ?", orderID).Pluck("order_item_id", &existing).Error; err != nil {
		return nil, fmt.Errorf("failed to load existing commissions: %w", err)
	}
	have := make(map[uuid.UUID]bool, len(existing))
	for _, id := range existing {
		have[id] = true
	}

	var created []models.Commission
	for i := range items {
		item := &items[i]
		if have[item.ID] || itemClosed(item.Status) {
			continue
		}
		commission, err := s.insertCommission(tx, item)
		if err != nil {
			// Another writer created it between our read and insert
			if errors.Is(err, ErrDuplicateCommission) {
				return nil, ErrConcurrencyConflict
			}
			return nil, err
		}
		created = append(created, *commission)
	}

	if len(created) > 0 {
		s.logger.WithFields(logrus.Fields{
			"order_id": orderID,
			"created":  len(created),
		}).Info("Commissions created for order")
	}
	return created, nil
}

func (s *CommissionService) ApproveCommission(ctx context.Context, commissionID uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := database.ForUpdate(tx).First(&commission, "id = ?", commissionID).Error; err != nil {
			return translateStorageError(err, "commission not found")
		}
		if !commission.Status.CanTransitionTo(models.CommissionStatusApproved) {
			return newTransitionError("commission", commission.Status, models.CommissionStatusApproved)
		}

		now := s.nowFunc()
		res := tx.Model(&models.Commission{}).
			Where("id = ? AND status = ?", commission.ID, commission.Status).
			Updates(map[string]interface{}{
				"status":      models.CommissionStatusApproved,
				"approved_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrConcurrencyConflict
		}
		commission.Status = models.CommissionStatusApproved
		commission.ApprovedAt = &now
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "failed to approve commission")
	}

	s.logger.WithField("commission_id", commissionID).Info("Commission approved")
	return &commission, nil
}

// CancelCommission is allowed from pending or approved. A commission claimed
// by a live payout must wait until that payout fails or is cancelled.
func (s *CommissionService) CancelCommission(ctx context.Context, commissionID uuid.UUID, reason string) (*models.Commission, error) {
	var commission models.Commission
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := database.ForUpdate(tx).First(&commission, "id = ?", commissionID).Error; err != nil {
			return translateStorageError(err, "commission not found")
		}
		if !commission.Status.CanTransitionTo(models.CommissionStatusCancelled) {
			return newTransitionError("commission", commission.Status, models.CommissionStatusCancelled)
		}
		if commission.ActivePayoutID != nil {
			return newValidationError("commission", "commission is held by payout %s", commission.ActivePayoutID)
		}

		now := s.nowFunc()
		res := tx.Model(&models.Commission{}).
			Where("id = ? AND status = ? AND active_payout_id IS NULL", commission.ID, commission.Status).
			Updates(map[string]interface{}{
				"status":        models.CommissionStatusCancelled,
				"cancelled_at":  now,
				"cancel_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrConcurrencyConflict
		}
		commission.Status = models.CommissionStatusCancelled
		commission.CancelledAt = &now
		commission.CancelReason = reason
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "failed to cancel commission")
	}

	s.logger.WithFields(logrus.Fields{
		"commission_id": commissionID,
		"reason":        reason,
	}).Info("Commission cancelled")
	return &commission, nil
}

// cancelOpen cancels unclaimed pending or approved commissions matching where.
// Commissions held by a payout are left for the payout to settle.
func (s *CommissionService) cancelOpen(tx *gorm.DB, reason, where string, args ...interface{}) (int64, error) {
	res := tx.Model(&models.Commission{}).
		Where(where, args...).
		Where("status IN ? AND active_payout_id IS NULL", []models.CommissionStatus{
			models.CommissionStatusPending,
			models.CommissionStatusApproved,
		}).
		Updates(map[string]interface{}{
			"status":        models.CommissionStatusCancelled,
			"cancelled_at":  s.nowFunc(),
			"cancel_reason": reason,
		})
	if res.Error != nil {
		return 0, res.Error
	}

	var held int64
	if err := tx.Model(&models.Commission{}).
		Where(where, args...).
		Where("status = ? AND active_payout_id IS NOT NULL", models.CommissionStatusApproved).
		Count(&held).Error; err != nil {
		return 0, err
	}
	if held > 0 {
		s.logger.WithFields(logrus.Fields{
			"reason": reason,
			"held":   held,
		}).Warn("Commissions held by an active payout were not cancelled")
	}
	return res.RowsAffected, nil
}

func (s *CommissionService) OnOrderStatusChanged(ctx context.Context, tx *gorm.DB, order *models.Order, from, to models.OrderStatus) error {
	switch to {
	case models.OrderStatusConfirmed:
		_, err := s.CreateCommissionsForOrder(ctx, tx, order.ID)
		return err
	case models.OrderStatusCancelled, models.OrderStatusRefunded:
		n, err := s.cancelOpen(tx, "order "+string(to), "order_id = ?", order.ID)
		if err != nil {
			return fmt.Errorf("failed to cancel commissions: %w", err)
		}
		if n > 0 {
			s.logger.WithFields(logrus.Fields{
				"order_id":  order.ID,
				"cancelled": n,
			}).Info("Commissions cancelled with order")
		}
	}
	return nil
}

func (s *CommissionService) OnItemStatusChanged(ctx context.Context, tx *gorm.DB, item *models.OrderItem, from, to models.OrderStatus) error {
	if !itemClosed(to) {
		return nil
	}
	if _, err := s.cancelOpen(tx, "order item "+string(to), "order_item_id = ?", item.ID); err != nil {
		return fmt.Errorf("failed to cancel item commission: %w", err)
	}
	return nil
}

// BulkApprove approves a vendor's pending commissions created up to before.
func (s *CommissionService) BulkApprove(ctx context.Context, vendorID uuid.UUID, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Commission{}).
		Where("vendor_id = ? AND status = ? AND created_at <= ?", vendorID, models.CommissionStatusPending, before.UTC()).
		Updates(map[string]interface{}{
			"status":      models.CommissionStatusApproved,
			"approved_at": s.nowFunc(),
		})
	if res.Error != nil {
		return 0, translateStorageError(res.Error, "failed to approve commissions")
	}

	s.logger.WithFields(logrus.Fields{
		"vendor_id": vendorID,
		"approved":  res.RowsAffected,
	}).Info("Commissions bulk approved")
	return res.RowsAffected, nil
}

func (s *CommissionService) GetCommission(ctx context.Context, commissionID uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	if err := s.db.WithContext(ctx).First(&commission, "id = ?", commissionID).Error; err != nil {
		return nil, translateStorageError(err, "commission not found")
	}
	return &commission, nil
}

func (s *CommissionService) ListCommissions(ctx context.Context, filter CommissionFilter, params utils.PaginationParams) ([]models.Commission, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Commission{})

	if filter.VendorID != nil {
		query = query.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.OrderID != nil {
		query = query.Where("order_id = ?", *filter.OrderID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PayoutID != nil {
		query = query.Where("id IN (?)", s.db.Model(&models.PayoutItem{}).Select("commission_id").Where("payout_id = ?", *filter.PayoutID))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count commissions: %w", err)
	}

	allowedSortFields := []string{"created_at", "commission_amount", "net_amount", "status"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var commissions []models.Commission
	if err := query.Find(&commissions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch commissions: %w", err)
	}
	return commissions, total, nil
}
