// internal/services/payout_service.go
package services

import (
	"context"
	"database/sql"
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

// Disburser moves a payout's net amount to the vendor and returns the
// transfer reference.
type Disburser interface {
	Disburse(ctx context.Context, payout *models.Payout) (string, error)
}

type PayoutService struct {
	db        *gorm.DB
	config    *config.Config
	disburser Disburser
	logger    *logrus.Entry
	nowFunc   func() time.Time
	numberFn  func(prefix string, at time.Time) string
}

type CreatePayoutRequest struct {
	VendorID      uuid.UUID           `json:"vendor_id" validate:"required"`
	PeriodStart   time.Time           `json:"period_start" validate:"required"`
	PeriodEnd     time.Time           `json:"period_end" validate:"required"`
	BankSnapshot  *models.BankDetails `json:"bank_snapshot,omitempty"`
	ProcessingFee decimal.Decimal     `json:"processing_fee" validate:"money"`
	Currency      string              `json:"currency,omitempty" validate:"omitempty,len=3"`
	Notes         string              `json:"notes,omitempty"`
	CreatedBy     string              `json:"-"`
}

type PayoutFilter struct {
	VendorID *uuid.UUID
	Status   models.PayoutStatus
}

func NewPayoutService(db *gorm.DB, cfg *config.Config, disburser Disburser) *PayoutService {
	return &PayoutService{
		db:        db,
		config:    cfg,
		disburser: disburser,
		logger:    logrus.WithField("component", "payout_service"),
		nowFunc:   func() time.Time { return time.Now().UTC() },
		numberFn:  generateNumber,
	}
}

func (s *PayoutService) txOptions() []*sql.TxOptions {
	if !s.config.Settlement.SerializablePayouts {
		return nil
	}
	if opts := database.SerializableTx(s.db); opts != nil {
		return []*sql.TxOptions{opts}
	}
	return nil
}

// CreatePayout claims every approved, unclaimed commission of the vendor
// created within [PeriodStart, PeriodEnd]. The selection and the claim happen
// in one transaction so concurrent calls never share a commission.
func (s *PayoutService) CreatePayout(ctx context.Context, req *CreatePayoutRequest) (*models.Payout, error) {
	if req.VendorID == uuid.Nil {
		return nil, newValidationError("vendor_id", "is required")
	}
	if req.PeriodEnd.Before(req.PeriodStart) {
		return nil, newValidationError("period_end", "must not be before period_start")
	}
	if err := validateMoney("processing_fee", req.ProcessingFee); err != nil {
		return nil, err
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.config.Payment.Currency
	}

	var payout *models.Payout
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var vendor models.Vendor
		if err := tx.First(&vendor, "id = ?", req.VendorID).Error; err != nil {
			return translateStorageError(err, "vendor not found")
		}

		var candidates []models.Commission
		if err := database.ForUpdate(tx).
			Where("vendor_id = ? AND status = ? AND active_payout_id IS NULL", vendor.ID, models.CommissionStatusApproved).
			Where("created_at >= ? AND created_at <= ?", req.PeriodStart.UTC(), req.PeriodEnd.UTC()).
			Order("created_at ASC").
			Find(&candidates).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return ErrEmptyPayout
		}

		amount := decimal.Zero
		ids := make([]uuid.UUID, 0, len(candidates))
		for _, c := range candidates {
			amount = amount.Add(c.NetAmount)
			ids = append(ids, c.ID)
		}
		net := amount.Sub(req.ProcessingFee)
		if net.IsNegative() {
			return newValidationError("processing_fee", "exceeds payout amount %s", amount.StringFixed(2))
		}
		if amount.LessThan(s.config.Settlement.MinimumPayout) {
			return newValidationError("amount", "payout amount %s is below the minimum %s", amount.StringFixed(2), s.config.Settlement.MinimumPayout.StringFixed(2))
		}

		bank := vendor.Bank
		if req.BankSnapshot != nil && !req.BankSnapshot.IsZero() {
			bank = *req.BankSnapshot
		}

		now := s.nowFunc()
		payout = &models.Payout{
			PayoutNumber:  s.numberFn("PAY", now),
			VendorID:      vendor.ID,
			PeriodStart:   req.PeriodStart.UTC(),
			PeriodEnd:     req.PeriodEnd.UTC(),
			BankSnapshot:  bank,
			Amount:        amount,
			ProcessingFee: req.ProcessingFee,
			NetAmount:     net,
			Currency:      currency,
			Status:        models.PayoutStatusPending,
			Notes:         req.Notes,
			CreatedBy:     req.CreatedBy,
		}
		if err := tx.Create(payout).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Commission{}).
			Where("id IN ? AND status = ? AND active_payout_id IS NULL", ids, models.CommissionStatusApproved).
			Update("active_payout_id", payout.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return ErrConcurrencyConflict
		}

		items := make([]models.PayoutItem, 0, len(candidates))
		for _, c := range candidates {
			items = append(items, models.PayoutItem{
				PayoutID:     payout.ID,
				CommissionID: c.ID,
				Amount:       c.NetAmount,
			})
		}
		if err := tx.Create(&items).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return err
		}
		payout.Items = items
		return nil
	}, s.txOptions()...)
	if err != nil {
		return nil, wrapTxError(err, "failed to create payout")
	}

	s.logger.WithFields(logrus.Fields{
		"payout_id":   payout.ID,
		"vendor_id":   payout.VendorID,
		"commissions": len(payout.Items),
		"amount":      payout.Amount.StringFixed(2),
		"net_amount":  payout.NetAmount.StringFixed(2),
	}).Info("Payout created")
	return payout, nil
}

// transition applies one payout state change. apply runs in the same
// transaction after the status update succeeds.
func (s *PayoutService) transition(ctx context.Context, payoutID uuid.UUID, to models.PayoutStatus, updates map[string]interface{}, apply func(tx *gorm.DB, payout *models.Payout) error) (*models.Payout, error) {
	var (
		payout models.Payout
		from   models.PayoutStatus
	)
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := database.ForUpdate(tx).First(&payout, "id = ?", payoutID).Error; err != nil {
			return translateStorageError(err, "payout not found")
		}
		from = payout.Status
		if !payout.Status.CanTransitionTo(to) {
			return newTransitionError("payout", payout.Status, to)
		}

		if updates == nil {
			updates = map[string]interface{}{}
		}
		updates["status"] = to
		res := tx.Model(&models.Payout{}).
			Where("id = ? AND status = ?", payout.ID, payout.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrConcurrencyConflict
		}

		if apply != nil {
			return apply(tx, &payout)
		}
		return nil
	})
	if err != nil {
		return nil, wrapTxError(err, "failed to update payout")
	}

	s.logger.WithFields(logrus.Fields{
		"payout_id": payoutID,
		"from":      from,
		"to":        to,
	}).Info("Payout status changed")
	return s.GetPayout(ctx, payoutID)
}

// releaseClaims returns the payout's commissions to the selectable pool.
func releaseClaims(tx *gorm.DB, payout *models.Payout) error {
	return tx.Model(&models.Commission{}).
		Where("active_payout_id = ? AND status = ?", payout.ID, models.CommissionStatusApproved).
		Update("active_payout_id", nil).Error
}

func (s *PayoutService) MarkProcessing(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	return s.transition(ctx, payoutID, models.PayoutStatusProcessing, map[string]interface{}{
		"processed_at": s.nowFunc(),
	}, nil)
}

// CompletePayout marks every commission of the payout paid in the same
// transaction as the payout itself.
func (s *PayoutService) CompletePayout(ctx context.Context, payoutID uuid.UUID, reference string) (*models.Payout, error) {
	now := s.nowFunc()
	updates := map[string]interface{}{"completed_at": now}
	if reference != "" {
		updates["reference"] = reference
	}

	return s.transition(ctx, payoutID, models.PayoutStatusCompleted, updates, func(tx *gorm.DB, payout *models.Payout) error {
		var members int64
		if err := tx.Model(&models.PayoutItem{}).Where("payout_id = ?", payout.ID).Count(&members).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Commission{}).
			Where("active_payout_id = ? AND status = ?", payout.ID, models.CommissionStatusApproved).
			Updates(map[string]interface{}{
				"status":  models.CommissionStatusPaid,
				"paid_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != members {
			return fmt.Errorf("payout %s holds %d of %d commissions: %w", payout.ID, res.RowsAffected, members, ErrConcurrencyConflict)
		}
		return nil
	})
}

func (s *PayoutService) FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*models.Payout, error) {
	return s.transition(ctx, payoutID, models.PayoutStatusFailed, map[string]interface{}{
		"failed_at":      s.nowFunc(),
		"failure_reason": reason,
	}, releaseClaims)
}

func (s *PayoutService) CancelPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*models.Payout, error) {
	return s.transition(ctx, payoutID, models.PayoutStatusCancelled, map[string]interface{}{
		"cancelled_at":   s.nowFunc(),
		"failure_reason": reason,
	}, releaseClaims)
}

// DisbursePayout sends a pending payout through the disburser and records the
// outcome. A rejected transfer leaves the payout failed, not an error.
func (s *PayoutService) DisbursePayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	if s.disburser == nil {
		return nil, fmt.Errorf("no disburser configured")
	}

	payout, err := s.MarkProcessing(ctx, payoutID)
	if err != nil {
		return nil, err
	}

	reference, err := s.disburser.Disburse(ctx, payout)
	if err != nil {
		s.logger.WithError(err).WithField("payout_id", payoutID).Warn("Disbursement failed")
		return s.FailPayout(ctx, payoutID, err.Error())
	}

	completed, err := s.CompletePayout(ctx, payoutID, reference)
	if err != nil {
		// The transfer went through; the payout must be reconciled by hand.
		s.logger.WithError(err).WithFields(logrus.Fields{
			"payout_id": payoutID,
			"reference": reference,
			"amount":    payout.NetAmount.StringFixed(2),
		}).Error("Payout disbursed but not recorded")
		return nil, err
	}
	return completed, nil
}

func (s *PayoutService) GetPayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&payout, "id = ?", payoutID).Error
	if err != nil {
		return nil, translateStorageError(err, "payout not found")
	}
	return &payout, nil
}

func (s *PayoutService) ListPayouts(ctx context.Context, filter PayoutFilter, params utils.PaginationParams) ([]models.Payout, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Payout{})

	if filter.VendorID != nil {
		query = query.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payouts: %w", err)
	}

	allowedSortFields := []string{"created_at", "amount", "net_amount", "status"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var payouts []models.Payout
	if err := query.Find(&payouts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch payouts: %w", err)
	}
	return payouts, total, nil
}
