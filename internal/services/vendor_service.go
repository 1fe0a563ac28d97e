// internal/services/vendor_service.go
package services

import (
	"context"
	"encoding/json"
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
)

const vendorRateCachePrefix = "vendor_rate_profile:"

// RateProfile is the cached view of a vendor's commission settings.
type RateProfile struct {
	VendorID    uuid.UUID                  `json:"vendor_id"`
	DefaultRate *decimal.Decimal           `json:"default_rate,omitempty"`
	BrandRates  map[string]decimal.Decimal `json:"brand_rates,omitempty"`
	Bank        models.BankDetails         `json:"bank"`
	IsActive    bool                       `json:"is_active"`
}

// BrandRate returns the brand override, or nil when the brand has none.
func (p *RateProfile) BrandRate(brandID uuid.UUID) *decimal.Decimal {
	if rate, ok := p.BrandRates[brandID.String()]; ok {
		return &rate
	}
	return nil
}

type VendorService struct {
	db     *gorm.DB
	cache  Cache
	ttl    time.Duration
	logger *logrus.Entry
}

type CreateVendorRequest struct {
	Name           string              `json:"name" validate:"required,max=255"`
	Email          string              `json:"email" validate:"required,email"`
	CommissionRate *decimal.Decimal    `json:"commission_rate,omitempty" validate:"omitempty,rate"`
	Bank           models.BankDetails  `json:"bank"`
	Brands         []CreateBrandParams `json:"brands,omitempty" validate:"dive"`
}

type CreateBrandParams struct {
	Name           string           `json:"name" validate:"required,max=255"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty" validate:"omitempty,rate"`
}

type UpdateVendorRequest struct {
	Name           *string             `json:"name,omitempty" validate:"omitempty,max=255"`
	CommissionRate *decimal.Decimal    `json:"commission_rate,omitempty" validate:"omitempty,rate"`
	ClearRate      bool                `json:"clear_rate,omitempty"`
	Bank           *models.BankDetails `json:"bank,omitempty"`
	IsActive       *bool               `json:"is_active,omitempty"`
}

type SetBrandRateRequest struct {
	CommissionRate *decimal.Decimal `json:"commission_rate" validate:"omitempty,rate"`
}

func NewVendorService(db *gorm.DB, cache Cache, cfg *config.Config) *VendorService {
	return &VendorService{
		db:     db,
		cache:  cache,
		ttl:    cfg.Cache.VendorRateTTL,
		logger: logrus.WithField("component", "vendor_service"),
	}
}

func validateRate(field string, rate *decimal.Decimal) error {
	if rate == nil {
		return nil
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return newValidationError(field, "must be between 0 and 100")
	}
	return nil
}

func nullRate(rate *decimal.Decimal) decimal.NullDecimal {
	if rate == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*rate)
}

func (s *VendorService) CreateVendor(ctx context.Context, req *CreateVendorRequest) (*models.Vendor, error) {
	if err := validateRate("commission_rate", req.CommissionRate); err != nil {
		return nil, err
	}
	for i, b := range req.Brands {
		if err := validateRate(fmt.Sprintf("brands[%d].commission_rate", i), b.CommissionRate); err != nil {
			return nil, err
		}
	}

	vendor := &models.Vendor{
		Name:           strings.TrimSpace(req.Name),
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		CommissionRate: nullRate(req.CommissionRate),
		Bank:           req.Bank,
		IsActive:       true,
	}
	for _, b := range req.Brands {
		vendor.Brands = append(vendor.Brands, models.Brand{
			Name:           b.Name,
			CommissionRate: nullRate(b.CommissionRate),
		})
	}

	if err := s.db.WithContext(ctx).Create(vendor).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, newValidationError("email", "vendor with this email already exists")
		}
		return nil, fmt.Errorf("failed to create vendor: %w", err)
	}

	s.logger.WithField("vendor_id", vendor.ID).Info("Vendor created")
	return vendor, nil
}

func (s *VendorService) GetVendor(ctx context.Context, vendorID uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	if err := s.db.WithContext(ctx).Preload("Brands").First(&vendor, "id = ?", vendorID).Error; err != nil {
		return nil, translateStorageError(err, "vendor not found")
	}
	return &vendor, nil
}

func (s *VendorService) UpdateVendor(ctx context.Context, vendorID uuid.UUID, req *UpdateVendorRequest) (*models.Vendor, error) {
	if err := validateRate("commission_rate", req.CommissionRate); err != nil {
		return nil, err
	}

	vendor, err := s.GetVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.ClearRate {
		updates["commission_rate"] = decimal.NullDecimal{}
	} else if req.CommissionRate != nil {
		updates["commission_rate"] = decimal.NewNullDecimal(*req.CommissionRate)
	}
	if req.Bank != nil {
		updates["bank_account_name"] = req.Bank.AccountName
		updates["bank_account_number"] = req.Bank.AccountNumber
		updates["bank_bank_name"] = req.Bank.BankName
		updates["bank_routing_number"] = req.Bank.RoutingNumber
		updates["bank_stripe_account_id"] = req.Bank.StripeAccountID
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		return vendor, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.Vendor{}).Where("id = ?", vendorID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update vendor: %w", err)
	}
	s.invalidate(ctx, vendorID)

	s.logger.WithField("vendor_id", vendorID).Info("Vendor updated")
	return s.GetVendor(ctx, vendorID)
}

// SetBrandRate sets or clears (nil rate) a brand's commission override.
func (s *VendorService) SetBrandRate(ctx context.Context, vendorID, brandID uuid.UUID, rate *decimal.Decimal) (*models.Brand, error) {
	if err := validateRate("commission_rate", rate); err != nil {
		return nil, err
	}

	var brand models.Brand
	if err := s.db.WithContext(ctx).First(&brand, "id = ? AND vendor_id = ?", brandID, vendorID).Error; err != nil {
		return nil, translateStorageError(err, "brand not found")
	}

	brand.CommissionRate = nullRate(rate)
	if err := s.db.WithContext(ctx).Model(&brand).Update("commission_rate", brand.CommissionRate).Error; err != nil {
		return nil, fmt.Errorf("failed to update brand rate: %w", err)
	}
	s.invalidate(ctx, vendorID)

	s.logger.WithFields(logrus.Fields{
		"vendor_id": vendorID,
		"brand_id":  brandID,
	}).Info("Brand commission rate updated")
	return &brand, nil
}

// GetRateProfile reads through the cache. Cache failures fall back to the database.
func (s *VendorService) GetRateProfile(ctx context.Context, vendorID uuid.UUID) (*RateProfile, error) {
	key := vendorRateCachePrefix + vendorID.String()

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache read failed, falling back to database")
	} else if ok {
		var profile RateProfile
		if err := json.Unmarshal(raw, &profile); err == nil {
			return &profile, nil
		}
	}

	vendor, err := s.GetVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	profile := &RateProfile{
		VendorID:   vendor.ID,
		BrandRates: make(map[string]decimal.Decimal),
		Bank:       vendor.Bank,
		IsActive:   vendor.IsActive,
	}
	if vendor.CommissionRate.Valid {
		rate := vendor.CommissionRate.Decimal
		profile.DefaultRate = &rate
	}
	for _, b := range vendor.Brands {
		if b.CommissionRate.Valid {
			profile.BrandRates[b.ID.String()] = b.CommissionRate.Decimal
		}
	}

	if raw, err := json.Marshal(profile); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to cache rate profile")
		}
	}

	return profile, nil
}

func (s *VendorService) invalidate(ctx context.Context, vendorID uuid.UUID) {
	if err := s.cache.Delete(ctx, vendorRateCachePrefix+vendorID.String()); err != nil {
		s.logger.WithError(err).WithField("vendor_id", vendorID).Warn("Failed to invalidate rate profile")
	}
}
