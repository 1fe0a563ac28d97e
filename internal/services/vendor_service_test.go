package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/settlement-backend/internal/models"
)

type VendorServiceTestSuite struct {
	suite.Suite
	fx *settlementFixture
}

func (s *VendorServiceTestSuite) SetupTest() {
	s.fx = newSettlementFixture(s.T())
}

func (s *VendorServiceTestSuite) TestCreateVendorWithBrands() {
	vendor, err := s.fx.vendors.CreateVendor(s.fx.ctx, &CreateVendorRequest{
		Name:           "  Acme Goods ",
		Email:          "Sales@Acme.test",
		CommissionRate: decPtr("12.5"),
		Brands: []CreateBrandParams{
			{Name: "Acme Pro", CommissionRate: decPtr("20")},
			{Name: "Acme Basic"},
		},
	})
	s.Require().NoError(err)
	s.Equal("Acme Goods", vendor.Name)
	s.Equal("sales@acme.test", vendor.Email)
	s.True(vendor.CommissionRate.Valid)
	s.Len(vendor.Brands, 2)

	fetched, err := s.fx.vendors.GetVendor(s.fx.ctx, vendor.ID)
	s.Require().NoError(err)
	s.Len(fetched.Brands, 2)

	_, err = s.fx.vendors.CreateVendor(s.fx.ctx, &CreateVendorRequest{Name: "Copy", Email: "sales@acme.test"})
	var verr *ValidationError
	s.Require().True(errors.As(err, &verr))
	s.Equal("email", verr.Field)
}

func (s *VendorServiceTestSuite) TestRateBounds() {
	_, err := s.fx.vendors.CreateVendor(s.fx.ctx, &CreateVendorRequest{Name: "x", Email: "x@v.test", CommissionRate: decPtr("100.01")})
	s.ErrorIs(err, ErrValidation)

	_, err = s.fx.vendors.CreateVendor(s.fx.ctx, &CreateVendorRequest{
		Name:   "y",
		Email:  "y@v.test",
		Brands: []CreateBrandParams{{Name: "b", CommissionRate: decPtr("-1")}},
	})
	s.ErrorIs(err, ErrValidation)

	vendor := s.fx.createVendor(s.T(), nil)
	_, err = s.fx.vendors.UpdateVendor(s.fx.ctx, vendor.ID, &UpdateVendorRequest{CommissionRate: decPtr("101")})
	s.ErrorIs(err, ErrValidation)
}

func (s *VendorServiceTestSuite) TestRateProfileIsCachedAndInvalidated() {
	vendor := s.fx.createVendor(s.T(), decPtr("15"))

	profile, err := s.fx.vendors.GetRateProfile(s.fx.ctx, vendor.ID)
	s.Require().NoError(err)
	s.Require().NotNil(profile.DefaultRate)
	s.Equal("15.00", profile.DefaultRate.StringFixed(2))
	s.Equal("acct_test", profile.Bank.StripeAccountID)

	_, cached, err := s.fx.cache.Get(s.fx.ctx, vendorRateCachePrefix+vendor.ID.String())
	s.Require().NoError(err)
	s.True(cached)

	// A write behind the service's back is invisible until invalidation
	s.fx.db.Model(&models.Vendor{}).Where("id = ?", vendor.ID).Update("commission_rate", decimal.NewNullDecimal(dec("40")))
	profile, err = s.fx.vendors.GetRateProfile(s.fx.ctx, vendor.ID)
	s.Require().NoError(err)
	s.Equal("15.00", profile.DefaultRate.StringFixed(2))

	_, err = s.fx.vendors.UpdateVendor(s.fx.ctx, vendor.ID, &UpdateVendorRequest{CommissionRate: decPtr("25")})
	s.Require().NoError(err)
	profile, err = s.fx.vendors.GetRateProfile(s.fx.ctx, vendor.ID)
	s.Require().NoError(err)
	s.Equal("25.00", profile.DefaultRate.StringFixed(2))

	_, err = s.fx.vendors.UpdateVendor(s.fx.ctx, vendor.ID, &UpdateVendorRequest{ClearRate: true})
	s.Require().NoError(err)
	profile, err = s.fx.vendors.GetRateProfile(s.fx.ctx, vendor.ID)
	s.Require().NoError(err)
	s.Nil(profile.DefaultRate)

	_, err = s.fx.vendors.GetRateProfile(s.fx.ctx, uuid.New())
	s.ErrorIs(err, ErrNotFound)
}

func (s *VendorServiceTestSuite) TestSetBrandRate() {
	vendor, err := s.fx.vendors.CreateVendor(s.fx.ctx, &CreateVendorRequest{
		Name:   "Brandy",
		Email:  "brandy@v.test",
		Brands: []CreateBrandParams{{Name: "House"}},
	})
	s.Require().NoError(err)
	brandID := vendor.Brands[0].ID

	profile, err := s.fx.vendors.GetRateProfile(s.fx.ctx, vendor.ID)
	s.Require().NoError(err)
	s.Nil(profile.BrandRate(brandID))

	brand, err := s.fx.vendors.SetBrandRate(s.fx.ctx, vendor.ID, brandID, decPtr("7.5"))
	s.Require().NoError(err)
	s.True(brand.CommissionRate.Valid)

	profile, err = s.fx.vendors.GetRateProfile(s.fx.ctx, vendor.ID)
	s.Require().NoError(err)
	s.Require().NotNil(profile.BrandRate(brandID))
	s.Equal("7.50", profile.BrandRate(brandID).StringFixed(2))

	_, err = s.fx.vendors.SetBrandRate(s.fx.ctx, uuid.New(), brandID, decPtr("5"))
	s.ErrorIs(err, ErrNotFound)
}

func (s *VendorServiceTestSuite) TestRateResolutionPriority() {
	vendor, err := s.fx.vendors.CreateVendor(s.fx.ctx, &CreateVendorRequest{
		Name:           "Layers",
		Email:          "layers@v.test",
		CommissionRate: decPtr("12"),
		Brands: []CreateBrandParams{
			{Name: "Premium", CommissionRate: decPtr("18")},
			{Name: "Plain"},
		},
	})
	s.Require().NoError(err)
	premium, plain := vendor.Brands[0].ID, vendor.Brands[1].ID
	bare := s.fx.createVendor(s.T(), nil)

	chain := NewRateResolverChain(s.fx.vendors, dec("10"))
	cases := []struct {
		name  string
		query RateQuery
		want  string
	}{
		{"item override wins", RateQuery{VendorID: vendor.ID, BrandID: &premium, ItemOverride: decPtr("3")}, "3.00"},
		{"brand rate", RateQuery{VendorID: vendor.ID, BrandID: &premium}, "18.00"},
		{"brand without rate falls to vendor", RateQuery{VendorID: vendor.ID, BrandID: &plain}, "12.00"},
		{"vendor default", RateQuery{VendorID: vendor.ID}, "12.00"},
		{"platform default", RateQuery{VendorID: bare.ID}, "10.00"},
	}
	for _, tc := range cases {
		rate, err := chain.Resolve(s.fx.ctx, tc.query)
		s.Require().NoError(err, tc.name)
		s.Equal(tc.want, rate.StringFixed(2), tc.name)
	}

	_, err = chain.Resolve(s.fx.ctx, RateQuery{VendorID: uuid.New()})
	s.ErrorIs(err, ErrNotFound)
}

func TestVendorServiceTestSuite(t *testing.T) {
	suite.Run(t, new(VendorServiceTestSuite))
}

func TestEmptyResolverChain(t *testing.T) {
	_, err := RateResolverChain{}.Resolve(context.Background(), RateQuery{VendorID: uuid.New()})
	assert.Error(t, err)
}

func TestCommissionAmountRounding(t *testing.T) {
	assert.Equal(t, "0.13", commissionAmount(dec("1.25"), dec("10")).StringFixed(2))
	assert.Equal(t, "0.12", commissionAmount(dec("1.24"), dec("10")).StringFixed(2))
	assert.Equal(t, "33.33", commissionAmount(dec("333.33"), dec("10")).StringFixed(2))
	assert.True(t, commissionAmount(dec("99.99"), dec("0")).IsZero())
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	value := []byte("v1")
	require.NoError(t, cache.Set(ctx, "k", value, time.Minute))
	value[0] = 'X'

	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", string(got), "stored value is copied")

	now = now.Add(time.Minute)
	_, ok, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires at its ttl")

	require.NoError(t, cache.Set(ctx, "forever", []byte("x"), 0))
	require.NoError(t, cache.Set(ctx, "other", []byte("y"), 0))
	now = now.Add(24 * time.Hour)
	_, ok, _ = cache.Get(ctx, "forever")
	assert.True(t, ok)

	require.NoError(t, cache.Delete(ctx, "forever", "other", "missing"))
	_, ok, _ = cache.Get(ctx, "forever")
	assert.False(t, ok)
	_, ok, _ = cache.Get(ctx, "other")
	assert.False(t, ok)
}
