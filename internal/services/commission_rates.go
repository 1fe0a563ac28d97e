// internal/services/commission_rates.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RateQuery struct {
	VendorID     uuid.UUID
	BrandID      *uuid.UUID
	ItemOverride *decimal.Decimal
}

// RateResolver returns nil when it has no opinion about the query.
type RateResolver func(ctx context.Context, q RateQuery) (*decimal.Decimal, error)

// RateProfileSource is satisfied by VendorService.
type RateProfileSource interface {
	GetRateProfile(ctx context.Context, vendorID uuid.UUID) (*RateProfile, error)
}

// RateResolverChain evaluates resolvers in priority order. The first non-nil
// rate wins.
type RateResolverChain []RateResolver

func (c RateResolverChain) Resolve(ctx context.Context, q RateQuery) (decimal.Decimal, error) {
	for _, resolve := range c {
		rate, err := resolve(ctx, q)
		if err != nil {
			return decimal.Zero, err
		}
		if rate != nil {
			return *rate, nil
		}
	}
	return decimal.Zero, fmt.Errorf("no commission rate resolved for vendor %s", q.VendorID)
}

func ItemOverrideResolver() RateResolver {
	return func(ctx context.Context, q RateQuery) (*decimal.Decimal, error) {
		return q.ItemOverride, nil
	}
}

func BrandRateResolver(source RateProfileSource) RateResolver {
	return func(ctx context.Context, q RateQuery) (*decimal.Decimal, error) {
		if q.BrandID == nil {
			return nil, nil
		}
		profile, err := source.GetRateProfile(ctx, q.VendorID)
		if err != nil {
			return nil, err
		}
		return profile.BrandRate(*q.BrandID), nil
	}
}

func VendorDefaultResolver(source RateProfileSource) RateResolver {
	return func(ctx context.Context, q RateQuery) (*decimal.Decimal, error) {
		profile, err := source.GetRateProfile(ctx, q.VendorID)
		if err != nil {
			return nil, err
		}
		return profile.DefaultRate, nil
	}
}

func PlatformDefaultResolver(rate decimal.Decimal) RateResolver {
	return func(ctx context.Context, q RateQuery) (*decimal.Decimal, error) {
		return &rate, nil
	}
}

// NewRateResolverChain builds the standard chain: item override, brand rate,
// vendor default, platform default.
func NewRateResolverChain(source RateProfileSource, platformDefault decimal.Decimal) RateResolverChain {
	return RateResolverChain{
		ItemOverrideResolver(),
		BrandRateResolver(source),
		VendorDefaultResolver(source),
		PlatformDefaultResolver(platformDefault),
	}
}

// commissionAmount rounds half away from zero, which is half-up for the
// non-negative amounts handled here.
func commissionAmount(gross, rate decimal.Decimal) decimal.Decimal {
	return gross.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
}
