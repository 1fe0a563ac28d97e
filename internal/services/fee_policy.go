// internal/services/fee_policy.go
package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/javajoker/settlement-backend/internal/config"
)

// PlatformFeePolicy computes the platform's deduction from a commission.
type PlatformFeePolicy interface {
	Fee(commissionAmount decimal.Decimal) decimal.Decimal
}

type NoPlatformFee struct{}

func (NoPlatformFee) Fee(decimal.Decimal) decimal.Decimal { return decimal.Zero }

type FlatPlatformFee struct {
	Amount decimal.Decimal
}

func (p FlatPlatformFee) Fee(commissionAmount decimal.Decimal) decimal.Decimal {
	return capFee(p.Amount.Round(2), commissionAmount)
}

// PercentPlatformFee takes Percent of the commission amount.
type PercentPlatformFee struct {
	Percent decimal.Decimal
}

func (p PercentPlatformFee) Fee(commissionAmount decimal.Decimal) decimal.Decimal {
	fee := commissionAmount.Mul(p.Percent).Div(decimal.NewFromInt(100)).Round(2)
	return capFee(fee, commissionAmount)
}

// Net commission never goes negative.
func capFee(fee, commissionAmount decimal.Decimal) decimal.Decimal {
	if fee.IsNegative() {
		return decimal.Zero
	}
	if fee.GreaterThan(commissionAmount) {
		return commissionAmount
	}
	return fee
}

func NewPlatformFeePolicy(cfg config.SettlementConfig) (PlatformFeePolicy, error) {
	switch cfg.PlatformFeeMode {
	case config.PlatformFeeNone, "":
		return NoPlatformFee{}, nil
	case config.PlatformFeeFlat:
		return FlatPlatformFee{Amount: cfg.PlatformFeeValue}, nil
	case config.PlatformFeePercent:
		return PercentPlatformFee{Percent: cfg.PlatformFeeValue}, nil
	default:
		return nil, fmt.Errorf("unknown platform fee mode %q", cfg.PlatformFeeMode)
	}
}
