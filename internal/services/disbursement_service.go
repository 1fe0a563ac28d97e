// internal/services/disbursement_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/transfer"

	"github.com/javajoker/settlement-backend/internal/models"
)

var ErrNoConnectedAccount = errors.New("payout bank snapshot has no connected account")

// StripeDisburser pays vendors through Stripe Connect transfers.
type StripeDisburser struct {
	newTransfer func(params *stripe.TransferParams) (*stripe.Transfer, error)
}

func NewStripeDisburser(secretKey string) *StripeDisburser {
	if secretKey != "" {
		stripe.Key = secretKey
	}
	return &StripeDisburser{newTransfer: transfer.New}
}

// toMinorUnits converts a two-decimal amount to cents.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (d *StripeDisburser) Disburse(ctx context.Context, payout *models.Payout) (string, error) {
	destination := payout.BankSnapshot.StripeAccountID
	if destination == "" {
		return "", ErrNoConnectedAccount
	}
	if !payout.NetAmount.IsPositive() {
		return "", fmt.Errorf("payout %s has nothing to transfer", payout.PayoutNumber)
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(toMinorUnits(payout.NetAmount)),
		Currency:      stripe.String(strings.ToLower(payout.Currency)),
		Destination:   stripe.String(destination),
		TransferGroup: stripe.String(payout.PayoutNumber),
	}
	params.Context = ctx
	params.SetIdempotencyKey("payout-" + payout.ID.String())
	params.AddMetadata("payout_id", payout.ID.String())
	params.AddMetadata("vendor_id", payout.VendorID.String())

	tr, err := d.newTransfer(params)
	if err != nil {
		return "", fmt.Errorf("stripe transfer failed: %w", err)
	}
	return tr.ID, nil
}
