// internal/services/payment_service.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/refund"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/models"
)

// PaymentGateway is the slice of the payment provider the settlement core uses.
type PaymentGateway interface {
	PaymentIntentStatus(ctx context.Context, intentID string) (stripe.PaymentIntentStatus, error)
	Refund(ctx context.Context, intentID string, amount int64, reason string) (string, error)
}

type StripeGateway struct{}

func NewStripeGateway(secretKey string) *StripeGateway {
	if secretKey != "" {
		stripe.Key = secretKey
	}
	return &StripeGateway{}
}

func (g *StripeGateway) PaymentIntentStatus(ctx context.Context, intentID string) (stripe.PaymentIntentStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return "", fmt.Errorf("failed to get payment intent: %w", err)
	}
	return pi.Status, nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string, amount int64, reason string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amount),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	r, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to process refund: %w", err)
	}
	return r.ID, nil
}

type PaymentService struct {
	orders  *OrderService
	gateway PaymentGateway
	config  *config.Config
	logger  *logrus.Entry
}

type SyncPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty" validate:"omitempty,money"`
	Reason string           `json:"reason" validate:"required,max=500"`
}

type RefundResult struct {
	RefundID string        `json:"refund_id"`
	Order    *models.Order `json:"order"`
}

func NewPaymentService(orders *OrderService, gateway PaymentGateway, cfg *config.Config) *PaymentService {
	return &PaymentService{
		orders:  orders,
		gateway: gateway,
		config:  cfg,
		logger:  logrus.WithField("component", "payment_service"),
	}
}

// mapIntentStatus returns false for intermediate states that carry no
// payment status change.
func mapIntentStatus(status stripe.PaymentIntentStatus) (models.PaymentStatus, bool) {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.PaymentStatusCompleted, true
	case stripe.PaymentIntentStatusProcessing:
		return models.PaymentStatusProcessing, true
	case stripe.PaymentIntentStatusCanceled:
		return models.PaymentStatusFailed, true
	default:
		return "", false
	}
}

// SyncPaymentIntent reads the intent from the gateway and applies its status
// to the order.
func (s *PaymentService) SyncPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID, actor string) (*models.Order, error) {
	status, err := s.gateway.PaymentIntentStatus(ctx, intentID)
	if err != nil {
		return nil, err
	}

	target, ok := mapIntentStatus(status)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"order_id":       orderID,
			"payment_intent": intentID,
			"intent_status":  status,
		}).Info("Payment intent has no settled status yet")

		order, err := s.orders.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return s.orders.UpdatePaymentStatus(ctx, orderID, order.PaymentStatus, intentID, actor)
	}

	return s.orders.UpdatePaymentStatus(ctx, orderID, target, intentID, actor)
}

// RefundOrder refunds amount (or the remaining balance when nil) through the
// gateway and records it on the order.
func (s *PaymentService) RefundOrder(ctx context.Context, orderID uuid.UUID, req *RefundRequest, actor string) (*RefundResult, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus != models.PaymentStatusCompleted && order.PaymentStatus != models.PaymentStatusPartiallyRefunded {
		return nil, newTransitionError("payment", order.PaymentStatus, models.PaymentStatusRefunded)
	}
	if order.PaymentReference == "" {
		return nil, newValidationError("payment_reference", "order has no gateway reference to refund against")
	}

	remaining := order.TotalAmount.Sub(order.RefundedAmount)
	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
	}
	if !amount.IsPositive() || amount.GreaterThan(remaining) {
		return nil, newValidationError("amount", "must be between 0.01 and %s", remaining.StringFixed(2))
	}

	status := models.PaymentStatusPartiallyRefunded
	if amount.Equal(remaining) {
		status = models.PaymentStatusRefunded
	}

	refundID, err := s.gateway.Refund(ctx, order.PaymentReference, toMinorUnits(amount), req.Reason)
	if err != nil {
		return nil, err
	}

	updated, err := s.orders.RecordRefund(ctx, orderID, amount, status, actor)
	if err != nil {
		// Money has moved; the ledger must be reconciled by hand.
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":  orderID,
			"refund_id": refundID,
			"amount":    amount.StringFixed(2),
		}).Error("Refund issued but not recorded")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":  orderID,
		"refund_id": refundID,
		"amount":    amount.StringFixed(2),
		"actor":     actor,
	}).Info("Order refunded")
	return &RefundResult{RefundID: refundID, Order: updated}, nil
}
