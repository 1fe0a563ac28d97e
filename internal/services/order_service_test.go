package services

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type OrderServiceTestSuite struct {
	suite.Suite
	fx     *settlementFixture
	vendor *models.Vendor
}

func (s *OrderServiceTestSuite) SetupTest() {
	s.fx = newSettlementFixture(s.T())
	s.vendor = s.fx.createVendor(s.T(), nil)
}

func (s *OrderServiceTestSuite) TestCreateOrderRejectsUnreconciledTotal() {
	req := orderRequest(itemSpec{vendorID: s.vendor.ID, price: "100.00", quantity: 1})
	req.TaxAmount = dec("8.00")
	req.ShippingCost = dec("10.00")
	req.TotalAmount = dec("120.00")

	_, err := s.fx.orders.CreateOrder(s.fx.ctx, req, "tester")
	var validationErr *ValidationError
	s.Require().ErrorAs(err, &validationErr)
	s.Equal("total_amount", validationErr.Field)
	s.Contains(validationErr.Message, "118.00")

	var count int64
	s.fx.db.Model(&models.Order{}).Count(&count)
	s.Zero(count)

	req.TotalAmount = dec("118.00")
	order, err := s.fx.orders.CreateOrder(s.fx.ctx, req, "tester")
	s.Require().NoError(err)
	s.Equal("118.00", order.TotalAmount.StringFixed(2))
}

func (s *OrderServiceTestSuite) TestCreateOrderValidatesItems() {
	req := orderRequest(itemSpec{vendorID: s.vendor.ID, price: "25.00", quantity: 2})
	req.Items[0].TotalPrice = dec("49.00")
	_, err := s.fx.orders.CreateOrder(s.fx.ctx, req, "tester")
	s.ErrorIs(err, ErrValidation)

	req = orderRequest(itemSpec{vendorID: s.vendor.ID, price: "25.00", quantity: 2})
	req.Subtotal = dec("40.00")
	req.TotalAmount = dec("40.00")
	_, err = s.fx.orders.CreateOrder(s.fx.ctx, req, "tester")
	s.ErrorIs(err, ErrValidation)

	req = orderRequest()
	_, err = s.fx.orders.CreateOrder(s.fx.ctx, req, "tester")
	s.ErrorIs(err, ErrValidation)

	// Sub-cent prices reconcile exactly but would round on storage
	req = orderRequest(itemSpec{vendorID: s.vendor.ID, price: "0.005", quantity: 3})
	_, err = s.fx.orders.CreateOrder(s.fx.ctx, req, "tester")
	var validationErr *ValidationError
	s.Require().ErrorAs(err, &validationErr)
	s.Equal("subtotal", validationErr.Field)

	req = orderRequest(itemSpec{vendorID: s.vendor.ID, price: "0.005", quantity: 2})
	_, err = s.fx.orders.CreateOrder(s.fx.ctx, req, "tester")
	s.Require().ErrorAs(err, &validationErr)
	s.Equal("items[0].unit_price", validationErr.Field)
}

func (s *OrderServiceTestSuite) TestCreateOrderLocksRatesAndWritesHistory() {
	other := s.fx.createVendor(s.T(), decPtr("15"))
	order := s.fx.createOrder(s.T(),
		itemSpec{vendorID: s.vendor.ID, price: "50.00", quantity: 2},
		itemSpec{vendorID: other.ID, price: "20.00", quantity: 1},
	)

	s.True(order.IsMultiVendor)
	s.Equal(models.OrderStatusPending, order.Status)
	s.Equal(models.PaymentStatusPending, order.PaymentStatus)
	s.Regexp(`^ORD-\d{8}-[0-9A-F]{8}$`, order.OrderNumber)

	s.Require().Len(order.Items, 2)
	s.Equal("10.00", order.Items[0].VendorCommissionRate.StringFixed(2))
	s.Equal("10.00", order.Items[0].VendorCommission.StringFixed(2))
	s.Equal("15.00", order.Items[1].VendorCommissionRate.StringFixed(2))
	s.Equal("3.00", order.Items[1].VendorCommission.StringFixed(2))

	history, err := s.fx.orders.GetStatusHistory(s.fx.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(1, history[0].Sequence)
	s.Equal(models.OrderStatusPending, history[0].ToStatus)
	s.Equal("tester", history[0].ChangedBy)

	// Later rate changes do not alter the locked rate
	_, err = s.fx.vendors.UpdateVendor(s.fx.ctx, other.ID, &UpdateVendorRequest{CommissionRate: decPtr("30")})
	s.Require().NoError(err)
	_, commissions := s.fx.confirmedOrder(s.T(), itemSpec{vendorID: other.ID, price: "20.00", quantity: 1})
	s.Require().Len(commissions, 1)
	s.Equal("30.00", commissions[0].CommissionRate.StringFixed(2))

	var item models.OrderItem
	s.Require().NoError(s.fx.db.First(&item, "id = ?", order.Items[1].ID).Error)
	s.Equal("15.00", item.VendorCommissionRate.StringFixed(2))
}

func (s *OrderServiceTestSuite) TestTransitionAppendsHistoryAndIsIdempotent() {
	order := s.fx.createOrder(s.T(), itemSpec{vendorID: s.vendor.ID, price: "10.00", quantity: 1})

	confirmed, err := s.fx.orders.TransitionStatus(s.fx.ctx, order.ID, models.OrderStatusConfirmed, "ops", "payment received")
	s.Require().NoError(err)
	s.Equal(2, confirmed.Sequence)
	s.Equal(models.OrderStatusPending, confirmed.FromStatus)

	again, err := s.fx.orders.TransitionStatus(s.fx.ctx, order.ID, models.OrderStatusConfirmed, "ops", "")
	s.Require().NoError(err)
	s.Equal(confirmed.ID, again.ID)

	history, err := s.fx.orders.GetStatusHistory(s.fx.ctx, order.ID)
	s.Require().NoError(err)
	s.Len(history, 2)

	reloaded, err := s.fx.orders.GetOrder(s.fx.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusConfirmed, reloaded.Status)
	s.NotNil(reloaded.ConfirmedAt)
	s.Equal(models.OrderStatusConfirmed, reloaded.Items[0].Status)
}

func (s *OrderServiceTestSuite) TestTransitionRejectsInvalidMove() {
	order := s.fx.createOrder(s.T(), itemSpec{vendorID: s.vendor.ID, price: "10.00", quantity: 1})

	_, err := s.fx.orders.TransitionStatus(s.fx.ctx, order.ID, models.OrderStatusShipped, "ops", "")
	var transitionErr *InvalidTransitionError
	s.Require().ErrorAs(err, &transitionErr)
	s.Equal("pending", transitionErr.From)
	s.Equal("shipped", transitionErr.To)

	_, err = s.fx.orders.TransitionStatus(s.fx.ctx, order.ID, models.OrderStatus("lost"), "ops", "")
	s.ErrorIs(err, ErrValidation)

	_, err = s.fx.orders.TransitionStatus(s.fx.ctx, uuid.New(), models.OrderStatusConfirmed, "ops", "")
	s.ErrorIs(err, ErrNotFound)

	history, err := s.fx.orders.GetStatusHistory(s.fx.ctx, order.ID)
	s.Require().NoError(err)
	s.Len(history, 1)
}

func (s *OrderServiceTestSuite) TestFullLifecycleTimestamps() {
	order := s.fx.createOrder(s.T(), itemSpec{vendorID: s.vendor.ID, price: "10.00", quantity: 1})
	for _, status := range []models.OrderStatus{
		models.OrderStatusConfirmed,
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		_, err := s.fx.orders.TransitionStatus(s.fx.ctx, order.ID, status, "ops", "")
		s.Require().NoError(err, "to %s", status)
	}

	reloaded, err := s.fx.orders.GetOrder(s.fx.ctx, order.ID)
	s.Require().NoError(err)
	s.NotNil(reloaded.ConfirmedAt)
	s.NotNil(reloaded.ShippedAt)
	s.NotNil(reloaded.DeliveredAt)
	s.Nil(reloaded.CancelledAt)
	s.Require().Len(reloaded.History, 5)
	for i, h := range reloaded.History {
		s.Equal(i+1, h.Sequence)
	}
}

func (s *OrderServiceTestSuite) TestConfirmCreatesCommissionsAndCancelReleasesThem() {
	order, commissions := s.fx.confirmedOrder(s.T(),
		itemSpec{vendorID: s.vendor.ID, price: "50.00", quantity: 2},
		itemSpec{vendorID: s.vendor.ID, price: "1.25", quantity: 1},
	)
	s.Require().Len(commissions, 2)

	_, err := s.fx.orders.TransitionStatus(s.fx.ctx, order.ID, models.OrderStatusCancelled, "ops", "customer request")
	s.Require().NoError(err)

	var cancelled int64
	s.fx.db.Model(&models.Commission{}).
		Where("order_id = ? AND status = ?", order.ID, models.CommissionStatusCancelled).
		Count(&cancelled)
	s.EqualValues(2, cancelled)

	reloaded, err := s.fx.orders.GetOrder(s.fx.ctx, order.ID)
	s.Require().NoError(err)
	s.NotNil(reloaded.CancelledAt)
	for _, item := range reloaded.Items {
		s.Equal(models.OrderStatusCancelled, item.Status)
	}
}

func (s *OrderServiceTestSuite) TestItemStatusCancelsItsCommission() {
	order, commissions := s.fx.confirmedOrder(s.T(),
		itemSpec{vendorID: s.vendor.ID, price: "10.00", quantity: 1},
		itemSpec{vendorID: s.vendor.ID, price: "20.00", quantity: 1},
	)
	s.Require().Len(commissions, 2)

	item, err := s.fx.orders.UpdateItemStatus(s.fx.ctx, order.Items[0].ID, models.OrderStatusCancelled, "ops", "out of stock")
	s.Require().NoError(err)
	s.Equal(models.OrderStatusCancelled, item.Status)

	s.Equal(models.CommissionStatusCancelled, s.fx.commissionFor(s.T(), order.Items[0].ID).Status)
	s.Equal(models.CommissionStatusPending, s.fx.commissionFor(s.T(), order.Items[1].ID).Status)

	// A diverged item no longer follows the order
	_, err = s.fx.orders.TransitionStatus(s.fx.ctx, order.ID, models.OrderStatusProcessing, "ops", "")
	s.Require().NoError(err)

	var cancelledItem, followingItem models.OrderItem
	s.Require().NoError(s.fx.db.First(&cancelledItem, "id = ?", order.Items[0].ID).Error)
	s.Require().NoError(s.fx.db.First(&followingItem, "id = ?", order.Items[1].ID).Error)
	s.Equal(models.OrderStatusCancelled, cancelledItem.Status)
	s.Equal(models.OrderStatusProcessing, followingItem.Status)
}

func (s *OrderServiceTestSuite) TestPaymentStatusBridgesPendingToCompleted() {
	order := s.fx.createOrder(s.T(), itemSpec{vendorID: s.vendor.ID, price: "10.00", quantity: 1})

	updated, err := s.fx.orders.UpdatePaymentStatus(s.fx.ctx, order.ID, models.PaymentStatusCompleted, "pi_123", "gateway")
	s.Require().NoError(err)
	s.Equal(models.PaymentStatusCompleted, updated.PaymentStatus)
	s.Equal("pi_123", updated.PaymentReference)
	s.NotNil(updated.PaidAt)

	// Repeated notification is a no-op
	_, err = s.fx.orders.UpdatePaymentStatus(s.fx.ctx, order.ID, models.PaymentStatusCompleted, "pi_123", "gateway")
	s.NoError(err)

	_, err = s.fx.orders.UpdatePaymentStatus(s.fx.ctx, order.ID, models.PaymentStatusPending, "", "gateway")
	s.ErrorIs(err, ErrInvalidTransition)
}

func (s *OrderServiceTestSuite) TestRecordRefundAccumulates() {
	order := s.fx.createOrder(s.T(), itemSpec{vendorID: s.vendor.ID, price: "100.00", quantity: 1})
	_, err := s.fx.orders.UpdatePaymentStatus(s.fx.ctx, order.ID, models.PaymentStatusCompleted, "pi_1", "gateway")
	s.Require().NoError(err)

	updated, err := s.fx.orders.RecordRefund(s.fx.ctx, order.ID, dec("30.00"), models.PaymentStatusPartiallyRefunded, "finance")
	s.Require().NoError(err)
	s.Equal("30.00", updated.RefundedAmount.StringFixed(2))

	updated, err = s.fx.orders.RecordRefund(s.fx.ctx, order.ID, dec("20.00"), models.PaymentStatusPartiallyRefunded, "finance")
	s.Require().NoError(err)
	s.Equal("50.00", updated.RefundedAmount.StringFixed(2))
	s.Equal(models.PaymentStatusPartiallyRefunded, updated.PaymentStatus)

	updated, err = s.fx.orders.RecordRefund(s.fx.ctx, order.ID, dec("50.00"), models.PaymentStatusRefunded, "finance")
	s.Require().NoError(err)
	s.Equal(models.PaymentStatusRefunded, updated.PaymentStatus)

	_, err = s.fx.orders.RecordRefund(s.fx.ctx, order.ID, dec("0"), models.PaymentStatusRefunded, "finance")
	s.ErrorIs(err, ErrValidation)
}

func (s *OrderServiceTestSuite) TestRecordRefundBounds() {
	order := s.fx.createOrder(s.T(), itemSpec{vendorID: s.vendor.ID, price: "100.00", quantity: 1})
	_, err := s.fx.orders.UpdatePaymentStatus(s.fx.ctx, order.ID, models.PaymentStatusProcessing, "pi_2", "gateway")
	s.Require().NoError(err)

	// A refund cannot ride along on a non-refund transition
	_, err = s.fx.orders.RecordRefund(s.fx.ctx, order.ID, dec("40.00"), models.PaymentStatusCompleted, "gateway")
	s.ErrorIs(err, ErrValidation)

	current, err := s.fx.orders.GetOrder(s.fx.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(models.PaymentStatusProcessing, current.PaymentStatus)
	s.True(current.RefundedAmount.IsZero())

	_, err = s.fx.orders.UpdatePaymentStatus(s.fx.ctx, order.ID, models.PaymentStatusCompleted, "pi_2", "gateway")
	s.Require().NoError(err)

	_, err = s.fx.orders.RecordRefund(s.fx.ctx, order.ID, dec("5000.00"), models.PaymentStatusPartiallyRefunded, "gateway")
	var validationErr *ValidationError
	s.Require().ErrorAs(err, &validationErr)
	s.Equal("refund_amount", validationErr.Field)

	_, err = s.fx.orders.RecordRefund(s.fx.ctx, order.ID, dec("0.005"), models.PaymentStatusPartiallyRefunded, "gateway")
	s.ErrorIs(err, ErrValidation)

	updated, err := s.fx.orders.RecordRefund(s.fx.ctx, order.ID, dec("60.00"), models.PaymentStatusPartiallyRefunded, "gateway")
	s.Require().NoError(err)
	s.Equal("60.00", updated.RefundedAmount.StringFixed(2))

	// Reaching the order total closes the payment
	updated, err = s.fx.orders.RecordRefund(s.fx.ctx, order.ID, dec("40.00"), models.PaymentStatusPartiallyRefunded, "gateway")
	s.Require().NoError(err)
	s.Equal(models.PaymentStatusRefunded, updated.PaymentStatus)
	s.Equal("100.00", updated.RefundedAmount.StringFixed(2))

	_, err = s.fx.orders.RecordRefund(s.fx.ctx, order.ID, dec("0.01"), models.PaymentStatusRefunded, "gateway")
	s.ErrorIs(err, ErrValidation)
}

func (s *OrderServiceTestSuite) TestListOrdersFilters() {
	other := s.fx.createVendor(s.T(), nil)
	first := s.fx.createOrder(s.T(), itemSpec{vendorID: s.vendor.ID, price: "10.00", quantity: 1})
	s.fx.createOrder(s.T(), itemSpec{vendorID: other.ID, price: "10.00", quantity: 1})
	_, err := s.fx.orders.TransitionStatus(s.fx.ctx, first.ID, models.OrderStatusConfirmed, "ops", "")
	s.Require().NoError(err)

	orders, total, err := s.fx.orders.ListOrders(s.fx.ctx, OrderFilter{VendorID: &s.vendor.ID}, utils.DefaultPagination())
	s.Require().NoError(err)
	s.EqualValues(1, total)
	s.Require().Len(orders, 1)
	s.Equal(first.ID, orders[0].ID)

	_, total, err = s.fx.orders.ListOrders(s.fx.ctx, OrderFilter{Status: models.OrderStatusPending}, utils.DefaultPagination())
	s.Require().NoError(err)
	s.EqualValues(1, total)

	_, total, err = s.fx.orders.ListOrders(s.fx.ctx, OrderFilter{CustomerEmail: "BUYER@example.com"}, utils.DefaultPagination())
	s.Require().NoError(err)
	s.EqualValues(2, total)
}

func (s *OrderServiceTestSuite) TestDeleteOrder() {
	pending := s.fx.createOrder(s.T(), itemSpec{vendorID: s.vendor.ID, price: "10.00", quantity: 1})
	s.Require().NoError(s.fx.orders.DeleteOrder(s.fx.ctx, pending.ID, "admin"))
	_, err := s.fx.orders.GetOrder(s.fx.ctx, pending.ID)
	s.ErrorIs(err, ErrNotFound)

	var history int64
	s.fx.db.Model(&models.OrderStatusHistory{}).Where("order_id = ?", pending.ID).Count(&history)
	s.Zero(history)

	confirmed, _ := s.fx.confirmedOrder(s.T(), itemSpec{vendorID: s.vendor.ID, price: "10.00", quantity: 1})
	err = s.fx.orders.DeleteOrder(s.fx.ctx, confirmed.ID, "admin")
	s.ErrorIs(err, ErrValidation)

	// Once every commission is cancelled the order may go
	_, err = s.fx.orders.TransitionStatus(s.fx.ctx, confirmed.ID, models.OrderStatusCancelled, "ops", "")
	s.Require().NoError(err)
	s.NoError(s.fx.orders.DeleteOrder(s.fx.ctx, confirmed.ID, "admin"))
}

func (s *OrderServiceTestSuite) TestHistoryIsAppendOnly() {
	order := s.fx.createOrder(s.T(), itemSpec{vendorID: s.vendor.ID, price: "10.00", quantity: 1})
	history, err := s.fx.orders.GetStatusHistory(s.fx.ctx, order.ID)
	s.Require().NoError(err)

	row := history[0]
	row.Notes = "rewritten"
	err = s.fx.db.Save(&row).Error
	s.True(errors.Is(err, models.ErrImmutableHistory))
}

func TestOrderServiceTestSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceTestSuite))
}

func TestPaymentPath(t *testing.T) {
	path, ok := paymentPath(models.PaymentStatusPending, models.PaymentStatusCompleted)
	require.True(t, ok)
	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusProcessing, models.PaymentStatusCompleted}, path)

	path, ok = paymentPath(models.PaymentStatusCompleted, models.PaymentStatusRefunded)
	require.True(t, ok)
	assert.Equal(t, []models.PaymentStatus{models.PaymentStatusRefunded}, path)

	_, ok = paymentPath(models.PaymentStatusFailed, models.PaymentStatusCompleted)
	assert.False(t, ok)
}

func TestGenerateNumber(t *testing.T) {
	a := generateNumber("PAY", mustTime(t, "2024-01-31T10:00:00Z"))
	b := generateNumber("PAY", mustTime(t, "2024-01-31T10:00:00Z"))
	assert.Regexp(t, `^PAY-20240131-[0-9A-F]{8}$`, a)
	assert.NotEqual(t, a, b)
}
