package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/database"
	"github.com/javajoker/settlement-backend/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), database.NewGormConfig("silent"))
	require.NoError(t, err)

	// A single connection keeps the in-memory database alive and serializes writers
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func newTestConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment: "test",
		Cache:       config.CacheConfig{VendorRateTTL: time.Minute},
		AWS:         config.AWSConfig{ExportDir: t.TempDir()},
		Payment:     config.PaymentConfig{Currency: "usd"},
		Settlement: config.SettlementConfig{
			DefaultCommissionRate: decimal.NewFromInt(10),
			PlatformFeeMode:       config.PlatformFeeNone,
			PlatformFeeValue:      decimal.Zero,
			MinimumPayout:         decimal.Zero,
			SerializablePayouts:   true,
		},
	}
}

type fakeDisburser struct {
	mu       sync.Mutex
	err      error
	calls    []uuid.UUID
	transfer string
	// runs after a successful transfer
	after func(payout *models.Payout)
}

func (d *fakeDisburser) Disburse(ctx context.Context, payout *models.Payout) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, payout.ID)
	if d.err != nil {
		return "", d.err
	}
	if d.after != nil {
		d.after(payout)
	}
	return d.transfer, nil
}

type fakeGateway struct {
	status  stripe.PaymentIntentStatus
	err     error
	refunds []int64
}

func (g *fakeGateway) PaymentIntentStatus(ctx context.Context, intentID string) (stripe.PaymentIntentStatus, error) {
	return g.status, g.err
}

func (g *fakeGateway) Refund(ctx context.Context, intentID string, amount int64, reason string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.refunds = append(g.refunds, amount)
	return "re_test", nil
}

type memoryExporter struct {
	uploads map[string][]byte
}

func (e *memoryExporter) Upload(ctx context.Context, key string, data []byte, contentType string) (*UploadResult, error) {
	if e.uploads == nil {
		e.uploads = make(map[string][]byte)
	}
	e.uploads[key] = data
	return &UploadResult{Key: key, Size: int64(len(data)), MimeType: contentType}, nil
}

var errTransferRejected = errors.New("transfer rejected")

// settlementFixture wires the services the way the router does, on SQLite.
type settlementFixture struct {
	ctx         context.Context
	db          *gorm.DB
	cfg         *config.Config
	cache       *MemoryCache
	vendors     *VendorService
	commissions *CommissionService
	orders      *OrderService
	payouts     *PayoutService
	payments    *PaymentService
	reports     *ReportService
	disburser   *fakeDisburser
	gateway     *fakeGateway
	exporter    *memoryExporter
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	return newSettlementFixtureWithFees(t, NoPlatformFee{})
}

func newSettlementFixtureWithFees(t *testing.T, fees PlatformFeePolicy) *settlementFixture {
	t.Helper()

	fx := &settlementFixture{
		ctx:       context.Background(),
		db:        newTestDB(t),
		cfg:       newTestConfig(t),
		cache:     NewMemoryCache(),
		disburser: &fakeDisburser{transfer: "tr_test"},
		gateway:   &fakeGateway{status: stripe.PaymentIntentStatusSucceeded},
		exporter:  &memoryExporter{},
	}
	fx.vendors = NewVendorService(fx.db, fx.cache, fx.cfg)
	fx.commissions = NewCommissionService(fx.db, fees)
	fx.orders = NewOrderService(fx.db, fx.cfg, NewRateResolverChain(fx.vendors, fx.cfg.Settlement.DefaultCommissionRate), fx.commissions)
	fx.payouts = NewPayoutService(fx.db, fx.cfg, fx.disburser)
	fx.payments = NewPaymentService(fx.orders, fx.gateway, fx.cfg)
	fx.reports = NewReportService(fx.db, fx.exporter)
	return fx
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func (fx *settlementFixture) createVendor(t *testing.T, rate *decimal.Decimal) *models.Vendor {
	t.Helper()
	vendor, err := fx.vendors.CreateVendor(fx.ctx, &CreateVendorRequest{
		Name:           "Vendor " + uuid.NewString()[:8],
		Email:          uuid.NewString()[:8] + "@vendor.test",
		CommissionRate: rate,
		Bank: models.BankDetails{
			AccountName:     "Vendor Ltd",
			AccountNumber:   "000123456",
			BankName:        "Test Bank",
			StripeAccountID: "acct_test",
		},
	})
	require.NoError(t, err)
	return vendor
}

type itemSpec struct {
	vendorID uuid.UUID
	brandID  *uuid.UUID
	price    string
	quantity int
	override *decimal.Decimal
}

// orderRequest builds a reconciled request with no tax, shipping or discount.
func orderRequest(items ...itemSpec) *CreateOrderRequest {
	req := &CreateOrderRequest{
		CustomerEmail: "buyer@example.com",
		Currency:      "usd",
	}
	subtotal := decimal.Zero
	for _, spec := range items {
		unit := dec(spec.price)
		total := unit.Mul(decimal.NewFromInt(int64(spec.quantity)))
		req.Items = append(req.Items, &CreateOrderItemRequest{
			ProductID:    uuid.New(),
			VendorID:     spec.vendorID,
			BrandID:      spec.brandID,
			ProductName:  "Product",
			UnitPrice:    unit,
			Quantity:     spec.quantity,
			TotalPrice:   total,
			RateOverride: spec.override,
		})
		subtotal = subtotal.Add(total)
	}
	req.Subtotal = subtotal
	req.TotalAmount = subtotal
	return req
}

func (fx *settlementFixture) createOrder(t *testing.T, items ...itemSpec) *models.Order {
	t.Helper()
	order, err := fx.orders.CreateOrder(fx.ctx, orderRequest(items...), "tester")
	require.NoError(t, err)
	return order
}

// confirmedOrder creates and confirms an order, returning its commissions.
func (fx *settlementFixture) confirmedOrder(t *testing.T, items ...itemSpec) (*models.Order, []models.Commission) {
	t.Helper()
	order := fx.createOrder(t, items...)
	_, err := fx.orders.TransitionStatus(fx.ctx, order.ID, models.OrderStatusConfirmed, "tester", "")
	require.NoError(t, err)

	var commissions []models.Commission
	require.NoError(t, fx.db.Where("order_id = ?", order.ID).Order("created_at ASC").Find(&commissions).Error)
	return order, commissions
}

// approvedCommissions confirms one order per amount for vendor and approves
// every resulting commission.
func (fx *settlementFixture) approvedCommissions(t *testing.T, vendorID uuid.UUID, prices ...string) []models.Commission {
	t.Helper()
	var out []models.Commission
	for _, price := range prices {
		_, commissions := fx.confirmedOrder(t, itemSpec{vendorID: vendorID, price: price, quantity: 1})
		for _, c := range commissions {
			approved, err := fx.commissions.ApproveCommission(fx.ctx, c.ID)
			require.NoError(t, err)
			out = append(out, *approved)
		}
	}
	return out
}

func (fx *settlementFixture) commissionFor(t *testing.T, orderItemID uuid.UUID) *models.Commission {
	t.Helper()
	var commission models.Commission
	require.NoError(t, fx.db.First(&commission, "order_item_id = ?", orderItemID).Error)
	return &commission
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func (fx *settlementFixture) payoutRequest(vendorID uuid.UUID) *CreatePayoutRequest {
	now := time.Now().UTC()
	return &CreatePayoutRequest{
		VendorID:    vendorID,
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(time.Hour),
		CreatedBy:   "finance",
	}
}
