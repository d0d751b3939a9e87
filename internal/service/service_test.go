package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/events"
	"coursecart/backend/internal/fulfillment"
	"coursecart/backend/internal/offer"
	"coursecart/backend/internal/refund"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/store/memory"
	"coursecart/backend/internal/upstream"
)

const (
	demoCourse = "course-v1:edX+DemoX+2026"
	dataCourse = "course-v1:edX+Data101+2026"
)

var site = domain.Site{Domain: "courses.example.org", Partner: "edx"}

type stubCatalog struct {
	bundles  map[string]domain.Bundle
	contains bool
}

func (c *stubCatalog) GetBundle(_ context.Context, _ domain.Site, id string) (domain.Bundle, error) {
	bundle, ok := c.bundles[id]
	if !ok {
		return domain.Bundle{}, upstream.ErrNotFound
	}
	return bundle, nil
}

func (c *stubCatalog) GetProgram(context.Context, domain.Site, string) (domain.Program, error) {
	return domain.Program{}, upstream.ErrNotFound
}

func (c *stubCatalog) ContainsCourseRuns(context.Context, domain.Site, string, string, []string) (bool, error) {
	return c.contains, nil
}

type stubEnterprise struct{}

func (stubEnterprise) GetLearner(context.Context, domain.Site, string) (domain.LearnerAffiliation, bool, error) {
	return domain.LearnerAffiliation{}, false, nil
}

type recordingEnroller struct {
	mu       sync.Mutex
	requests []domain.EnrollmentRequest
	err      error
}

func (e *recordingEnroller) SetEnrollment(_ context.Context, req domain.EnrollmentRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return e.err
}

type recordingPayments struct {
	credits []domain.CreditRequest
}

func (p *recordingPayments) IssueCredit(_ context.Context, req domain.CreditRequest) (string, error) {
	p.credits = append(p.credits, req)
	return "credit-1", nil
}

type harness struct {
	svc       *Service
	repo      *memory.Store
	enroller  *recordingEnroller
	payments  *recordingPayments
	publisher *events.MemoryPublisher
	catalog   *stubCatalog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := memory.NewSeeded()
	catalog := &stubCatalog{
		bundles: map[string]domain.Bundle{
			"bundle-1": {
				ID: "bundle-1",
				Courses: []domain.CatalogCourse{
					{Key: demoCourse, Seats: []domain.Seat{{SKU: "DEMOX-VER", Type: domain.SeatVerified}}},
					{Key: dataCourse, Seats: []domain.Seat{{SKU: "DATA-VER", Type: domain.SeatVerified}}},
				},
			},
		},
		contains: true,
	}
	registry := offer.NewRegistry(catalog, stubEnterprise{}, offer.Options{}, nil)
	applicator := offer.NewApplicator(repo, registry, nil)

	enroller := &recordingEnroller{}
	modules, err := fulfillment.NewModules([]string{fulfillment.ModuleEnrollment, fulfillment.ModuleEnrollmentCode, fulfillment.ModuleDonation}, fulfillment.Dependencies{
		Enroller: enroller,
		Codes:    repo,
	})
	require.NoError(t, err)
	fulfiller := fulfillment.NewEngine(modules, nil)

	payments := &recordingPayments{}
	publisher := &events.MemoryPublisher{}
	refunds := refund.NewEngine(repo, payments, fulfiller, publisher, nil)

	svc := New(repo, applicator, fulfiller, refunds, publisher, Options{
		DefaultPartner:    "edx",
		OrderNumberPrefix: "EDX",
		Flags: offer.Flags{
			offer.SwitchEnterpriseOffers:           true,
			offer.SwitchEnterpriseOffersForCoupons: true,
		},
	})
	return &harness{svc: svc, repo: repo, enroller: enroller, payments: payments, publisher: publisher, catalog: catalog}
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func (h *harness) basket(t *testing.T, email string, productIDs ...string) domain.Basket {
	t.Helper()
	ctx := context.Background()
	basket, err := h.svc.CreateBasket(ctx, domain.BasketCreateRequest{
		Site:  site,
		Owner: &domain.User{Username: "learner", Email: email},
	})
	require.NoError(t, err)
	for _, id := range productIDs {
		basket, err = h.svc.AddBasketLine(ctx, basket.ID, domain.BasketLineRequest{ProductID: id})
		require.NoError(t, err)
	}
	return basket
}

func (h *harness) bundleOffer(t *testing.T) domain.Offer {
	t.Helper()
	created, err := h.svc.CreateOffer(adminCtx(), domain.OfferCreateRequest{
		Name:      "Bundle 10%",
		Type:      domain.OfferTypeSite,
		Condition: domain.Condition{Kind: domain.ConditionBundleIntersection, BundleID: "bundle-1"},
		Benefit:   domain.Benefit{Kind: domain.BenefitPercentage, Value: decimal.NewFromInt(10)},
	})
	require.NoError(t, err)
	return created
}

func eventTypes(p *events.MemoryPublisher) []string {
	var types []string
	for _, e := range p.Events() {
		types = append(types, e.Type)
	}
	return types
}

func TestCreateOfferRequiresAdmin(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateOffer(context.Background(), domain.OfferCreateRequest{Name: "x", Type: domain.OfferTypeSite})
	assert.ErrorIs(t, err, ErrForbidden)

	staff := WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})
	_, err = h.svc.CreateOffer(staff, domain.OfferCreateRequest{Name: "x", Type: domain.OfferTypeSite})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateOfferRejectsDuplicateBundleOffer(t *testing.T) {
	h := newHarness(t)
	h.bundleOffer(t)

	_, err := h.svc.CreateOffer(adminCtx(), domain.OfferCreateRequest{
		Name:      "Bundle again",
		Type:      domain.OfferTypeSite,
		Condition: domain.Condition{Kind: domain.ConditionBundleIntersection, BundleID: "bundle-1"},
		Benefit:   domain.Benefit{Kind: domain.BenefitFixed, Value: decimal.NewFromInt(5)},
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestAddBasketLineMergesSameProduct(t *testing.T) {
	h := newHarness(t)
	basket := h.basket(t, "learner@example.com", "prod-demox-verified", "prod-demox-verified")

	require.Len(t, basket.Lines, 1)
	assert.Equal(t, 2, basket.Lines[0].Quantity)

	basket, err := h.svc.RemoveBasketLine(context.Background(), basket.ID, basket.Lines[0].ID)
	require.NoError(t, err)
	assert.Empty(t, basket.Lines)
}

func TestCalculateBasketAppliesBundleOffer(t *testing.T) {
	h := newHarness(t)
	h.bundleOffer(t)
	basket := h.basket(t, "learner@example.com", "prod-demox-verified", "prod-data-verified")

	_, err := h.svc.SetBasketAttributes(context.Background(), basket.ID, domain.BasketAttributeRequest{
		Attributes: map[string]string{domain.BasketAttrBundle: "bundle-1"},
	})
	require.NoError(t, err)

	summary, err := h.svc.CalculateBasket(context.Background(), basket.ID, domain.BasketCalculateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "248.00", summary.Subtotal.StringFixed(2))
	assert.Equal(t, "24.80", summary.TotalDiscount.StringFixed(2))
	assert.Equal(t, "223.20", summary.Total.StringFixed(2))
	require.Len(t, summary.Discounts, 1)

	stored, err := h.svc.GetBasket(context.Background(), basket.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalDiscount().IsZero(), "calculation must not persist discounts")
}

func TestPlaceOrderFulfillsAndRecordsUsage(t *testing.T) {
	h := newHarness(t)
	bundle := h.bundleOffer(t)
	basket := h.basket(t, "learner@example.com", "prod-demox-verified", "prod-data-verified")
	_, err := h.svc.SetBasketAttributes(context.Background(), basket.ID, domain.BasketAttributeRequest{
		Attributes: map[string]string{domain.BasketAttrBundle: "bundle-1"},
	})
	require.NoError(t, err)

	order, err := h.svc.PlaceOrder(context.Background(), basket.ID, domain.OrderPlaceRequest{
		PaymentProcessor: "cybersource",
		PaymentReference: "txn-1",
	})
	require.NoError(t, err)
	assert.Equal(t, OrderNumber("EDX", basket.ID), order.Number)
	assert.Equal(t, domain.OrderStatusComplete, order.Status)
	assert.Equal(t, "223.20", order.Total.StringFixed(2))
	assert.Len(t, h.enroller.requests, 2)
	assert.Equal(t, []string{events.TypeOrderPlaced, events.TypeOrderFulfilled}, eventTypes(h.publisher))

	used, err := h.repo.GetOffer(context.Background(), bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, used.NumApplications)

	_, err = h.svc.PlaceOrder(context.Background(), basket.ID, domain.OrderPlaceRequest{PaymentReference: "txn-2"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestPlaceOrderRequiresPaymentForPaidBasket(t *testing.T) {
	h := newHarness(t)
	basket := h.basket(t, "learner@example.com", "prod-demox-verified")

	_, err := h.svc.PlaceOrder(context.Background(), basket.ID, domain.OrderPlaceRequest{})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestFulfillOrderRetriesFailedLines(t *testing.T) {
	h := newHarness(t)
	h.enroller.err = upstream.ErrTimeout
	basket := h.basket(t, "learner@example.com", "prod-demox-verified")

	order, err := h.svc.PlaceOrder(context.Background(), basket.ID, domain.OrderPlaceRequest{PaymentReference: "txn-1"})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFulfillmentError, order.Status)
	assert.Equal(t, domain.LineStatusTimeoutError, order.Lines[0].Status)

	h.enroller.err = nil
	retried, err := h.svc.FulfillOrder(adminCtx(), order.Number, domain.OrderFulfillRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusComplete, retried.Status)

	_, err = h.svc.FulfillOrder(adminCtx(), order.Number, domain.OrderFulfillRequest{})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestEnrollmentCodeOrderIssuesCodes(t *testing.T) {
	h := newHarness(t)
	basket := h.basket(t, "buyer@example.com", "prod-demox-codes")
	basket, err := h.svc.AddBasketLine(context.Background(), basket.ID, domain.BasketLineRequest{ProductID: "prod-demox-codes", Quantity: 2})
	require.NoError(t, err)

	order, err := h.svc.PlaceOrder(context.Background(), basket.ID, domain.OrderPlaceRequest{PaymentReference: "txn-1"})
	require.NoError(t, err)

	detail, err := h.svc.GetOrder(context.Background(), order.Number)
	require.NoError(t, err)
	assert.Len(t, detail.EnrollmentCodes, 3)
	assert.Empty(t, h.enroller.requests)
}

func TestRefundLifecycle(t *testing.T) {
	h := newHarness(t)
	basket := h.basket(t, "learner@example.com", "prod-demox-verified", "prod-donation")
	order, err := h.svc.PlaceOrder(context.Background(), basket.ID, domain.OrderPlaceRequest{
		PaymentProcessor: "cybersource",
		PaymentReference: "txn-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusComplete, order.Status)

	ctx := adminCtx()
	created, err := h.svc.CreateRefund(ctx, domain.RefundCreateRequest{OrderNumber: order.Number, LineIDs: []string{order.Lines[0].ID}})
	require.NoError(t, err)
	assert.Equal(t, "149.00", created.TotalCreditExclTax.StringFixed(2))

	_, err = h.svc.CreateRefund(ctx, domain.RefundCreateRequest{OrderNumber: order.Number, LineIDs: []string{order.Lines[0].ID}})
	assert.ErrorIs(t, err, store.ErrConflict)

	decision, err := h.svc.ApproveRefund(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, decision.Succeeded)
	assert.Equal(t, domain.RefundStatusComplete, decision.Refund.Status)
	require.Len(t, h.payments.credits, 1)
	assert.Equal(t, "txn-1", h.payments.credits[0].TransactionID)

	_, err = h.svc.ApproveRefund(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrConflict)

	logs, err := h.svc.ListAuditLogs(ctx, "edx", "", 10)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "refund_create")
	assert.Contains(t, actions, "refund_approve")
}

func TestDenyRefundReleasesLines(t *testing.T) {
	h := newHarness(t)
	basket := h.basket(t, "learner@example.com", "prod-demox-verified")
	order, err := h.svc.PlaceOrder(context.Background(), basket.ID, domain.OrderPlaceRequest{PaymentReference: "txn-1"})
	require.NoError(t, err)

	ctx := adminCtx()
	created, err := h.svc.CreateRefund(ctx, domain.RefundCreateRequest{OrderNumber: order.Number, LineIDs: []string{order.Lines[0].ID}})
	require.NoError(t, err)

	decision, err := h.svc.DenyRefund(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, decision.Succeeded)
	assert.Equal(t, domain.RefundStatusDenied, decision.Refund.Status)

	_, err = h.svc.CreateRefund(ctx, domain.RefundCreateRequest{OrderNumber: order.Number, LineIDs: []string{order.Lines[0].ID}})
	assert.NoError(t, err)
}

func TestSingleUseEnterpriseVoucher(t *testing.T) {
	h := newHarness(t)
	ctx := adminCtx()

	voucherOffer, err := h.svc.CreateOffer(ctx, domain.OfferCreateRequest{
		Name: "Enterprise coupon",
		Type: domain.OfferTypeVoucher,
		Condition: domain.Condition{
			Kind:                   domain.ConditionEnterpriseCustomer,
			EnterpriseCustomerUUID: "ent-1",
			EnterpriseCatalogUUID:  "cat-1",
		},
		Benefit: domain.Benefit{Kind: domain.BenefitPercentage, Value: decimal.NewFromInt(100)},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	voucher, err := h.svc.CreateVoucher(ctx, domain.VoucherCreateRequest{
		Code:     "ent-welcome",
		Usage:    domain.VoucherSingleUse,
		StartAt:  now.Add(-time.Hour),
		EndAt:    now.Add(time.Hour),
		OfferIDs: []string{voucherOffer.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "ENT-WELCOME", voucher.Code)

	assigned, err := h.svc.AssignVoucher(ctx, voucher.Code, domain.AssignmentCreateRequest{Emails: []string{"Learner@Example.com"}})
	require.NoError(t, err)
	_, err = h.svc.SetAssignmentStatus(ctx, assigned[0].ID, domain.AssignmentStatusRequest{Status: domain.AssignmentAssigned})
	require.NoError(t, err)

	basket := h.basket(t, "learner@example.com", "prod-demox-verified")
	_, err = h.svc.ApplyVoucher(context.Background(), basket.ID, domain.VoucherApplyRequest{Code: "ent-welcome"})
	require.NoError(t, err)

	summary, err := h.svc.CalculateBasket(context.Background(), basket.ID, domain.BasketCalculateRequest{
		QueryParams: map[string]string{offer.QueryParamCatalog: "cat-1"},
	})
	require.NoError(t, err)
	assert.True(t, summary.Total.IsZero(), "total %s", summary.Total)

	order, err := h.svc.PlaceOrder(context.Background(), basket.ID, domain.OrderPlaceRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusComplete, order.Status)

	assignments, err := h.svc.ListAssignments(ctx, voucher.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentRedeemed, assignments[0].Status)

	second := h.basket(t, "learner@example.com", "prod-data-verified")
	_, err = h.svc.ApplyVoucher(context.Background(), second.ID, domain.VoucherApplyRequest{Code: voucher.Code})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestSetAssignmentStatusRejectsManualRedeem(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.SetAssignmentStatus(adminCtx(), "asg-1", domain.AssignmentStatusRequest{Status: domain.AssignmentRedeemed})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestSetOfferStatusKeepsConsumedOffers(t *testing.T) {
	h := newHarness(t)
	created := h.bundleOffer(t)

	suspended, err := h.svc.SetOfferStatus(adminCtx(), created.ID, domain.OfferStatusRequest{Status: domain.OfferStatusSuspended})
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusSuspended, suspended.Status)

	_, err = h.svc.SetOfferStatus(adminCtx(), created.ID, domain.OfferStatusRequest{Status: domain.OfferStatusConsumed})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestManualOrderAppliesOpenUserOffer(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateOffer(adminCtx(), domain.OfferCreateRequest{
		Name:      "Manual enrollment",
		Type:      domain.OfferTypeUser,
		Condition: domain.Condition{Kind: domain.ConditionManualEnrollment},
		Benefit:   domain.Benefit{Kind: domain.BenefitPercentage, Value: decimal.NewFromInt(100)},
	})
	require.NoError(t, err)
	basket := h.basket(t, "learner@example.com", "prod-demox-verified")

	summary, err := h.svc.CalculateBasket(context.Background(), basket.ID, domain.BasketCalculateRequest{})
	require.NoError(t, err)
	assert.True(t, summary.TotalDiscount.IsZero(), "manual offers stay out of the regular basket flow")

	order, err := h.svc.PlaceOrder(adminCtx(), basket.ID, domain.OrderPlaceRequest{ManualEnrollment: true})
	require.NoError(t, err)
	assert.Equal(t, "149.00", order.TotalDiscount.StringFixed(2))
	assert.Equal(t, "0.00", order.Total.StringFixed(2))
	assert.Equal(t, domain.OrderStatusComplete, order.Status)
}

func TestUserOfferMatchesOwnerEmailIgnoringCase(t *testing.T) {
	h := newHarness(t)
	created, err := h.svc.CreateOffer(adminCtx(), domain.OfferCreateRequest{
		Name:      "Personal bundle",
		Type:      domain.OfferTypeUser,
		UserEmail: "Learner@Example.com",
		Condition: domain.Condition{Kind: domain.ConditionBundleIntersection, BundleID: "bundle-1"},
		Benefit:   domain.Benefit{Kind: domain.BenefitPercentage, Value: decimal.NewFromInt(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, "learner@example.com", created.UserEmail)

	basket := h.basket(t, "learner@example.com", "prod-demox-verified", "prod-data-verified")
	summary, err := h.svc.CalculateBasket(context.Background(), basket.ID, domain.BasketCalculateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "24.80", summary.TotalDiscount.StringFixed(2))

	other := h.basket(t, "someone@example.com", "prod-demox-verified", "prod-data-verified")
	summary, err = h.svc.CalculateBasket(context.Background(), other.ID, domain.BasketCalculateRequest{})
	require.NoError(t, err)
	assert.True(t, summary.TotalDiscount.IsZero())
}

func TestRefundDecisionAuditedUnderOrderPartner(t *testing.T) {
	h := newHarness(t)
	basket, err := h.svc.CreateBasket(context.Background(), domain.BasketCreateRequest{
		Site:  domain.Site{Domain: "courses.mitx.example.org", Partner: "mitx"},
		Owner: &domain.User{Username: "learner", Email: "learner@example.com"},
	})
	require.NoError(t, err)
	_, err = h.svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		ID:      "prod-mitx-donation",
		SKU:     "MITX-DON",
		Title:   "Donation to MITx",
		Type:    domain.ProductTypeDonation,
		Partner: "mitx",
		Price:   decimal.NewFromInt(25),
	})
	require.NoError(t, err)
	_, err = h.svc.AddBasketLine(context.Background(), basket.ID, domain.BasketLineRequest{ProductID: "prod-mitx-donation"})
	require.NoError(t, err)
	order, err := h.svc.PlaceOrder(context.Background(), basket.ID, domain.OrderPlaceRequest{PaymentReference: "txn-1"})
	require.NoError(t, err)

	ctx := adminCtx()
	created, err := h.svc.CreateRefund(ctx, domain.RefundCreateRequest{OrderNumber: order.Number, LineIDs: []string{order.Lines[0].ID}})
	require.NoError(t, err)
	_, err = h.svc.DenyRefund(ctx, created.ID)
	require.NoError(t, err)

	logs, err := h.svc.ListAuditLogs(ctx, "mitx", "", 10)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "refund_create")
	assert.Contains(t, actions, "refund_deny")

	logs, err = h.svc.ListAuditLogs(ctx, "edx", "", 10)
	require.NoError(t, err)
	for _, entry := range logs {
		assert.NotEqual(t, "refund_deny", entry.Action)
	}
}
