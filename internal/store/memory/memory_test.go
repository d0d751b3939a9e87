package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/store"
)

var site = domain.Site{Domain: "courses.example.org", Partner: "edx"}

func openBasket(t *testing.T, s *Store) domain.Basket {
	t.Helper()
	product, err := s.GetProduct(context.Background(), "prod-demox-verified")
	require.NoError(t, err)
	basket, err := s.CreateBasket(context.Background(), domain.Basket{
		Site:     site,
		Owner:    &domain.User{Username: "learner", Email: "learner@example.com"},
		Currency: "USD",
		Lines:    []domain.BasketLine{{ID: "l1", Product: product, Quantity: 1, UnitPrice: product.Price}},
	})
	require.NoError(t, err)
	return basket
}

func placement(basket domain.Basket, number string, apps ...domain.OfferApplication) domain.OrderPlacement {
	line := basket.Lines[0]
	return domain.OrderPlacement{
		BasketID: basket.ID,
		Order: domain.Order{
			Number:   number,
			BasketID: basket.ID,
			Site:     basket.Site,
			Owner:    *basket.Owner,
			Status:   domain.OrderStatusOpen,
			Currency: basket.Currency,
			Lines: []domain.OrderLine{{
				ID: "ol-1", Product: line.Product, Quantity: 1, UnitPrice: line.UnitPrice,
				LinePrice: line.UnitPrice, Status: domain.LineStatusOpen,
			}},
		},
		Applications: apps,
		Username:     basket.Owner.Username,
		UserEmail:    basket.Owner.Email,
	}
}

func voucherOffer(t *testing.T, s *Store, maxApplications int) domain.Offer {
	t.Helper()
	offer, err := s.CreateOffer(context.Background(), domain.Offer{
		Name:                  "welcome",
		Type:                  domain.OfferTypeVoucher,
		Status:                domain.OfferStatusOpen,
		Partner:               "edx",
		Condition:             domain.Condition{Kind: domain.ConditionProgramSeats, ProgramUUID: "prog-1"},
		Benefit:               domain.Benefit{Kind: domain.BenefitPercentage, Value: decimal.NewFromInt(10)},
		MaxGlobalApplications: maxApplications,
	})
	require.NoError(t, err)
	return offer
}

func TestBasketIDsIncreaseAndSubmittedBasketsAreFrozen(t *testing.T) {
	s := NewSeeded()
	first := openBasket(t, s)
	second := openBasket(t, s)
	assert.Equal(t, first.ID+1, second.ID)

	_, err := s.PlaceOrder(context.Background(), placement(first, "EDX-100001"))
	require.NoError(t, err)

	stored, err := s.GetBasket(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BasketStatusSubmitted, stored.Status)

	_, err = s.SaveBasket(context.Background(), stored)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = s.PlaceOrder(context.Background(), placement(first, "EDX-100009"))
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestPlaceOrderRecordsUsageAndRedeemsAssignment(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	offer := voucherOffer(t, s, 0)
	_, err := s.CreateVoucher(ctx, domain.Voucher{Code: "welcome", Usage: domain.VoucherSingleUse, OfferIDs: []string{offer.ID}})
	require.NoError(t, err)
	assignments, err := s.CreateAssignments(ctx, []domain.OfferAssignment{{Code: "WELCOME", UserEmail: "Learner@example.com"}})
	require.NoError(t, err)
	_, err = s.UpdateAssignmentStatus(ctx, assignments[0].ID, domain.AssignmentAssigned, time.Now())
	require.NoError(t, err)

	basket := openBasket(t, s)
	_, err = s.PlaceOrder(ctx, placement(basket, "EDX-100001", domain.OfferApplication{OfferID: offer.ID, Code: "WELCOME", Discount: decimal.RequireFromString("14.90")}))
	require.NoError(t, err)

	stored, err := s.GetOffer(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.NumApplications)
	assert.Equal(t, "14.90", stored.TotalDiscount.StringFixed(2))

	voucher, err := s.GetVoucher(ctx, "WELCOME")
	require.NoError(t, err)
	assert.Equal(t, 1, voucher.NumOrders)

	apps, err := s.ListVoucherApplications(ctx, "WELCOME")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "EDX-100001", apps[0].OrderNumber)

	listed, err := s.ListAssignments(ctx, "WELCOME")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, assignments[0].ID, listed[0].ID)
	assert.Equal(t, domain.AssignmentRedeemed, listed[0].Status)
}

func TestPlaceOrderIsAtomic(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	offer := voucherOffer(t, s, 1)
	_, err := s.CreateVoucher(ctx, domain.Voucher{Code: "ONCE", Usage: domain.VoucherSingleUse, OfferIDs: []string{offer.ID}})
	require.NoError(t, err)

	first := openBasket(t, s)
	app := domain.OfferApplication{OfferID: offer.ID, Code: "ONCE", Discount: decimal.NewFromInt(5)}
	_, err = s.PlaceOrder(ctx, placement(first, "EDX-100001", app))
	require.NoError(t, err)

	stored, err := s.GetOffer(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusConsumed, stored.Status)

	second := openBasket(t, s)
	_, err = s.PlaceOrder(ctx, placement(second, "EDX-100002", app))
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.GetOrder(ctx, "EDX-100002")
	require.ErrorIs(t, err, store.ErrNotFound)
	basket, err := s.GetBasket(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BasketStatusOpen, basket.Status)
	voucher, err := s.GetVoucher(ctx, "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 1, voucher.NumOrders)
}

func TestAssignmentsAreUniquePerCodeAndEmail(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	offer := voucherOffer(t, s, 0)
	_, err := s.CreateVoucher(ctx, domain.Voucher{Code: "TEAM", Usage: domain.VoucherMultiUse, OfferIDs: []string{offer.ID}})
	require.NoError(t, err)

	created, err := s.CreateAssignments(ctx, []domain.OfferAssignment{{Code: "TEAM", UserEmail: "a@example.com"}})
	require.NoError(t, err)
	_, err = s.CreateAssignments(ctx, []domain.OfferAssignment{{Code: "team", UserEmail: "A@example.com"}})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.UpdateAssignmentStatus(ctx, created[0].ID, domain.AssignmentRedeemed, time.Now())
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	updated, err := s.UpdateAssignmentStatus(ctx, created[0].ID, domain.AssignmentAssigned, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentAssigned, updated.Status)
}

func TestCreateVoucherNeedsVoucherOffers(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	siteWide, err := s.CreateOffer(ctx, domain.Offer{Name: "site", Type: domain.OfferTypeSite, Status: domain.OfferStatusOpen, Partner: "edx"})
	require.NoError(t, err)

	_, err = s.CreateVoucher(ctx, domain.Voucher{Code: "BAD", Usage: domain.VoucherMultiUse, OfferIDs: []string{siteWide.ID}})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestRefundClaimsAndVersions(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	basket := openBasket(t, s)
	_, err := s.PlaceOrder(ctx, placement(basket, "EDX-100001"))
	require.NoError(t, err)

	refund := domain.Refund{
		OrderNumber: "EDX-100001",
		Status:      domain.RefundStatusOpen,
		Lines:       []domain.RefundLine{{ID: "rl-1", OrderLineID: "ol-1", Status: domain.RefundLineStatusOpen}},
	}
	created, err := s.CreateRefund(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)

	_, err = s.CreateRefund(ctx, refund)
	require.ErrorIs(t, err, store.ErrConflict)

	stale := created.Clone()
	created.Status = domain.RefundStatusDenied
	denied, err := s.UpdateRefund(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, 2, denied.Version)

	stale.Status = domain.RefundStatusPaymentRefunded
	_, err = s.UpdateRefund(ctx, stale)
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CreateRefund(ctx, refund)
	require.NoError(t, err, "a denied refund releases its lines")

	refunds, err := s.ListRefunds(ctx, "EDX-100001")
	require.NoError(t, err)
	assert.Len(t, refunds, 2)
}

func TestUpdateOrderCopiesStatuses(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	basket := openBasket(t, s)
	order, err := s.PlaceOrder(ctx, placement(basket, "EDX-100001"))
	require.NoError(t, err)

	order.Status = domain.OrderStatusComplete
	order.Lines[0].Status = domain.LineStatusComplete
	_, err = s.UpdateOrder(ctx, order)
	require.NoError(t, err)

	stored, err := s.GetOrder(ctx, "EDX-100001")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusComplete, stored.Status)
	assert.Equal(t, domain.LineStatusComplete, stored.Lines[0].Status)
}

func TestSeedUsersAreHashed(t *testing.T) {
	users, err := NewSeeded().ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, user := range users {
		assert.Contains(t, user.Password, "$2")
	}
}
