package offer

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/upstream"
)

const partner = "edx"

var testSite = domain.Site{Domain: "courses.example.org", Partner: partner}

type fakeCatalog struct {
	bundles  map[string]domain.Bundle
	programs map[string]domain.Program
	contains bool
	err      error
	lastRuns []string
	lookups  int
}

func (f *fakeCatalog) GetBundle(_ context.Context, _ domain.Site, id string) (domain.Bundle, error) {
	f.lookups++
	if f.err != nil {
		return domain.Bundle{}, f.err
	}
	bundle, ok := f.bundles[id]
	if !ok {
		return domain.Bundle{}, upstream.ErrNotFound
	}
	return bundle, nil
}

func (f *fakeCatalog) GetProgram(_ context.Context, _ domain.Site, uuid string) (domain.Program, error) {
	f.lookups++
	if f.err != nil {
		return domain.Program{}, f.err
	}
	program, ok := f.programs[uuid]
	if !ok {
		return domain.Program{}, upstream.ErrNotFound
	}
	return program, nil
}

func (f *fakeCatalog) ContainsCourseRuns(_ context.Context, _ domain.Site, _ string, _ string, runs []string) (bool, error) {
	f.lookups++
	f.lastRuns = runs
	if f.err != nil {
		return false, f.err
	}
	return f.contains, nil
}

type fakeEnterprise struct {
	learner domain.LearnerAffiliation
	found   bool
	err     error
}

func (f *fakeEnterprise) GetLearner(context.Context, domain.Site, string) (domain.LearnerAffiliation, bool, error) {
	return f.learner, f.found, f.err
}

type fakeSource struct {
	site         []domain.Offer
	user         []domain.Offer
	offers       map[string]domain.Offer
	vouchers     map[string]domain.Voucher
	applications map[string][]domain.VoucherApplication
	err          error
}

func (f *fakeSource) ListSiteOffers(context.Context, string) ([]domain.Offer, error) {
	return f.site, f.err
}

func (f *fakeSource) ListUserOffers(context.Context, string, string) ([]domain.Offer, error) {
	return f.user, f.err
}

func (f *fakeSource) GetOffer(_ context.Context, id string) (domain.Offer, error) {
	o, ok := f.offers[id]
	if !ok {
		return domain.Offer{}, store.ErrNotFound
	}
	return o, nil
}

func (f *fakeSource) GetVoucher(_ context.Context, code string) (domain.Voucher, error) {
	v, ok := f.vouchers[code]
	if !ok {
		return domain.Voucher{}, store.ErrNotFound
	}
	return v, nil
}

func (f *fakeSource) ListVoucherApplications(_ context.Context, code string) ([]domain.VoucherApplication, error) {
	return f.applications[code], nil
}

// alwaysEvaluator satisfies every offer that passes the shared guard.
type alwaysEvaluator struct{}

func (alwaysEvaluator) IsSatisfied(context.Context, EvaluationContext, domain.Offer, *domain.Basket) bool {
	return true
}

const conditionAlways domain.ConditionKind = "always"

var errUpstreamDown = errors.New("catalog down")

func seat(id string, sku string, course string, seatType string, price string) domain.Product {
	return domain.Product{
		ID:      id,
		SKU:     sku,
		Title:   course + " " + seatType,
		Type:    domain.ProductTypeSeat,
		Partner: partner,
		Price:   decimal.RequireFromString(price),
		Attributes: map[string]string{
			domain.AttrCourseKey:       course,
			domain.AttrCertificateType: seatType,
		},
	}
}

func basketWith(products ...domain.Product) *domain.Basket {
	basket := &domain.Basket{
		ID:       7,
		Site:     testSite,
		Owner:    &domain.User{Username: "learner", Email: "learner@example.com"},
		Status:   domain.BasketStatusOpen,
		Currency: "USD",
	}
	for i, p := range products {
		basket.Lines = append(basket.Lines, domain.BasketLine{
			ID:        string(rune('a' + i)),
			Product:   p,
			Quantity:  1,
			UnitPrice: p.Price,
		})
	}
	return basket
}

func siteOffer(id string, priority int, cond domain.Condition) domain.Offer {
	return domain.Offer{
		ID:          id,
		Name:        "offer " + id,
		Priority:    priority,
		Type:        domain.OfferTypeSite,
		Status:      domain.OfferStatusOpen,
		Partner:     partner,
		Condition:   cond,
		Benefit:     domain.Benefit{Kind: domain.BenefitPercentage, Value: decimal.NewFromInt(10)},
		Consumption: domain.ConsumptionSingle,
	}
}
