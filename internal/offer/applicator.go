package offer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/metrics"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/tracing"
)

// Source loads offers and vouchers for evaluation.
type Source interface {
	ListSiteOffers(ctx context.Context, partner string) ([]domain.Offer, error)
	ListUserOffers(ctx context.Context, partner string, email string) ([]domain.Offer, error)
	GetOffer(ctx context.Context, id string) (domain.Offer, error)
	GetVoucher(ctx context.Context, code string) (domain.Voucher, error)
	ListVoucherApplications(ctx context.Context, code string) ([]domain.VoucherApplication, error)
}

// Candidate is an offer together with the voucher code it came through, if any.
type Candidate struct {
	domain.Offer
	VoucherCode string
}

type ApplyResult struct {
	Discounts    []domain.Discount
	Applications []domain.OfferApplication
}

func (r ApplyResult) TotalDiscount() decimal.Decimal {
	total := decimal.Zero
	for _, discount := range r.Discounts {
		total = total.Add(discount.Amount)
	}
	return total.Round(moneyPlaces)
}

type Applicator struct {
	source   Source
	registry *Registry
	metrics  *metrics.Metrics
}

func NewApplicator(source Source, registry *Registry, m *metrics.Metrics) *Applicator {
	return &Applicator{source: source, registry: registry, metrics: m}
}

// GetOffers gathers every candidate offer for the basket, keeps those that are
// available and satisfied, and orders them by priority. Equal priorities keep the
// order they were gathered in.
func (a *Applicator) GetOffers(ctx context.Context, ec EvaluationContext, basket *domain.Basket) ([]Candidate, error) {
	ctx, span := tracing.Tracer().Start(ctx, "offer.GetOffers", trace.WithAttributes(attribute.Int64("basket.id", basket.ID)))
	defer span.End()

	if ec.User == nil {
		ec.User = basket.Owner
	}

	var gathered []Candidate
	siteOffers, err := a.scopedSiteOffers(ctx, basket)
	if err != nil {
		return nil, err
	}
	gathered = append(gathered, siteOffers...)

	voucherOffers, err := a.voucherOffers(ctx, ec, basket)
	if err != nil {
		return nil, err
	}
	gathered = append(gathered, voucherOffers...)

	userOffers, err := a.userOffers(ctx, basket)
	if err != nil {
		return nil, err
	}
	gathered = append(gathered, userOffers...)
	gathered = append(gathered, a.sessionOffers(ec, basket)...)

	now := ec.now()
	survivors := make([]Candidate, 0, len(gathered))
	for _, candidate := range gathered {
		if reason := Available(candidate.Offer, ec.User, now); reason != "" {
			log.Debug().Str("offer_id", candidate.ID).Int64("basket_id", basket.ID).Msg("offer unavailable: " + reason)
			continue
		}
		if !a.registry.IsSatisfied(ctx, ec, candidate.Offer, basket) {
			continue
		}
		survivors = append(survivors, candidate)
	}

	slices.SortStableFunc(survivors, func(x, y Candidate) int {
		return y.Priority - x.Priority
	})
	span.SetAttributes(attribute.Int("offers.eligible", len(survivors)))
	return survivors, nil
}

// Apply resets the basket's discount bookkeeping and applies every eligible offer in
// order, each one only to units earlier offers left untouched.
func (a *Applicator) Apply(ctx context.Context, ec EvaluationContext, basket *domain.Basket) (ApplyResult, error) {
	basket.ResetDiscounts()
	candidates, err := a.GetOffers(ctx, ec, basket)
	if err != nil {
		return ApplyResult{}, err
	}

	var result ApplyResult
	for _, candidate := range candidates {
		lines := ApplicableLines(candidate.Benefit, basket)
		if len(lines) == 0 {
			continue
		}
		budget, capped := candidate.RemainingDiscount()
		lineDiscounts := Calculate(candidate.Offer, basket, lines, budget, capped)
		total := Total(lineDiscounts)
		if !total.IsPositive() {
			continue
		}
		Consume(basket, candidate.Consumption, lineDiscounts)

		result.Discounts = append(result.Discounts, domain.Discount{
			OfferID:   candidate.ID,
			OfferName: candidate.Name,
			Code:      candidate.VoucherCode,
			Amount:    total,
			Lines:     lineDiscounts,
		})
		result.Applications = append(result.Applications, domain.OfferApplication{
			OfferID:  candidate.ID,
			Code:     candidate.VoucherCode,
			Discount: total,
		})
		a.metrics.DiscountApplied(candidate.Type)
	}
	return result, nil
}

func (a *Applicator) scopedSiteOffers(ctx context.Context, basket *domain.Basket) ([]Candidate, error) {
	offers, err := a.source.ListSiteOffers(ctx, basket.Site.Partner)
	if err != nil {
		return nil, fmt.Errorf("list site offers: %w", err)
	}

	var keep func(domain.Offer) bool
	if bundle := basket.Attr(domain.BasketAttrBundle); bundle != "" {
		keep = func(o domain.Offer) bool {
			return (o.Condition.Kind == domain.ConditionBundleIntersection || o.Condition.Kind == domain.ConditionProgramSeats) &&
				o.Condition.Key() == bundle
		}
	} else if enterprise := basket.Attr(domain.BasketAttrEnterpriseCustomer); enterprise != "" {
		keep = func(o domain.Offer) bool {
			return o.Condition.IsEnterprise() && o.Condition.EnterpriseCustomerUUID == enterprise
		}
	}

	candidates := make([]Candidate, 0, len(offers))
	for _, o := range offers {
		if o.Type != domain.OfferTypeSite {
			continue
		}
		if keep != nil && !keep(o) {
			continue
		}
		candidates = append(candidates, Candidate{Offer: o})
	}
	return candidates, nil
}

func (a *Applicator) voucherOffers(ctx context.Context, ec EvaluationContext, basket *domain.Basket) ([]Candidate, error) {
	var candidates []Candidate
	for _, code := range basket.VoucherCodes {
		voucher, err := a.source.GetVoucher(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Str("code", code).Int64("basket_id", basket.ID).Msg("basket references unknown voucher")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get voucher %s: %w", code, err)
		}
		applications, err := a.source.ListVoucherApplications(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("list voucher applications %s: %w", code, err)
		}
		if reason := VoucherAvailable(voucher, ec.User, applications, ec.now()); reason != "" {
			log.Warn().Str("code", code).Int64("basket_id", basket.ID).Msg("voucher unavailable: " + reason)
			continue
		}
		for _, id := range voucher.OfferIDs {
			o, err := a.source.GetOffer(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get offer %s: %w", id, err)
			}
			if o.Type != domain.OfferTypeVoucher {
				continue
			}
			candidates = append(candidates, Candidate{Offer: o, VoucherCode: voucher.Code})
		}
	}
	return candidates, nil
}

func (a *Applicator) userOffers(ctx context.Context, basket *domain.Basket) ([]Candidate, error) {
	if basket.Owner == nil {
		return nil, nil
	}
	offers, err := a.source.ListUserOffers(ctx, basket.Site.Partner, basket.Owner.Email)
	if err != nil {
		return nil, fmt.Errorf("list user offers: %w", err)
	}
	candidates := make([]Candidate, 0, len(offers))
	for _, o := range offers {
		candidates = append(candidates, Candidate{Offer: o})
	}
	return candidates, nil
}

// sessionOffers is a hook for offers tied to the browsing session. None exist yet.
func (a *Applicator) sessionOffers(EvaluationContext, *domain.Basket) []Candidate {
	return nil
}
