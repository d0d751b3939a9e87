package offer

import (
	"context"

	"github.com/rs/zerolog/log"

	"coursecart/backend/internal/domain"
)

type Enterprise interface {
	GetLearner(ctx context.Context, site domain.Site, username string) (domain.LearnerAffiliation, bool, error)
}

type enterpriseEvaluator struct {
	catalog        Catalog
	enterprise     Enterprise
	requireConsent bool
}

func (e *enterpriseEvaluator) RequiredFlags() []string {
	return []string{SwitchEnterpriseOffers}
}

func (e *enterpriseEvaluator) IsSatisfied(ctx context.Context, ec EvaluationContext, offer domain.Offer, basket *domain.Basket) bool {
	if basket.Owner == nil || basket.Owner.Username == "" {
		ineligible(offer, basket, "anonymous basket")
		return false
	}
	if offer.Type == domain.OfferTypeVoucher && !ec.Flags.Active(SwitchEnterpriseOffersForCoupons) {
		ineligible(offer, basket, "switch "+SwitchEnterpriseOffersForCoupons+" inactive")
		return false
	}

	site := ec.site(basket)
	cond := offer.Condition
	learner, found, err := e.enterprise.GetLearner(ctx, site, basket.Owner.Username)
	if err != nil {
		log.Warn().Err(err).Str("offer_id", offer.ID).Int64("basket_id", basket.ID).
			Str("username", basket.Owner.Username).Msg("learner lookup failed")
		return false
	}

	switch {
	case found:
		if learner.EnterpriseCustomer.UUID != cond.EnterpriseCustomerUUID {
			ineligible(offer, basket, "learner belongs to another enterprise")
			return false
		}
	case e.requireConsent:
		ineligible(offer, basket, "no learner record to read consent from")
		return false
	case offer.Type == domain.OfferTypeVoucher:
		// First redemption of an enterprise coupon creates the affiliation.
	default:
		ineligible(offer, basket, "learner is not affiliated with an enterprise")
		return false
	}

	catalog := ec.query(QueryParamCatalog)
	if catalog == "" {
		catalog = basket.Attr(domain.BasketAttrEnterpriseCatalog)
	}
	if catalog != "" && catalog != cond.EnterpriseCatalogUUID {
		ineligible(offer, basket, "catalog "+catalog+" does not match offer catalog")
		return false
	}

	runs := make([]string, 0, len(basket.Lines))
	for _, line := range basket.Lines {
		key := line.Product.CourseKey()
		if key == "" {
			ineligible(offer, basket, "product "+line.Product.ID+" is not a course")
			return false
		}
		runs = append(runs, key)
	}

	if e.requireConsent && learner.EnterpriseCustomer.EnforcesConsent() {
		for _, run := range runs {
			if !learner.HasConsented(run) {
				ineligible(offer, basket, "no data sharing consent for "+run)
				return false
			}
		}
	}

	contains, err := e.catalog.ContainsCourseRuns(ctx, site, cond.EnterpriseCustomerUUID, cond.EnterpriseCatalogUUID, runs)
	if err != nil {
		lookupFailed(offer, basket, "enterprise_catalog", cond.EnterpriseCatalogUUID, err)
		return false
	}
	if !contains {
		ineligible(offer, basket, "course runs outside the enterprise catalog")
		return false
	}
	return true
}
