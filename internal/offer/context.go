package offer

import (
	"time"

	"coursecart/backend/internal/domain"
)

const (
	SwitchEnterpriseOffers           = "enable_enterprise_offers"
	SwitchEnterpriseOffersForCoupons = "enable_enterprise_offers_for_coupons"
)

const (
	PathwayBasket      = "basket"
	PathwayManualOrder = "manual_order"
)

// QueryParamCatalog names the enterprise catalog a learner arrived from.
const QueryParamCatalog = "catalog"

// Flags is a snapshot of feature switches taken when the request started.
type Flags map[string]bool

func (f Flags) Active(name string) bool {
	return f[name]
}

// EvaluationContext carries the request-scoped inputs of condition and benefit
// evaluation.
type EvaluationContext struct {
	Site        domain.Site
	User        *domain.User
	QueryParams map[string]string
	Flags       Flags
	Pathway     string
	Now         time.Time
}

func (ec EvaluationContext) now() time.Time {
	if ec.Now.IsZero() {
		return time.Now().UTC()
	}
	return ec.Now
}

func (ec EvaluationContext) site(basket *domain.Basket) domain.Site {
	if ec.Site.Domain == "" && basket != nil {
		return basket.Site
	}
	return ec.Site
}

func (ec EvaluationContext) query(key string) string {
	if ec.QueryParams == nil {
		return ""
	}
	return ec.QueryParams[key]
}
