package offer

import (
	"context"

	"github.com/rs/zerolog/log"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/metrics"
)

// Evaluator decides whether a basket qualifies for an offer. Evaluators never return
// errors: upstream failures read as "not satisfied".
type Evaluator interface {
	IsSatisfied(ctx context.Context, ec EvaluationContext, offer domain.Offer, basket *domain.Basket) bool
}

// FlagRequirer is implemented by evaluators gated behind feature switches.
type FlagRequirer interface {
	RequiredFlags() []string
}

type Options struct {
	AllowedSeatTypes          []string
	ManualEnrollmentSeatTypes []string
}

// Registry maps a condition kind to its evaluator.
type Registry struct {
	evaluators map[domain.ConditionKind]Evaluator
	metrics    *metrics.Metrics
}

func NewRegistry(catalog Catalog, enterprise Enterprise, opts Options, m *metrics.Metrics) *Registry {
	if len(opts.AllowedSeatTypes) == 0 {
		opts.AllowedSeatTypes = domain.PaidSeatTypes
	}
	if len(opts.ManualEnrollmentSeatTypes) == 0 {
		opts.ManualEnrollmentSeatTypes = domain.PaidSeatTypes
	}

	r := &Registry{evaluators: make(map[domain.ConditionKind]Evaluator), metrics: m}
	r.Register(domain.ConditionBundleIntersection, &bundleEvaluator{catalog: catalog, allowedSeats: opts.AllowedSeatTypes})
	r.Register(domain.ConditionProgramSeats, &programEvaluator{catalog: catalog, allowedSeats: opts.AllowedSeatTypes})
	r.Register(domain.ConditionEnterpriseCustomer, &enterpriseEvaluator{catalog: catalog, enterprise: enterprise})
	r.Register(domain.ConditionEnterpriseCustomerConsent, &enterpriseEvaluator{catalog: catalog, enterprise: enterprise, requireConsent: true})
	r.Register(domain.ConditionManualEnrollment, &manualEnrollmentEvaluator{allowedSeats: opts.ManualEnrollmentSeatTypes})
	return r
}

func (r *Registry) Register(kind domain.ConditionKind, evaluator Evaluator) {
	r.evaluators[kind] = evaluator
}

func (r *Registry) Supports(kind domain.ConditionKind) bool {
	_, ok := r.evaluators[kind]
	return ok
}

// IsSatisfied runs the shared guard and then the variant's own check.
func (r *Registry) IsSatisfied(ctx context.Context, ec EvaluationContext, offer domain.Offer, basket *domain.Basket) bool {
	satisfied := r.isSatisfied(ctx, ec, offer, basket)
	r.metrics.ConditionEvaluated(string(offer.Condition.Kind), satisfied)
	return satisfied
}

func (r *Registry) isSatisfied(ctx context.Context, ec EvaluationContext, offer domain.Offer, basket *domain.Basket) bool {
	evaluator, ok := r.evaluators[offer.Condition.Kind]
	if !ok {
		log.Warn().Str("offer_id", offer.ID).Str("kind", string(offer.Condition.Kind)).Msg("no evaluator registered for condition")
		return false
	}
	if reason := guard(ec, offer, basket, evaluator); reason != "" {
		ineligible(offer, basket, reason)
		return false
	}
	return evaluator.IsSatisfied(ctx, ec, offer, basket)
}

// guard returns a non-empty reason when the basket cannot satisfy any condition.
func guard(ec EvaluationContext, offer domain.Offer, basket *domain.Basket, evaluator Evaluator) string {
	if basket == nil {
		return "no basket"
	}
	if offer.Partner != basket.Site.Partner {
		return "partner mismatch"
	}
	if basket.IsEmpty() {
		return "empty basket"
	}
	if basket.Total().IsZero() {
		return "zero basket total"
	}
	if flagged, ok := evaluator.(FlagRequirer); ok {
		for _, name := range flagged.RequiredFlags() {
			if !ec.Flags.Active(name) {
				return "switch " + name + " inactive"
			}
		}
	}
	return ""
}

func ineligible(offer domain.Offer, basket *domain.Basket, reason string) {
	event := log.Warn().Str("offer_id", offer.ID).Str("condition", string(offer.Condition.Kind))
	if basket != nil {
		event = event.Int64("basket_id", basket.ID)
	}
	event.Msg("offer condition not satisfied: " + reason)
}
