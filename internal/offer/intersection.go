package offer

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog/log"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/upstream"
)

// Catalog is the read side of the course catalog service.
type Catalog interface {
	GetBundle(ctx context.Context, site domain.Site, bundleID string) (domain.Bundle, error)
	GetProgram(ctx context.Context, site domain.Site, programUUID string) (domain.Program, error)
	ContainsCourseRuns(ctx context.Context, site domain.Site, enterpriseUUID string, catalogUUID string, courseRunIDs []string) (bool, error)
}

type skuSet map[string]struct{}

func basketSKUs(basket *domain.Basket) skuSet {
	set := make(skuSet, len(basket.Lines))
	for _, line := range basket.Lines {
		if line.Product.SKU != "" {
			set[line.Product.SKU] = struct{}{}
		}
	}
	return set
}

func (s skuSet) has(sku string) bool {
	_, ok := s[sku]
	return ok
}

// MatchCourses walks the courses in order, requiring each to share at least one
// applicable SKU with what is left of the basket and then removing that course's
// SKUs from the remainder. The returned remainder is a working copy.
func MatchCourses(courses []domain.CatalogCourse, basket map[string]struct{}, allowedSeats []string) (map[string]struct{}, bool) {
	remaining := make(skuSet, len(basket))
	for sku := range basket {
		remaining[sku] = struct{}{}
	}

	for _, course := range courses {
		applicable := applicableSKUs(course, allowedSeats)
		matched := false
		for _, sku := range applicable {
			if remaining.has(sku) {
				matched = true
				break
			}
		}
		if !matched {
			return remaining, false
		}
		for _, sku := range applicable {
			delete(remaining, sku)
		}
	}
	return remaining, true
}

func applicableSKUs(course domain.CatalogCourse, allowedSeats []string) []string {
	skus := make([]string, 0, len(course.Seats))
	for _, seat := range course.Seats {
		if seat.SKU == "" {
			continue
		}
		if len(allowedSeats) > 0 && !slices.Contains(allowedSeats, seat.Type) {
			continue
		}
		skus = append(skus, seat.SKU)
	}
	return skus
}

type bundleEvaluator struct {
	catalog      Catalog
	allowedSeats []string
}

func (e *bundleEvaluator) IsSatisfied(ctx context.Context, ec EvaluationContext, offer domain.Offer, basket *domain.Basket) bool {
	bundle, err := e.catalog.GetBundle(ctx, ec.site(basket), offer.Condition.BundleID)
	if err != nil {
		lookupFailed(offer, basket, "bundle", offer.Condition.BundleID, err)
		return false
	}

	remaining, ok := MatchCourses(bundle.Courses, basketSKUs(basket), e.allowedSeats)
	if !ok {
		ineligible(offer, basket, "basket does not cover every bundle course")
		return false
	}
	if bundle.PairedSKU != "" {
		if _, ok := remaining[bundle.PairedSKU]; !ok {
			ineligible(offer, basket, "paired sku "+bundle.PairedSKU+" missing")
			return false
		}
	}
	for _, sku := range bundle.RequiredSKUs {
		if _, ok := remaining[sku]; !ok {
			ineligible(offer, basket, "required sku "+sku+" missing")
			return false
		}
	}
	return true
}

type programEvaluator struct {
	catalog      Catalog
	allowedSeats []string
}

func (e *programEvaluator) IsSatisfied(ctx context.Context, ec EvaluationContext, offer domain.Offer, basket *domain.Basket) bool {
	program, err := e.catalog.GetProgram(ctx, ec.site(basket), offer.Condition.ProgramUUID)
	if err != nil {
		lookupFailed(offer, basket, "program", offer.Condition.ProgramUUID, err)
		return false
	}
	if _, ok := MatchCourses(program.Courses, basketSKUs(basket), e.allowedSeats); !ok {
		ineligible(offer, basket, "basket does not cover every program course")
		return false
	}
	return true
}

func lookupFailed(offer domain.Offer, basket *domain.Basket, resource string, key string, err error) {
	event := log.Warn().Err(err).Str("offer_id", offer.ID).Int64("basket_id", basket.ID).Str(resource, key)
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		event.Msg(resource + " not found")
	case upstream.IsUnavailable(err):
		event.Msg(resource + " lookup unavailable")
	default:
		event.Msg(resource + " lookup failed")
	}
}
