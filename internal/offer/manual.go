package offer

import (
	"context"
	"slices"

	"github.com/rs/zerolog/log"

	"coursecart/backend/internal/domain"
)

// manualEnrollmentEvaluator only fires for orders staff create by hand for one learner.
type manualEnrollmentEvaluator struct {
	allowedSeats []string
}

func (e *manualEnrollmentEvaluator) IsSatisfied(_ context.Context, ec EvaluationContext, offer domain.Offer, basket *domain.Basket) bool {
	productIDs := make([]string, 0, len(basket.Lines))
	for _, line := range basket.Lines {
		productIDs = append(productIDs, line.Product.ID)
	}
	reject := func(reason string, productType string) bool {
		log.Warn().
			Str("offer_id", offer.ID).
			Int64("basket_id", basket.ID).
			Strs("product_ids", productIDs).
			Str("product_type", productType).
			Msg("manual enrollment offer not satisfied: " + reason)
		return false
	}

	if ec.Pathway != PathwayManualOrder {
		return reject("not a manual order", "")
	}
	if offer.Type != domain.OfferTypeUser {
		return reject("offer is not user scoped", "")
	}
	if len(basket.Lines) != 1 {
		return reject("basket must hold exactly one line", "")
	}
	product := basket.Lines[0].Product
	if product.Type != domain.ProductTypeSeat {
		return reject("product is not a course seat", product.Type)
	}
	if !slices.Contains(e.allowedSeats, product.SeatType()) {
		return reject("seat type "+product.SeatType()+" not allowed", product.Type)
	}
	return true
}
