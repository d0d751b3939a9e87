package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/events"
	"coursecart/backend/internal/fulfillment"
	"coursecart/backend/internal/offer"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/tracing"
	"coursecart/backend/internal/xid"
)

// OrderNumber derives the public order number from the basket id.
func OrderNumber(prefix string, basketID int64) string {
	return fmt.Sprintf("%s-%d", prefix, 100000+basketID)
}

// PlaceOrder prices the basket one last time, persists the order together with
// offer usage, and fulfills it. A placed order is returned even when fulfillment
// leaves lines in error; those can be retried with FulfillOrder.
func (s *Service) PlaceOrder(ctx context.Context, basketID int64, req domain.OrderPlaceRequest) (domain.Order, error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.PlaceOrder", trace.WithAttributes(attribute.Int64("basket.id", basketID)))
	defer span.End()

	pathway := offer.PathwayBasket
	if req.ManualEnrollment {
		if _, ok := ActorFromContext(ctx); !ok {
			return domain.Order{}, ErrForbidden
		}
		pathway = offer.PathwayManualOrder
	}

	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return domain.Order{}, err
	}
	if basket.Status != domain.BasketStatusOpen {
		return domain.Order{}, fmt.Errorf("%w: basket %d is %s", store.ErrConflict, basket.ID, basket.Status)
	}
	if basket.Owner == nil || basket.Owner.Username == "" {
		return domain.Order{}, fmt.Errorf("%w: basket %d has no owner", store.ErrInvalidTransaction, basket.ID)
	}
	if basket.IsEmpty() {
		return domain.Order{}, fmt.Errorf("%w: basket %d is empty", store.ErrInvalidTransaction, basket.ID)
	}

	ec := s.evaluationContext(ctx, basket, nil, pathway)
	result, err := s.applicator.Apply(ctx, ec, &basket)
	if err != nil {
		return domain.Order{}, err
	}

	order := buildOrder(basket, result, OrderNumber(s.opts.OrderNumberPrefix, basket.ID), domain.Payment{
		Processor: strings.TrimSpace(req.PaymentProcessor),
		Reference: strings.TrimSpace(req.PaymentReference),
	}, s.now().UTC())
	if order.Total.IsPositive() && order.Payment.Reference == "" {
		return domain.Order{}, fmt.Errorf("%w: payment reference required for a paid order", store.ErrInvalidTransaction)
	}

	placed, err := s.repo.PlaceOrder(ctx, domain.OrderPlacement{
		BasketID:     basket.ID,
		Order:        order,
		Applications: result.Applications,
		Username:     basket.Owner.Username,
		UserEmail:    basket.Owner.Email,
	})
	if err != nil {
		return domain.Order{}, err
	}
	span.SetAttributes(attribute.String("order.number", placed.Number))
	s.publish(ctx, events.TypeOrderPlaced, placed.Number, placed)
	if req.ManualEnrollment {
		s.logAudit(ctx, placed.Site.Partner, "manual_order_place", "order", placed.Number, fmt.Sprintf("learner=%s,lines=%d", placed.Owner.Username, len(placed.Lines)))
	}

	fulfilled, err := s.fulfill(ctx, placed)
	if err != nil {
		log.Error().Err(err).Str("order_number", placed.Number).Msg("order placed but fulfillment could not be saved")
		return placed, nil
	}
	return fulfilled, nil
}

func buildOrder(basket domain.Basket, result offer.ApplyResult, number string, payment domain.Payment, now time.Time) domain.Order {
	lines := make([]domain.OrderLine, 0, len(basket.Lines))
	for _, line := range basket.Lines {
		discount := line.Discount.Round(2)
		lines = append(lines, domain.OrderLine{
			ID:           xid.New("ol"),
			Product:      line.Product,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			LineDiscount: discount,
			LinePrice:    line.LineTotal().Sub(discount).Round(2),
			Status:       domain.LineStatusOpen,
		})
	}
	subtotal := basket.Total().Round(2)
	totalDiscount := basket.TotalDiscount()
	return domain.Order{
		Number:        number,
		BasketID:      basket.ID,
		Site:          basket.Site,
		Owner:         *basket.Owner,
		Status:        domain.OrderStatusOpen,
		Currency:      basket.Currency,
		Subtotal:      subtotal,
		TotalDiscount: totalDiscount,
		Total:         subtotal.Sub(totalDiscount),
		Payment:       payment,
		Lines:         lines,
		Discounts:     result.Discounts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// fulfill runs the fulfillment engine and persists whatever statuses it produced.
func (s *Service) fulfill(ctx context.Context, order domain.Order, lineIDs ...string) (domain.Order, error) {
	ferr := s.fulfillment.FulfillOrder(ctx, &order, lineIDs...)
	if errors.Is(ferr, fulfillment.ErrInvalidTransition) {
		return domain.Order{}, fmt.Errorf("%w: %v", store.ErrConflict, ferr)
	}
	if ferr != nil {
		log.Warn().Err(ferr).Str("order_number", order.Number).Msg("fulfillment incomplete")
	}

	saved, err := s.repo.UpdateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	if saved.Status == domain.OrderStatusComplete {
		s.publish(ctx, events.TypeOrderFulfilled, saved.Number, saved)
	}
	return saved, nil
}

// FulfillOrder retries fulfillment of an order, for all incomplete lines or only the
// given ones.
func (s *Service) FulfillOrder(ctx context.Context, number string, req domain.OrderFulfillRequest) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, number)
	if err != nil {
		return domain.Order{}, err
	}
	for _, id := range req.LineIDs {
		if _, ok := order.Line(id); !ok {
			return domain.Order{}, fmt.Errorf("%w: order line %s", store.ErrNotFound, id)
		}
	}
	saved, err := s.fulfill(ctx, order, req.LineIDs...)
	if err != nil {
		return domain.Order{}, err
	}
	s.logAudit(ctx, saved.Site.Partner, "order_fulfill", "order", saved.Number, "status="+saved.Status)
	return saved, nil
}

func (s *Service) GetOrder(ctx context.Context, number string) (domain.OrderDetail, error) {
	order, err := s.repo.GetOrder(ctx, number)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	codes, err := s.repo.ListEnrollmentCodes(ctx, number)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	refunds, err := s.repo.ListRefunds(ctx, number)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	return domain.OrderDetail{Order: order, EnrollmentCodes: codes, Refunds: refunds}, nil
}
