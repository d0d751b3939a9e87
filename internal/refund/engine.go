package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/events"
	"coursecart/backend/internal/metrics"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/tracing"
)

// Store persists refunds. UpdateRefund must reject a refund whose Version is stale
// with store.ErrConflict and return the saved refund with its new version.
type Store interface {
	UpdateRefund(ctx context.Context, refund domain.Refund) (domain.Refund, error)
	GetOrder(ctx context.Context, number string) (domain.Order, error)
}

type PaymentProcessor interface {
	IssueCredit(ctx context.Context, req domain.CreditRequest) (string, error)
}

type LineRevoker interface {
	RevokeLine(ctx context.Context, order domain.Order, line domain.OrderLine) bool
}

type Engine struct {
	store     Store
	payments  PaymentProcessor
	revoker   LineRevoker
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewEngine(s Store, payments PaymentProcessor, revoker LineRevoker, publisher events.Publisher, m *metrics.Metrics) *Engine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Engine{
		store:     s,
		payments:  payments,
		revoker:   revoker,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
	}
}

// Approve credits the buyer and then revokes what each refunded line granted. It
// returns true only when the refund reached Complete during this call.
func (e *Engine) Approve(ctx context.Context, refund *domain.Refund) bool {
	if !refund.CanApprove() {
		return false
	}

	ctx, span := tracing.Tracer().Start(ctx, "refund.Approve", trace.WithAttributes(attribute.String("refund.id", refund.ID)))
	defer span.End()
	logger := log.With().Str("refund_id", refund.ID).Str("order_number", refund.OrderNumber).Logger()

	// Claim the refund first so a concurrent approval holding the same version
	// fails before anything is credited.
	if err := e.save(ctx, refund); err != nil {
		logger.Warn().Err(err).Msg("refund approval lost the claim")
		return false
	}

	order, err := e.store.GetOrder(ctx, refund.OrderNumber)
	if err != nil {
		logger.Error().Err(err).Msg("load refunded order")
		return false
	}

	if refund.Status == domain.RefundStatusOpen || refund.Status == domain.RefundStatusPaymentRefundError {
		if !e.credit(ctx, refund, order) {
			return false
		}
	}

	if refund.Status != domain.RefundStatusPaymentRefunded && refund.Status != domain.RefundStatusRevocationError {
		return false
	}
	return e.revoke(ctx, refund, order)
}

func (e *Engine) credit(ctx context.Context, refund *domain.Refund, order domain.Order) bool {
	logger := log.With().Str("refund_id", refund.ID).Str("order_number", refund.OrderNumber).Logger()

	if refund.TotalCreditExclTax.IsZero() {
		logger.Info().Msg("zero credit refund, skipping payment processor")
		return e.transition(ctx, refund, domain.RefundStatusPaymentRefunded)
	}

	reference, err := e.payments.IssueCredit(ctx, domain.CreditRequest{
		OrderNumber:   order.Number,
		BasketID:      order.BasketID,
		TransactionID: order.Payment.Reference,
		Amount:        refund.TotalCreditExclTax,
		Currency:      refund.Currency,
	})
	if err != nil {
		logger.Error().Err(err).Str("processor", order.Payment.Processor).Msg("issue credit failed")
		// A failed retry keeps the status; the claim saved by Approve already holds it.
		if refund.Status != domain.RefundStatusPaymentRefundError {
			e.transition(ctx, refund, domain.RefundStatusPaymentRefundError)
		}
		return false
	}
	logger.Info().Str("credit_reference", reference).Msg("credit issued")
	return e.transition(ctx, refund, domain.RefundStatusPaymentRefunded)
}

func (e *Engine) revoke(ctx context.Context, refund *domain.Refund, order domain.Order) bool {
	allRevoked := true
	for i := range refund.Lines {
		line := &refund.Lines[i]
		if line.Status == domain.RefundLineStatusComplete {
			continue
		}
		orderLine, ok := order.Line(line.OrderLineID)
		revoked := ok && e.revoker.RevokeLine(ctx, order, *orderLine)
		if !ok {
			log.Error().Str("refund_id", refund.ID).Str("order_line_id", line.OrderLineID).Msg("refund line references unknown order line")
		}
		if revoked {
			line.Status = domain.RefundLineStatusComplete
			continue
		}
		allRevoked = false
		if line.Status != domain.RefundLineStatusRevocationError {
			line.Status = domain.RefundLineStatusRevocationError
		}
	}

	if !allRevoked {
		if refund.Status != domain.RefundStatusRevocationError {
			e.transition(ctx, refund, domain.RefundStatusRevocationError)
		} else if err := e.save(ctx, refund); err != nil {
			log.Error().Err(err).Str("refund_id", refund.ID).Msg("save refund lines")
		}
		return false
	}

	if !e.transition(ctx, refund, domain.RefundStatusComplete) {
		return false
	}
	e.publish(ctx, events.TypeRefundCompleted, refund)
	return true
}

// Deny closes an open refund and denies each of its lines. One line failing does not
// stop the others; the result reports whether every line was denied.
func (e *Engine) Deny(ctx context.Context, refund *domain.Refund) bool {
	if !refund.CanDeny() {
		return false
	}
	if !e.transition(ctx, refund, domain.RefundStatusDenied) {
		return false
	}

	allDenied := true
	for i := range refund.Lines {
		line := &refund.Lines[i]
		if !domain.CanTransitionRefundLine(line.Status, domain.RefundLineStatusDenied) {
			log.Warn().Str("refund_id", refund.ID).Str("refund_line_id", line.ID).
				Str("status", line.Status).Msg("refund line cannot be denied")
			allDenied = false
			continue
		}
		line.Status = domain.RefundLineStatusDenied
	}
	if err := e.save(ctx, refund); err != nil {
		log.Error().Err(err).Str("refund_id", refund.ID).Msg("save denied refund lines")
		allDenied = false
	}
	e.publish(ctx, events.TypeRefundDenied, refund)
	return allDenied
}

func (e *Engine) transition(ctx context.Context, refund *domain.Refund, to string) bool {
	if !domain.CanTransitionRefund(refund.Status, to) {
		log.Error().Str("refund_id", refund.ID).Str("from", refund.Status).Str("to", to).Msg("refund transition not allowed")
		return false
	}
	from := refund.Status
	refund.Status = to
	if err := e.save(ctx, refund); err != nil {
		log.Error().Err(err).Str("refund_id", refund.ID).Str("from", from).Str("to", to).Msg("persist refund transition")
		refund.Status = from
		return false
	}
	e.metrics.RefundTransitioned(to)
	return true
}

func (e *Engine) save(ctx context.Context, refund *domain.Refund) error {
	refund.UpdatedAt = e.now().UTC()
	saved, err := e.store.UpdateRefund(ctx, *refund)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("refund %s changed concurrently: %w", refund.ID, err)
		}
		return err
	}
	*refund = saved
	return nil
}

func (e *Engine) publish(ctx context.Context, eventType string, refund *domain.Refund) {
	err := e.publisher.Publish(ctx, events.Event{
		Type:       eventType,
		Key:        refund.OrderNumber,
		OccurredAt: e.now().UTC(),
		Payload:    refund.Clone(),
	})
	if err != nil {
		log.Warn().Err(err).Str("refund_id", refund.ID).Str("event", eventType).Msg("publish refund event")
	}
}
