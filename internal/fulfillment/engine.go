package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/metrics"
	"coursecart/backend/internal/tracing"
)

var (
	ErrInvalidTransition = errors.New("order cannot be completed from its current status")
	ErrModuleFailed      = errors.New("fulfillment module failed")
)

// Module grants what a product type entitles the buyer to.
type Module interface {
	Name() string
	Supports(line domain.OrderLine) bool
	// Fulfill sets the status of every given line. A returned error aborts the
	// remaining modules.
	Fulfill(ctx context.Context, order domain.Order, lines []*domain.OrderLine) error
	Revoke(ctx context.Context, order domain.Order, line domain.OrderLine) bool
}

type Engine struct {
	modules []Module
	metrics *metrics.Metrics
}

// NewEngine keeps modules in the given order; earlier modules claim lines first.
func NewEngine(modules []Module, m *metrics.Metrics) *Engine {
	return &Engine{modules: modules, metrics: m}
}

// FulfillOrder fulfills the named lines, or every line not yet complete when no ids
// are given, and then recomputes the order status.
func (e *Engine) FulfillOrder(ctx context.Context, order *domain.Order, lineIDs ...string) (err error) {
	if !order.CanTransition(domain.OrderStatusComplete) {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, order.Number, order.Status)
	}

	ctx, span := tracing.Tracer().Start(ctx, "fulfillment.FulfillOrder", trace.WithAttributes(attribute.String("order.number", order.Number)))
	defer span.End()

	pending := e.selectLines(order, lineIDs)

	defer func() {
		if recovered := recover(); recovered != nil {
			log.Error().Str("order_number", order.Number).Interface("panic", recovered).Msg("fulfillment module panicked")
			err = fmt.Errorf("%w: %v", ErrModuleFailed, recovered)
		}
		e.settle(order, pending)
		span.SetAttributes(attribute.String("order.status", order.Status))
	}()

	claimed := make(map[*domain.OrderLine]bool, len(pending))
	for _, module := range e.modules {
		var batch []*domain.OrderLine
		for _, line := range pending {
			if claimed[line] || !module.Supports(*line) {
				continue
			}
			claimed[line] = true
			batch = append(batch, line)
		}
		if len(batch) == 0 {
			continue
		}
		if err := module.Fulfill(ctx, *order, batch); err != nil {
			log.Error().Err(err).Str("order_number", order.Number).Str("module", module.Name()).Msg("fulfillment module failed")
			return fmt.Errorf("%w: %s: %w", ErrModuleFailed, module.Name(), err)
		}
	}

	for _, line := range pending {
		if claimed[line] {
			continue
		}
		log.Error().Str("order_number", order.Number).Str("line_id", line.ID).
			Str("product_type", line.Product.Type).Msg("no fulfillment module supports line")
		line.Status = domain.LineStatusConfigurationError
	}
	return nil
}

// RevokeLine undoes a line's fulfillment through the module that would have claimed it.
func (e *Engine) RevokeLine(ctx context.Context, order domain.Order, line domain.OrderLine) bool {
	for _, module := range e.modules {
		if !module.Supports(line) {
			continue
		}
		revoked := module.Revoke(ctx, order, line)
		if !revoked {
			log.Warn().Str("order_number", order.Number).Str("line_id", line.ID).Str("module", module.Name()).Msg("line revocation failed")
		}
		return revoked
	}
	log.Error().Str("order_number", order.Number).Str("line_id", line.ID).
		Str("product_type", line.Product.Type).Msg("no fulfillment module can revoke line")
	return false
}

func (e *Engine) selectLines(order *domain.Order, lineIDs []string) []*domain.OrderLine {
	lines := make([]*domain.OrderLine, 0, len(order.Lines))
	for i := range order.Lines {
		line := &order.Lines[i]
		if len(lineIDs) > 0 {
			if !slices.Contains(lineIDs, line.ID) {
				continue
			}
		} else if line.Status == domain.LineStatusComplete {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// settle runs once per FulfillOrder call, however the module loop ended.
func (e *Engine) settle(order *domain.Order, pending []*domain.OrderLine) {
	for _, line := range pending {
		e.metrics.LineFulfilled(line.Status)
	}
	if order.AllLinesComplete() {
		order.Status = domain.OrderStatusComplete
		return
	}
	order.Status = domain.OrderStatusFulfillmentError
}
