package refund

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/xid"
)

// Build prepares an open refund for the selected lines of an order. Claims held by
// other refunds are checked by the store when the refund is saved.
func Build(order domain.Order, lineIDs []string, now time.Time) (domain.Refund, error) {
	if len(lineIDs) == 0 {
		return domain.Refund{}, fmt.Errorf("%w: no order lines selected", store.ErrInvalidTransaction)
	}
	if order.Status != domain.OrderStatusComplete && order.Status != domain.OrderStatusFulfillmentError {
		return domain.Refund{}, fmt.Errorf("%w: order %s is %s", store.ErrInvalidTransaction, order.Number, order.Status)
	}

	refund := domain.Refund{
		ID:                 xid.New("RFD"),
		OrderNumber:        order.Number,
		Username:           order.Owner.Username,
		Status:             domain.RefundStatusOpen,
		Currency:           order.Currency,
		TotalCreditExclTax: decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	seen := make(map[string]bool, len(lineIDs))
	for _, id := range lineIDs {
		if seen[id] {
			return domain.Refund{}, fmt.Errorf("%w: order line %s selected twice", store.ErrInvalidTransaction, id)
		}
		seen[id] = true
		line, ok := order.Line(id)
		if !ok {
			return domain.Refund{}, fmt.Errorf("%w: order %s has no line %s", store.ErrInvalidTransaction, order.Number, id)
		}
		refund.Lines = append(refund.Lines, domain.RefundLine{
			ID:                xid.New("RFL"),
			OrderLineID:       line.ID,
			Quantity:          line.Quantity,
			LineCreditExclTax: line.LinePrice,
			Status:            domain.RefundLineStatusOpen,
		})
		refund.TotalCreditExclTax = refund.TotalCreditExclTax.Add(line.LinePrice)
	}
	refund.TotalCreditExclTax = refund.TotalCreditExclTax.Round(2)
	return refund, nil
}
