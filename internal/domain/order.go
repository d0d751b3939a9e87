package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusOpen             = "Open"
	OrderStatusComplete         = "Complete"
	OrderStatusFulfillmentError = "Fulfillment Error"
)

var orderTransitions = map[string][]string{
	OrderStatusOpen:             {OrderStatusComplete, OrderStatusFulfillmentError},
	OrderStatusFulfillmentError: {OrderStatusComplete},
}

const (
	LineStatusOpen               = "Open"
	LineStatusComplete           = "Complete"
	LineStatusConfigurationError = "Fulfillment Configuration Error"
	LineStatusNetworkError       = "Fulfillment Network Error"
	LineStatusTimeoutError       = "Fulfillment Timeout Error"
	LineStatusServerError        = "Fulfillment Server Error"
)

type Payment struct {
	Processor string `json:"processor"`
	Reference string `json:"reference"`
}

type Order struct {
	Number        string          `json:"number"`
	BasketID      int64           `json:"basket_id"`
	Site          Site            `json:"site"`
	Owner         User            `json:"owner"`
	Status        string          `json:"status"`
	Currency      string          `json:"currency"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	Total         decimal.Decimal `json:"total"`
	Payment       Payment         `json:"payment"`
	Lines         []OrderLine     `json:"lines"`
	Discounts     []Discount      `json:"discounts,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type OrderLine struct {
	ID           string          `json:"id"`
	Product      Product         `json:"product"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineDiscount decimal.Decimal `json:"line_discount"`
	LinePrice    decimal.Decimal `json:"line_price"`
	Status       string          `json:"status"`
}

func (o Order) CanTransition(to string) bool {
	return slices.Contains(orderTransitions[o.Status], to)
}

// AllLinesComplete reports whether every line reached Complete.
func (o Order) AllLinesComplete() bool {
	for _, line := range o.Lines {
		if line.Status != LineStatusComplete {
			return false
		}
	}
	return true
}

func (o *Order) Line(id string) (*OrderLine, bool) {
	for i := range o.Lines {
		if o.Lines[i].ID == id {
			return &o.Lines[i], true
		}
	}
	return nil, false
}

type OrderPlaceRequest struct {
	PaymentProcessor string `json:"payment_processor"`
	PaymentReference string `json:"payment_reference"`
	// ManualEnrollment marks an order staff create on a learner's behalf.
	ManualEnrollment bool `json:"manual_enrollment,omitempty"`
}

type OrderFulfillRequest struct {
	LineIDs []string `json:"line_ids,omitempty"`
}

type OrderDetail struct {
	Order           Order            `json:"order"`
	EnrollmentCodes []EnrollmentCode `json:"enrollment_codes,omitempty"`
	Refunds         []Refund         `json:"refunds,omitempty"`
}

// OfferApplication is the usage recorded against an offer when an order is placed.
type OfferApplication struct {
	OfferID  string          `json:"offer_id"`
	Code     string          `json:"voucher_code,omitempty"`
	Discount decimal.Decimal `json:"discount"`
}

// OrderPlacement groups everything that must be persisted atomically with a new order.
type OrderPlacement struct {
	BasketID     int64
	Order        Order
	Applications []OfferApplication
	Username     string
	UserEmail    string
}

type EnrollmentCode struct {
	Code        string    `json:"code"`
	OrderNumber string    `json:"order_number"`
	OrderLineID string    `json:"order_line_id"`
	CourseKey   string    `json:"course_key"`
	SeatType    string    `json:"seat_type"`
	CreatedAt   time.Time `json:"created_at"`
}
