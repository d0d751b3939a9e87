package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RefundStatusOpen               = "Open"
	RefundStatusPaymentRefundError = "Payment Refund Error"
	RefundStatusPaymentRefunded    = "Payment Refunded"
	RefundStatusRevocationError    = "Revocation Error"
	RefundStatusComplete           = "Complete"
	RefundStatusDenied             = "Denied"
)

var refundTransitions = map[string][]string{
	RefundStatusOpen:               {RefundStatusPaymentRefundError, RefundStatusPaymentRefunded, RefundStatusDenied},
	RefundStatusPaymentRefundError: {RefundStatusPaymentRefunded},
	RefundStatusPaymentRefunded:    {RefundStatusComplete, RefundStatusRevocationError},
	RefundStatusRevocationError:    {RefundStatusComplete},
}

const (
	RefundLineStatusOpen            = "Open"
	RefundLineStatusRevocationError = "Revocation Error"
	RefundLineStatusDenied          = "Denied"
	RefundLineStatusComplete        = "Complete"
)

var refundLineTransitions = map[string][]string{
	RefundLineStatusOpen:            {RefundLineStatusRevocationError, RefundLineStatusDenied, RefundLineStatusComplete},
	RefundLineStatusRevocationError: {RefundLineStatusComplete},
}

// CanTransitionRefund reports whether the refund pipeline allows from -> to.
func CanTransitionRefund(from string, to string) bool {
	return slices.Contains(refundTransitions[from], to)
}

func CanTransitionRefundLine(from string, to string) bool {
	return slices.Contains(refundLineTransitions[from], to)
}

type Refund struct {
	ID                 string          `json:"id"`
	OrderNumber        string          `json:"order_number"`
	Username           string          `json:"username"`
	Status             string          `json:"status"`
	Currency           string          `json:"currency"`
	TotalCreditExclTax decimal.Decimal `json:"total_credit_excl_tax"`
	Lines              []RefundLine    `json:"lines"`
	Version            int             `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type RefundLine struct {
	ID                string          `json:"id"`
	OrderLineID       string          `json:"order_line_id"`
	Quantity          int             `json:"quantity"`
	LineCreditExclTax decimal.Decimal `json:"line_credit_excl_tax"`
	Status            string          `json:"status"`
}

// CanApprove is false once the refund reached a terminal status.
func (r Refund) CanApprove() bool {
	return r.Status != RefundStatusComplete && r.Status != RefundStatusDenied
}

func (r Refund) CanDeny() bool {
	return r.Status == RefundStatusOpen
}

// IsActive reports whether the refund still holds a claim on its order lines.
func (r Refund) IsActive() bool {
	return r.Status != RefundStatusDenied
}

func (r Refund) Clone() Refund {
	dup := r
	dup.Lines = append([]RefundLine(nil), r.Lines...)
	return dup
}

type RefundCreateRequest struct {
	OrderNumber string   `json:"order_number"`
	LineIDs     []string `json:"line_ids"`
}

type RefundDecisionRequest struct {
	ManagerPIN string `json:"manager_pin"`
}

type RefundDecisionResponse struct {
	Refund    Refund `json:"refund"`
	Succeeded bool   `json:"succeeded"`
}
