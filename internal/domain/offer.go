package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OfferTypeSite    = "Site"
	OfferTypeVoucher = "Voucher"
	OfferTypeUser    = "User"
	OfferTypeSession = "Session"
)

const (
	OfferStatusOpen      = "Open"
	OfferStatusSuspended = "Suspended"
	OfferStatusConsumed  = "Consumed"
)

const (
	ConsumptionSingle = "single"
	ConsumptionMulti  = "multi"
)

type ConditionKind string

const (
	ConditionBundleIntersection        ConditionKind = "bundle_intersection"
	ConditionEnterpriseCustomer        ConditionKind = "enterprise_customer"
	ConditionEnterpriseCustomerConsent ConditionKind = "enterprise_customer_consent"
	ConditionProgramSeats              ConditionKind = "program_seats"
	ConditionManualEnrollment          ConditionKind = "manual_enrollment_single_item"
)

// Condition is a tagged variant; only the key matching Kind is meaningful.
type Condition struct {
	Kind                   ConditionKind `json:"kind"`
	BundleID               string        `json:"bundle_id,omitempty"`
	ProgramUUID            string        `json:"program_uuid,omitempty"`
	EnterpriseCustomerUUID string        `json:"enterprise_customer_uuid,omitempty"`
	EnterpriseCatalogUUID  string        `json:"enterprise_catalog_uuid,omitempty"`
}

// Key returns the identifier the condition is scoped by.
func (c Condition) Key() string {
	switch c.Kind {
	case ConditionBundleIntersection:
		return c.BundleID
	case ConditionProgramSeats:
		return c.ProgramUUID
	case ConditionEnterpriseCustomer, ConditionEnterpriseCustomerConsent:
		return c.EnterpriseCustomerUUID
	}
	return ""
}

func (c Condition) IsEnterprise() bool {
	return c.Kind == ConditionEnterpriseCustomer || c.Kind == ConditionEnterpriseCustomerConsent
}

type BenefitKind string

const (
	BenefitPercentage BenefitKind = "Percentage"
	BenefitFixed      BenefitKind = "Fixed"
)

type Range struct {
	SKUs []string `json:"skus"`
}

func (r *Range) Contains(p Product) bool {
	if r == nil {
		return false
	}
	return slices.Contains(r.SKUs, p.SKU)
}

type Benefit struct {
	Kind     BenefitKind     `json:"kind"`
	Value    decimal.Decimal `json:"value"`
	HasRange bool            `json:"has_range"`
	Range    *Range          `json:"range,omitempty"`
}

type Offer struct {
	ID                    string           `json:"id"`
	Name                  string           `json:"name"`
	Priority              int              `json:"priority"`
	Type                  string           `json:"type"`
	Status                string           `json:"status"`
	Partner               string           `json:"partner"`
	StartAt               *time.Time       `json:"start_at,omitempty"`
	EndAt                 *time.Time       `json:"end_at,omitempty"`
	EmailDomains          []string         `json:"email_domains,omitempty"`
	UserEmail             string           `json:"user_email,omitempty"`
	Condition             Condition        `json:"condition"`
	Benefit               Benefit          `json:"benefit"`
	Consumption           string           `json:"consumption"`
	MaxGlobalApplications int              `json:"max_global_applications,omitempty"`
	NumApplications       int              `json:"num_applications"`
	MaxDiscount           *decimal.Decimal `json:"max_discount,omitempty"`
	TotalDiscount         decimal.Decimal  `json:"total_discount"`
	CreatedAt             time.Time        `json:"created_at"`
}

// AllowsEmail checks the email-domain allow list; an empty list allows anyone.
func (o Offer) AllowsEmail(email string) bool {
	if len(o.EmailDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range o.EmailDomains {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}

// RemainingDiscount returns the budget left under MaxDiscount and whether a cap applies.
func (o Offer) RemainingDiscount() (decimal.Decimal, bool) {
	if o.MaxDiscount == nil {
		return decimal.Zero, false
	}
	remaining := o.MaxDiscount.Sub(o.TotalDiscount)
	if remaining.IsNegative() {
		return decimal.Zero, true
	}
	return remaining, true
}

const (
	VoucherSingleUse           = "Single use"
	VoucherMultiUse            = "Multi-use"
	VoucherMultiUsePerCustomer = "Multi-use-per-Customer"
	VoucherOncePerCustomer     = "Once per customer"
)

type Voucher struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Usage     string    `json:"usage"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	OfferIDs  []string  `json:"offer_ids"`
	NumOrders int       `json:"num_orders"`
	MaxUses   int       `json:"max_uses,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VoucherApplication records one redemption of a voucher by a user.
type VoucherApplication struct {
	Code        string    `json:"code"`
	Username    string    `json:"username"`
	OrderNumber string    `json:"order_number"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	AssignmentEmailPending = "EMAIL_PENDING"
	AssignmentAssigned     = "ASSIGNED"
	AssignmentRedeemed     = "REDEEMED"
	AssignmentEmailBounced = "EMAIL_BOUNCED"
	AssignmentRevoked      = "REVOKED"
)

var assignmentTransitions = map[string][]string{
	AssignmentEmailPending: {AssignmentAssigned, AssignmentEmailBounced, AssignmentRevoked},
	AssignmentAssigned:     {AssignmentRedeemed, AssignmentEmailBounced, AssignmentRevoked},
	AssignmentEmailBounced: {AssignmentAssigned, AssignmentRevoked},
}

type OfferAssignment struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	UserEmail string    `json:"user_email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a OfferAssignment) CanTransition(to string) bool {
	return slices.Contains(assignmentTransitions[a.Status], to)
}

// Discount is the outcome of one offer applied to a basket.
type Discount struct {
	OfferID   string          `json:"offer_id"`
	OfferName string          `json:"offer_name"`
	Code      string          `json:"voucher_code,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Lines     []LineDiscount  `json:"lines"`
}

type LineDiscount struct {
	LineID   string          `json:"line_id"`
	Quantity int             `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

type OfferCreateRequest struct {
	Name                  string           `json:"name"`
	Priority              int              `json:"priority"`
	Type                  string           `json:"type"`
	Partner               string           `json:"partner"`
	StartAt               *time.Time       `json:"start_at,omitempty"`
	EndAt                 *time.Time       `json:"end_at,omitempty"`
	EmailDomains          string           `json:"email_domains,omitempty"`
	UserEmail             string           `json:"user_email,omitempty"`
	Condition             Condition        `json:"condition"`
	Benefit               Benefit          `json:"benefit"`
	Consumption           string           `json:"consumption,omitempty"`
	MaxGlobalApplications int              `json:"max_global_applications,omitempty"`
	MaxDiscount           *decimal.Decimal `json:"max_discount,omitempty"`
}

type OfferStatusRequest struct {
	Status string `json:"status"`
}

type VoucherCreateRequest struct {
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	Usage    string    `json:"usage"`
	StartAt  time.Time `json:"start_at"`
	EndAt    time.Time `json:"end_at"`
	OfferIDs []string  `json:"offer_ids"`
	MaxUses  int       `json:"max_uses,omitempty"`
}

type AssignmentCreateRequest struct {
	Emails []string `json:"emails"`
}

type AssignmentStatusRequest struct {
	Status string `json:"status"`
}
