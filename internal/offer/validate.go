package offer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/xid"
)

// ValidationError reports an offer definition that would corrupt evaluation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalidTransaction
}

func invalid(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var domainLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ParseEmailDomains splits a comma separated allow list. Every entry must be a bare
// domain with at least two labels.
func ParseEmailDomains(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var domains []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		labels := strings.Split(entry, ".")
		if len(labels) < 2 {
			return nil, invalid("email_domains", "%q is not a domain", entry)
		}
		for _, label := range labels {
			if !domainLabel.MatchString(label) {
				return nil, invalid("email_domains", "%q is not a domain", entry)
			}
		}
		domains = append(domains, entry)
	}
	return domains, nil
}

func ValidateBenefit(b domain.Benefit) error {
	switch b.Kind {
	case domain.BenefitPercentage:
		if b.Value.GreaterThan(hundred) {
			return invalid("benefit.value", "percentage cannot exceed 100")
		}
	case domain.BenefitFixed:
	default:
		return invalid("benefit.kind", "unknown benefit kind %q", b.Kind)
	}
	if b.Value.IsNegative() {
		return invalid("benefit.value", "value cannot be negative")
	}
	if b.HasRange && (b.Range == nil || len(b.Range.SKUs) == 0) {
		return invalid("benefit.range", "range benefit needs at least one sku")
	}
	if !b.HasRange && b.Range != nil {
		return invalid("benefit.range", "range given for a range-less benefit")
	}
	return nil
}

func ValidateCondition(c domain.Condition) error {
	switch c.Kind {
	case domain.ConditionBundleIntersection:
		if c.BundleID == "" {
			return invalid("condition.bundle_id", "required")
		}
	case domain.ConditionProgramSeats:
		if c.ProgramUUID == "" {
			return invalid("condition.program_uuid", "required")
		}
	case domain.ConditionEnterpriseCustomer, domain.ConditionEnterpriseCustomerConsent:
		if c.EnterpriseCustomerUUID == "" {
			return invalid("condition.enterprise_customer_uuid", "required")
		}
		if c.EnterpriseCatalogUUID == "" {
			return invalid("condition.enterprise_catalog_uuid", "required")
		}
	case domain.ConditionManualEnrollment:
	default:
		return invalid("condition.kind", "unknown condition %q", c.Kind)
	}
	return nil
}

// NewOffer validates a create request and builds the offer it describes. existing
// holds the partner's current offers and is used to reject duplicates.
func NewOffer(req domain.OfferCreateRequest, existing []domain.Offer, now time.Time) (domain.Offer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Offer{}, invalid("name", "required")
	}
	if strings.TrimSpace(req.Partner) == "" {
		return domain.Offer{}, invalid("partner", "required")
	}
	switch req.Type {
	case domain.OfferTypeSite, domain.OfferTypeVoucher, domain.OfferTypeUser:
	default:
		return domain.Offer{}, invalid("type", "unknown offer type %q", req.Type)
	}
	if req.Type == domain.OfferTypeUser && req.Condition.Kind != domain.ConditionManualEnrollment && strings.TrimSpace(req.UserEmail) == "" {
		return domain.Offer{}, invalid("user_email", "required for user offers")
	}
	if req.StartAt != nil && req.EndAt != nil && !req.EndAt.After(*req.StartAt) {
		return domain.Offer{}, invalid("end_at", "must be after start_at")
	}
	if req.MaxGlobalApplications < 0 {
		return domain.Offer{}, invalid("max_global_applications", "cannot be negative")
	}
	if req.MaxDiscount != nil && !req.MaxDiscount.IsPositive() {
		return domain.Offer{}, invalid("max_discount", "must be positive")
	}
	consumption := req.Consumption
	switch consumption {
	case "":
		consumption = domain.ConsumptionSingle
	case domain.ConsumptionSingle, domain.ConsumptionMulti:
	default:
		return domain.Offer{}, invalid("consumption", "unknown consumption %q", consumption)
	}
	if err := ValidateCondition(req.Condition); err != nil {
		return domain.Offer{}, err
	}
	if err := ValidateBenefit(req.Benefit); err != nil {
		return domain.Offer{}, err
	}
	domains, err := ParseEmailDomains(req.EmailDomains)
	if err != nil {
		return domain.Offer{}, err
	}

	offer := domain.Offer{
		ID:                    xid.New("OFR"),
		Name:                  name,
		Priority:              req.Priority,
		Type:                  req.Type,
		Status:                domain.OfferStatusOpen,
		Partner:               req.Partner,
		StartAt:               req.StartAt,
		EndAt:                 req.EndAt,
		EmailDomains:          domains,
		UserEmail:             strings.ToLower(strings.TrimSpace(req.UserEmail)),
		Condition:             req.Condition,
		Benefit:               req.Benefit,
		Consumption:           consumption,
		MaxGlobalApplications: req.MaxGlobalApplications,
		MaxDiscount:           req.MaxDiscount,
		TotalDiscount:         decimal.Zero,
		CreatedAt:             now,
	}
	if err := CheckDuplicate(offer, existing); err != nil {
		return domain.Offer{}, err
	}
	return offer, nil
}

// CheckDuplicate rejects a second open site offer for the same bundle, program or
// enterprise catalog.
func CheckDuplicate(offer domain.Offer, existing []domain.Offer) error {
	if offer.Type != domain.OfferTypeSite || offer.Condition.Key() == "" {
		return nil
	}
	for _, other := range existing {
		if other.ID == offer.ID || other.Type != domain.OfferTypeSite || other.Status != domain.OfferStatusOpen {
			continue
		}
		if other.Partner != offer.Partner || other.Condition.Kind != offer.Condition.Kind {
			continue
		}
		if other.Condition.Key() != offer.Condition.Key() {
			continue
		}
		if offer.Condition.IsEnterprise() && other.Condition.EnterpriseCatalogUUID != offer.Condition.EnterpriseCatalogUUID {
			continue
		}
		return invalid("condition", "an open offer %s already exists for %s", other.ID, offer.Condition.Key())
	}
	return nil
}
