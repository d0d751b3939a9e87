package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/xid"
)

const (
	ModuleEnrollmentCode = "enrollment_code"
	ModuleDonation       = "donation"
)

// CodeIssuer stores enrollment codes bought in bulk.
type CodeIssuer interface {
	CreateEnrollmentCodes(ctx context.Context, codes []domain.EnrollmentCode) error
}

type EnrollmentCodeModule struct {
	issuer CodeIssuer
	now    func() time.Time
}

func NewEnrollmentCodeModule(issuer CodeIssuer) *EnrollmentCodeModule {
	return &EnrollmentCodeModule{issuer: issuer, now: time.Now}
}

func (m *EnrollmentCodeModule) Name() string { return ModuleEnrollmentCode }

func (m *EnrollmentCodeModule) Supports(line domain.OrderLine) bool {
	return line.Product.Type == domain.ProductTypeEnrollmentCode
}

func (m *EnrollmentCodeModule) Fulfill(ctx context.Context, order domain.Order, lines []*domain.OrderLine) error {
	for _, line := range lines {
		courseKey := line.Product.CourseKey()
		seatType := line.Product.SeatType()
		if courseKey == "" || seatType == "" || line.Quantity <= 0 {
			log.Error().Str("order_number", order.Number).Str("line_id", line.ID).
				Str("product_id", line.Product.ID).Msg("enrollment code product is misconfigured")
			line.Status = domain.LineStatusConfigurationError
			continue
		}

		now := m.now().UTC()
		codes := make([]domain.EnrollmentCode, 0, line.Quantity)
		for range line.Quantity {
			codes = append(codes, domain.EnrollmentCode{
				Code:        xid.Code(16),
				OrderNumber: order.Number,
				OrderLineID: line.ID,
				CourseKey:   courseKey,
				SeatType:    seatType,
				CreatedAt:   now,
			})
		}
		if err := m.issuer.CreateEnrollmentCodes(ctx, codes); err != nil {
			return fmt.Errorf("issue codes for line %s: %w", line.ID, err)
		}
		line.Status = domain.LineStatusComplete
	}
	return nil
}

// Revoke always fails: codes may already have been handed out.
func (m *EnrollmentCodeModule) Revoke(_ context.Context, order domain.Order, line domain.OrderLine) bool {
	log.Warn().Str("order_number", order.Number).Str("line_id", line.ID).Msg("enrollment codes cannot be revoked automatically")
	return false
}

type DonationModule struct{}

func (DonationModule) Name() string { return ModuleDonation }

func (DonationModule) Supports(line domain.OrderLine) bool {
	return line.Product.Type == domain.ProductTypeDonation
}

func (DonationModule) Fulfill(_ context.Context, _ domain.Order, lines []*domain.OrderLine) error {
	for _, line := range lines {
		line.Status = domain.LineStatusComplete
	}
	return nil
}

func (DonationModule) Revoke(context.Context, domain.Order, domain.OrderLine) bool {
	return true
}

type Dependencies struct {
	Enroller Enroller
	Codes    CodeIssuer
}

// NewModules builds modules in the configured order. Unknown names are a startup error.
func NewModules(names []string, deps Dependencies) ([]Module, error) {
	modules := make([]Module, 0, len(names))
	for _, name := range names {
		switch name {
		case ModuleEnrollment:
			if deps.Enroller == nil {
				return nil, fmt.Errorf("module %s needs an enrollment client", name)
			}
			modules = append(modules, NewEnrollmentModule(deps.Enroller))
		case ModuleEnrollmentCode:
			if deps.Codes == nil {
				return nil, fmt.Errorf("module %s needs a code store", name)
			}
			modules = append(modules, NewEnrollmentCodeModule(deps.Codes))
		case ModuleDonation:
			modules = append(modules, DonationModule{})
		default:
			return nil, fmt.Errorf("unknown fulfillment module %q", name)
		}
	}
	return modules, nil
}
