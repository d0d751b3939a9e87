package fulfillment

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/upstream"
)

const ModuleEnrollment = "enrollment"

// Enroller is the enrollment service.
type Enroller interface {
	SetEnrollment(ctx context.Context, req domain.EnrollmentRequest) error
}

type EnrollmentModule struct {
	enroller Enroller
}

func NewEnrollmentModule(enroller Enroller) *EnrollmentModule {
	return &EnrollmentModule{enroller: enroller}
}

func (m *EnrollmentModule) Name() string { return ModuleEnrollment }

func (m *EnrollmentModule) Supports(line domain.OrderLine) bool {
	return line.Product.Type == domain.ProductTypeSeat
}

func (m *EnrollmentModule) Fulfill(ctx context.Context, order domain.Order, lines []*domain.OrderLine) error {
	for _, line := range lines {
		req, ok := enrollmentRequest(order, *line, true)
		if !ok {
			log.Error().Str("order_number", order.Number).Str("line_id", line.ID).
				Str("product_id", line.Product.ID).Msg("seat is missing course or certificate attributes")
			line.Status = domain.LineStatusConfigurationError
			continue
		}
		err := m.enroller.SetEnrollment(ctx, req)
		line.Status = lineStatus(err)
		if err != nil {
			log.Warn().Err(err).Str("order_number", order.Number).Str("line_id", line.ID).
				Str("course_key", req.CourseKey).Msg("enrollment failed")
		}
	}
	return nil
}

func (m *EnrollmentModule) Revoke(ctx context.Context, order domain.Order, line domain.OrderLine) bool {
	req, ok := enrollmentRequest(order, line, false)
	if !ok {
		return false
	}
	err := m.enroller.SetEnrollment(ctx, req)
	switch {
	case err == nil:
		return true
	case errors.Is(err, upstream.ErrModeMismatch):
		log.Info().Str("order_number", order.Number).Str("line_id", line.ID).
			Str("course_key", req.CourseKey).Msg("learner already changed mode, skipping unenrollment")
		return true
	default:
		log.Warn().Err(err).Str("order_number", order.Number).Str("line_id", line.ID).Msg("unenrollment failed")
		return false
	}
}

func enrollmentRequest(order domain.Order, line domain.OrderLine, active bool) (domain.EnrollmentRequest, bool) {
	courseKey := line.Product.CourseKey()
	mode := line.Product.SeatType()
	if courseKey == "" || mode == "" || order.Owner.Username == "" {
		return domain.EnrollmentRequest{}, false
	}
	return domain.EnrollmentRequest{
		Username:  order.Owner.Username,
		CourseKey: courseKey,
		Mode:      mode,
		IsActive:  active,
		Attributes: map[string]string{
			"order_number": order.Number,
			"order_line":   line.ID,
		},
	}, true
}

// lineStatus maps an enrollment call outcome to the line status that records it.
// Any response other than success, including 404, counts as a server error.
func lineStatus(err error) string {
	switch {
	case err == nil:
		return domain.LineStatusComplete
	case errors.Is(err, upstream.ErrTimeout):
		return domain.LineStatusTimeoutError
	case errors.Is(err, upstream.ErrConnection):
		return domain.LineStatusNetworkError
	default:
		return domain.LineStatusServerError
	}
}
