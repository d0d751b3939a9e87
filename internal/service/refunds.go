package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/refund"
	"coursecart/backend/internal/store"
)

func (s *Service) CreateRefund(ctx context.Context, req domain.RefundCreateRequest) (domain.Refund, error) {
	number := strings.TrimSpace(req.OrderNumber)
	if number == "" {
		return domain.Refund{}, fmt.Errorf("%w: order number required", store.ErrInvalidTransaction)
	}
	order, err := s.repo.GetOrder(ctx, number)
	if err != nil {
		return domain.Refund{}, err
	}
	built, err := refund.Build(order, req.LineIDs, s.now().UTC())
	if err != nil {
		return domain.Refund{}, err
	}
	created, err := s.repo.CreateRefund(ctx, built)
	if err != nil {
		return domain.Refund{}, err
	}

	s.logAudit(ctx, order.Site.Partner, "refund_create", "refund", created.ID, fmt.Sprintf("order=%s,lines=%d,credit=%s", order.Number, len(created.Lines), created.TotalCreditExclTax.StringFixed(2)))
	return created, nil
}

func (s *Service) GetRefund(ctx context.Context, id string) (domain.Refund, error) {
	return s.repo.GetRefund(ctx, id)
}

func (s *Service) ListRefunds(ctx context.Context, orderNumber string) ([]domain.Refund, error) {
	return s.repo.ListRefunds(ctx, orderNumber)
}

// ApproveRefund drives the refund as far as it can go. Succeeded is false when a
// step failed; the refund keeps the error status it reached and can be approved again.
func (s *Service) ApproveRefund(ctx context.Context, id string) (domain.RefundDecisionResponse, error) {
	current, err := s.repo.GetRefund(ctx, id)
	if err != nil {
		return domain.RefundDecisionResponse{}, err
	}
	if !current.CanApprove() {
		return domain.RefundDecisionResponse{}, fmt.Errorf("%w: refund %s is %s", store.ErrConflict, id, current.Status)
	}

	succeeded := s.refunds.Approve(ctx, &current)
	s.logAudit(ctx, s.refundPartner(ctx, current), "refund_approve", "refund", current.ID, fmt.Sprintf("status=%s,succeeded=%t", current.Status, succeeded))
	return domain.RefundDecisionResponse{Refund: current, Succeeded: succeeded}, nil
}

func (s *Service) DenyRefund(ctx context.Context, id string) (domain.RefundDecisionResponse, error) {
	current, err := s.repo.GetRefund(ctx, id)
	if err != nil {
		return domain.RefundDecisionResponse{}, err
	}
	if !current.CanDeny() {
		return domain.RefundDecisionResponse{}, fmt.Errorf("%w: refund %s is %s", store.ErrConflict, id, current.Status)
	}

	succeeded := s.refunds.Deny(ctx, &current)
	s.logAudit(ctx, s.refundPartner(ctx, current), "refund_deny", "refund", current.ID, fmt.Sprintf("status=%s,succeeded=%t", current.Status, succeeded))
	return domain.RefundDecisionResponse{Refund: current, Succeeded: succeeded}, nil
}

// refundPartner resolves the partner of the refunded order for audit entries.
func (s *Service) refundPartner(ctx context.Context, r domain.Refund) string {
	order, err := s.repo.GetOrder(ctx, r.OrderNumber)
	if err != nil {
		log.Warn().Err(err).Str("refund_id", r.ID).Str("order_number", r.OrderNumber).Msg("resolve refund partner")
		return ""
	}
	return order.Site.Partner
}
