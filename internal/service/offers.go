package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/offer"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/xid"
)

func (s *Service) CreateOffer(ctx context.Context, req domain.OfferCreateRequest) (domain.Offer, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Offer{}, err
	}
	if req.Partner == "" {
		req.Partner = s.opts.DefaultPartner
	}

	existing, err := s.repo.ListOffers(ctx, req.Partner)
	if err != nil {
		return domain.Offer{}, err
	}
	created, err := offer.NewOffer(req, existing, s.now().UTC())
	if err != nil {
		return domain.Offer{}, err
	}
	saved, err := s.repo.CreateOffer(ctx, created)
	if err != nil {
		return domain.Offer{}, err
	}

	s.logAudit(ctx, saved.Partner, "offer_create", "offer", saved.ID, fmt.Sprintf("type=%s,condition=%s,key=%s", saved.Type, saved.Condition.Kind, saved.Condition.Key()))
	return saved, nil
}

func (s *Service) ListOffers(ctx context.Context, partner string) ([]domain.Offer, error) {
	return s.repo.ListOffers(ctx, partner)
}

func (s *Service) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	return s.repo.GetOffer(ctx, id)
}

// SetOfferStatus suspends or reopens an offer. Consumed offers stay consumed.
func (s *Service) SetOfferStatus(ctx context.Context, id string, req domain.OfferStatusRequest) (domain.Offer, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Offer{}, err
	}
	if req.Status != domain.OfferStatusOpen && req.Status != domain.OfferStatusSuspended {
		return domain.Offer{}, fmt.Errorf("%w: status must be %s or %s", store.ErrInvalidTransaction, domain.OfferStatusOpen, domain.OfferStatusSuspended)
	}
	current, err := s.repo.GetOffer(ctx, id)
	if err != nil {
		return domain.Offer{}, err
	}
	if current.Status == domain.OfferStatusConsumed {
		return domain.Offer{}, fmt.Errorf("%w: offer %s is consumed", store.ErrConflict, id)
	}
	if req.Status == domain.OfferStatusOpen {
		others, err := s.repo.ListOffers(ctx, current.Partner)
		if err != nil {
			return domain.Offer{}, err
		}
		if err := offer.CheckDuplicate(current, others); err != nil {
			return domain.Offer{}, err
		}
	}

	updated, err := s.repo.UpdateOfferStatus(ctx, id, req.Status)
	if err != nil {
		return domain.Offer{}, err
	}
	s.logAudit(ctx, updated.Partner, "offer_status", "offer", updated.ID, "status="+updated.Status)
	return updated, nil
}

func (s *Service) CreateVoucher(ctx context.Context, req domain.VoucherCreateRequest) (domain.Voucher, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Voucher{}, err
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		code = xid.Code(16)
	}
	switch req.Usage {
	case domain.VoucherSingleUse, domain.VoucherMultiUse, domain.VoucherMultiUsePerCustomer, domain.VoucherOncePerCustomer:
	default:
		return domain.Voucher{}, fmt.Errorf("%w: unknown voucher usage %q", store.ErrInvalidTransaction, req.Usage)
	}
	if req.StartAt.IsZero() || req.EndAt.IsZero() || !req.EndAt.After(req.StartAt) {
		return domain.Voucher{}, fmt.Errorf("%w: voucher needs a start before its end", store.ErrInvalidTransaction)
	}
	if req.MaxUses < 0 {
		return domain.Voucher{}, fmt.Errorf("%w: max_uses cannot be negative", store.ErrInvalidTransaction)
	}

	created, err := s.repo.CreateVoucher(ctx, domain.Voucher{
		Code:      code,
		Name:      defaultString(strings.TrimSpace(req.Name), code),
		Usage:     req.Usage,
		StartAt:   req.StartAt.UTC(),
		EndAt:     req.EndAt.UTC(),
		OfferIDs:  req.OfferIDs,
		MaxUses:   req.MaxUses,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Voucher{}, err
	}
	s.logAudit(ctx, "", "voucher_create", "voucher", created.Code, fmt.Sprintf("usage=%s,offers=%s", created.Usage, strings.Join(created.OfferIDs, "|")))
	return created, nil
}

func (s *Service) ListVouchers(ctx context.Context) ([]domain.Voucher, error) {
	return s.repo.ListVouchers(ctx)
}

// AssignVoucher reserves a voucher code for each email.
func (s *Service) AssignVoucher(ctx context.Context, code string, req domain.AssignmentCreateRequest) ([]domain.OfferAssignment, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if len(req.Emails) == 0 {
		return nil, fmt.Errorf("%w: at least one email required", store.ErrInvalidTransaction)
	}
	assignments := make([]domain.OfferAssignment, 0, len(req.Emails))
	for _, raw := range req.Emails {
		addr, err := mail.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid email %q", store.ErrInvalidTransaction, raw)
		}
		assignments = append(assignments, domain.OfferAssignment{Code: code, UserEmail: addr.Address})
	}

	created, err := s.repo.CreateAssignments(ctx, assignments)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "voucher_assign", "voucher", strings.ToUpper(code), fmt.Sprintf("emails=%d", len(created)))
	return created, nil
}

func (s *Service) ListAssignments(ctx context.Context, code string) ([]domain.OfferAssignment, error) {
	return s.repo.ListAssignments(ctx, code)
}

// SetAssignmentStatus records email delivery outcomes and revocations. Redemption
// only happens through order placement.
func (s *Service) SetAssignmentStatus(ctx context.Context, id string, req domain.AssignmentStatusRequest) (domain.OfferAssignment, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.OfferAssignment{}, err
	}
	if req.Status == domain.AssignmentRedeemed {
		return domain.OfferAssignment{}, fmt.Errorf("%w: assignments are redeemed by placing an order", store.ErrInvalidTransaction)
	}
	updated, err := s.repo.UpdateAssignmentStatus(ctx, id, req.Status, s.now().UTC())
	if err != nil {
		return domain.OfferAssignment{}, err
	}
	s.logAudit(ctx, "", "assignment_status", "assignment", updated.ID, fmt.Sprintf("code=%s,status=%s", updated.Code, updated.Status))
	return updated, nil
}
