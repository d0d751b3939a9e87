package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/events"
	"coursecart/backend/internal/fulfillment"
	"coursecart/backend/internal/offer"
	"coursecart/backend/internal/refund"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultPartner    string
	OrderNumberPrefix string
	// Flags is the switch snapshot handed to every evaluation.
	Flags offer.Flags
}

type Service struct {
	repo        store.Repository
	applicator  *offer.Applicator
	fulfillment *fulfillment.Engine
	refunds     *refund.Engine
	publisher   events.Publisher
	opts        Options
	now         func() time.Time
}

func New(repo store.Repository, applicator *offer.Applicator, fulfiller *fulfillment.Engine, refunds *refund.Engine, publisher events.Publisher, opts Options) *Service {
	if opts.DefaultPartner == "" {
		opts.DefaultPartner = "edx"
	}
	if opts.OrderNumberPrefix == "" {
		opts.OrderNumberPrefix = strings.ToUpper(opts.DefaultPartner)
	}
	if opts.Flags == nil {
		opts.Flags = offer.Flags{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	return &Service{
		repo:        repo,
		applicator:  applicator,
		fulfillment: fulfiller,
		refunds:     refunds,
		publisher:   publisher,
		opts:        opts,
		now:         time.Now,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Title = strings.TrimSpace(req.Title)
	if req.Partner == "" {
		req.Partner = s.opts.DefaultPartner
	}
	if req.SKU == "" || req.Title == "" || req.Price.IsNegative() {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	switch req.Type {
	case domain.ProductTypeSeat:
		if req.Attributes[domain.AttrCourseKey] == "" || req.Attributes[domain.AttrCertificateType] == "" {
			return domain.Product{}, fmt.Errorf("%w: seats need %s and %s", store.ErrInvalidTransaction, domain.AttrCourseKey, domain.AttrCertificateType)
		}
	case domain.ProductTypeEnrollmentCode:
		if req.Attributes[domain.AttrCourseKey] == "" || req.Attributes[domain.AttrSeatType] == "" {
			return domain.Product{}, fmt.Errorf("%w: enrollment codes need %s and %s", store.ErrInvalidTransaction, domain.AttrCourseKey, domain.AttrSeatType)
		}
	case domain.ProductTypeDonation:
	default:
		return domain.Product{}, fmt.Errorf("%w: unknown product type %q", store.ErrInvalidTransaction, req.Type)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:         req.ID,
		SKU:        req.SKU,
		Title:      req.Title,
		Type:       req.Type,
		Partner:    req.Partner,
		Price:      req.Price.Round(2),
		Attributes: req.Attributes,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, created.Partner, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,type=%s,price=%s", created.SKU, created.Type, created.Price.StringFixed(2)))
	return created, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, partner string, date string, limit int) ([]domain.AuditLog, error) {
	if partner == "" {
		partner = s.opts.DefaultPartner
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, partner, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, partner string, action string, entityType string, entityID string, detail string) {
	if partner == "" {
		partner = s.opts.DefaultPartner
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		Partner:       partner,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("action", action).Str("entity", entityType+"/"+entityID).Msg("failed to write audit log")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, key string, payload any) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:       eventType,
		Key:        key,
		OccurredAt: s.now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("event", eventType).Str("key", key).Msg("publish event")
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
