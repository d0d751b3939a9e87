package store

import (
	"context"
	"errors"
	"time"

	"coursecart/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrConflict reports a write that lost against a concurrent change or an
	// existing claim.
	ErrConflict = errors.New("conflict")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error)

	CreateBasket(ctx context.Context, basket domain.Basket) (domain.Basket, error)
	GetBasket(ctx context.Context, id int64) (domain.Basket, error)
	// SaveBasket replaces lines, attributes and voucher codes of an open basket.
	SaveBasket(ctx context.Context, basket domain.Basket) (domain.Basket, error)

	CreateOffer(ctx context.Context, offer domain.Offer) (domain.Offer, error)
	GetOffer(ctx context.Context, id string) (domain.Offer, error)
	ListOffers(ctx context.Context, partner string) ([]domain.Offer, error)
	ListSiteOffers(ctx context.Context, partner string) ([]domain.Offer, error)
	ListUserOffers(ctx context.Context, partner string, email string) ([]domain.Offer, error)
	UpdateOfferStatus(ctx context.Context, id string, status string) (domain.Offer, error)

	CreateVoucher(ctx context.Context, voucher domain.Voucher) (domain.Voucher, error)
	GetVoucher(ctx context.Context, code string) (domain.Voucher, error)
	ListVouchers(ctx context.Context) ([]domain.Voucher, error)
	ListVoucherApplications(ctx context.Context, code string) ([]domain.VoucherApplication, error)

	CreateAssignments(ctx context.Context, assignments []domain.OfferAssignment) ([]domain.OfferAssignment, error)
	ListAssignments(ctx context.Context, code string) ([]domain.OfferAssignment, error)
	UpdateAssignmentStatus(ctx context.Context, id string, status string, at time.Time) (domain.OfferAssignment, error)

	// PlaceOrder records the order, bumps offer and voucher usage, redeems
	// assignments and submits the basket in one atomic step.
	PlaceOrder(ctx context.Context, placement domain.OrderPlacement) (domain.Order, error)
	GetOrder(ctx context.Context, number string) (domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error)

	// CreateRefund fails with ErrConflict when a selected order line is already held
	// by a refund that was not denied.
	CreateRefund(ctx context.Context, refund domain.Refund) (domain.Refund, error)
	GetRefund(ctx context.Context, id string) (domain.Refund, error)
	ListRefunds(ctx context.Context, orderNumber string) ([]domain.Refund, error)
	UpdateRefund(ctx context.Context, refund domain.Refund) (domain.Refund, error)

	CreateEnrollmentCodes(ctx context.Context, codes []domain.EnrollmentCode) error
	ListEnrollmentCodes(ctx context.Context, orderNumber string) ([]domain.EnrollmentCode, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, partner string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
