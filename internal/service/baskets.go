package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/offer"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/xid"
)

func (s *Service) CreateBasket(ctx context.Context, req domain.BasketCreateRequest) (domain.Basket, error) {
	site := req.Site
	if site.Partner == "" {
		site.Partner = s.opts.DefaultPartner
	}
	if site.Domain == "" {
		return domain.Basket{}, fmt.Errorf("%w: site domain required", store.ErrInvalidTransaction)
	}
	owner := req.Owner
	if owner != nil {
		normalized := *owner
		normalized.Username = strings.TrimSpace(normalized.Username)
		normalized.Email = strings.ToLower(strings.TrimSpace(normalized.Email))
		if normalized.Username == "" {
			return domain.Basket{}, fmt.Errorf("%w: owner username required", store.ErrInvalidTransaction)
		}
		owner = &normalized
	}

	return s.repo.CreateBasket(ctx, domain.Basket{
		Site:     site,
		Owner:    owner,
		Status:   domain.BasketStatusOpen,
		Currency: strings.ToUpper(defaultString(req.Currency, "USD")),
		Lines:    []domain.BasketLine{},
	})
}

func (s *Service) GetBasket(ctx context.Context, id int64) (domain.Basket, error) {
	return s.repo.GetBasket(ctx, id)
}

// AddBasketLine adds a product, or raises the quantity of the line that already
// holds it.
func (s *Service) AddBasketLine(ctx context.Context, basketID int64, req domain.BasketLineRequest) (domain.Basket, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		return domain.Basket{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidTransaction)
	}

	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return domain.Basket{}, err
	}
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(req.ProductID))
	if err != nil {
		return domain.Basket{}, err
	}
	if product.Partner != basket.Site.Partner {
		return domain.Basket{}, fmt.Errorf("%w: product %s belongs to partner %s", store.ErrInvalidTransaction, product.ID, product.Partner)
	}

	idx := slices.IndexFunc(basket.Lines, func(line domain.BasketLine) bool {
		return line.Product.ID == product.ID
	})
	if idx >= 0 {
		basket.Lines[idx].Quantity += req.Quantity
	} else {
		basket.Lines = append(basket.Lines, domain.BasketLine{
			ID:        xid.New("bl"),
			Product:   product,
			Quantity:  req.Quantity,
			UnitPrice: product.Price,
		})
	}
	basket.ResetDiscounts()
	return s.repo.SaveBasket(ctx, basket)
}

func (s *Service) RemoveBasketLine(ctx context.Context, basketID int64, lineID string) (domain.Basket, error) {
	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return domain.Basket{}, err
	}
	before := len(basket.Lines)
	basket.Lines = slices.DeleteFunc(basket.Lines, func(line domain.BasketLine) bool {
		return line.ID == lineID
	})
	if len(basket.Lines) == before {
		return domain.Basket{}, fmt.Errorf("%w: basket line %s", store.ErrNotFound, lineID)
	}
	basket.ResetDiscounts()
	return s.repo.SaveBasket(ctx, basket)
}

// SetBasketAttributes merges attributes; an empty value removes the key.
func (s *Service) SetBasketAttributes(ctx context.Context, basketID int64, req domain.BasketAttributeRequest) (domain.Basket, error) {
	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return domain.Basket{}, err
	}
	if basket.Attributes == nil {
		basket.Attributes = make(map[string]string, len(req.Attributes))
	}
	for key, value := range req.Attributes {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			delete(basket.Attributes, key)
			continue
		}
		basket.Attributes[key] = value
	}
	return s.repo.SaveBasket(ctx, basket)
}

func (s *Service) ApplyVoucher(ctx context.Context, basketID int64, req domain.VoucherApplyRequest) (domain.Basket, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return domain.Basket{}, fmt.Errorf("%w: voucher code required", store.ErrInvalidTransaction)
	}
	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return domain.Basket{}, err
	}
	voucher, err := s.repo.GetVoucher(ctx, code)
	if err != nil {
		return domain.Basket{}, err
	}
	applications, err := s.repo.ListVoucherApplications(ctx, voucher.Code)
	if err != nil {
		return domain.Basket{}, err
	}
	if reason := offer.VoucherAvailable(voucher, basket.Owner, applications, s.now().UTC()); reason != "" {
		return domain.Basket{}, fmt.Errorf("%w: voucher %s %s", store.ErrInvalidTransaction, voucher.Code, reason)
	}
	if !slices.Contains(basket.VoucherCodes, voucher.Code) {
		basket.VoucherCodes = append(basket.VoucherCodes, voucher.Code)
	}
	return s.repo.SaveBasket(ctx, basket)
}

func (s *Service) RemoveVoucher(ctx context.Context, basketID int64, code string) (domain.Basket, error) {
	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return domain.Basket{}, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	basket.VoucherCodes = slices.DeleteFunc(basket.VoucherCodes, func(c string) bool { return c == code })
	return s.repo.SaveBasket(ctx, basket)
}

// CalculateBasket prices the basket with every applicable offer. The stored basket
// is not changed.
func (s *Service) CalculateBasket(ctx context.Context, basketID int64, req domain.BasketCalculateRequest) (domain.BasketSummary, error) {
	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return domain.BasketSummary{}, err
	}
	ec := s.evaluationContext(ctx, basket, req.QueryParams, offer.PathwayBasket)
	result, err := s.applicator.Apply(ctx, ec, &basket)
	if err != nil {
		return domain.BasketSummary{}, err
	}
	return summarize(basket, result), nil
}

func (s *Service) evaluationContext(_ context.Context, basket domain.Basket, query map[string]string, pathway string) offer.EvaluationContext {
	return offer.EvaluationContext{
		Site:        basket.Site,
		User:        basket.Owner,
		QueryParams: query,
		Flags:       s.opts.Flags,
		Pathway:     pathway,
		Now:         s.now().UTC(),
	}
}

func summarize(basket domain.Basket, result offer.ApplyResult) domain.BasketSummary {
	subtotal := basket.Total().Round(2)
	discount := basket.TotalDiscount()
	discounts := result.Discounts
	if discounts == nil {
		discounts = []domain.Discount{}
	}
	return domain.BasketSummary{
		Basket:        basket,
		Discounts:     discounts,
		Subtotal:      subtotal,
		TotalDiscount: discount,
		Total:         subtotal.Sub(discount),
	}
}
