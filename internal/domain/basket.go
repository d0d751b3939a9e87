package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BasketStatusOpen      = "Open"
	BasketStatusFrozen    = "Frozen"
	BasketStatusSubmitted = "Submitted"
)

const (
	BasketAttrBundle             = "bundle_identifier"
	BasketAttrEnterpriseCustomer = "enterprise_customer_uuid"
	BasketAttrEnterpriseCatalog  = "enterprise_catalog_uuid"
)

type Basket struct {
	ID           int64             `json:"id"`
	Site         Site              `json:"site"`
	Owner        *User             `json:"owner,omitempty"`
	Status       string            `json:"status"`
	Currency     string            `json:"currency"`
	Lines        []BasketLine      `json:"lines"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	VoucherCodes []string          `json:"voucher_codes,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type BasketLine struct {
	ID          string          `json:"id"`
	Product     Product         `json:"product"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ConsumedQty int             `json:"consumed_quantity"`
	Discount    decimal.Decimal `json:"discount"`
}

// QuantityWithoutDiscount is the number of units no offer has claimed yet.
func (l BasketLine) QuantityWithoutDiscount() int {
	remaining := l.Quantity - l.ConsumedQty
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (l BasketLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (b *Basket) IsEmpty() bool {
	return b == nil || len(b.Lines) == 0
}

func (b *Basket) Attr(key string) string {
	if b == nil || b.Attributes == nil {
		return ""
	}
	return b.Attributes[key]
}

func (b *Basket) Total() decimal.Decimal {
	total := decimal.Zero
	if b == nil {
		return total
	}
	for _, line := range b.Lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

func (b *Basket) TotalDiscount() decimal.Decimal {
	total := decimal.Zero
	if b == nil {
		return total
	}
	for _, line := range b.Lines {
		total = total.Add(line.Discount)
	}
	return total.Round(2)
}

// ResetDiscounts clears consumption bookkeeping ahead of a fresh evaluation pass.
func (b *Basket) ResetDiscounts() {
	if b == nil {
		return
	}
	for i := range b.Lines {
		b.Lines[i].ConsumedQty = 0
		b.Lines[i].Discount = decimal.Zero
	}
}

// Clone returns a deep copy safe to mutate during evaluation.
func (b *Basket) Clone() *Basket {
	if b == nil {
		return nil
	}
	dup := *b
	if b.Owner != nil {
		owner := *b.Owner
		dup.Owner = &owner
	}
	dup.Lines = make([]BasketLine, len(b.Lines))
	for i, line := range b.Lines {
		line.Product.Attributes = cloneStringMap(line.Product.Attributes)
		dup.Lines[i] = line
	}
	dup.Attributes = cloneStringMap(b.Attributes)
	dup.VoucherCodes = append([]string(nil), b.VoucherCodes...)
	return &dup
}

func cloneStringMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

type BasketCreateRequest struct {
	Site     Site   `json:"site"`
	Owner    *User  `json:"owner,omitempty"`
	Currency string `json:"currency"`
}

type BasketLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type BasketAttributeRequest struct {
	Attributes map[string]string `json:"attributes"`
}

type VoucherApplyRequest struct {
	Code string `json:"code"`
}

type BasketCalculateRequest struct {
	QueryParams map[string]string `json:"query_params,omitempty"`
}

type BasketSummary struct {
	Basket        Basket          `json:"basket"`
	Discounts     []Discount      `json:"discounts"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	Total         decimal.Decimal `json:"total"`
}
