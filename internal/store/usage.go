package store

import (
	"fmt"

	"github.com/shopspring/decimal"

	"coursecart/backend/internal/domain"
)

// RecordOfferUsage counts one more order against the offer and closes it once a cap
// is reached. Both repositories call it inside their placement transaction.
func RecordOfferUsage(offer *domain.Offer, discount decimal.Decimal) error {
	if offer.Status != domain.OfferStatusOpen {
		return fmt.Errorf("%w: offer %s is %s", ErrConflict, offer.ID, offer.Status)
	}
	if offer.MaxGlobalApplications > 0 && offer.NumApplications >= offer.MaxGlobalApplications {
		return fmt.Errorf("%w: offer %s reached its usage limit", ErrConflict, offer.ID)
	}
	offer.NumApplications++
	offer.TotalDiscount = offer.TotalDiscount.Add(discount)

	if offer.MaxGlobalApplications > 0 && offer.NumApplications >= offer.MaxGlobalApplications {
		offer.Status = domain.OfferStatusConsumed
	}
	if remaining, capped := offer.RemainingDiscount(); capped && !remaining.IsPositive() {
		offer.Status = domain.OfferStatusConsumed
	}
	return nil
}

// RecordVoucherUsage re-checks the voucher's usage policy against its redemptions
// and counts one more order.
func RecordVoucherUsage(voucher *domain.Voucher, username string, applications []domain.VoucherApplication) error {
	if voucher.MaxUses > 0 && voucher.NumOrders >= voucher.MaxUses {
		return fmt.Errorf("%w: voucher %s reached its usage limit", ErrConflict, voucher.Code)
	}
	switch voucher.Usage {
	case domain.VoucherSingleUse:
		if voucher.NumOrders > 0 {
			return fmt.Errorf("%w: voucher %s already used", ErrConflict, voucher.Code)
		}
	case domain.VoucherOncePerCustomer:
		for _, app := range applications {
			if app.Username == username {
				return fmt.Errorf("%w: voucher %s already used by %s", ErrConflict, voucher.Code, username)
			}
		}
	case domain.VoucherMultiUsePerCustomer:
		for _, app := range applications {
			if app.Username != username {
				return fmt.Errorf("%w: voucher %s belongs to another customer", ErrConflict, voucher.Code)
			}
		}
	}
	voucher.NumOrders++
	return nil
}

// ClaimedLines maps order line ids to the refund that holds them.
func ClaimedLines(refunds []domain.Refund) map[string]string {
	claimed := make(map[string]string)
	for _, refund := range refunds {
		if !refund.IsActive() {
			continue
		}
		for _, line := range refund.Lines {
			claimed[line.OrderLineID] = refund.ID
		}
	}
	return claimed
}
