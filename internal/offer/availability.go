package offer

import (
	"strings"
	"time"

	"coursecart/backend/internal/domain"
)

// Available reports whether the offer may be applied at all right now, ignoring
// the basket. An empty reason means available.
func Available(offer domain.Offer, user *domain.User, now time.Time) string {
	if offer.Status != domain.OfferStatusOpen {
		return "offer is " + offer.Status
	}
	if offer.StartAt != nil && now.Before(*offer.StartAt) {
		return "offer not started"
	}
	if offer.EndAt != nil && !now.Before(*offer.EndAt) {
		return "offer expired"
	}
	if offer.MaxGlobalApplications > 0 && offer.NumApplications >= offer.MaxGlobalApplications {
		return "offer usage limit reached"
	}
	if remaining, capped := offer.RemainingDiscount(); capped && !remaining.IsPositive() {
		return "offer discount budget spent"
	}
	if len(offer.EmailDomains) > 0 {
		if user == nil || !offer.AllowsEmail(user.Email) {
			return "email domain not allowed"
		}
	}
	if offer.Type == domain.OfferTypeUser && offer.UserEmail != "" {
		if user == nil || !strings.EqualFold(strings.TrimSpace(user.Email), offer.UserEmail) {
			return "offer belongs to another user"
		}
	}
	return ""
}

// VoucherAvailable applies the voucher's window and usage policy. applications
// are the voucher's past redemptions.
func VoucherAvailable(voucher domain.Voucher, user *domain.User, applications []domain.VoucherApplication, now time.Time) string {
	if !voucher.StartAt.IsZero() && now.Before(voucher.StartAt) {
		return "voucher not started"
	}
	if !voucher.EndAt.IsZero() && !now.Before(voucher.EndAt) {
		return "voucher expired"
	}
	if voucher.MaxUses > 0 && voucher.NumOrders >= voucher.MaxUses {
		return "voucher usage limit reached"
	}

	switch voucher.Usage {
	case domain.VoucherSingleUse:
		if voucher.NumOrders > 0 || len(applications) > 0 {
			return "voucher already used"
		}
	case domain.VoucherOncePerCustomer:
		if user == nil {
			return "voucher requires a signed in user"
		}
		for _, app := range applications {
			if app.Username == user.Username {
				return "voucher already used by this customer"
			}
		}
	case domain.VoucherMultiUsePerCustomer:
		if user == nil {
			return "voucher requires a signed in user"
		}
		for _, app := range applications {
			if app.Username != user.Username {
				return "voucher is bound to another customer"
			}
		}
	case domain.VoucherMultiUse:
	default:
		return "unknown voucher usage " + voucher.Usage
	}
	return ""
}
