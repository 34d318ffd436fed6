package voucher

import (
	"errors"
	"time"

	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
)

var (
	// ErrExhausted is returned when every owned use of the voucher has been spent.
	ErrExhausted = errors.New("voucher exhausted")
	// ErrAlreadyUsed flags a single-use legacy allocation marked as used.
	ErrAlreadyUsed = errors.New("voucher already used")
	// ErrVoucherInactive is returned before the voucher's start time.
	ErrVoucherInactive = errors.New("voucher not active")
	// ErrVoucherExpired is returned after the voucher's end time.
	ErrVoucherExpired = errors.New("voucher expired")
	// ErrMinimumOrderUnmet indicates the merchandise subtotal is below the voucher minimum.
	ErrMinimumOrderUnmet = errors.New("voucher minimum order value not met")
)

// Order carries the cart figures vouchers are evaluated against.
type Order struct {
	Subtotal    pricing.Money
	ShippingFee pricing.Money
}

// Check reports why an allocation cannot be used for the order, or nil when it can.
// Free-shipping vouchers are gated by the merchandise subtotal, not the fee.
func Check(a Allocation, o Order, now time.Time) error {
	if a.Remaining() <= 0 {
		return ErrExhausted
	}
	if a.IsUsed && a.QuantityOwned <= 1 {
		return ErrAlreadyUsed
	}
	v := a.Voucher
	if v.StartAt != nil && now.Before(*v.StartAt) {
		return ErrVoucherInactive
	}
	if v.EndAt != nil && now.After(*v.EndAt) {
		return ErrVoucherExpired
	}
	if v.MinOrderValue.Positive() && o.Subtotal.LessThan(v.MinOrderValue.Value) {
		return ErrMinimumOrderUnmet
	}
	return nil
}

// IsEligible reports whether the allocation can be applied to the order.
func IsEligible(a Allocation, o Order, now time.Time) bool {
	return Check(a, o, now) == nil
}

// FilterEligible keeps the eligible allocations, preserving input order.
func FilterEligible(allocs []Allocation, o Order, now time.Time) []Allocation {
	out := make([]Allocation, 0, len(allocs))
	for _, a := range allocs {
		if IsEligible(a, o, now) {
			out = append(out, a)
		}
	}
	return out
}

// Reason maps an eligibility error to a stable machine-readable label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrAlreadyUsed):
		return "used"
	case errors.Is(err, ErrVoucherInactive):
		return "not_started"
	case errors.Is(err, ErrVoucherExpired):
		return "expired"
	case errors.Is(err, ErrMinimumOrderUnmet):
		return "min_order_unmet"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "not_eligible"
	}
}
