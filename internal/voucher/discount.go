package voucher

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the monetary discount of a voucher for the order.
// The result is never negative. Fixed amounts are not capped by the subtotal;
// the checkout total clamps instead.
func ComputeDiscount(v Voucher, o Order) pricing.Money {
	var discount pricing.Money
	switch v.Kind {
	case KindFreeShipping:
		fee := pricing.NonNegative(o.ShippingFee)
		discount = fee
		if v.FreeshipAmount.Positive() && v.FreeshipAmount.Value.LessThan(fee) {
			discount = v.FreeshipAmount.Value
		}
	case KindPercent:
		if !v.DiscountPercent.Positive() {
			return pricing.Zero
		}
		discount = pricing.NonNegative(o.Subtotal).Mul(v.DiscountPercent.Value).Div(hundred)
		if v.MaxDiscountAmount.Positive() && discount.GreaterThan(v.MaxDiscountAmount.Value) {
			discount = v.MaxDiscountAmount.Value
		}
	case KindFixedAmount:
		discount = v.DiscountAmount.OrZero()
	default:
		return pricing.Zero
	}
	return pricing.NonNegative(discount)
}
