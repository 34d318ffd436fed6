package pricing

import "github.com/shopspring/decimal"

// Summary aggregates computed checkout components.
type Summary struct {
	Subtotal        Money   `json:"subtotal"`
	ShippingFee     Money   `json:"shipping_fee"`
	ShopDiscount    Money   `json:"shop_discount"`
	ShipDiscount    Money   `json:"ship_discount"`
	Total           Money   `json:"total"`
	ShopVoucherCode *string `json:"shop_voucher_code"`
	ShipVoucherCode *string `json:"ship_voucher_code"`
}

// LineTotal returns unit price times quantity for a line, ignoring non-positive quantities.
func LineTotal(it LineItem) Money {
	if it.Quantity <= 0 {
		return Zero
	}
	return ResolvePrice(it).Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Subtotal sums the line totals of the selected cart lines.
func Subtotal(items []LineItem) Money {
	subtotal := Zero
	for _, it := range items {
		if !it.Selected {
			continue
		}
		subtotal = subtotal.Add(LineTotal(it))
	}
	return subtotal
}

// ComputeTotal returns the payable amount. Every input is clamped to zero
// first and the result never drops below zero.
func ComputeTotal(subtotal, shippingFee, shopDiscount, shipDiscount Money) Money {
	total := NonNegative(subtotal).
		Add(NonNegative(shippingFee)).
		Sub(NonNegative(shopDiscount)).
		Sub(NonNegative(shipDiscount))
	return NonNegative(total)
}

// Compute fills the totals of a summary from its components.
func Compute(subtotal, shippingFee, shopDiscount, shipDiscount Money) Summary {
	return Summary{
		Subtotal:     NonNegative(subtotal),
		ShippingFee:  NonNegative(shippingFee),
		ShopDiscount: NonNegative(shopDiscount),
		ShipDiscount: NonNegative(shipDiscount),
		Total:        ComputeTotal(subtotal, shippingFee, shopDiscount, shipDiscount),
	}
}
