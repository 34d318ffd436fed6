package checkout

import (
	"sort"
	"time"

	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
	"github.com/noah-isme/agrimarket-storefront/internal/voucher"
)

// Input is everything a checkout total depends on.
type Input struct {
	Items       []pricing.LineItem   `json:"items"`
	Allocations []voucher.Allocation `json:"allocations"`
	ShippingFee pricing.Money        `json:"shipping_fee"`
	Overrides   voucher.Overrides    `json:"overrides"`
	Excluded    []string             `json:"excluded,omitempty"`
}

// Result is the computed summary plus the picker rows behind it.
type Result struct {
	pricing.Summary
	Currency  string            `json:"currency,omitempty"`
	Selection voucher.Selection `json:"selection"`
	Options   []voucher.Option  `json:"options"`
}

// Calculator runs the checkout computation shared by the cart summary, the
// voucher picker and the checkout page. It is pure apart from the clock.
type Calculator struct {
	Now      func() time.Time
	Currency string
}

func (c Calculator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Compute resolves prices, filters and groups the owned vouchers, selects
// the best shop and shipping voucher (honouring overrides) and aggregates
// the payable total.
func (c Calculator) Compute(in Input) Result {
	subtotal := pricing.Subtotal(in.Items)
	fee := pricing.NonNegative(in.ShippingFee)
	order := voucher.Order{Subtotal: subtotal, ShippingFee: fee}

	eval := voucher.Evaluate(voucher.NormalizeAll(in.Allocations), order, c.now(), excludedSet(in.Excluded))
	sel := voucher.Select(eval.Candidates, order, in.Overrides)

	summary := pricing.Compute(subtotal, fee, sel.ShopDiscount(), sel.ShipDiscount())
	summary.ShopVoucherCode = sel.ShopCode()
	summary.ShipVoucherCode = sel.ShipCode()

	return Result{
		Summary:   summary,
		Currency:  c.Currency,
		Selection: sel,
		Options:   voucher.MarkSelected(eval.Options, sel),
	}
}

func excludedSet(codes []string) map[string]bool {
	if len(codes) == 0 {
		return nil
	}
	set := make(map[string]bool, len(codes))
	for _, code := range codes {
		set[code] = true
	}
	return set
}

// addExcluded returns codes with extra appended, deduplicated and sorted.
func addExcluded(codes []string, extra ...string) []string {
	set := excludedSet(codes)
	if set == nil {
		set = map[string]bool{}
	}
	for _, code := range extra {
		if code != "" {
			set[code] = true
		}
	}
	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
