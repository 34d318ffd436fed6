package pricing

import "github.com/shopspring/decimal"

// ProductSnapshot is the product record embedded in cart lines. Backend
// endpoints disagree on which price fields they populate, so every field is
// optional.
type ProductSnapshot struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	ShopID          string `json:"shop_id,omitempty"`
	Price           Amount `json:"price"`
	StandardPrice   Amount `json:"standard_price"`
	OriginalPrice   Amount `json:"original_price"`
	DiscountedPrice Amount `json:"discounted_price"`
	DiscountPercent Amount `json:"discount_percent"`
	WeightGram      int    `json:"weight,omitempty"`
}

// LineItem is a cart line as sent by the storefront.
type LineItem struct {
	ID        string           `json:"id,omitempty"`
	ProductID string           `json:"product_id,omitempty"`
	Product   *ProductSnapshot `json:"product,omitempty"`
	Price     Amount           `json:"price"`
	Quantity  int              `json:"quantity"`
	Selected  bool             `json:"selected"`
}

// ProductRef returns the product identifier of the line, preferring the embedded snapshot.
func (it LineItem) ProductRef() string {
	if it.Product != nil && it.Product.ID != "" {
		return it.Product.ID
	}
	return it.ProductID
}

// ResolveProductPrice picks the authoritative unit price of a product record:
// discounted price, then original price, then list/standard price. It returns
// zero when none is usable.
func ResolveProductPrice(p ProductSnapshot) Money {
	price, _ := resolveSnapshot(p)
	return price
}

// ResolvePrice returns the unit price for a cart line. The flattened price on
// the line itself is only consulted when the embedded product carries no
// usable price.
func ResolvePrice(it LineItem) Money {
	if it.Product != nil {
		if price, ok := resolveSnapshot(*it.Product); ok {
			return price
		}
	}
	if it.Price.Positive() {
		return it.Price.Value
	}
	return Zero
}

func resolveSnapshot(p ProductSnapshot) (Money, bool) {
	for _, candidate := range []Amount{p.DiscountedPrice, p.OriginalPrice, p.Price, p.StandardPrice} {
		if candidate.Positive() {
			return candidate.Value, true
		}
	}
	return Zero, false
}

// DiscountPercentOf returns the display discount percent of a product. A
// positive value provided by the backend wins; otherwise it is derived from
// the original and discounted prices and rounded to a whole percent.
func DiscountPercentOf(p ProductSnapshot) Money {
	if p.DiscountPercent.Positive() {
		return p.DiscountPercent.Value
	}
	if !p.DiscountedPrice.Positive() {
		return Zero
	}
	reference := p.OriginalPrice
	if !reference.Positive() {
		reference = p.Price
	}
	if !reference.Positive() || !p.DiscountedPrice.Value.LessThan(reference.Value) {
		return Zero
	}
	saved := reference.Value.Sub(p.DiscountedPrice.Value)
	return saved.Mul(decimal.NewFromInt(100)).Div(reference.Value).Round(0)
}
