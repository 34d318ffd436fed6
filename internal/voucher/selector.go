package voucher

import (
	"sort"

	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
)

// Choice is a voucher picked for one checkout category.
type Choice struct {
	Allocation Allocation    `json:"allocation"`
	Discount   pricing.Money `json:"discount"`
	Manual     bool          `json:"manual"`
}

// Selection holds at most one shop voucher and one shipping voucher.
type Selection struct {
	Shop *Choice `json:"shop"`
	Ship *Choice `json:"ship"`
}

// For returns the choice for a category.
func (s Selection) For(c Category) *Choice {
	if c == CategoryShip {
		return s.Ship
	}
	return s.Shop
}

// ShopDiscount returns the selected shop discount or zero.
func (s Selection) ShopDiscount() pricing.Money {
	if s.Shop == nil {
		return pricing.Zero
	}
	return s.Shop.Discount
}

// ShipDiscount returns the selected shipping discount or zero.
func (s Selection) ShipDiscount() pricing.Money {
	if s.Ship == nil {
		return pricing.Zero
	}
	return s.Ship.Discount
}

// ShopCode returns the selected shop voucher code or nil.
func (s Selection) ShopCode() *string {
	return choiceCode(s.Shop)
}

// ShipCode returns the selected shipping voucher code or nil.
func (s Selection) ShipCode() *string {
	return choiceCode(s.Ship)
}

func choiceCode(c *Choice) *string {
	if c == nil {
		return nil
	}
	code := c.Allocation.Code()
	return &code
}

// Pick is a manual voucher choice for one category. None switches the
// category off; otherwise Code (and AllocationID when known) names the voucher.
type Pick struct {
	Code         string `json:"code,omitempty"`
	AllocationID string `json:"allocation_id,omitempty"`
	None         bool   `json:"none,omitempty"`
}

func (p Pick) matches(a Allocation) bool {
	if p.Code == "" || a.Code() != p.Code {
		return false
	}
	return p.AllocationID == "" || a.HasMember(p.AllocationID)
}

// Overrides are the user's manual picks per category. A nil pick means automatic.
type Overrides struct {
	Shop *Pick `json:"shop,omitempty"`
	Ship *Pick `json:"ship,omitempty"`
}

// For returns the override for a category.
func (o Overrides) For(c Category) *Pick {
	if c == CategoryShip {
		return o.Ship
	}
	return o.Shop
}

// Set replaces the override for a category; nil restores automatic selection.
func (o *Overrides) Set(c Category, p *Pick) {
	if c == CategoryShip {
		o.Ship = p
		return
	}
	o.Shop = p
}

// Partition splits candidates into shop and shipping sets by voucher kind.
func Partition(candidates []Allocation) (shop, ship []Allocation) {
	for _, a := range candidates {
		if a.Voucher.Category() == CategoryShip {
			ship = append(ship, a)
			continue
		}
		shop = append(shop, a)
	}
	return shop, ship
}

// Rank returns the candidates with their discounts, best first. Ties keep
// input order so the most recently obtained voucher wins.
func Rank(candidates []Allocation, o Order) []Choice {
	ranked := make([]Choice, 0, len(candidates))
	for _, a := range candidates {
		ranked = append(ranked, Choice{Allocation: a, Discount: ComputeDiscount(a.Voucher, o)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Discount.GreaterThan(ranked[j].Discount)
	})
	return ranked
}

// SelectBest greedily picks the largest shop discount and the largest
// shipping discount independently. The split assumes no voucher touches both
// the subtotal and the fee. Candidates worth nothing are never auto-picked.
func SelectBest(candidates []Allocation, o Order) Selection {
	shop, ship := Partition(candidates)
	return Selection{Shop: best(shop, o), Ship: best(ship, o)}
}

func best(candidates []Allocation, o Order) *Choice {
	ranked := Rank(candidates, o)
	if len(ranked) == 0 || !ranked[0].Discount.IsPositive() {
		return nil
	}
	head := ranked[0]
	return &head
}

// Select applies manual overrides on top of the automatic pick. An override
// replaces the automatic choice for its category; one that no longer matches
// an eligible candidate of that category falls back to automatic.
func Select(candidates []Allocation, o Order, overrides Overrides) Selection {
	shop, ship := Partition(candidates)
	return Selection{
		Shop: selectCategory(shop, o, overrides.Shop),
		Ship: selectCategory(ship, o, overrides.Ship),
	}
}

func selectCategory(candidates []Allocation, o Order, pick *Pick) *Choice {
	if pick == nil {
		return best(candidates, o)
	}
	if pick.None {
		return nil
	}
	for _, a := range candidates {
		if pick.matches(a) {
			return &Choice{Allocation: a, Discount: ComputeDiscount(a.Voucher, o), Manual: true}
		}
	}
	return best(candidates, o)
}
