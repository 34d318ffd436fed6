package voucher

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
)

// Kind identifies how a voucher computes its discount.
type Kind string

const (
	KindPercent      Kind = "percent"
	KindFixedAmount  Kind = "fixed_amount"
	KindFreeShipping Kind = "free_shipping"
)

// ParseKind normalises the kind labels used across backend endpoints.
func ParseKind(value string) Kind {
	normalised := strings.ToLower(strings.TrimSpace(value))
	normalised = strings.NewReplacer("-", "_", " ", "_").Replace(normalised)
	switch normalised {
	case "percent", "percentage", "pct":
		return KindPercent
	case "fixed_amount", "fixed", "amount", "fixedamount":
		return KindFixedAmount
	case "free_shipping", "freeship", "free_ship", "freeshipping", "shipping", "free_delivery":
		return KindFreeShipping
	default:
		return Kind(normalised)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*k = ""
		return nil
	}
	*k = ParseKind(s)
	return nil
}

// Category is the checkout slot a voucher occupies.
type Category string

const (
	// CategoryShop vouchers discount the merchandise subtotal.
	CategoryShop Category = "shop"
	// CategoryShip vouchers discount the shipping fee.
	CategoryShip Category = "ship"
)

// ParseCategory validates a category path parameter.
func ParseCategory(value string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "shop":
		return CategoryShop, true
	case "ship", "shipping":
		return CategoryShip, true
	}
	return "", false
}

// Scope tells who issued the voucher.
type Scope string

const (
	ScopeShop   Scope = "shop"
	ScopeSystem Scope = "system"
)

// Voucher is a promotional rule issued by the promotions backend. It is
// immutable once issued.
type Voucher struct {
	ID                string         `json:"id,omitempty"`
	Code              string         `json:"code"`
	Title             string         `json:"title,omitempty"`
	Kind              Kind           `json:"kind"`
	Scope             Scope          `json:"scope,omitempty"`
	ShopID            string         `json:"shop_id,omitempty"`
	DiscountPercent   pricing.Amount `json:"discount_percent"`
	MaxDiscountAmount pricing.Amount `json:"max_discount_amount"`
	DiscountAmount    pricing.Amount `json:"discount_amount"`
	FreeshipAmount    pricing.Amount `json:"freeship_amount"`
	MinOrderValue     pricing.Amount `json:"min_order_value"`
	StartAt           *time.Time     `json:"start_at,omitempty"`
	EndAt             *time.Time     `json:"end_at,omitempty"`
}

// Category reports the checkout slot of the voucher.
func (v Voucher) Category() Category {
	if v.Kind == KindFreeShipping {
		return CategoryShip
	}
	return CategoryShop
}

// Allocation is the user's owned copy of a voucher.
type Allocation struct {
	ID            string     `json:"id"`
	Voucher       Voucher    `json:"voucher"`
	QuantityOwned int        `json:"quantity"`
	UsedCount     int        `json:"used_count"`
	IsUsed        bool       `json:"is_used"`
	ObtainedAt    *time.Time `json:"obtained_at,omitempty"`
	// MemberIDs lists the allocation ids merged into this entry by GroupByCode.
	MemberIDs []string `json:"member_ids,omitempty"`
}

// Code is a shorthand for the voucher code.
func (a Allocation) Code() string {
	return a.Voucher.Code
}

// Remaining returns how many uses are left, never below zero.
func (a Allocation) Remaining() int {
	remaining := a.QuantityOwned - a.UsedCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasMember reports whether id is one of the allocations represented by a.
func (a Allocation) HasMember(id string) bool {
	if id == "" {
		return false
	}
	if a.ID == id {
		return true
	}
	for _, member := range a.MemberIDs {
		if member == id {
			return true
		}
	}
	return false
}

// Normalize repairs partial backend records: a missing quantity counts as a
// single claim and negative usage counts are ignored.
func (a Allocation) Normalize() Allocation {
	if a.QuantityOwned < 1 {
		a.QuantityOwned = 1
	}
	if a.UsedCount < 0 {
		a.UsedCount = 0
	}
	a.Voucher.Code = strings.TrimSpace(a.Voucher.Code)
	return a
}

// NormalizeAll applies Normalize to every allocation and drops entries without a code.
func NormalizeAll(allocs []Allocation) []Allocation {
	out := make([]Allocation, 0, len(allocs))
	for _, a := range allocs {
		a = a.Normalize()
		if a.Voucher.Code == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}
