package shipping

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/noah-isme/agrimarket-storefront/internal/cache"
	"github.com/noah-isme/agrimarket-storefront/internal/common"
	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
)

// ErrDestinationRequired is returned when a fee is requested without a destination.
var ErrDestinationRequired = errors.New("shipping destination is required")

// minWeightGram is the smallest parcel weight couriers bill for.
const minWeightGram = 1000

// FeeRequest describes a delivery-fee lookup.
type FeeRequest struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	WeightGram  int    `json:"weight"`
	Length      int    `json:"length,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// Normalize trims the location codes and applies the minimum billable weight.
func (r FeeRequest) Normalize() FeeRequest {
	r.Origin = strings.TrimSpace(r.Origin)
	r.Destination = strings.TrimSpace(r.Destination)
	if r.WeightGram < minWeightGram {
		r.WeightGram = minWeightGram
	}
	return r
}

// Key identifies the parcel for caching and idempotency.
func (r FeeRequest) Key() string {
	return common.Fingerprint(r.Origin, r.Destination, strconv.Itoa(r.WeightGram), strconv.Itoa(r.Length), strconv.Itoa(r.Width), strconv.Itoa(r.Height))
}

// Quoter returns the delivery fee for a parcel.
type Quoter interface {
	Fee(ctx context.Context, r FeeRequest) (pricing.Money, error)
}

// QuoterFunc adapts a function to the Quoter interface.
type QuoterFunc func(ctx context.Context, r FeeRequest) (pricing.Money, error)

// Fee calls f.
func (f QuoterFunc) Fee(ctx context.Context, r FeeRequest) (pricing.Money, error) {
	return f(ctx, r)
}

// Static quotes the same fee for every destination. Useful for development
// and for storefronts with flat-rate delivery.
type Static struct {
	Amount pricing.Money
}

// Fee returns the configured flat fee.
func (s Static) Fee(_ context.Context, r FeeRequest) (pricing.Money, error) {
	if strings.TrimSpace(r.Destination) == "" {
		return pricing.Zero, ErrDestinationRequired
	}
	return pricing.NonNegative(s.Amount), nil
}

// Cached memoises fee quotes from Next in Redis. Quotes are keyed by the
// normalised request, so identical parcels share one upstream lookup.
type Cached struct {
	Next   Quoter
	Cache  *cache.JSON
	Origin string
}

// Fee returns a cached quote when available and otherwise asks Next.
func (c Cached) Fee(ctx context.Context, r FeeRequest) (pricing.Money, error) {
	if r.Origin == "" {
		r.Origin = c.Origin
	}
	r = r.Normalize()
	if r.Destination == "" {
		return pricing.Zero, ErrDestinationRequired
	}
	if c.Next == nil {
		return pricing.Zero, errors.New("shipping quoter not configured")
	}

	key := r.Key()
	if c.Cache != nil {
		var cached pricing.Money
		if ok, err := c.Cache.Get(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}
	fee, err := c.Next.Fee(ctx, r)
	if err != nil {
		return pricing.Zero, err
	}
	fee = pricing.NonNegative(fee)
	if c.Cache != nil {
		_ = c.Cache.Set(ctx, key, fee)
	}
	return fee, nil
}

// ParcelWeight sums the weight of the selected lines, counting quantity.
func ParcelWeight(items []pricing.LineItem) int {
	total := 0
	for _, it := range items {
		if !it.Selected || it.Quantity <= 0 || it.Product == nil {
			continue
		}
		total += it.Product.WeightGram * it.Quantity
	}
	return total
}
