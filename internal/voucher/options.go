package voucher

import (
	"errors"
	"time"

	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
)

// ErrRejected marks a code the order service refused during this checkout.
var ErrRejected = errors.New("voucher rejected by order service")

// Option is one row of the voucher picker: a grouped voucher with its
// eligibility and the discount it would give for the current order.
type Option struct {
	Allocation Allocation    `json:"allocation"`
	Category   Category      `json:"category"`
	Remaining  int           `json:"remaining"`
	Eligible   bool          `json:"eligible"`
	Reason     string        `json:"reason,omitempty"`
	Discount   pricing.Money `json:"discount"`
	Selected   bool          `json:"selected"`
}

// Evaluation is the candidate set and the picker rows for one order.
type Evaluation struct {
	Candidates []Allocation
	Options    []Option
}

// Evaluate filters the owned allocations for the order, groups the eligible
// ones into candidates and builds an annotated row per distinct code.
// Codes in excluded are reported ineligible with ErrRejected.
func Evaluate(allocs []Allocation, o Order, now time.Time, excluded map[string]bool) Evaluation {
	eligible := make([]Allocation, 0, len(allocs))
	for _, a := range allocs {
		if excluded[a.Code()] {
			continue
		}
		if IsEligible(a, o, now) {
			eligible = append(eligible, a)
		}
	}
	candidates := GroupByCode(eligible)
	all := GroupByCode(allocs)

	options := make([]Option, 0, all.Len())
	for _, grouped := range all.List() {
		opt := Option{
			Allocation: grouped,
			Category:   grouped.Voucher.Category(),
			Remaining:  grouped.Remaining(),
			Discount:   ComputeDiscount(grouped.Voucher, o),
		}
		if candidate, ok := candidates.Get(grouped.Code()); ok {
			opt.Allocation = candidate
			opt.Remaining = candidate.Remaining()
			opt.Eligible = true
		} else if excluded[grouped.Code()] {
			opt.Reason = Reason(ErrRejected)
		} else {
			opt.Reason = ineligibleReason(grouped, allocs, o, now)
		}
		options = append(options, opt)
	}
	return Evaluation{Candidates: candidates.List(), Options: options}
}

// ineligibleReason explains a grouped entry whose members all failed the
// filter. The aggregate can pass on its own, so members are consulted too.
func ineligibleReason(grouped Allocation, allocs []Allocation, o Order, now time.Time) string {
	if err := Check(grouped, o, now); err != nil {
		return Reason(err)
	}
	for _, a := range allocs {
		if a.Code() != grouped.Code() {
			continue
		}
		if err := Check(a, o, now); err != nil {
			return Reason(err)
		}
	}
	return Reason(errors.New("not eligible"))
}

// Annotate returns the picker rows for every owned voucher.
func Annotate(allocs []Allocation, o Order, now time.Time) []Option {
	return Evaluate(allocs, o, now, nil).Options
}

// MarkSelected flags the options chosen by sel.
func MarkSelected(options []Option, sel Selection) []Option {
	for i := range options {
		choice := sel.For(options[i].Category)
		options[i].Selected = choice != nil && choice.Allocation.Code() == options[i].Allocation.Code()
	}
	return options
}
