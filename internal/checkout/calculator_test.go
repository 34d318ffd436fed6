package checkout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
	"github.com/noah-isme/agrimarket-storefront/internal/voucher"
)

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testCalc() Calculator {
	return Calculator{Now: func() time.Time { return fixedNow }}
}

func money(v int64) pricing.Money { return pricing.FromInt(v) }

func line(id string, price int64, qty int) pricing.LineItem {
	return pricing.LineItem{
		ID:        "line-" + id,
		ProductID: id,
		Product:   &pricing.ProductSnapshot{ID: id, Price: pricing.NewAmount(price), WeightGram: 500},
		Quantity:  qty,
		Selected:  true,
	}
}

func percentAlloc(id, code string, percent, maxAmount int64) voucher.Allocation {
	return voucher.Allocation{
		ID:            id,
		QuantityOwned: 1,
		Voucher: voucher.Voucher{
			Code:              code,
			Kind:              voucher.KindPercent,
			DiscountPercent:   pricing.NewAmount(percent),
			MaxDiscountAmount: pricing.NewAmount(maxAmount),
		},
	}
}

func fixedAlloc(id, code string, amount int64) voucher.Allocation {
	return voucher.Allocation{
		ID:            id,
		QuantityOwned: 1,
		Voucher: voucher.Voucher{
			Code:           code,
			Kind:           voucher.KindFixedAmount,
			DiscountAmount: pricing.NewAmount(amount),
		},
	}
}

func freeShipAlloc(id, code string, capAmount int64) voucher.Allocation {
	return voucher.Allocation{
		ID:            id,
		QuantityOwned: 1,
		Voucher: voucher.Voucher{
			Code:           code,
			Kind:           voucher.KindFreeShipping,
			FreeshipAmount: pricing.NewAmount(capAmount),
		},
	}
}

func requireMoney(t *testing.T, want int64, got pricing.Money) {
	t.Helper()
	require.Truef(t, got.Equal(money(want)), "want %d, got %s", want, got)
}

func TestComputeCappedPercentAndFreeShipping(t *testing.T) {
	res := testCalc().Compute(Input{
		Items: []pricing.LineItem{line("p1", 100000, 1)},
		Allocations: []voucher.Allocation{
			percentAlloc("a1", "HEMAT10", 10, 5000),
			freeShipAlloc("a2", "ONGKIR15", 15000),
		},
		ShippingFee: money(20000),
	})

	requireMoney(t, 100000, res.Subtotal)
	requireMoney(t, 5000, res.ShopDiscount)
	requireMoney(t, 15000, res.ShipDiscount)
	requireMoney(t, 100000, res.Total)
	require.Equal(t, "HEMAT10", *res.ShopVoucherCode)
	require.Equal(t, "ONGKIR15", *res.ShipVoucherCode)
	require.Len(t, res.Options, 2)
	for _, opt := range res.Options {
		require.True(t, opt.Eligible)
		require.True(t, opt.Selected)
	}
}

func TestComputeClampsOversizedFixedVoucher(t *testing.T) {
	res := testCalc().Compute(Input{
		Items:       []pricing.LineItem{line("p1", 50000, 1)},
		Allocations: []voucher.Allocation{fixedAlloc("a1", "BESAR", 200000)},
	})

	requireMoney(t, 200000, res.ShopDiscount)
	requireMoney(t, 0, res.Total)
	require.False(t, res.Total.IsNegative())
}

func TestComputeIgnoresUnselectedLinesAndExcludedCodes(t *testing.T) {
	unselected := line("p2", 70000, 2)
	unselected.Selected = false
	res := testCalc().Compute(Input{
		Items:       []pricing.LineItem{line("p1", 30000, 2), unselected},
		Allocations: []voucher.Allocation{fixedAlloc("a1", "PANEN", 10000), fixedAlloc("a2", "TANAM", 5000)},
		ShippingFee: money(10000),
		Excluded:    []string{"PANEN"},
	})

	requireMoney(t, 60000, res.Subtotal)
	require.Equal(t, "TANAM", *res.ShopVoucherCode)
	requireMoney(t, 65000, res.Total)
	for _, opt := range res.Options {
		if opt.Allocation.Code() == "PANEN" {
			require.False(t, opt.Eligible)
			require.Equal(t, "rejected", opt.Reason)
		}
	}
}

func TestComputeHonoursOverrides(t *testing.T) {
	in := Input{
		Items:       []pricing.LineItem{line("p1", 100000, 1)},
		Allocations: []voucher.Allocation{fixedAlloc("a1", "BIG", 20000), fixedAlloc("a2", "SMALL", 5000), freeShipAlloc("a3", "ONGKIR", 0)},
		ShippingFee: money(12000),
		Overrides: voucher.Overrides{
			Shop: &voucher.Pick{Code: "SMALL", AllocationID: "a2"},
			Ship: &voucher.Pick{None: true},
		},
	}
	res := testCalc().Compute(in)

	require.Equal(t, "SMALL", *res.ShopVoucherCode)
	require.True(t, res.Selection.Shop.Manual)
	require.Nil(t, res.ShipVoucherCode)
	requireMoney(t, 107000, res.Total)
}

func TestAddExcludedDeduplicates(t *testing.T) {
	require.Equal(t, []string{"A", "B"}, addExcluded([]string{"B"}, "A", "B", ""))
}
