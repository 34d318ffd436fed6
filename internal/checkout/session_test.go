package checkout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/agrimarket-storefront/internal/backend"
	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
	"github.com/noah-isme/agrimarket-storefront/internal/voucher"
)

func readySession(t *testing.T) *Session {
	t.Helper()
	calc := testCalc()
	sess := NewSession("s1", "u1", fixedNow)
	sess.Allocations = []voucher.Allocation{
		percentAlloc("a1", "HEMAT10", 10, 5000),
		fixedAlloc("a2", "PANEN", 3000),
		freeShipAlloc("a3", "ONGKIR15", 15000),
	}
	require.NoError(t, sess.UpdateCart([]pricing.LineItem{line("p1", 100000, 1)}, calc))
	ticket, err := sess.BeginFeeQuote("501")
	require.NoError(t, err)
	require.NoError(t, sess.ApplyFee(ticket, money(20000), calc))
	require.Equal(t, StateSelected, sess.State)
	return sess
}

func TestSessionStartsIdleAndSelectsOnCart(t *testing.T) {
	sess := NewSession("s1", "u1", fixedNow)
	require.Equal(t, StateIdle, sess.State)

	require.NoError(t, sess.UpdateCart([]pricing.LineItem{line("p1", 10000, 2)}, testCalc()))
	require.Equal(t, StateSelected, sess.State)
	requireMoney(t, 20000, sess.Result.Total)
}

func TestSessionDiscardsFeeQuotedForOldCart(t *testing.T) {
	calc := testCalc()
	sess := readySession(t)

	ticket, err := sess.BeginFeeQuote("502")
	require.NoError(t, err)
	require.Equal(t, StateComputing, sess.State)

	require.NoError(t, sess.UpdateCart([]pricing.LineItem{line("p1", 100000, 3)}, calc))
	require.ErrorIs(t, sess.ApplyFee(ticket, money(90000), calc), ErrStale)
	requireMoney(t, 20000, sess.Result.ShippingFee)
}

func TestSessionOnlyLatestFeeQuoteApplies(t *testing.T) {
	calc := testCalc()
	sess := readySession(t)

	first, err := sess.BeginFeeQuote("502")
	require.NoError(t, err)
	second, err := sess.BeginFeeQuote("503")
	require.NoError(t, err)

	require.NoError(t, sess.ApplyFee(second, money(30000), calc))
	require.ErrorIs(t, sess.ApplyFee(first, money(10000), calc), ErrStale)
	requireMoney(t, 30000, sess.Result.ShippingFee)
	require.Equal(t, "503", sess.Destination)
}

func TestSessionCartChangeClearsOverrides(t *testing.T) {
	calc := testCalc()
	sess := readySession(t)

	require.NoError(t, sess.SetOverride(voucher.CategoryShop, &voucher.Pick{Code: "PANEN"}, calc))
	require.Equal(t, "PANEN", *sess.Result.ShopVoucherCode)

	require.NoError(t, sess.UpdateCart([]pricing.LineItem{line("p1", 100000, 2)}, calc))
	require.Nil(t, sess.Overrides.Shop)
	require.Equal(t, "HEMAT10", *sess.Result.ShopVoucherCode)
}

func TestSessionVoucherRefreshRevertsVanishedPick(t *testing.T) {
	calc := testCalc()
	sess := readySession(t)
	require.NoError(t, sess.SetOverride(voucher.CategoryShop, &voucher.Pick{Code: "PANEN", AllocationID: "a2"}, calc))

	ticket, err := sess.BeginVoucherRefresh()
	require.NoError(t, err)
	require.NoError(t, sess.ApplyVouchers(ticket, []voucher.Allocation{
		percentAlloc("a1", "HEMAT10", 10, 5000),
		fixedAlloc("a9", "PANEN", 3000),
	}, calc))

	require.Equal(t, "HEMAT10", *sess.Result.ShopVoucherCode)
	require.False(t, sess.Result.Selection.Shop.Manual)
	require.Nil(t, sess.Result.ShipVoucherCode)
}

func TestSessionVoucherRejectionRecomputesWithoutCode(t *testing.T) {
	calc := testCalc()
	sess := readySession(t)
	require.NoError(t, sess.SetOverride(voucher.CategoryShop, &voucher.Pick{Code: "HEMAT10"}, calc))

	attempt, err := sess.BeginSubmit(calc)
	require.NoError(t, err)
	require.Equal(t, StateSubmitting, sess.State)
	require.ErrorIs(t, sess.UpdateCart(nil, calc), ErrSubmitting)

	require.NoError(t, sess.RejectVoucher(attempt, Rejection{
		Code:        backend.CodeVoucherInvalid,
		Message:     "Voucher is no longer valid",
		VoucherCode: "HEMAT10",
	}, calc))

	require.Equal(t, StateSelected, sess.State)
	require.Nil(t, sess.Overrides.Shop)
	require.Equal(t, []string{"HEMAT10"}, sess.Excluded)
	require.Equal(t, "PANEN", *sess.Result.ShopVoucherCode)
	requireMoney(t, 3000, sess.Result.ShopDiscount)
	requireMoney(t, 100000+20000-3000-15000, sess.Result.Total)
	require.Equal(t, RejectionVoucher, sess.Rejection.Kind)
	require.Equal(t, "Voucher is no longer valid", sess.Rejection.Message)
}

func TestSessionVoucherRejectionWithoutCodeExcludesSubmitted(t *testing.T) {
	calc := testCalc()
	sess := readySession(t)
	attempt, err := sess.BeginSubmit(calc)
	require.NoError(t, err)

	require.NoError(t, sess.RejectVoucher(attempt, Rejection{Code: backend.CodeVoucherExpired, Message: "expired"}, calc))
	require.Equal(t, []string{"HEMAT10", "ONGKIR15"}, sess.Excluded)
	require.Equal(t, "PANEN", *sess.Result.ShopVoucherCode)
	require.Nil(t, sess.Result.ShipVoucherCode)
}

func TestSessionStockRejectionBlocksResubmit(t *testing.T) {
	calc := testCalc()
	sess := readySession(t)
	attempt, err := sess.BeginSubmit(calc)
	require.NoError(t, err)

	shortfall := []backend.Shortfall{{ProductID: "p1", Requested: 1, Available: 0}}
	require.NoError(t, sess.RejectStock(attempt, Rejection{Code: backend.CodeOutOfStock, Items: shortfall}, fixedNow))
	require.Equal(t, StateRejected, sess.State)
	require.Equal(t, shortfall, sess.Rejection.Items)

	_, err = sess.BeginSubmit(calc)
	require.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, sess.UpdateCart([]pricing.LineItem{line("p2", 100000, 1)}, calc))
	_, err = sess.BeginSubmit(calc)
	require.NoError(t, err)
}

func TestSessionAbandonDiscardsLateAnswer(t *testing.T) {
	calc := testCalc()
	sess := readySession(t)
	attempt, err := sess.BeginSubmit(calc)
	require.NoError(t, err)

	sess.Abandon(fixedNow)
	require.Equal(t, StateIdle, sess.State)
	require.ErrorIs(t, sess.Confirm(attempt, "ord-1", fixedNow), ErrStale)
	require.Empty(t, sess.OrderID)
}

func TestSessionSubmissionTimeout(t *testing.T) {
	calc := testCalc()
	sess := readySession(t)
	_, err := sess.BeginSubmit(calc)
	require.NoError(t, err)

	require.False(t, sess.ExpireSubmission(fixedNow.Add(5*time.Second), 20*time.Second))
	require.True(t, sess.ExpireSubmission(fixedNow.Add(21*time.Second), 20*time.Second))
	require.Equal(t, StateRejected, sess.State)
	require.Equal(t, CodeSubmitTimeout, sess.Rejection.Code)

	_, err = sess.BeginSubmit(calc)
	require.NoError(t, err)
}

func TestSessionConfirmedIsClosed(t *testing.T) {
	calc := testCalc()
	sess := readySession(t)
	attempt, err := sess.BeginSubmit(calc)
	require.NoError(t, err)
	require.NoError(t, sess.Confirm(attempt, "ord-1", fixedNow))

	require.Equal(t, StateConfirmed, sess.State)
	require.ErrorIs(t, sess.UpdateCart(nil, calc), ErrClosed)
	_, err = sess.BeginFeeQuote("501")
	require.ErrorIs(t, err, ErrClosed)
}

func TestSessionSubmitPreconditions(t *testing.T) {
	calc := testCalc()

	empty := NewSession("s2", "u1", fixedNow)
	require.NoError(t, empty.UpdateCart(nil, calc))
	_, err := empty.BeginSubmit(calc)
	require.ErrorIs(t, err, ErrNothingSelected)

	noFee := NewSession("s3", "u1", fixedNow)
	require.NoError(t, noFee.UpdateCart([]pricing.LineItem{line("p1", 1000, 1)}, calc))
	_, err = noFee.BeginSubmit(calc)
	require.ErrorIs(t, err, ErrFeeUnknown)

	pending := readySession(t)
	_, err = pending.BeginFeeQuote("777")
	require.NoError(t, err)
	_, err = pending.BeginSubmit(calc)
	require.ErrorIs(t, err, ErrNotReady)
}
