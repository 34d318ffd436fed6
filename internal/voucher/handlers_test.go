package voucher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/agrimarket-storefront/internal/cache"
	"github.com/noah-isme/agrimarket-storefront/internal/common"
	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
)

type fakeWallet struct {
	owned    []Allocation
	ownedErr error
	calls    int
	claimErr error
}

func (f *fakeWallet) ListMyVouchers(context.Context) ([]Allocation, error) {
	f.calls++
	return f.owned, f.ownedErr
}

func (f *fakeWallet) ListVouchers(context.Context) ([]Voucher, error) {
	return []Voucher{{Code: "PANEN", Kind: KindFixedAmount}}, nil
}

func (f *fakeWallet) ClaimVoucher(_ context.Context, code string) (Allocation, error) {
	if f.claimErr != nil {
		return Allocation{}, f.claimErr
	}
	return Allocation{ID: "new", Voucher: Voucher{Code: code}, QuantityOwned: 1}, nil
}

type upstreamErr struct{ status int }

func (e upstreamErr) Error() string { return "upstream" }

func (e upstreamErr) AppError() *common.AppError {
	return common.NewAppError("VOUCHER_NOT_FOUND", "voucher not found", e.status, nil)
}

func newWalletHandler(t *testing.T, wallet Wallet) *Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Handler{
		Wallet: wallet,
		Owned:  cache.NewJSON(client, "vouchers:mine:", time.Minute),
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) },
	}
}

func asUser(r *http.Request) *http.Request {
	return r.WithContext(common.WithUserID(r.Context(), "u1"))
}

func TestMineAnnotatesAndCaches(t *testing.T) {
	wallet := &fakeWallet{owned: []Allocation{
		{ID: "a1", QuantityOwned: 1, Voucher: Voucher{Code: "BESAR", Kind: KindFixedAmount, DiscountAmount: pricing.NewAmount(20000), MinOrderValue: pricing.NewAmount(200000)}},
		{ID: "a2", QuantityOwned: 1, Voucher: Voucher{Code: "ONGKIR", Kind: KindFreeShipping, FreeshipAmount: pricing.NewAmount(10000)}},
	}}
	h := newWalletHandler(t, wallet)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.Mine(rec, asUser(httptest.NewRequest(http.MethodGet, "/vouchers/mine?subtotal=150000&shipping_fee=25000", nil)))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data []struct {
				Eligible bool        `json:"eligible"`
				Reason   string      `json:"reason"`
				Discount json.Number `json:"discount"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 2)
		require.False(t, resp.Data[0].Eligible)
		require.NotEmpty(t, resp.Data[0].Reason)
		require.True(t, resp.Data[1].Eligible)
		require.Equal(t, "10000", resp.Data[1].Discount.String())
	}
	require.Equal(t, 1, wallet.calls)
}

func TestMineFailureIsEmpty(t *testing.T) {
	h := newWalletHandler(t, &fakeWallet{ownedErr: errors.New("down")})
	rec := httptest.NewRecorder()
	h.Mine(rec, asUser(httptest.NewRequest(http.MethodGet, "/vouchers/mine", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestMineRejectsBadQuery(t *testing.T) {
	h := newWalletHandler(t, &fakeWallet{})
	rec := httptest.NewRecorder()
	h.Mine(rec, asUser(httptest.NewRequest(http.MethodGet, "/vouchers/mine?subtotal=abc", nil)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimInvalidatesCache(t *testing.T) {
	wallet := &fakeWallet{}
	h := newWalletHandler(t, wallet)

	rec := httptest.NewRecorder()
	h.Mine(rec, asUser(httptest.NewRequest(http.MethodGet, "/vouchers/mine", nil)))
	require.Equal(t, 1, wallet.calls)

	rec = httptest.NewRecorder()
	h.Claim(rec, asUser(httptest.NewRequest(http.MethodPost, "/vouchers/claim", strings.NewReader(`{"code":"PANEN"}`))))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.Mine(rec, asUser(httptest.NewRequest(http.MethodGet, "/vouchers/mine", nil)))
	require.Equal(t, 2, wallet.calls)
}

func TestClaimPassesUpstreamRejection(t *testing.T) {
	h := newWalletHandler(t, &fakeWallet{claimErr: upstreamErr{status: http.StatusNotFound}})
	rec := httptest.NewRecorder()
	h.Claim(rec, asUser(httptest.NewRequest(http.MethodPost, "/vouchers/claim", strings.NewReader(`{"code":"NOPE"}`))))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "VOUCHER_NOT_FOUND")

	rec = httptest.NewRecorder()
	h.Claim(rec, asUser(httptest.NewRequest(http.MethodPost, "/vouchers/claim", strings.NewReader(`{}`))))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCatalog(t *testing.T) {
	h := newWalletHandler(t, &fakeWallet{})
	rec := httptest.NewRecorder()
	h.Catalog(rec, httptest.NewRequest(http.MethodGet, "/vouchers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "PANEN")
}
