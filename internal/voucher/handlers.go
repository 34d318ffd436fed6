package voucher

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/agrimarket-storefront/internal/cache"
	"github.com/noah-isme/agrimarket-storefront/internal/common"
	"github.com/noah-isme/agrimarket-storefront/internal/obs"
	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
)

// Wallet is the backend surface behind the voucher endpoints.
type Wallet interface {
	ListMyVouchers(ctx context.Context) ([]Allocation, error)
	ListVouchers(ctx context.Context) ([]Voucher, error)
	ClaimVoucher(ctx context.Context, code string) (Allocation, error)
}

// Handler exposes the voucher picker, the public catalog and claiming.
type Handler struct {
	Wallet Wallet
	Owned  *cache.JSON
	Logger zerolog.Logger
	Now    func() time.Time
}

type claimPayload struct {
	Code string `json:"code" validate:"required,max=64"`
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Mine lists the caller's vouchers grouped by code and annotated for the
// order described by the subtotal and shipping_fee query parameters.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	order, err := orderFromQuery(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	allocs := h.owned(r.Context(), userID)
	common.Data(w, http.StatusOK, Annotate(allocs, order, h.now()))
}

// owned returns the cached owned list, fetching it on a miss. A failed fetch
// yields an empty list.
func (h *Handler) owned(ctx context.Context, userID string) []Allocation {
	var allocs []Allocation
	if ok, err := h.Owned.Get(ctx, userID, &allocs); err == nil && ok {
		return allocs
	}
	allocs, err := h.Wallet.ListMyVouchers(ctx)
	if err != nil {
		obs.IncVoucherFetchFailure()
		obs.Logger(ctx, h.Logger).Warn().Err(err).Msg("owned vouchers unavailable")
		return []Allocation{}
	}
	if err := h.Owned.Set(ctx, userID, allocs); err != nil {
		obs.Logger(ctx, h.Logger).Debug().Err(err).Msg("cache owned vouchers")
	}
	return allocs
}

// Catalog lists the publicly claimable vouchers.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Wallet.ListVouchers(r.Context())
	if err != nil {
		writeUpstream(w, err)
		return
	}
	common.Data(w, http.StatusOK, vouchers)
}

// Claim adds a voucher to the caller's wallet and drops the cached owned list.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload claimPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	alloc, err := h.Wallet.ClaimVoucher(r.Context(), strings.TrimSpace(payload.Code))
	if err != nil {
		writeUpstream(w, err)
		return
	}
	_ = h.Owned.Delete(r.Context(), userID)
	common.Data(w, http.StatusCreated, alloc)
}

func orderFromQuery(r *http.Request) (Order, error) {
	q := r.URL.Query()
	var order Order
	for _, field := range []struct {
		name string
		dst  *pricing.Money
	}{{"subtotal", &order.Subtotal}, {"shipping_fee", &order.ShippingFee}} {
		raw := strings.TrimSpace(q.Get(field.name))
		if raw == "" {
			*field.dst = pricing.Zero
			continue
		}
		v, err := pricing.Parse(raw)
		if err != nil {
			return Order{}, common.BadRequest(field.name+" must be a number", err)
		}
		*field.dst = pricing.NonNegative(v)
	}
	return order, nil
}

// writeUpstream renders errors that know their HTTP form and hides the rest.
func writeUpstream(w http.ResponseWriter, err error) {
	var upstream interface{ AppError() *common.AppError }
	if errors.As(err, &upstream) {
		common.WriteError(w, upstream.AppError())
		return
	}
	common.JSONError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "upstream service unavailable", nil)
}
