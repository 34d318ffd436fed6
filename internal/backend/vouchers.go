package backend

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/agrimarket-storefront/internal/common"
	"github.com/noah-isme/agrimarket-storefront/internal/voucher"
)

// ListMyVouchers returns the caller's owned voucher allocations. Concurrent
// calls for the same caller share one upstream request. The shared request
// does not inherit any single caller's cancellation; a caller that gives up
// returns its own context error while the others still get the result.
func (c *Client) ListMyVouchers(ctx context.Context) ([]voucher.Allocation, error) {
	key, _ := common.AccessToken(ctx)
	ch := c.owned.DoChan(common.Fingerprint(key), func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sharedTimeout())
		defer cancel()
		var allocs []voucher.Allocation
		if err := c.do(sharedCtx, call{method: http.MethodGet, path: "/vouchers/mine", out: &allocs}); err != nil {
			return nil, err
		}
		return voucher.NormalizeAll(allocs), nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	allocs := res.Val.([]voucher.Allocation)
	out := make([]voucher.Allocation, len(allocs))
	copy(out, allocs)
	return out, nil
}

func (c *Client) sharedTimeout() time.Duration {
	if c.SharedTimeout > 0 {
		return c.SharedTimeout
	}
	return defaultSharedTimeout
}

// ListVouchers returns the public voucher catalog.
func (c *Client) ListVouchers(ctx context.Context) ([]voucher.Voucher, error) {
	var vouchers []voucher.Voucher
	if err := c.do(ctx, call{method: http.MethodGet, path: "/vouchers", out: &vouchers}); err != nil {
		return nil, err
	}
	return vouchers, nil
}

// ClaimVoucher adds a voucher to the caller's wallet.
func (c *Client) ClaimVoucher(ctx context.Context, code string) (voucher.Allocation, error) {
	var alloc voucher.Allocation
	body := map[string]string{"code": strings.TrimSpace(code)}
	if err := c.do(ctx, call{method: http.MethodPost, path: "/vouchers/claim", body: body, out: &alloc}); err != nil {
		return voucher.Allocation{}, err
	}
	return alloc.Normalize(), nil
}
