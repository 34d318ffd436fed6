package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/agrimarket-storefront/internal/common"
	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
	"github.com/noah-isme/agrimarket-storefront/internal/resilience"
	"github.com/noah-isme/agrimarket-storefront/internal/shipping"
	"github.com/noah-isme/agrimarket-storefront/internal/voucher"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	doer := resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(100, 1, time.Second).WithTarget("backend-test"),
		BaseBackoff: time.Millisecond,
		MaxAttempts: 2,
	}
	return New(srv.URL+"/", doer, zerolog.Nop())
}

func withToken(token string) context.Context {
	return common.WithAccessToken(context.Background(), token)
}

func TestListMyVouchersForwardsTokenAndUnwrapsEnvelope(t *testing.T) {
	var auth atomic.Value
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/vouchers/mine" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"data":[
			{"id":"a1","voucher":{"code":" HEMAT10 ","kind":"percentage","discount_percent":"10"},"quantity":0},
			{"id":"a2","voucher":{"code":""}}
		]}`)
	}))

	allocs, err := client.ListMyVouchers(withToken("tok-1"))
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-1", auth.Load())
	require.Len(t, allocs, 1)
	require.Equal(t, "HEMAT10", allocs[0].Code())
	require.Equal(t, voucher.KindPercent, allocs[0].Voucher.Kind)
	require.Equal(t, 1, allocs[0].QuantityOwned)
}

func TestListMyVouchersAcceptsBareArray(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"a1","voucher":{"code":"ONGKIR","kind":"freeship"},"quantity":2}]`)
	}))

	allocs, err := client.ListMyVouchers(withToken("tok"))
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	require.Equal(t, voucher.CategoryShip, allocs[0].Voucher.Category())
}

func TestListMyVouchersSharesConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.ListMyVouchers(withToken("same-user"))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int32(1), hits.Load())
}

func TestListMyVouchersSurvivesFirstCallerCancelling(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(entered)
		}
		<-release
		_, _ = io.WriteString(w, `{"data":[{"id":"a1","voucher":{"code":"PANEN","kind":"fixed","discount_amount":2000},"quantity":1}]}`)
	}))

	firstCtx, cancel := context.WithCancel(withToken("same-user"))
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.ListMyVouchers(firstCtx)
		firstErr <- err
	}()
	<-entered

	type result struct {
		allocs []voucher.Allocation
		err    error
	}
	second := make(chan result, 1)
	go func() {
		allocs, err := client.ListMyVouchers(withToken("same-user"))
		second <- result{allocs, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	got := <-second
	require.NoError(t, got.err)
	require.Len(t, got.allocs, 1)
	require.Equal(t, "PANEN", got.allocs[0].Voucher.Code)
	require.Equal(t, int32(1), hits.Load())
}

func TestCreateOrderClassifiesVoucherRejection(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error":{"code":"voucher_expired","message":"Voucher has expired","details":{"voucher_code":"HEMAT10"}}}`)
	}))

	_, err := client.CreateOrder(withToken("tok"), OrderRequest{}, "idem-1")
	var rejection *VoucherRejection
	require.True(t, errors.As(err, &rejection))
	require.Equal(t, CodeVoucherExpired, rejection.Code)
	require.Equal(t, "HEMAT10", rejection.VoucherCode)
	require.Equal(t, "Voucher has expired", rejection.Message)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
}

func TestCreateOrderClassifiesStockRejection(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"INSUFFICIENT_STOCK","message":"not enough stock","details":{"items":[{"product_id":"p1","name":"Bibit Cabai","requested":5,"available":2}]}}`)
	}))

	_, err := client.CreateOrder(withToken("tok"), OrderRequest{}, "")
	var rejection *StockRejection
	require.True(t, errors.As(err, &rejection))
	require.Equal(t, []Shortfall{{ProductID: "p1", Name: "Bibit Cabai", Requested: 5, Available: 2}}, rejection.Items)
}

func TestCreateOrderSendsPayloadAndRetriesWithIdempotencyKey(t *testing.T) {
	var calls atomic.Int32
	var got OrderRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("Idempotency-Key") != "idem-42" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"id":"ord-1","status":"PENDING_PAYMENT"}}`)
	}))

	code := "ONGKIR"
	order, err := client.CreateOrder(withToken("tok"), OrderRequest{
		Items:           []OrderItem{{ProductID: "p1", Quantity: 2, UnitPrice: pricing.FromInt(50000)}},
		ShipVoucherCode: &code,
		Total:           pricing.FromInt(100000),
	}, "idem-42")
	require.NoError(t, err)
	require.Equal(t, Order{ID: "ord-1", Status: "PENDING_PAYMENT"}, order)
	require.Equal(t, int32(2), calls.Load())
	require.NotNil(t, got.ShipVoucherCode)
	require.Equal(t, "ONGKIR", *got.ShipVoucherCode)
	require.Nil(t, got.ShopVoucherCode)
}

func TestCreateOrderServerErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.CreateOrder(withToken("tok"), OrderRequest{}, "")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestDeliveryFeeDecodesEitherShape(t *testing.T) {
	cases := map[string]string{
		"flat":     `{"fee":18000}`,
		"envelope": `{"data":{"fee":"18000"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/delivery/fee" || r.Header.Get("Idempotency-Key") == "" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				_, _ = io.WriteString(w, body)
			}))

			fee, err := client.DeliveryFee(context.Background(), shipping.FeeRequest{Origin: "114", Destination: "501", WeightGram: 1000})
			require.NoError(t, err)
			require.True(t, fee.Equal(pricing.FromInt(18000)))
		})
	}
}

func TestClaimVoucher(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["code"] != "PANEN" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"voucher not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"id":"a9","voucher":{"code":"PANEN","kind":"fixed","discount_amount":5000}}}`)
	}))

	alloc, err := client.ClaimVoucher(withToken("tok"), " PANEN ")
	require.NoError(t, err)
	require.Equal(t, "a9", alloc.ID)

	_, err = client.ClaimVoucher(withToken("tok"), "NOPE")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "voucher not found", apiErr.Message)
}

func TestPing(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	require.NoError(t, client.Ping(context.Background()))

	down := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	require.ErrorIs(t, down.Ping(context.Background()), ErrUnavailable)
}
