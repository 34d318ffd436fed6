package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
	"github.com/noah-isme/agrimarket-storefront/internal/shipping"
)

// OrderItem is one submitted line.
type OrderItem struct {
	ProductID string        `json:"product_id"`
	Quantity  int           `json:"quantity"`
	UnitPrice pricing.Money `json:"unit_price"`
}

// OrderRequest is the order-creation payload. Voucher codes are embedded
// verbatim from the computed summary.
type OrderRequest struct {
	Items           []OrderItem   `json:"items"`
	ShopVoucherCode *string       `json:"shop_voucher_code"`
	ShipVoucherCode *string       `json:"ship_voucher_code"`
	Subtotal        pricing.Money `json:"subtotal"`
	ShippingFee     pricing.Money `json:"shipping_fee"`
	ShopDiscount    pricing.Money `json:"shop_discount"`
	ShipDiscount    pricing.Money `json:"ship_discount"`
	Total           pricing.Money `json:"total"`
	Destination     string        `json:"destination,omitempty"`
	Note            string        `json:"note,omitempty"`
}

// Order is the backend's answer to a successful submission.
type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateOrder submits an order. The idempotency key lets the resilient
// transport retry safely. Rejections come back as *VoucherRejection or
// *StockRejection.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest, idempotencyKey string) (Order, error) {
	var order Order
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	err := c.do(ctx, call{method: http.MethodPost, path: "/orders", body: req, headers: headers, out: &order})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return Order{}, classify(apiErr)
		}
		return Order{}, err
	}
	return order, nil
}

// DeliveryFee quotes the delivery fee for a parcel. The lookup is a pure
// read, so it carries a deterministic idempotency key and may be retried.
func (c *Client) DeliveryFee(ctx context.Context, r shipping.FeeRequest) (pricing.Money, error) {
	var out struct {
		Fee pricing.Amount `json:"fee"`
	}
	key := "fee:" + r.Key()
	err := c.do(ctx, call{
		method:  http.MethodPost,
		path:    "/delivery/fee",
		body:    r,
		headers: map[string]string{"Idempotency-Key": key},
		out:     &out,
	})
	if err != nil {
		return pricing.Zero, err
	}
	return pricing.NonNegative(out.Fee.OrZero()), nil
}
