package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/agrimarket-storefront/internal/common"
)

// Rejection codes returned by the order service.
const (
	CodeVoucherInvalid     = "VOUCHER_INVALID"
	CodeVoucherExpired     = "VOUCHER_EXPIRED"
	CodeVoucherExhausted   = "VOUCHER_EXHAUSTED"
	CodeVoucherNotEligible = "VOUCHER_NOT_ELIGIBLE"
	CodeVoucherMinOrder    = "VOUCHER_MIN_ORDER"
	CodeOutOfStock         = "OUT_OF_STOCK"
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
)

// ErrUnavailable wraps transport failures and 5xx answers from the backend.
var ErrUnavailable = errors.New("backend unavailable")

// APIError is a non-2xx answer decoded from the backend error body.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

// Unwrap marks server-side failures as ErrUnavailable.
func (e *APIError) Unwrap() error {
	if e != nil && e.Status >= http.StatusInternalServerError {
		return ErrUnavailable
	}
	return nil
}

// AppError converts the answer for our own callers. Client-side rejections
// keep their status and code; server failures become a 502.
func (e *APIError) AppError() *common.AppError {
	if e.Status >= http.StatusInternalServerError {
		return common.NewAppError("BACKEND_UNAVAILABLE", "upstream service unavailable", http.StatusBadGateway, e)
	}
	code := e.Code
	if code == "" {
		code = strings.ToUpper(strings.ReplaceAll(http.StatusText(e.Status), " ", "_"))
	}
	return common.NewAppError(code, e.Message, e.Status, e)
}

// VoucherRejection reports that the order service refused a voucher.
// VoucherCode is empty when the backend did not say which code it refused.
type VoucherRejection struct {
	Code        string
	VoucherCode string
	Message     string
	Err         *APIError
}

// Error implements the error interface.
func (e *VoucherRejection) Error() string {
	if e.VoucherCode != "" {
		return fmt.Sprintf("voucher %s rejected: %s", e.VoucherCode, e.Message)
	}
	return "voucher rejected: " + e.Message
}

// Unwrap exposes the underlying API error, if any.
func (e *VoucherRejection) Unwrap() error { return unwrapAPI(e.Err) }

// Shortfall is one unavailable cart line.
type Shortfall struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// StockRejection reports that some lines cannot be fulfilled.
type StockRejection struct {
	Code    string
	Message string
	Items   []Shortfall
	Err     *APIError
}

// Error implements the error interface.
func (e *StockRejection) Error() string {
	return fmt.Sprintf("stock rejected (%d items): %s", len(e.Items), e.Message)
}

// Unwrap exposes the underlying API error, if any.
func (e *StockRejection) Unwrap() error { return unwrapAPI(e.Err) }

// unwrapAPI keeps a nil *APIError from turning into a non-nil error.
func unwrapAPI(err *APIError) error {
	if err == nil {
		return nil
	}
	return err
}

type errorEnvelope struct {
	Error *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// decodeAPIError accepts both {"error":{...}} and flat {"code","message"} bodies.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		} else {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
			apiErr.Details = env.Details
		}
	}
	apiErr.Code = strings.ToUpper(strings.TrimSpace(apiErr.Code))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// classify turns order-service rejections into their typed forms.
func classify(apiErr *APIError) error {
	switch apiErr.Code {
	case CodeVoucherInvalid, CodeVoucherExpired, CodeVoucherExhausted, CodeVoucherNotEligible, CodeVoucherMinOrder:
		var details struct {
			VoucherCode string `json:"voucher_code"`
		}
		_ = json.Unmarshal(apiErr.Details, &details)
		return &VoucherRejection{
			Code:        apiErr.Code,
			VoucherCode: strings.TrimSpace(details.VoucherCode),
			Message:     apiErr.Message,
			Err:         apiErr,
		}
	case CodeOutOfStock, CodeInsufficientStock:
		var details struct {
			Items []Shortfall `json:"items"`
		}
		_ = json.Unmarshal(apiErr.Details, &details)
		return &StockRejection{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Items:   details.Items,
			Err:     apiErr,
		}
	}
	return apiErr
}
