package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type decodeItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

type decodePayload struct {
	Items []decodeItem `json:"items" validate:"required,dive"`
}

func TestDecodeJSONValidationDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"items":[{"quantity":-1}]}`))
	var payload decodePayload
	err := DecodeJSON(req, &payload)

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	details := appErr.Details.(map[string]string)
	require.Equal(t, "is required", details["items[0].product_id"])
	require.Equal(t, "must be at least 0", details["items[0].quantity"])
}

func TestDecodeJSONMalformed(t *testing.T) {
	for _, body := range []string{"", "{"} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var payload decodePayload
		err := DecodeJSON(req, &payload)
		var appErr *AppError
		require.True(t, errors.As(err, &appErr))
		require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	}
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("dial tcp: secret host"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "secret")

	rr = httptest.NewRecorder()
	WriteError(rr, NotFound("session not found"))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"error":{"code":"NOT_FOUND","message":"session not found"}}`, rr.Body.String())
}
