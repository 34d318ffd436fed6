package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/agrimarket-storefront/internal/common"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{Secret: "test-secret", Issuer: "agrimarket", Audience: "storefront"})
	require.NoError(t, err)
	return v
}

func TestRequireAuthForwardsUserAndToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Sign("user-42", time.Minute)
	require.NoError(t, err)

	var gotUser, gotToken string
	handler := Middleware{Parser: verifier}.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = common.UserID(r.Context())
		gotToken, _ = common.AccessToken(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vouchers/mine", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "user-42", gotUser)
	require.Equal(t, token, gotToken)
}

func TestRequireAuthRejects(t *testing.T) {
	verifier := newTestVerifier(t)
	other, err := NewVerifier(VerifierConfig{Secret: "other-secret", Issuer: "agrimarket", Audience: "storefront"})
	require.NoError(t, err)
	forged, err := other.Sign("user-42", time.Minute)
	require.NoError(t, err)
	expired, err := verifier.Sign("user-42", -time.Hour)
	require.NoError(t, err)

	handler := Middleware{Parser: verifier}.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	for name, header := range map[string]string{
		"missing": "",
		"forged":  "Bearer " + forged,
		"expired": "Bearer " + expired,
		"garbage": "Bearer not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
			require.Contains(t, rr.Body.String(), "UNAUTHORIZED")
		})
	}
}

func TestAuthenticateAllowsAnonymous(t *testing.T) {
	verifier := newTestVerifier(t)
	called := false
	handler := Middleware{Parser: verifier}.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := common.UserID(r.Context())
		require.False(t, ok)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, called)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	require.Error(t, err)
}
