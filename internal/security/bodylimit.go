package security

import (
	"net/http"

	"github.com/noah-isme/agrimarket-storefront/internal/common"
)

// BodyLimit caps request bodies. Cart payloads are small, so anything close to
// the limit is either a bug in the storefront or abuse.
type BodyLimit struct {
	Max int64
}

// Middleware rejects a declared oversized body up front and wraps the rest in
// http.MaxBytesReader; common.DecodeJSON turns a cut-off read into 413.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			common.WriteError(w, common.PayloadTooLarge(b.Max))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}
