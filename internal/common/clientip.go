package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller address. The router runs chi's RealIP first, so
// RemoteAddr already reflects X-Forwarded-For / X-Real-IP when a proxy set them.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
