package middleware

import (
	"net"
	"net/http"
	"strings"

	"mercator-hq/tollgate/pkg/config"
)

// KeyFunc resolves the rate limit key for a request.
type KeyFunc func(r *http.Request) string

// Key strategies accepted in configuration.
const (
	KeyStrategyIdentity = "identity"
	KeyStrategyIP       = "ip"
)

// IdentityKeyFunc keys requests by authenticated caller identity and falls
// back to the client IP. The identity comes from WithIdentity, or from header
// when trustHeader is set because an upstream gateway authenticates callers
// and overwrites it. Client-supplied credentials are never used as keys.
//
// Keys are namespaced by source: "user:<id>" or "ip:<addr>".
func IdentityKeyFunc(header string, trustHeader, trustForwardedFor bool) KeyFunc {
	if header == "" {
		header = config.DefaultRateLimitIdentityHeader
	}
	ipKey := IPKeyFunc(trustForwardedFor)

	return func(r *http.Request) string {
		if id := strings.TrimSpace(GetIdentity(r.Context())); id != "" {
			return "user:" + id
		}
		if trustHeader {
			if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
				return "user:" + id
			}
		}
		return ipKey(r)
	}
}

// IPKeyFunc keys requests by client IP. With trustForwardedFor the first
// X-Forwarded-For hop is used when present.
func IPKeyFunc(trustForwardedFor bool) KeyFunc {
	return func(r *http.Request) string {
		return "ip:" + clientIP(r, trustForwardedFor)
	}
}

// KeyFuncFrom builds the key function named by the configuration.
func KeyFuncFrom(cfg config.RateLimitConfig) KeyFunc {
	if cfg.KeyStrategy == KeyStrategyIP {
		return IPKeyFunc(cfg.TrustForwardedFor)
	}
	return IdentityKeyFunc(cfg.IdentityHeader, cfg.TrustIdentityHeader, cfg.TrustForwardedFor)
}

func clientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
