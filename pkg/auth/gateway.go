// Package auth is the request gateway: CORS handling and per-client rate
// limiting. The relay trusts its network edge, so there are no API keys.
package auth

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/utils"
)

func GatewayMiddleware(cfg config.SecurityConfig) func(http.Handler) http.Handler {
	// rate limiters keyed by remote ip
	limiters := &limiterPool{rps: cfg.RateLimit.RPS, burst: cfg.RateLimit.Burst}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// log request (redacts sensitive headers)
			logger.LogRequest(r)

			// cors preflight
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.CORS.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// unauthenticated health checks for probes, never throttled
			if (r.URL.Path == "/healthz" || r.URL.Path == "/readyz") && r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			if !limiters.Allow(clientIP(r)) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Log.Warn("rate_limited", zap.String("remote", r.RemoteAddr), zap.String("path", r.URL.Path))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
