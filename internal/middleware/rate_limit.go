package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/relaycrm/relay/internal/auth"
	pkghttp "github.com/relaycrm/relay/pkg/http"
)

// RateLimitConfig holds a request budget for one endpoint over a window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// LoginRateLimit returns the per-IP budget for login attempts.
func LoginRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 10, Window: 15 * time.Minute}
}

// RegisterRateLimit returns the per-IP budget for account creation.
func RegisterRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 5, Window: 15 * time.Minute}
}

// PasswordResetRateLimit returns the per-IP budget for reset requests.
func PasswordResetRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 5, Window: 15 * time.Minute}
}

// RateLimitByIP limits requests per client IP for unauthenticated endpoints.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(rateLimitExceeded(config.Window)),
	)
}

// RateLimitByUser limits requests per authenticated user, falling back to the
// client IP when no claims are present.
func RateLimitByUser(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil {
				return claims.UserID, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(rateLimitExceeded(config.Window)),
	)
}

func rateLimitExceeded(window time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteTooManyRequests(w, "Too many requests", int(window.Seconds()))
	}
}
