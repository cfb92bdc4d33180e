package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/ks-hl/snailpoints/pkg/http"
)

// RateLimitConfig holds the per-address request budget of the public auth routes.
// It sits in front of the login guard and only bounds raw request volume.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultAuthRateLimit returns the default budget for public auth endpoints
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Requests: 30,
		Window:   time.Minute,
	}
}

// RateLimitByIP limits requests per client address, resolved the same way the login guard
// resolves it
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	retryAfter := int(config.Window / time.Second)

	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please slow down.", retryAfter)
		}),
	)
}
