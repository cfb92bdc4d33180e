package middleware

import (
	"context"
	"log/slog"
	"net/http"

	pkghttp "github.com/ks-hl/snailpoints/pkg/http"
)

// BanChecker reports whether a source address is banned
type BanChecker interface {
	IsBanned(ctx context.Context, address string) (bool, error)
}

// RejectBanned answers 403 to banned source addresses before routing. A failing ban store
// lets the request through and logs the error.
func RejectBanned(bans BanChecker, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, ipConfig)

			banned, err := bans.IsBanned(r.Context(), ip)
			if err != nil {
				logger.Error("ban check failed", slog.String("ip_address", ip), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if banned {
				pkghttp.WriteForbidden(w, "Access denied")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
