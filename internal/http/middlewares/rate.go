package middlewares

import (
	"net/http"
	"strconv"

	"github.com/dropDatabas3/salus/internal/http/errors"
	"github.com/dropDatabas3/salus/internal/observability/logger"
	"github.com/dropDatabas3/salus/internal/rate"
)

// RateKeyFunc define cómo generar la clave de rate limiting.
type RateKeyFunc func(r *http.Request) string

// IPOnlyRateKey genera una clave basada solo en IP.
func IPOnlyRateKey(r *http.Request) string {
	return clientIP(r)
}

// IPAndPathRateKey genera una clave basada en IP y path.
// Evita que un endpoint caro consuma el presupuesto de todos los demás.
func IPAndPathRateKey(r *http.Request) string {
	return clientIP(r) + "|" + r.URL.Path
}

// UserRateKey genera una clave basada en el user autenticado, con fallback a IP.
// Debe usarse después de RequireAuth.
func UserRateKey(r *http.Request) string {
	if ident, ok := GetIdentity(r.Context()); ok {
		return "u:" + ident.UserID + "|" + r.URL.Path
	}
	return IPAndPathRateKey(r)
}

// RateLimitConfig configura el comportamiento del middleware de rate limiting.
type RateLimitConfig struct {
	Limiter   rate.Limiter
	KeyFunc   RateKeyFunc
	Whitelist []string // Paths excluidos del rate limiting (ej: /healthz)
}

// WithRateLimit crea un middleware de rate limiting.
func WithRateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil {
		// Si no hay limiter, no hacemos nada
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IPAndPathRateKey
	}

	whitelistSet := make(map[string]struct{})
	for _, p := range cfg.Whitelist {
		whitelistSet[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := whitelistSet[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			key := cfg.KeyFunc(r)
			res, err := cfg.Limiter.Allow(r.Context(), key)
			if err != nil {
				// En caso de error del limiter, permitimos el request
				logger.From(r.Context()).Warn("rate limiter degradado",
					logger.Op("rate.allow"),
					logger.Err(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !res.Allowed {
				if res.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
				}
				errors.WriteError(w, errors.ErrRateLimited)
				return
			}

			// Headers informativos
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))

			next.ServeHTTP(w, r)
		})
	}
}
