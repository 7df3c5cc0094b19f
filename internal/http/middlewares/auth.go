package middlewares

import (
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/http/errors"
)

// =================================================================================
// AUTHENTICATION MIDDLEWARES
// =================================================================================

// AuthConfig configura la validación de tokens bearer.
type AuthConfig struct {
	Secret []byte
	Issuer string
}

// clientIP extrae la IP del cliente, considerando proxies.
func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequireAuth valida Authorization: Bearer <JWT> (HS256) y construye la
// identidad del caller a partir de las claims sub, org y role.
// Si el token es inválido o no está presente, responde 401.
func RequireAuth(cfg AuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := strings.TrimSpace(r.Header.Get("Authorization"))
			if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="missing bearer token"`)
				errors.WriteError(w, errors.ErrUnauthorized.WithDetail("token ausente"))
				return
			}
			raw := strings.TrimSpace(ah[len("Bearer "):])

			claims := jwt.MapClaims{}
			_, err := jwt.ParseWithClaims(raw, claims,
				func(t *jwt.Token) (any, error) { return cfg.Secret, nil },
				jwt.WithValidMethods([]string{"HS256"}),
				jwt.WithIssuer(cfg.Issuer),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				errors.WriteError(w, errors.ErrUnauthorized.WithCause(err))
				return
			}

			role := types.Role(claimString(claims, "role"))
			if !role.Valid() {
				errors.WriteError(w, errors.ErrUnauthorized.WithDetail("rol desconocido en el token"))
				return
			}

			ident := types.Identity{
				UserID:         claimString(claims, "sub"),
				OrganizationID: claimString(claims, "org"),
				Role:           role,
				IPAddress:      clientIP(r),
				UserAgent:      r.UserAgent(),
			}
			if ident.UserID == "" || ident.OrganizationID == "" {
				errors.WriteError(w, errors.ErrUnauthorized.WithDetail("claims incompletas"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}

// RequireAdmin verifica que la identidad del contexto tenga rol ADMIN.
// Debe usarse después de RequireAuth.
func RequireAdmin() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := GetIdentity(r.Context())
			if !ok {
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			if !ident.IsAdmin() {
				errors.WriteError(w, errors.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
