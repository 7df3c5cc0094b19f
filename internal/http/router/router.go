// Package router arma el árbol de rutas sobre chi.
//
// Orden de middlewares: Recover → RequestID → SecurityHeaders → [Auth] →
// NoStore → RateLimit → Logging. Logging corre último para ver la identidad
// que Auth dejó en el contexto.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/salus/internal/http/controllers"
	mw "github.com/dropDatabas3/salus/internal/http/middlewares"
	"github.com/dropDatabas3/salus/internal/rate"
)

// Deps contiene las dependencias del router.
type Deps struct {
	Controllers *controllers.Controllers
	Auth        mw.AuthConfig

	// Limiters opcionales; nil desactiva el rate limiting del grupo.
	SetupLimiter    rate.Limiter
	VerifyLimiter   rate.Limiter
	RecoveryLimiter rate.Limiter

	// ExposeMetrics habilita GET /metrics en este mismo listener.
	ExposeMetrics bool
}

// New construye el router HTTP completo.
func New(d Deps) http.Handler {
	c := d.Controllers
	r := chi.NewRouter()

	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithSecurityHeaders(),
	)

	// Health checks: sin auth, sin rate limit
	r.Get("/healthz", c.Health.Healthz)
	r.Get("/readyz", c.Health.Readyz)

	if d.ExposeMetrics {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	auth := mw.RequireAuth(d.Auth)

	// Motor MFA: todas las respuestas llevan secretos → no-store
	r.Route("/v1/mfa", func(r chi.Router) {
		r.Use(auth, mw.WithNoStore())

		r.Group(func(r chi.Router) {
			r.Use(limit(d.SetupLimiter), mw.WithLogging())
			r.Post("/setup", c.MFA.Setup)
			r.Post("/setup/resend", c.MFA.Resend)
		})

		r.Group(func(r chi.Router) {
			r.Use(limit(d.VerifyLimiter), mw.WithLogging())
			r.Post("/setup/verify", c.MFA.VerifySetup)
			r.Post("/login/challenge", c.MFA.Challenge)
			r.Post("/login/verify", c.MFA.VerifyLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.WithLogging())
			r.Get("/status", c.MFA.Status)
			r.Post("/devices/check", c.MFA.CheckDevice)
			r.Delete("/devices", c.MFA.RevokeDevices)
			r.Delete("/", c.MFA.Disable)
			r.Post("/backup-codes/regenerate", c.MFA.RegenerateBackupCodes)
		})

		r.Group(func(r chi.Router) {
			r.Use(limit(d.RecoveryLimiter), mw.WithLogging())
			r.Post("/recovery/request", c.MFA.RequestRecovery)
			r.Post("/recovery/complete", c.MFA.CompleteRecovery)
		})
	})

	// Key manager: operaciones de administración de claves
	r.Route("/v1/keys", func(r chi.Router) {
		r.Use(auth, mw.WithNoStore(), mw.WithLogging())

		r.Post("/", c.Keys.Create)
		r.Get("/", c.Keys.List)
		r.Get("/due-for-rotation", c.Keys.DueForRotation)
		r.Get("/{keyID}", c.Keys.Get)
		r.Post("/{keyID}/rotate", c.Keys.Rotate)
		r.Post("/{keyID}/retire", c.Keys.Retire)
		r.Post("/{keyID}/compromise", c.Keys.Compromise)
		r.Get("/{keyID}/audit", c.Keys.AuditLog)
	})

	// Operaciones de cifrado de datos
	r.Route("/v1/crypto", func(r chi.Router) {
		r.Use(auth, mw.WithNoStore(), mw.WithLogging())

		r.Post("/encrypt", c.Keys.Encrypt)
		r.Post("/decrypt", c.Keys.Decrypt)
		r.Post("/ssn", c.Keys.EncryptSSN)
	})

	// Política MFA por organización
	r.Route("/v1/policy", func(r chi.Router) {
		r.Use(auth, mw.WithLogging())

		r.Get("/", c.Policy.Get)
		r.Put("/", c.Policy.Update)
	})

	return r
}

// limit adapta un rate.Limiter a middleware; nil lo desactiva.
func limit(l rate.Limiter) mw.Middleware {
	return mw.WithRateLimit(mw.RateLimitConfig{
		Limiter: l,
		KeyFunc: mw.UserRateKey,
	})
}
