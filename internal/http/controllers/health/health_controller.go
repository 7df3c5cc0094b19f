// Package health contiene el controller para health checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dropDatabas3/salus/internal/observability/logger"
)

// Pinger es el contrato mínimo que health necesita del store y la cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Controller maneja las rutas de health check.
type Controller struct {
	store   Pinger
	cache   Pinger
	version string
}

// NewController crea el controller de health check.
func NewController(store, cache Pinger, version string) *Controller {
	return &Controller{store: store, cache: cache, version: version}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// Healthz maneja GET /healthz (liveness, sin dependencias)
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Version: c.version})
}

// Readyz maneja GET /readyz (readiness, chequea store y cache)
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("health.Readyz"))

	components := map[string]string{}
	status := "ready"
	code := http.StatusOK

	if c.store != nil {
		if err := c.store.Ping(ctx); err != nil {
			components["store"] = "unavailable"
			status = "unavailable"
			code = http.StatusServiceUnavailable
			log.Warn("store ping failed", logger.Err(err))
		} else {
			components["store"] = "ok"
		}
	}

	if c.cache != nil {
		if err := c.cache.Ping(ctx); err != nil {
			// La cache degrada, no tumba el servicio
			components["cache"] = "degraded"
			if status == "ready" {
				status = "degraded"
			}
			log.Warn("cache ping failed", logger.Err(err))
		} else {
			components["cache"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:     status,
		Version:    c.version,
		Components: components,
	})
}
