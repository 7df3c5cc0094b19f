// Package metrics define las métricas Prometheus del núcleo. Viven en un
// paquete propio para evitar ciclos de import entre services y HTTP.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MFAVerifications cuenta verificaciones por método y resultado
	// (ok | failed | locked | expired).
	MFAVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salus_mfa_verifications_total",
		Help: "Verificaciones MFA por método y resultado",
	}, []string{"method", "outcome"})

	// KeyOperations cuenta operaciones sobre claves por operación y propósito
	// (create | encrypt | decrypt | rotate | retire | compromise).
	KeyOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salus_key_operations_total",
		Help: "Operaciones del key manager por tipo y propósito",
	}, []string{"op", "purpose"})

	// HTTPRequestsTotal cuenta requests procesadas.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration mide latencia de requests.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// MFAVerification registra una verificación MFA.
func MFAVerification(method, outcome string) {
	MFAVerifications.WithLabelValues(method, outcome).Inc()
}

// KeyOperation registra una operación del key manager.
func KeyOperation(op, purpose string) {
	KeyOperations.WithLabelValues(op, purpose).Inc()
}

// HTTPRequest registra una request HTTP completada.
func HTTPRequest(method, path, status string, dur time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(dur.Seconds())
}

// Register registra todas las métricas en el registry dado (default si nil).
// Tolera doble registro para que los tests puedan inicializar varias veces.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		MFAVerifications,
		KeyOperations,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
