package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Auth-related Prometheus metrics. Defined in a standalone package to avoid
// import cycles between the identity engine and HTTP packages.

var (
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idlink_reconcile_total",
		Help: "Intentos de reconciliación por estado terminal",
	}, []string{"status"})

	ReconcileOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idlink_reconcile_outcome_total",
		Help: "Resultados de la resolución de identidad por regla",
	}, []string{"outcome"})

	ReconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "idlink_reconcile_duration_ms",
		Help:    "Duración de un intento de reconciliación en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	ProviderRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idlink_provider_requests_total",
		Help: "Llamadas al provider OIDC por endpoint y resultado",
	}, []string{"endpoint", "result"})
)

// RegisterAuth registers the auth metrics on the given registry (or default if nil).
func RegisterAuth(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		ReconcileTotal,
		ReconcileOutcome,
		ReconcileDuration,
		ProviderRequests,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
