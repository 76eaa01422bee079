package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Outcomes of the SSO endpoint.
const (
	OutcomeRedirected    = "redirected"
	OutcomeLoginRequired = "login_required"
	OutcomeRejected      = "rejected"
	OutcomeError         = "error"
)

var (
	SSORequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forumsso_sso_requests_total",
		Help: "Total number of Discourse SSO requests by outcome.",
	}, []string{"outcome"})
	SSORejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forumsso_sso_rejections_total",
		Help: "Total number of rejected Discourse SSO requests by reason.",
	}, []string{"reason"})
	SSOHandshakeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "forumsso_sso_handshake_duration_seconds",
		Help:    "Time spent validating a request and building the Discourse redirect.",
		Buckets: prometheus.DefBuckets,
	})
)

// InitCustomMetrics registers the bridge metrics with reg.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	for name, c := range map[string]prometheus.Collector{
		"SSORequestsTotal":     SSORequestsTotal,
		"SSORejectionsTotal":   SSORejectionsTotal,
		"SSOHandshakeDuration": SSOHandshakeDuration,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}

// RecordOutcome counts one SSO request.
func RecordOutcome(outcome string) {
	SSORequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordRejection counts a rejected inbound request under its reason.
func RecordRejection(reason string) {
	SSORequestsTotal.WithLabelValues(OutcomeRejected).Inc()
	SSORejectionsTotal.WithLabelValues(reason).Inc()
}
