package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// securityEvents counts every audited security event by kind. The audit
// service is the single emission point for these, so counter totals stay in
// lockstep with the security_events table: login outcomes, lockout trips,
// MFA verifications, token refreshes and replays, vault rotations.
var securityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "auth",
	Name:      "security_events_total",
	Help:      "Security events recorded by the audit service, by kind.",
}, []string{"kind"})

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "auth",
	Name:      "http_requests_total",
	Help:      "HTTP requests served, by method and status class.",
}, []string{"method", "status"})

// ObserveEvent increments the counter for one recorded security event.
func ObserveEvent(kind string) {
	securityEvents.WithLabelValues(kind).Inc()
}

// ObserveRequest increments the HTTP request counter. Status is bucketed to
// its class ("2xx", "4xx", ...) to keep cardinality flat.
func ObserveRequest(method string, statusCode int) {
	httpRequests.WithLabelValues(method, statusClass(statusCode)).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
