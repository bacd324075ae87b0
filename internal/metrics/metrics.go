// Package metrics exposes detection and remediation counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"guardbot/internal/modules/audit"
	"guardbot/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry   *prometheus.Registry
	detections *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardbot_detections_total",
			Help: "Detections recorded in the audit trail, by detector.",
		}, []string{"detector"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardbot_remediation_failures_total",
			Help: "Moderation actions the platform rejected, by action.",
		}, []string{"action"}),
	}
	m.registry.MustRegister(
		m.detections,
		m.failures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveAudit counts detection entries. It matches the audit notifier
// signature.
func (m *Metrics) ObserveAudit(_ context.Context, log storage.AuditLog) {
	switch log.Event {
	case "", audit.EventRaidCleared, audit.EventRemediation:
		return
	}
	m.detections.WithLabelValues(log.Event).Inc()
}

func (m *Metrics) RemediationFailed(action string) {
	m.failures.WithLabelValues(action).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
