// Package metrics exposes Prometheus instrumentation of the sync core. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsync"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	changes        *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	subscriptions  *prometheus.GaugeVec
	listenerErrors *prometheus.CounterVec
	writes         *prometheus.CounterVec
	retries        *prometheus.CounterVec
	recomputes     *prometheus.CounterVec
	appUnread      prometheus.Gauge
}

// New creates and registers all collectors, including the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_applied_total",
			Help:      "Remote change events applied to the local cache.",
		}, []string{"entity", "kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_dropped_total",
			Help:      "Remote change events ignored during reconciliation.",
		}, []string{"reason"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Live change-feed subscriptions.",
		}, []string{"kind"}),
		listenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_errors_total",
			Help:      "Errors reported by change-feed subscriptions.",
		}, []string{"kind"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Remote writes by operation and result.",
		}, []string{"op", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_retries_total",
			Help:      "Retried remote write attempts.",
		}, []string{"op"}),
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unread_recomputes_total",
			Help:      "Debounced unread recomputations that ran.",
		}, []string{"scope"}),
		appUnread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_unread_messages",
			Help:      "Last published aggregate unread count.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.changes,
		m.dropped,
		m.subscriptions,
		m.listenerErrors,
		m.writes,
		m.retries,
		m.recomputes,
		m.appUnread,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ChangeApplied(entity, kind string) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(entity, kind).Inc()
}

func (m *Metrics) ChangeDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SubscriptionOpened(kind string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriptionClosed(kind string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(kind).Dec()
}

func (m *Metrics) ListenerError(kind string) {
	if m == nil {
		return
	}
	m.listenerErrors.WithLabelValues(kind).Inc()
}

// Write records the final outcome of a remote write.
func (m *Metrics) Write(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writes.WithLabelValues(op, result).Inc()
}

func (m *Metrics) WriteRetried(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) Recomputed(scope string) {
	if m == nil {
		return
	}
	m.recomputes.WithLabelValues(scope).Inc()
}

func (m *Metrics) SetAppUnread(n int) {
	if m == nil {
		return
	}
	m.appUnread.Set(float64(n))
}
