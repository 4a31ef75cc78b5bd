// Package metrics exposes the coordinator's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pairchat"

type Metrics struct {
	registry      *prometheus.Registry
	connections   prometheus.Gauge
	onlineUsers   prometheus.Gauge
	inbound       *prometheus.CounterVec
	commandErrors *prometheus.CounterVec
	appended      prometheus.Counter
	slowConsumers prometheus.Counter
	rejectedAuth  prometheus.Counter
	rateLimited   prometheus.Counter
	journalWrites *prometheus.CounterVec
}

// New registers all collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Live websocket connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "online_users",
			Help: "Users with at least one live connection.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_events_total",
			Help: "Inbound commands by event name.",
		}, []string{"event"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "command_errors_total",
			Help: "Failed inbound commands by error code.",
		}, []string{"code"}),
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_appended_total",
			Help: "Messages appended to dialog logs.",
		}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slow_consumer_disconnects_total",
			Help: "Connections closed because their outbound queue was full.",
		}),
		rejectedAuth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshake_rejections_total",
			Help: "Connection attempts refused by the identity gate.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Inbound commands rejected by the per-connection limiter.",
		}),
		journalWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "journal_writes_total",
			Help: "Journal writes by event kind and result.",
		}, []string{"kind", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections, m.onlineUsers, m.inbound, m.commandErrors,
		m.appended, m.slowConsumers, m.rejectedAuth, m.rateLimited, m.journalWrites,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// SetOnline records the current number of online users.
func (m *Metrics) SetOnline(n int) {
	if m != nil {
		m.onlineUsers.Set(float64(n))
	}
}

func (m *Metrics) Inbound(event string) {
	if m != nil {
		m.inbound.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) CommandFailed(code string) {
	if m != nil {
		m.commandErrors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) MessageAppended() {
	if m != nil {
		m.appended.Inc()
	}
}

func (m *Metrics) SlowConsumer() {
	if m != nil {
		m.slowConsumers.Inc()
	}
}

func (m *Metrics) HandshakeRejected() {
	if m != nil {
		m.rejectedAuth.Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

// JournalWrite counts one journal write; ok selects the result label.
func (m *Metrics) JournalWrite(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.journalWrites.WithLabelValues(kind, result).Inc()
}
