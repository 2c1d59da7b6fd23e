package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

const namespace = "pentaircloud"

// Metrics holds every collector and the registry they are registered on.
type Metrics struct {
	registry *prometheus.Registry

	polls           *prometheus.CounterVec
	commands        *prometheus.CounterVec
	safetyOverrides *prometheus.CounterVec
	devices         prometheus.Gauge
	lastPoll        prometheus.Gauge
	breakerState    prometheus.Gauge
	notifications   *prometheus.CounterVec
	http            *prometheus.HistogramVec
	wsDropped       prometheus.CounterFunc
}

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status refresh attempts by result.",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Program commands by action and result.",
		}, []string{"action", "result"}),
		safetyOverrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_overrides_total",
			Help:      "Pump and heater interlock interventions by kind.",
		}, []string{"kind"}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Compatible devices found by the last discovery.",
		}),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last successful status refresh.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Cloud API circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Safety notifications raised by id.",
		}, []string{"id"}),
		http: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route pattern, method and status code.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"route", "method", "code"}),
	}

	m.registry.MustRegister(
		m.polls,
		m.commands,
		m.safetyOverrides,
		m.devices,
		m.lastPoll,
		m.breakerState,
		m.notifications,
		m.http,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PollCompleted implements hub.Recorder.
func (m *Metrics) PollCompleted(result string, at time.Time) {
	m.polls.WithLabelValues(result).Inc()
	if result == "success" {
		m.lastPoll.Set(float64(at.Unix()))
	}
}

// CommandCompleted implements hub.Recorder.
func (m *Metrics) CommandCompleted(action, result string) {
	m.commands.WithLabelValues(action, result).Inc()
}

// DevicesDiscovered implements hub.Recorder.
func (m *Metrics) DevicesDiscovered(n int) {
	m.devices.Set(float64(n))
}

// SafetyOverride implements safety.Recorder.
func (m *Metrics) SafetyOverride(kind string) {
	m.safetyOverrides.WithLabelValues(kind).Inc()
}

// NotificationRaised counts a safety notification.
func (m *Metrics) NotificationRaised(id string) {
	m.notifications.WithLabelValues(id).Inc()
}

// HTTPRequest implements api.Recorder. Cloud calls made on behalf of a
// request are included, hence the wide buckets.
func (m *Metrics) HTTPRequest(route, method string, status int, d time.Duration) {
	m.http.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

// WatchDropped exposes fn as pentaircloud_websocket_dropped_events_total. It
// is meant to be called once, with the API hub's Dropped method.
func (m *Metrics) WatchDropped(fn func() uint64) {
	m.wsDropped = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "websocket_dropped_events_total",
		Help:      "WebSocket events skipped because a client was too slow.",
	}, func() float64 { return float64(fn()) })
	m.registry.MustRegister(m.wsDropped)
}

// BreakerChanged records a circuit breaker transition. It matches
// cloud.Options.OnBreakerChange.
func (m *Metrics) BreakerChanged(_, to gobreaker.State) {
	m.breakerState.Set(breakerValue(to))
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
