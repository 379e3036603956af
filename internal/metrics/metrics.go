package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics represents the collection of all Prometheus metrics
type Metrics struct {
	BotsRunning     prometheus.Gauge
	StartsTotal     *prometheus.CounterVec
	StopsTotal      prometheus.Counter
	StaticVetoes    prometheus.Counter
	AbuseKills      prometheus.Counter
	InstallFailures prometheus.Counter
	SamplerTicks    prometheus.Counter
	EventDrops      *prometheus.CounterVec
	LogRecordsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all engine metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.BotsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bothive_bots_running",
			Help: "Number of bot processes currently supervised",
		},
	)

	m.StartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bothive_bot_starts_total",
			Help: "Total start attempts by result",
		},
		[]string{"result"},
	)

	m.StopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bothive_bot_stops_total",
			Help: "Total stop operations",
		},
	)

	m.StaticVetoes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bothive_radar_static_vetoes_total",
			Help: "Start attempts vetoed by static risk analysis",
		},
	)

	m.AbuseKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bothive_radar_abuse_kills_total",
			Help: "Processes terminated for breaching runtime quotas",
		},
	)

	m.InstallFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bothive_installer_failures_total",
			Help: "Dependency installations that failed or timed out",
		},
	)

	m.SamplerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bothive_sampler_ticks_total",
			Help: "Resource sampler observations taken",
		},
	)

	m.EventDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bothive_event_drops_total",
			Help: "Messages dropped because a live subscriber was not keeping up",
		},
		[]string{"channel"},
	)

	m.LogRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bothive_log_records_total",
			Help: "Captured child output lines by severity",
		},
		[]string{"level"},
	)

	m.registry.MustRegister(
		m.BotsRunning,
		m.StartsTotal,
		m.StopsTotal,
		m.StaticVetoes,
		m.AbuseKills,
		m.InstallFailures,
		m.SamplerTicks,
		m.EventDrops,
		m.LogRecordsTotal,
	)

	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
