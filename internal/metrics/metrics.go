// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/silo_monitor/internal/model/messages"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	ticks             prometheus.Counter
	ingests           *prometheus.CounterVec
	alertsRaised      *prometheus.CounterVec
	alertsOutstanding prometheus.Gauge
	moisture          *prometheus.GaugeVec
	temperature       *prometheus.GaugeVec
	logEntries        prometheus.Gauge
	archiveErrors     prometheus.Counter
	publishErrors     *prometheus.CounterVec
	connectionLost    prometheus.Counter
	settingsUpdates   *prometheus.CounterVec
	cbState           *prometheus.GaugeVec
}

// New registers every collector on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silo_engine_ticks_total",
			Help: "Scheduler ticks fully applied.",
		}),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silo_ingest_total",
			Help: "Device readings received, by result.",
		}, []string{"result"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silo_alerts_raised_total",
			Help: "Alerts created, by silo and type.",
		}, []string{"silo", "type"}),
		alertsOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silo_alerts_outstanding",
			Help: "Alerts currently outstanding.",
		}),
		moisture: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "silo_moisture_percent",
			Help: "Latest moisture reading per silo.",
		}, []string{"silo"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "silo_temperature_celsius",
			Help: "Latest temperature reading per silo.",
		}, []string{"silo"}),
		logEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silo_log_entries",
			Help: "Entries held by the in-memory logsheet.",
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silo_archive_write_errors_total",
			Help: "Asynchronous archive write failures.",
		}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_publish_errors_total",
			Help: "MQTT publish failures by topic.",
		}, []string{"topic"}),
		connectionLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_connection_lost_total",
			Help: "Broker connection drops seen by the MQTT client.",
		}),
		settingsUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silo_settings_updates_total",
			Help: "Threshold updates by result.",
		}, []string{"result"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.ticks,
		m.ingests,
		m.alertsRaised,
		m.alertsOutstanding,
		m.moisture,
		m.temperature,
		m.logEntries,
		m.archiveErrors,
		m.publishErrors,
		m.connectionLost,
		m.settingsUpdates,
		m.cbState,
	)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Publish mirrors a snapshot into gauges and counts the alerts it raised.
func (m *Metrics) Publish(s messages.Snapshot) {
	if m == nil {
		return
	}
	for _, silo := range s.Silos {
		label := strconv.Itoa(silo.SiloID)
		m.moisture.WithLabelValues(label).Set(silo.Moisture)
		m.temperature.WithLabelValues(label).Set(silo.Temperature)
	}
	for _, a := range s.Raised {
		m.alertsRaised.WithLabelValues(strconv.Itoa(a.SiloID), string(a.Kind)).Inc()
	}
	m.alertsOutstanding.Set(float64(len(s.Alerts)))
	m.logEntries.Set(float64(s.LogEntries))
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// Ingest counts a device reading by outcome: accepted, invalid, failed, unavailable, duplicate.
func (m *Metrics) Ingest(result string) {
	if m == nil {
		return
	}
	m.ingests.WithLabelValues(result).Inc()
}

func (m *Metrics) ArchiveError() {
	if m == nil {
		return
	}
	m.archiveErrors.Inc()
}

func (m *Metrics) PublishError(topic string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(topic).Inc()
}

func (m *Metrics) ConnectionLost() {
	if m == nil {
		return
	}
	m.connectionLost.Inc()
}

func (m *Metrics) SettingsUpdate(result string) {
	if m == nil {
		return
	}
	m.settingsUpdates.WithLabelValues(result).Inc()
}

// BreakerState records a gobreaker state transition (0 closed, 1 half-open, 2 open).
func (m *Metrics) BreakerState(target string, state int) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(float64(state))
}
