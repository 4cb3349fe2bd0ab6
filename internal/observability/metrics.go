package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "skydesk"

// Metrics holds the service's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	requestTime  *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	ingestions   *prometheus.CounterVec
	correlations *prometheus.CounterVec
	sends        *prometheus.CounterVec
	pollCycles   *prometheus.HistogramVec
	pollMessages *prometheus.CounterVec
}

// NewMetrics registers collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "HTTP errors by route, method and error code.",
		}, []string{"path", "method", "code"}),
		ingestions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_total",
			Help:      "Inbound emails by source and terminal state.",
		}, []string{"source", "state"}),
		correlations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_matches_total",
			Help:      "Correlated emails by winning strategy.",
		}, []string{"strategy"}),
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_emails_total",
			Help:      "Outbound emails by purpose and result.",
		}, []string{"purpose", "result"}),
		pollCycles: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Mailbox poll cycle duration by outcome.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		pollMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_messages_total",
			Help:      "Polled mailbox messages by result.",
		}, []string{"result"}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestTime.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordIngestion counts an ingestion outcome.
func (m *Metrics) RecordIngestion(source, state string) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(source, state).Inc()
}

// RecordCorrelation counts a correlation hit.
func (m *Metrics) RecordCorrelation(strategy string) {
	if m == nil {
		return
	}
	m.correlations.WithLabelValues(strategy).Inc()
}

// RecordSend counts an outbound email attempt.
func (m *Metrics) RecordSend(purpose string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sends.WithLabelValues(purpose, result).Inc()
}

// ObservePollCycle records a finished poll cycle.
func (m *Metrics) ObservePollCycle(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPollMessage counts a polled message by result.
func (m *Metrics) RecordPollMessage(result string) {
	if m == nil {
		return
	}
	m.pollMessages.WithLabelValues(result).Inc()
}
