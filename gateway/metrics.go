package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheRealMkadmi/citadel/firewall"
)

// Metrics holds the gateway's prometheus collectors.
type Metrics struct {
	decisions      *prometheus.CounterVec
	analyzerFaults *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_requests_total",
			Help: "Firewall request outcomes.",
		}, []string{"decision"}),
		analyzerFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_analyzer_faults_total",
			Help: "Analyzer executions that returned an error and were scored 0.",
		}, []string{"analyzer"}),
	}
	reg.MustRegister(m.decisions, m.analyzerFaults)
	return m
}

func (m *Metrics) observe(decision firewall.Decision) {
	switch {
	case !decision.Allow:
		m.decisions.WithLabelValues("blocked").Inc()
	case decision.Warned:
		m.decisions.WithLabelValues("warned").Inc()
	default:
		m.decisions.WithLabelValues("allowed").Inc()
	}
}

// WrapResultsLogger decorates a results logger so analyzer faults are also
// counted.
func (m *Metrics) WrapResultsLogger(inner firewall.ResultsLogger) firewall.ResultsLogger {
	return &metricsResultsLogger{inner: inner, metrics: m}
}

type metricsResultsLogger struct {
	inner   firewall.ResultsLogger
	metrics *Metrics
}

func (l *metricsResultsLogger) RequestBlocked(req firewall.Request, d firewall.Decision) {
	l.inner.RequestBlocked(req, d)
}

func (l *metricsResultsLogger) RequestWarned(req firewall.Request, d firewall.Decision) {
	l.inner.RequestWarned(req, d)
}

func (l *metricsResultsLogger) AutoBanned(req firewall.Request, d firewall.Decision) {
	l.inner.AutoBanned(req, d)
}

func (l *metricsResultsLogger) AnalyzerFault(req firewall.Request, analyzerID string, err error) {
	l.metrics.analyzerFaults.WithLabelValues(analyzerID).Inc()
	l.inner.AnalyzerFault(req, analyzerID, err)
}
