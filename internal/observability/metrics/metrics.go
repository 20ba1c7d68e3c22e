package metrics

import "github.com/prometheus/client_golang/prometheus"

// WalletMetrics exposes counters/histograms for the chat wallet flows.
// A nil *WalletMetrics is valid and records nothing.
type WalletMetrics struct {
	webhookTotal      *prometheus.CounterVec
	intentTotal       *prometheus.CounterVec
	transferTotal     *prometheus.CounterVec
	transferLatency   prometheus.Histogram
	notificationTotal *prometheus.CounterVec
	pipelineLatency   *prometheus.HistogramVec
	casConflicts      prometheus.Counter
}

// NewWalletMetrics registers the collectors on reg (the default registerer when nil).
func NewWalletMetrics(reg prometheus.Registerer) *WalletMetrics {
	m := &WalletMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound WhatsApp webhook deliveries by outcome",
		}, []string{"outcome"}),
		intentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "dialogue",
			Name:      "intents_total",
			Help:      "Classified intents",
		}, []string{"intent"}),
		transferTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "transfer",
			Name:      "total",
			Help:      "Orchestrated transfers by outcome and failure reason",
		}, []string{"outcome", "reason"}),
		transferLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wallet",
			Subsystem: "transfer",
			Name:      "latency_seconds",
			Help:      "Latency of the ledger transfer call",
			Buckets:   prometheus.DefBuckets,
		}),
		notificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Outbound WhatsApp messages by kind and status",
		}, []string{"kind", "status"}),
		pipelineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wallet",
			Subsystem: "dialogue",
			Name:      "event_latency_seconds",
			Help:      "Time to process one inbound event end to end",
			Buckets:   prometheus.DefBuckets,
		}, []string{"intent"}),
		casConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "session",
			Name:      "cas_conflicts_total",
			Help:      "Session compare-and-swap attempts that lost a race",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.intentTotal, m.transferTotal, m.transferLatency,
		m.notificationTotal, m.pipelineLatency, m.casConflicts)
	return m
}

func (m *WalletMetrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(outcome).Inc()
}

func (m *WalletMetrics) ObserveIntent(intent string) {
	if m == nil {
		return
	}
	m.intentTotal.WithLabelValues(intent).Inc()
}

func (m *WalletMetrics) ObserveTransfer(outcome, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.transferTotal.WithLabelValues(outcome, reason).Inc()
	if seconds > 0 {
		m.transferLatency.Observe(seconds)
	}
}

func (m *WalletMetrics) ObserveNotification(kind, status string) {
	if m == nil {
		return
	}
	m.notificationTotal.WithLabelValues(kind, status).Inc()
}

func (m *WalletMetrics) ObservePipeline(intent string, seconds float64) {
	if m == nil {
		return
	}
	m.pipelineLatency.WithLabelValues(intent).Observe(seconds)
}

func (m *WalletMetrics) ObserveCASConflict() {
	if m == nil {
		return
	}
	m.casConflicts.Inc()
}
