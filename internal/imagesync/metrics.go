package imagesync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	webhooks *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colorcraft",
			Subsystem: "imagesync",
			Name:      "events_total",
			Help:      "Image sync operations by mode and outcome.",
		}, []string{"mode", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "colorcraft",
			Subsystem: "imagesync",
			Name:      "duration_seconds",
			Help:      "Image sync latency including lease wait.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colorcraft",
			Subsystem: "imagesync",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by response status class.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.duration, m.webhooks)
	}
	return m
}

func (m *Metrics) observe(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(mode, outcome).Inc()
	m.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) delivery(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}
