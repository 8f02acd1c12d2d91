// Package metrics holds the Prometheus instruments exported by Auriance.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reply paths recorded by ObserveReply.
const (
	PathAIGenerated = "ai_generated"
	PathDemo        = "demo"
	PathTimeout     = "timeout"
	PathFallback    = "fallback"
	PathRejected    = "rejected"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Replies              *prometheus.CounterVec
	ValidationRejections prometheus.Counter
	CompletionLatency    prometheus.Histogram
	ChatRequests         *prometheus.CounterVec
	Conversations        prometheus.Gauge
	Evictions            prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. When reg is nil a fresh
// registry is used, so repeated construction never collides.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies produced by path.",
		}, []string{"path"}),
		ValidationRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Candidate replies replaced because they matched the denylist.",
		}),
		CompletionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_seconds",
			Help:      "Latency of external completion calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 7.5, 10},
		}),
		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat messages handled by channel.",
		}, []string{"channel"}),
		Conversations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations",
			Help:      "Conversations currently held by the store.",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_evictions_total",
			Help:      "Conversations evicted by the idle sweep.",
		}),
		gatherer: reg,
	}
}

// ObserveReply counts one reply on path.
func (m *Metrics) ObserveReply(path string) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(path).Inc()
	if path == PathRejected {
		m.ValidationRejections.Inc()
	}
}

// ObserveCompletion records the latency of one external call.
func (m *Metrics) ObserveCompletion(d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionLatency.Observe(d.Seconds())
}

// ObserveChat counts one inbound chat message on channel.
func (m *Metrics) ObserveChat(channel string) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(channel).Inc()
}

// ObserveSweep records the result of an idle sweep.
func (m *Metrics) ObserveSweep(evicted, remaining int) {
	if m == nil {
		return
	}
	m.Evictions.Add(float64(evicted))
	m.Conversations.Set(float64(remaining))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
