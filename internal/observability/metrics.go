package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bot.
type Metrics struct {
	MessagesObserved  *prometheus.CounterVec
	Replies           *prometheus.CounterVec
	CompletionErrors  *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	MemoryEvictions   prometheus.Counter
	HumorChecks       *prometheus.CounterVec
	StorageErrors     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on a private registry so several
// instances can coexist in tests.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return newMetrics(namespace, reg, reg)
}

func newMetrics(namespace string, reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesObserved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_observed_total",
			Help:      "Inbound text messages by chat kind.",
		}, []string{"chat_kind"}),
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies sent by trigger reason and outcome.",
		}, []string{"reason", "outcome"}),
		CompletionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_errors_total",
			Help:      "Failed completion calls by error class.",
		}, []string{"class"}),
		CompletionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Completion call latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		MemoryEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_evictions_total",
			Help:      "Turns evicted from chat memory.",
		}),
		HumorChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "humor_checks_total",
			Help:      "LLM humor checks by verdict.",
		}, []string{"verdict"}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Persistence failures by operation.",
		}, []string{"op"}),
		gatherer: g,
	}
}

func (m *Metrics) ObserveCompletionLatency(d time.Duration) {
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
