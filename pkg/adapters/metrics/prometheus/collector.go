package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	chatRequests       *prometheus.CounterVec
	promptTokens       prometheus.Counter
	completionTokens   prometheus.Counter
	generationDuration prometheus.Histogram
	backendUp          prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		chatRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatd_chat_requests_total",
				Help: "Total number of chat requests by outcome",
			},
			[]string{"status"},
		),
		promptTokens: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatd_prompt_tokens_total",
				Help: "Total number of prompt tokens sent to the model",
			},
		),
		completionTokens: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatd_completion_tokens_total",
				Help: "Total number of tokens generated by the model",
			},
		),
		generationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatd_generation_duration_seconds",
				Help:    "Model generation call duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		backendUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatd_backend_up",
				Help: "Whether the model backend answered the last health check",
			},
		),
	}
}

// RecordChatRequest increments the request counter for status
func (c *Collector) RecordChatRequest(status string) {
	c.chatRequests.WithLabelValues(status).Inc()
}

// RecordTokens adds prompt and completion token counts
func (c *Collector) RecordTokens(prompt, completion int) {
	c.promptTokens.Add(float64(prompt))
	c.completionTokens.Add(float64(completion))
}

// ObserveGenerationDuration records the duration of one generation call
func (c *Collector) ObserveGenerationDuration(duration time.Duration) {
	c.generationDuration.Observe(duration.Seconds())
}

// SetBackendUp sets the backend health gauge
func (c *Collector) SetBackendUp(up bool) {
	if up {
		c.backendUp.Set(1)
		return
	}
	c.backendUp.Set(0)
}
