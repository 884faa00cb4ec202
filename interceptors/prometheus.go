package interceptors

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector with Prometheus vectors
type PrometheusCollector struct {
	mu sync.Mutex

	messagesTotal  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	processingTime *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// NewPrometheusCollector creates a collector registering with registerer,
// or the default registerer when nil
func NewPrometheusCollector(registerer prometheus.Registerer) *PrometheusCollector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PrometheusCollector{
		registerer: registerer,
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgmq",
			Subsystem: "handler",
			Name:      "messages_total",
			Help:      "Total number of messages passed to a handler",
		}, []string{"type"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgmq",
			Subsystem: "handler",
			Name:      "errors_total",
			Help:      "Total number of handler failures",
		}, []string{"type", "error_type"}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bgmq",
			Subsystem: "handler",
			Name:      "processing_seconds",
			Help:      "Time spent in the handler per message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (c *PrometheusCollector) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}

	for _, collector := range []prometheus.Collector{c.messagesTotal, c.errorsTotal, c.processingTime} {
		if err := c.registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	c.registered = true
	return nil
}

// IncrementMessageCount implements MetricsCollector
func (c *PrometheusCollector) IncrementMessageCount(messageType string) {
	c.messagesTotal.WithLabelValues(messageType).Inc()
}

// RecordProcessingTime implements MetricsCollector
func (c *PrometheusCollector) RecordProcessingTime(messageType string, duration time.Duration) {
	c.processingTime.WithLabelValues(messageType).Observe(duration.Seconds())
}

// IncrementErrorCount implements MetricsCollector
func (c *PrometheusCollector) IncrementErrorCount(messageType string, errorType string) {
	c.errorsTotal.WithLabelValues(messageType, errorType).Inc()
}
