package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsCollector exposes the broker's queue depths and handler counters to
// Prometheus. Values are read from the broker on every scrape.
type StatsCollector struct {
	broker *Broker

	queueDepth *prometheus.Desc
	processed  *prometheus.Desc
	failed     *prometheus.Desc
	retries    *prometheus.Desc
	received   *prometheus.Desc
	workers    *prometheus.Desc
}

func newStatsDesc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName("bgmq", "broker", name), help, labels, nil)
}

// NewStatsCollector creates a collector for b
func NewStatsCollector(b *Broker) *StatsCollector {
	return &StatsCollector{
		broker:     b,
		queueDepth: newStatsDesc("queue_depth", "Number of envelopes waiting on a queue", "type", "queue"),
		processed:  newStatsDesc("messages_processed_total", "Messages processed successfully", "type"),
		failed:     newStatsDesc("messages_failed_total", "Messages whose processing failed", "type"),
		retries:    newStatsDesc("message_retries_total", "Messages sent back to their In queue for another attempt", "type"),
		received:   newStatsDesc("messages_received_total", "Messages taken by workers", "type", "source"),
		workers:    newStatsDesc("workers", "Number of running workers"),
	}
}

// Describe implements prometheus.Collector
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.processed
	ch <- c.failed
	ch <- c.retries
	ch <- c.received
	ch <- c.workers
}

// Collect implements prometheus.Collector
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, set := range c.broker.registry.Load().sets() {
		for _, name := range set.names.All() {
			ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(set.Len(name)), set.typeName, name)
		}

		stats := set.handler.GetStats()
		ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(stats.TotalMessagesProcessed), stats.Name)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(stats.TotalMessagesFailed), stats.Name)
		ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(stats.TotalRetries), stats.Name)
		ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(stats.TotalNormalMessagesReceived), stats.Name, "normal")
		ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(stats.TotalPriorityMessagesReceived), stats.Name, "priority")
	}

	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(c.broker.WorkerCount()))
}
