// Package yaetlprom adapts a Flow's stats to a prometheus.Collector, for
// callers that already expose a Prometheus registry and want flow counters
// alongside their other metrics rather than parsing Report() text.
package yaetlprom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fab2s/yaetl"
)

// Collector implements prometheus.Collector over a single Flow's stats. It
// is a passive observer: Collect only reads GetStats, never touching the
// flow's control flow or records.
type Collector struct {
	flow *yaetl.Flow

	recordsIn *prometheus.Desc
	elapsed   *prometheus.Desc
	processed *prometheus.Desc
	continues *prometheus.Desc
	breaks    *prometheus.Desc
	errors    *prometheus.Desc
	flushes   *prometheus.Desc
}

// NewCollector creates a Collector over flow. The caller registers it with
// a prometheus.Registerer; the engine has no import-time dependency on this
// package otherwise.
func NewCollector(flow *yaetl.Flow) *Collector {
	constLabels := prometheus.Labels{"flow": string(flow.ID())}
	nodeLabels := []string{"node", "kind"}
	return &Collector{
		flow:      flow,
		recordsIn: prometheus.NewDesc("yaetl_records_in_total", "Records pulled by the flow's extractors.", nil, constLabels),
		elapsed:   prometheus.NewDesc("yaetl_elapsed_seconds", "Wall-clock time summed over all of the flow's runs.", nil, constLabels),
		processed: prometheus.NewDesc("yaetl_node_processed_total", "Records a node has processed.", nodeLabels, constLabels),
		continues: prometheus.NewDesc("yaetl_node_continues_total", "Continue directives raised by a node.", nodeLabels, constLabels),
		breaks:    prometheus.NewDesc("yaetl_node_breaks_total", "Break directives raised by a node.", nodeLabels, constLabels),
		errors:    prometheus.NewDesc("yaetl_node_errors_total", "Errors raised by a node.", nodeLabels, constLabels),
		flushes:   prometheus.NewDesc("yaetl_node_flushes_total", "Flush calls observed by a node.", nodeLabels, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.recordsIn
	ch <- c.elapsed
	ch <- c.processed
	ch <- c.continues
	ch <- c.breaks
	ch <- c.errors
	ch <- c.flushes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.flow.GetStats()
	ch <- prometheus.MustNewConstMetric(c.recordsIn, prometheus.CounterValue, float64(st.RecordsIn))
	ch <- prometheus.MustNewConstMetric(c.elapsed, prometheus.GaugeValue, st.Elapsed.Seconds())
	for _, n := range st.Nodes {
		labels := []string{string(n.ID), n.Kind}
		ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(n.Processed), labels...)
		ch <- prometheus.MustNewConstMetric(c.continues, prometheus.CounterValue, float64(n.Continues), labels...)
		ch <- prometheus.MustNewConstMetric(c.breaks, prometheus.CounterValue, float64(n.Breaks), labels...)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(n.Errors), labels...)
		ch <- prometheus.MustNewConstMetric(c.flushes, prometheus.CounterValue, float64(n.Flushes), labels...)
	}
}
