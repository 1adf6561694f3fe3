package health

import "github.com/prometheus/client_golang/prometheus"

// PrometheusCollector exposes a SnapshotSource as Prometheus gauges. Each
// scrape takes one fresh snapshot.
type PrometheusCollector struct {
	src SnapshotSource

	active     *prometheus.Desc
	processed  *prometheus.Desc
	avgSeconds *prometheus.Desc
	errorRate  *prometheus.Desc
	throughput *prometheus.Desc
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a collector whose metric names are prefixed
// with namespace.
func NewPrometheusCollector(namespace string, src SnapshotSource) *PrometheusCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &PrometheusCollector{
		src:        src,
		active:     desc("active_streams", "Streams currently active."),
		processed:  desc("streams_processed_total", "Streams that reached a terminal state."),
		avgSeconds: desc("stream_duration_seconds_avg", "Mean duration of terminal streams."),
		errorRate:  desc("stream_error_rate", "Fraction of streams that needed a retry."),
		throughput: desc("throughput_bytes_per_second", "Bytes received per second since the first stream."),
	}
}

func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.active
	ch <- p.processed
	ch <- p.avgSeconds
	ch <- p.errorRate
	ch <- p.throughput
}

func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.src.Snapshot()
	ch <- prometheus.MustNewConstMetric(p.active, prometheus.GaugeValue, float64(s.ActiveStreams))
	ch <- prometheus.MustNewConstMetric(p.processed, prometheus.CounterValue, float64(s.TotalStreamsProcessed))
	ch <- prometheus.MustNewConstMetric(p.avgSeconds, prometheus.GaugeValue, s.AverageStreamDuration)
	ch <- prometheus.MustNewConstMetric(p.errorRate, prometheus.GaugeValue, s.ErrorRate)
	ch <- prometheus.MustNewConstMetric(p.throughput, prometheus.GaugeValue, s.ThroughputEstimate)
}
