package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Bridge exposes a Registry through a client_golang registry, so the
// in-process series are served by promhttp alongside the Go, process and
// limiter metrics. Counters and gauges map to const metrics and histograms
// to const summaries.
//
// Bridge is an unchecked collector: the set of series changes between
// scrapes.
type Bridge struct {
	registry *Registry
}

// NewBridge creates a bridge over r.
func NewBridge(r *Registry) *Bridge {
	return &Bridge{registry: r}
}

// Describe sends nothing, which marks the collector as unchecked.
func (b *Bridge) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (b *Bridge) Collect(ch chan<- prometheus.Metric) {
	type histogramCopy struct {
		name   string
		labels Labels
		values []float64
		sum    float64
	}

	r := b.registry
	r.mu.RLock()
	counters := make([]counterEntry, 0, len(r.counters))
	for _, c := range r.counters {
		counters = append(counters, *c)
	}
	gauges := make([]gaugeEntry, 0, len(r.gauges))
	for _, g := range r.gauges {
		gauges = append(gauges, *g)
	}
	histograms := make([]histogramCopy, 0, len(r.histograms))
	for _, h := range r.histograms {
		histograms = append(histograms, histogramCopy{name: h.name, labels: h.labels, values: h.values(), sum: h.sum})
	}
	r.mu.RUnlock()

	for _, c := range counters {
		desc, values := describe(c.name, c.labels)
		ch <- constMetric(desc, prometheus.CounterValue, float64(c.value), values)
	}
	for _, g := range gauges {
		desc, values := describe(g.name, g.labels)
		ch <- constMetric(desc, prometheus.GaugeValue, g.value, values)
	}
	for _, h := range histograms {
		s := summarize(h.values, h.sum)
		desc, values := describe(h.name, h.labels)
		m, err := prometheus.NewConstSummary(desc, uint64(s.Count), s.Sum, map[float64]float64{
			0.5:  s.P50,
			0.9:  s.P90,
			0.95: s.P95,
			0.99: s.P99,
		}, values...)
		if err != nil {
			m = prometheus.NewInvalidMetric(desc, err)
		}
		ch <- m
	}
}

func describe(name string, labels Labels) (*prometheus.Desc, []string) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	return prometheus.NewDesc(name, "Tollgate in-process metric "+name, keys, nil), values
}

func constMetric(desc *prometheus.Desc, kind prometheus.ValueType, v float64, values []string) prometheus.Metric {
	m, err := prometheus.NewConstMetric(desc, kind, v, values...)
	if err != nil {
		return prometheus.NewInvalidMetric(desc, err)
	}
	return m
}
