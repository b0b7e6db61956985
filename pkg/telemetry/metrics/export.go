package metrics

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PrometheusContentType is the content type of PrometheusText output.
const PrometheusContentType = "text/plain; version=0.0.4; charset=utf-8"

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	Timestamp  time.Time                   `json:"timestamp"`
	Counters   map[string]int64            `json:"counters"`
	Gauges     map[string]float64          `json:"gauges"`
	Histograms map[string]HistogramSummary `json:"histograms"`
}

// Snapshot copies every series under the read lock and summarizes
// histograms after releasing it.
func (r *Registry) Snapshot() Snapshot {
	type rawHistogram struct {
		values []float64
		sum    float64
	}

	r.mu.RLock()
	snap := Snapshot{
		Timestamp: r.now(),
		Counters:  make(map[string]int64, len(r.counters)),
		Gauges:    make(map[string]float64, len(r.gauges)),
	}
	for key, c := range r.counters {
		snap.Counters[key] = c.value
	}
	for key, g := range r.gauges {
		snap.Gauges[key] = g.value
	}
	raw := make(map[string]rawHistogram, len(r.histograms))
	for key, h := range r.histograms {
		raw[key] = rawHistogram{values: h.values(), sum: h.sum}
	}
	r.mu.RUnlock()

	snap.Histograms = make(map[string]HistogramSummary, len(raw))
	for key, h := range raw {
		snap.Histograms[key] = summarize(h.values, h.sum)
	}
	return snap
}

type series struct {
	labels  Labels
	value   float64
	summary HistogramSummary
}

type family struct {
	kind   string
	series []series
}

// PrometheusText renders the registry in the Prometheus text exposition
// format. Histogram families are typed "histogram" but carry one quantile
// sample per entry in Quantiles followed by _sum and _count, which scrapers
// parse as a summary. Use the Bridge for a strictly typed exposition.
func (r *Registry) PrometheusText() string {
	families := make(map[string]*family)
	add := func(name, kind string, s series) {
		f, ok := families[name]
		if !ok {
			f = &family{kind: kind}
			families[name] = f
		}
		f.series = append(f.series, s)
	}

	type rawHistogram struct {
		name   string
		labels Labels
		values []float64
		sum    float64
	}

	r.mu.RLock()
	for _, c := range r.counters {
		add(c.name, "counter", series{labels: c.labels, value: float64(c.value)})
	}
	for _, g := range r.gauges {
		add(g.name, "gauge", series{labels: g.labels, value: g.value})
	}
	raw := make([]rawHistogram, 0, len(r.histograms))
	for _, h := range r.histograms {
		raw = append(raw, rawHistogram{name: h.name, labels: h.labels, values: h.values(), sum: h.sum})
	}
	r.mu.RUnlock()

	for _, h := range raw {
		add(h.name, "histogram", series{labels: h.labels, summary: summarize(h.values, h.sum)})
	}

	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		f := families[name]
		sort.Slice(f.series, func(i, j int) bool {
			return SeriesKey(name, f.series[i].labels) < SeriesKey(name, f.series[j].labels)
		})

		b.WriteString("# TYPE ")
		b.WriteString(name)
		b.WriteByte(' ')
		b.WriteString(f.kind)
		b.WriteByte('\n')

		for _, s := range f.series {
			if f.kind != "histogram" {
				writeSample(&b, name, s.labels, "", "", s.value)
				continue
			}
			for _, q := range Quantiles {
				writeSample(&b, name, s.labels, "quantile", formatValue(q), quantileOf(s.summary, q))
			}
			writeSample(&b, name+"_sum", s.labels, "", "", s.summary.Sum)
			writeSample(&b, name+"_count", s.labels, "", "", float64(s.summary.Count))
		}
	}
	return b.String()
}

func quantileOf(s HistogramSummary, q float64) float64 {
	switch q {
	case 0.5:
		return s.P50
	case 0.9:
		return s.P90
	case 0.95:
		return s.P95
	default:
		return s.P99
	}
}

func writeSample(b *strings.Builder, name string, labels Labels, extraKey, extraValue string, value float64) {
	b.WriteString(name)
	if len(labels) > 0 || extraKey != "" {
		b.WriteString(formatLabels(labels, extraKey, extraValue))
	}
	b.WriteByte(' ')
	b.WriteString(formatValue(value))
	b.WriteByte('\n')
}

func formatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
