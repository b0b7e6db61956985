package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultHistogramSize is the number of observations a histogram retains.
const DefaultHistogramSize = 1000

// Labels is a set of metric label pairs.
type Labels map[string]string

type counterEntry struct {
	name   string
	labels Labels
	value  int64
}

type gaugeEntry struct {
	name      string
	labels    Labels
	value     float64
	updatedAt time.Time
}

type observation struct {
	value float64
	at    time.Time
}

type histogramEntry struct {
	name         string
	labels       Labels
	observations []observation
	sum          float64
	count        int
}

// recompute rebuilds sum and count from the retained observations.
func (h *histogramEntry) recompute() {
	h.sum = 0
	for _, o := range h.observations {
		h.sum += o.value
	}
	h.count = len(h.observations)
}

// Registry holds counters, gauges and histograms in process memory.
// All methods are safe for concurrent use.
//
// A series is identified by its name plus its labels serialized in key
// order, so {a="1",b="2"} and {b="2",a="1"} are the same series.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*counterEntry
	gauges     map[string]*gaugeEntry
	histograms map[string]*histogramEntry

	histogramSize int
	now           func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHistogramSize caps the observations kept per histogram.
func WithHistogramSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.histogramSize = n
		}
	}
}

// WithClock overrides time.Now for observation timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		counters:      make(map[string]*counterEntry),
		gauges:        make(map[string]*gaugeEntry),
		histograms:    make(map[string]*histogramEntry),
		histogramSize: DefaultHistogramSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IncrementCounter adds delta to a counter. Negative deltas are ignored so
// counters never decrease.
func (r *Registry) IncrementCounter(name string, delta int64, labels Labels) {
	if delta < 0 {
		return
	}
	key := SeriesKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[key]
	if !ok {
		c = &counterEntry{name: name, labels: copyLabels(labels)}
		r.counters[key] = c
	}
	c.value += delta
}

// SetGauge overwrites a gauge with value and the current time.
func (r *Registry) SetGauge(name string, value float64, labels Labels) {
	key := SeriesKey(name, labels)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.gauges[key]
	if !ok {
		g = &gaugeEntry{name: name, labels: copyLabels(labels)}
		r.gauges[key] = g
	}
	g.value = value
	g.updatedAt = now
}

// RecordHistogram appends an observation, evicting the oldest once the
// histogram is full.
func (r *Registry) RecordHistogram(name string, value float64, labels Labels) {
	key := SeriesKey(name, labels)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.histograms[key]
	if !ok {
		h = &histogramEntry{name: name, labels: copyLabels(labels)}
		r.histograms[key] = h
	}

	h.observations = append(h.observations, observation{value: value, at: now})
	h.sum += value
	if overflow := len(h.observations) - r.histogramSize; overflow > 0 {
		for _, o := range h.observations[:overflow] {
			h.sum -= o.value
		}
		h.observations = append(h.observations[:0:0], h.observations[overflow:]...)
	}
	h.count = len(h.observations)
}

// Counter returns the value of a counter, or 0 if it does not exist.
func (r *Registry) Counter(name string, labels Labels) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.counters[SeriesKey(name, labels)]; ok {
		return c.value
	}
	return 0
}

// Gauge returns the latest value of a gauge.
func (r *Registry) Gauge(name string, labels Labels) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.gauges[SeriesKey(name, labels)]
	if !ok {
		return 0, false
	}
	return g.value, true
}

// Histogram summarizes a histogram's retained observations.
func (r *Registry) Histogram(name string, labels Labels) (HistogramSummary, bool) {
	r.mu.RLock()
	h, ok := r.histograms[SeriesKey(name, labels)]
	if !ok {
		r.mu.RUnlock()
		return HistogramSummary{}, false
	}
	values, sum := h.values(), h.sum
	r.mu.RUnlock()

	return summarize(values, sum), true
}

// Reset clears every counter, gauge and histogram.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters = make(map[string]*counterEntry)
	r.gauges = make(map[string]*gaugeEntry)
	r.histograms = make(map[string]*histogramEntry)
}

// CleanupStats reports what a retention sweep removed.
type CleanupStats struct {
	Gauges       int
	Observations int
	Histograms   int
}

// Cleanup evicts gauges not updated since now-retention and histogram
// observations older than that. Histograms left empty are removed.
// Counters are never evicted.
func (r *Registry) Cleanup(now time.Time, retention time.Duration) CleanupStats {
	cutoff := now.Add(-retention)
	var stats CleanupStats

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, g := range r.gauges {
		if g.updatedAt.Before(cutoff) {
			delete(r.gauges, key)
			stats.Gauges++
		}
	}

	for key, h := range r.histograms {
		// observations are appended in time order
		i := sort.Search(len(h.observations), func(i int) bool {
			return !h.observations[i].at.Before(cutoff)
		})
		if i == 0 {
			continue
		}
		stats.Observations += i
		if i == len(h.observations) {
			delete(r.histograms, key)
			stats.Histograms++
			continue
		}
		h.observations = append(h.observations[:0:0], h.observations[i:]...)
		h.recompute()
	}

	return stats
}

func (h *histogramEntry) values() []float64 {
	values := make([]float64, len(h.observations))
	for i, o := range h.observations {
		values[i] = o.value
	}
	return values
}

// SeriesKey serializes a metric name and its labels as
// name{k1="v1",k2="v2"} with label keys sorted.
func SeriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	return name + formatLabels(labels, "", "")
}

func formatLabels(labels Labels, extraKey, extraValue string) string {
	keys := make([]string, 0, len(labels)+1)
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeLabel(&b, k, labels[k])
	}
	if extraKey != "" {
		if len(keys) > 0 {
			b.WriteByte(',')
		}
		writeLabel(&b, extraKey, extraValue)
	}
	b.WriteByte('}')
	return b.String()
}

var labelValueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func writeLabel(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(`="`)
	b.WriteString(labelValueEscaper.Replace(value))
	b.WriteByte('"')
}

func copyLabels(labels Labels) Labels {
	if len(labels) == 0 {
		return nil
	}
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
