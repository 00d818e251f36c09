package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wanderlink/wander-sync/types"
	"github.com/wanderlink/wander-sync/utils"
)

// MemoryMetrics is the process-local backend used when no scrape
// pipeline exists. Values are readable back through the interface,
// which the tests lean on.
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
	running    int32
}

func NewMemoryMetrics(_ types.Logger, _ *types.MetricsConfig) (types.MetricsManager, error) {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}, nil
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrAlreadyRunning
	}
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrNotRunning
	}
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := metricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[key]; exists {
		return counter
	}

	counter := &memoryCounter{name: name, labels: labels}
	m.counters[key] = counter
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := metricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}

	gauge := &memoryGauge{name: name, labels: labels}
	m.gauges[key] = gauge
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := metricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}

	histogram := &memoryHistogram{name: name, labels: labels, buckets: buckets}
	m.histograms[key] = histogram
	return histogram
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var values []types.MetricValue

	for _, counter := range m.counters {
		values = append(values, types.MetricValue{
			Name:      counter.name,
			Type:      "counter",
			Value:     counter.Get(),
			Labels:    counter.labels,
			Timestamp: now,
		})
	}

	for _, gauge := range m.gauges {
		values = append(values, types.MetricValue{
			Name:      gauge.name,
			Type:      "gauge",
			Value:     gauge.Get(),
			Labels:    gauge.labels,
			Timestamp: now,
		})
	}

	for _, histogram := range m.histograms {
		values = append(values, types.MetricValue{
			Name:      histogram.name,
			Type:      "histogram",
			Value:     histogram.GetSum(),
			Labels:    histogram.labels,
			Timestamp: now,
		})
	}

	return utils.Marshal(values)
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, "{%s=%s}", k, labels[k])
	}
	return b.String()
}

type memoryCounter struct {
	name   string
	labels map[string]string
	mu     sync.Mutex
	value  float64
}

func (c *memoryCounter) Inc() { c.Add(1) }

func (c *memoryCounter) Add(value float64) {
	c.mu.Lock()
	c.value += value
	c.mu.Unlock()
}

func (c *memoryCounter) Get() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type memoryGauge struct {
	name   string
	labels map[string]string
	mu     sync.Mutex
	value  float64
}

func (g *memoryGauge) Set(value float64) {
	g.mu.Lock()
	g.value = value
	g.mu.Unlock()
}

func (g *memoryGauge) Inc() { g.Add(1) }
func (g *memoryGauge) Dec() { g.Add(-1) }

func (g *memoryGauge) Add(value float64) {
	g.mu.Lock()
	g.value += value
	g.mu.Unlock()
}

func (g *memoryGauge) Sub(value float64) { g.Add(-value) }

func (g *memoryGauge) Get() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

type memoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	mu      sync.Mutex
	count   uint64
	sum     float64
}

func (h *memoryHistogram) Observe(value float64) {
	h.mu.Lock()
	h.count++
	h.sum += value
	h.mu.Unlock()
}

func (h *memoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *memoryHistogram) GetCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *memoryHistogram) GetSum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}
