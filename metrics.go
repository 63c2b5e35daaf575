// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcuahub

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically updated int64.
type Counter struct {
	v atomic.Int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) { c.v.Add(delta) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.v.Load() }

// Reset resets the counter to zero.
func (c *Counter) Reset() { c.v.Store(0) }

var latencyBounds = []struct {
	limit time.Duration
	label string
}{
	{time.Millisecond, "1ms"},
	{5 * time.Millisecond, "5ms"},
	{10 * time.Millisecond, "10ms"},
	{50 * time.Millisecond, "50ms"},
	{100 * time.Millisecond, "100ms"},
	{500 * time.Millisecond, "500ms"},
	{time.Second, "1s"},
	{5 * time.Second, "5s"},
	{10 * time.Second, "10s"},
}

// LatencyHistogram tracks a latency distribution in fixed buckets. The last
// bucket counts everything above 10s.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets [10]int64
	count   int64
	sum     time.Duration
	min     time.Duration
	max     time.Duration
}

// NewLatencyHistogram creates an empty histogram.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 || d < h.min {
		h.min = d
	}
	if d > h.max {
		h.max = d
	}
	h.count++
	h.sum += d

	for i, b := range latencyBounds {
		if d <= b.limit {
			h.buckets[i]++
			return
		}
	}
	h.buckets[len(h.buckets)-1]++
}

// LatencyStats holds latency statistics in milliseconds.
type LatencyStats struct {
	Count   int64            `json:"count"`
	AvgMs   float64          `json:"avg_ms"`
	MinMs   float64          `json:"min_ms"`
	MaxMs   float64          `json:"max_ms"`
	Buckets map[string]int64 `json:"buckets"`
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{Count: h.count, Buckets: make(map[string]int64, len(h.buckets))}
	if h.count > 0 {
		stats.AvgMs = ms(h.sum) / float64(h.count)
		stats.MinMs = ms(h.min)
		stats.MaxMs = ms(h.max)
	}
	for i, b := range latencyBounds {
		stats.Buckets[b.label] = h.buckets[i]
	}
	stats.Buckets["+Inf"] = h.buckets[len(h.buckets)-1]
	return stats
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buckets = [10]int64{}
	h.count = 0
	h.sum, h.min, h.max = 0, 0, 0
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// Metrics holds the counters of one hub, or of several hubs sharing it
// through WithMetrics.
type Metrics struct {
	Connects        Counter
	ConnectFailures Counter
	Disconnects     Counter
	Reconnects      Counter
	Retries         Counter

	Calls       Counter
	CallsFailed Counter

	Cycles        Counter
	CyclesFailed  Counter
	CyclesSkipped Counter

	NodesRead      Counter
	NodeReadErrors Counter
	NodesSkipped   Counter

	Writes      Counter
	WriteErrors Counter

	ConnectLatency *LatencyHistogram
	CycleLatency   *LatencyHistogram

	ops sync.Map // operation name -> *OperationMetrics
}

// OperationMetrics holds metrics for one wrapped operation, e.g. "read".
type OperationMetrics struct {
	Calls   Counter
	Errors  Counter
	Latency *LatencyHistogram
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectLatency: NewLatencyHistogram(),
		CycleLatency:   NewLatencyHistogram(),
	}
}

// ForOperation returns metrics for a named operation.
func (m *Metrics) ForOperation(op string) *OperationMetrics {
	if val, ok := m.ops.Load(op); ok {
		return val.(*OperationMetrics)
	}
	om := &OperationMetrics{Latency: NewLatencyHistogram()}
	actual, _ := m.ops.LoadOrStore(op, om)
	return actual.(*OperationMetrics)
}

// Collect returns all metrics as a map.
func (m *Metrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"connects":         m.Connects.Value(),
		"connect_failures": m.ConnectFailures.Value(),
		"disconnects":      m.Disconnects.Value(),
		"reconnects":       m.Reconnects.Value(),
		"retries":          m.Retries.Value(),
		"calls":            m.Calls.Value(),
		"calls_failed":     m.CallsFailed.Value(),
		"cycles":           m.Cycles.Value(),
		"cycles_failed":    m.CyclesFailed.Value(),
		"cycles_skipped":   m.CyclesSkipped.Value(),
		"nodes_read":       m.NodesRead.Value(),
		"node_read_errors": m.NodeReadErrors.Value(),
		"nodes_skipped":    m.NodesSkipped.Value(),
		"writes":           m.Writes.Value(),
		"write_errors":     m.WriteErrors.Value(),
		"connect_latency":  m.ConnectLatency.Stats(),
		"cycle_latency":    m.CycleLatency.Stats(),
	}

	ops := make(map[string]interface{})
	m.ops.Range(func(key, value interface{}) bool {
		om := value.(*OperationMetrics)
		ops[key.(string)] = map[string]interface{}{
			"calls":   om.Calls.Value(),
			"errors":  om.Errors.Value(),
			"latency": om.Latency.Stats(),
		}
		return true
	})
	if len(ops) > 0 {
		result["operations"] = ops
	}
	return result
}
