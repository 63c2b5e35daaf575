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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram()
	h.Observe(500 * time.Microsecond)
	h.Observe(20 * time.Millisecond)
	h.Observe(30 * time.Second)

	s := h.Stats()
	assert.EqualValues(t, 3, s.Count)
	assert.Equal(t, 0.5, s.MinMs)
	assert.Equal(t, 30000.0, s.MaxMs)
	assert.EqualValues(t, 1, s.Buckets["1ms"])
	assert.EqualValues(t, 1, s.Buckets["50ms"])
	assert.EqualValues(t, 1, s.Buckets["+Inf"])

	h.Reset()
	assert.EqualValues(t, 0, h.Stats().Count)
	assert.EqualValues(t, 0, h.Stats().Buckets["+Inf"])
}

func TestMetricsCollect(t *testing.T) {
	m := NewMetrics()
	m.Cycles.Add(3)
	m.CyclesSkipped.Add(1)
	m.ForOperation("read").Calls.Add(2)
	m.ForOperation("read").Errors.Add(1)

	got := m.Collect()
	assert.EqualValues(t, 3, got["cycles"])
	assert.EqualValues(t, 1, got["cycles_skipped"])

	ops, ok := got["operations"].(map[string]interface{})
	assert.True(t, ok)
	read := ops["read"].(map[string]interface{})
	assert.EqualValues(t, 2, read["calls"])
	assert.EqualValues(t, 1, read["errors"])
	assert.Same(t, m.ForOperation("read"), m.ForOperation("read"))
}
