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
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is the name to value mapping published by one poll cycle. It is
// never modified after publication. A name missing from a snapshot means
// the value is unavailable.
type Snapshot struct {
	values map[string]any
	taken  time.Time
	cycle  uint64
}

func newSnapshot(values map[string]any, taken time.Time, cycle uint64) *Snapshot {
	return &Snapshot{values: values, taken: taken, cycle: cycle}
}

// Get returns the value published for name.
func (s *Snapshot) Get(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of available values.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Names returns the available names in sorted order.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of the mapping.
func (s *Snapshot) Values() map[string]any {
	out := make(map[string]any, s.Len())
	if s == nil {
		return out
	}
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Time returns when the cycle that produced the snapshot finished. It is
// zero for the initial empty snapshot.
func (s *Snapshot) Time() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.taken
}

// Cycle returns the number of the poll cycle that produced the snapshot.
func (s *Snapshot) Cycle() uint64 {
	if s == nil {
		return 0
	}
	return s.cycle
}

// CoordinatorState is the state of a Coordinator.
type CoordinatorState int32

const (
	CoordinatorIdle CoordinatorState = iota
	CoordinatorPolling
)

// String returns the string representation of the coordinator state.
func (s CoordinatorState) String() string {
	switch s {
	case CoordinatorIdle:
		return "idle"
	case CoordinatorPolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Coordinator owns the address space index and the last published
// snapshot, and refreshes the snapshot when asked to. Scheduling the
// refreshes is up to the caller.
type Coordinator struct {
	mgr     *Manager
	access  *Access
	logger  *slog.Logger
	metrics *Metrics

	index    atomic.Pointer[Index]
	snapshot atomic.Pointer[Snapshot]
	cycles   atomic.Uint64
	state    atomic.Int32

	running sync.Mutex

	lmu       sync.RWMutex
	listeners []func(*Snapshot)
}

// NewCoordinator creates a coordinator with an empty index and an empty
// snapshot.
func NewCoordinator(mgr *Manager, access *Access) *Coordinator {
	c := &Coordinator{
		mgr:     mgr,
		access:  access,
		logger:  mgr.logger,
		metrics: mgr.metrics,
	}
	c.index.Store(NewIndex(nil))
	c.snapshot.Store(newSnapshot(map[string]any{}, time.Time{}, 0))
	return c
}

// SetIndex replaces the index used by the following cycles.
func (c *Coordinator) SetIndex(idx *Index) {
	if idx == nil {
		idx = NewIndex(nil)
	}
	c.index.Store(idx)
}

// Index returns the current index.
func (c *Coordinator) Index() *Index {
	return c.index.Load()
}

// Snapshot returns the last published snapshot.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// State returns whether a cycle is in flight.
func (c *Coordinator) State() CoordinatorState {
	return CoordinatorState(c.state.Load())
}

// OnSnapshot registers fn to be called after every published snapshot.
// fn runs on the refreshing goroutine and must not block.
func (c *Coordinator) OnSnapshot(fn func(*Snapshot)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Refresh runs one poll cycle. It never fails: a cycle that cannot read
// anything keeps the previous snapshot. A call made while another cycle is
// in flight returns immediately and reports false.
func (c *Coordinator) Refresh(ctx context.Context) bool {
	if !c.running.TryLock() {
		c.metrics.CyclesSkipped.Add(1)
		c.logger.Debug("poll cycle already running, skipping")
		return false
	}
	defer c.running.Unlock()

	c.state.Store(int32(CoordinatorPolling))
	defer c.state.Store(int32(CoordinatorIdle))

	cycle := c.cycles.Add(1)
	c.metrics.Cycles.Add(1)
	start := time.Now()
	defer func() { c.metrics.CycleLatency.Observe(time.Since(start)) }()

	log := c.logger.With(slog.Uint64("cycle", cycle))

	if err := c.mgr.EnsureConnected(ctx); err != nil {
		c.fail(ctx, log, "not connected, keeping previous snapshot", err)
		return false
	}

	values, err := c.access.ReadValues(ctx, c.index.Load().Targets())
	if err != nil {
		c.fail(ctx, log, "poll cycle failed, keeping previous snapshot", err)
		return false
	}

	snap := newSnapshot(values, time.Now(), cycle)
	c.snapshot.Store(snap)
	log.Debug("snapshot published",
		slog.Int("values", len(values)),
		slog.Duration("took", time.Since(start)))

	c.lmu.RLock()
	listeners := c.listeners
	c.lmu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
	return true
}

func (c *Coordinator) fail(ctx context.Context, log *slog.Logger, msg string, err error) {
	c.metrics.CyclesFailed.Add(1)
	if cancelled(ctx, err) {
		log.Info("poll cycle cancelled")
		return
	}
	log.Warn(msg, slog.Any("error", err))
}
