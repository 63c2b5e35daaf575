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

	"github.com/google/uuid"
)

// Hub pairs the session of one configured server with its discovery,
// value access and polling. Create it with NewHub, call Start once and
// Close when done.
type Hub struct {
	id      string
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	mgr        *Manager
	discoverer *Discoverer
	access     *Access
	coord      *Coordinator
}

// NewHub validates cfg, filling in defaults, and creates an unconnected hub.
func NewHub(cfg Config, opts ...Option) (*Hub, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}

	h := &Hub{
		id:      uuid.NewString(),
		cfg:     cfg,
		metrics: o.metrics,
	}
	h.mgr = newManager(&h.cfg, o)
	h.logger = h.mgr.logger
	h.discoverer = NewDiscoverer(h.mgr, cfg.MaxDepth)
	h.access = NewAccess(h.mgr)
	h.coord = NewCoordinator(h.mgr, h.access)
	for _, fn := range o.listeners {
		h.coord.OnSnapshot(fn)
	}
	return h, nil
}

// ID returns the instance id of the hub, unique per process run.
func (h *Hub) ID() string { return h.id }

// Name returns the configured hub name.
func (h *Hub) Name() string { return h.cfg.Name }

// Config returns a copy of the hub configuration.
func (h *Hub) Config() Config { return h.cfg }

// Manager returns the connection manager.
func (h *Hub) Manager() *Manager { return h.mgr }

// Coordinator returns the polling coordinator.
func (h *Hub) Coordinator() *Coordinator { return h.coord }

// Metrics returns the hub metrics.
func (h *Hub) Metrics() *Metrics { return h.metrics }

// State returns the connection state.
func (h *Hub) State() ConnectionState { return h.mgr.State() }

// Start connects, discovers the address space below the configured root
// and runs the first poll cycle. A failed initial connect is tolerated; the
// discovery that follows tries once more and its error is returned.
func (h *Hub) Start(ctx context.Context) error {
	h.logger.Info("starting hub",
		slog.String("id", h.id),
		slog.String("endpoint", h.cfg.Endpoint),
		slog.String("root", h.cfg.RootNodeID))

	if err := h.mgr.Connect(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	if err := h.Rediscover(ctx); err != nil {
		return err
	}
	h.coord.Refresh(ctx)
	return nil
}

// Discover walks the address space below root without touching the index.
func (h *Hub) Discover(ctx context.Context, root string) ([]NodeDescriptor, error) {
	return h.discoverer.Discover(ctx, root)
}

// Rediscover walks the configured root again and replaces the index.
func (h *Hub) Rediscover(ctx context.Context) error {
	descs, err := h.discoverer.Discover(ctx, h.cfg.RootNodeID)
	if err != nil {
		return err
	}
	h.coord.SetIndex(NewIndex(descs))
	return nil
}

// Nodes returns the indexed descriptors sorted by name.
func (h *Hub) Nodes() []NodeDescriptor {
	return h.coord.Index().Descriptors()
}

// Classify returns copies of descs with their classification filled in.
func (h *Hub) Classify(ctx context.Context, descs []NodeDescriptor) ([]NodeDescriptor, error) {
	return h.discoverer.Classify(ctx, descs)
}

// IsWritableBoolean reports whether nodeID can be driven as a switch.
func (h *Hub) IsWritableBoolean(ctx context.Context, nodeID string) (bool, error) {
	return h.discoverer.IsWritableBoolean(ctx, nodeID)
}

// IsWritableNumber reports whether nodeID can be driven as a number.
func (h *Hub) IsWritableNumber(ctx context.Context, nodeID string) (bool, error) {
	return h.discoverer.IsWritableNumber(ctx, nodeID)
}

// ReadValues reads the given name to node ID targets.
func (h *Hub) ReadValues(ctx context.Context, targets map[string]string) (map[string]any, error) {
	return h.access.ReadValues(ctx, targets)
}

// Write writes value to nodeID, converting it to the node's data type.
func (h *Hub) Write(ctx context.Context, nodeID string, value any) error {
	return h.access.WriteValue(ctx, nodeID, value)
}

// Refresh runs one poll cycle.
func (h *Hub) Refresh(ctx context.Context) bool {
	return h.coord.Refresh(ctx)
}

// Snapshot returns the last published snapshot.
func (h *Hub) Snapshot() *Snapshot {
	return h.coord.Snapshot()
}

// OnSnapshot registers fn to be called after every published snapshot.
func (h *Hub) OnSnapshot(fn func(*Snapshot)) {
	h.coord.OnSnapshot(fn)
}

// Close tears the session down whatever its state. A closed hub never opens
// a new session.
func (h *Hub) Close(ctx context.Context) {
	h.mgr.Close(ctx)
	h.logger.Info("hub closed", slog.String("id", h.id))
}
