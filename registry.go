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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry holds the hubs of a process by name and dispatches write
// commands to them.
type Registry struct {
	mu     sync.RWMutex
	hubs   map[string]*Hub
	closed bool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{hubs: make(map[string]*Hub), logger: logger}
}

// Add registers h under its lowercased name.
func (r *Registry) Add(h *Hub) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	key := strings.ToLower(h.Name())
	if _, ok := r.hubs[key]; ok {
		return &ConfigError{Field: "hub", Value: h.Name(), Err: ErrDuplicateHub}
	}
	r.hubs[key] = h
	return nil
}

// Get resolves a hub by name, ignoring case.
func (r *Registry) Get(name string) (*Hub, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	h, ok := r.hubs[strings.ToLower(name)]
	if !ok {
		return nil, &ConfigError{Field: "hub", Value: name, Err: ErrUnknownHub}
	}
	return h, nil
}

// Hubs returns the registered hubs sorted by name.
func (r *Registry) Hubs() []*Hub {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Write is the write command: it resolves hub by name and writes value to
// nodeID. Accepted value types are float, int, string, byte, bool and
// time.Time. An unknown hub or an unsupported value is a *ConfigError; a
// failed write is a *WriteError.
func (r *Registry) Write(ctx context.Context, hub, nodeID string, value any) error {
	h, err := r.Get(hub)
	if err != nil {
		return err
	}
	if err := checkCommandValue(value); err != nil {
		return err
	}
	if nodeID == "" {
		return &ConfigError{Field: "node_id", Err: ErrInvalidNodeID}
	}

	r.logger.Info("write command",
		slog.String("hub", h.Name()),
		slog.String("node", nodeID),
		slog.Any("value", value))

	if err := h.Write(ctx, nodeID, value); err != nil {
		return &WriteError{Hub: h.Name(), NodeID: nodeID, Err: err}
	}
	return nil
}

func checkCommandValue(v any) error {
	switch v.(type) {
	case float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		string, bool, time.Time:
		return nil
	}
	return &ConfigError{Field: "value", Value: fmt.Sprintf("%T", v), Err: ErrUnsupportedType}
}

// Close closes every hub and rejects further use of the registry.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	hubs := r.hubs
	r.hubs = make(map[string]*Hub)
	r.mu.Unlock()

	for _, h := range hubs {
		h.Close(ctx)
	}
}
