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
)

// Access reads batches of named nodes and writes single values.
type Access struct {
	mgr     *Manager
	logger  *slog.Logger
	metrics *Metrics
}

// NewAccess creates a value access layer on top of mgr.
func NewAccess(mgr *Manager) *Access {
	return &Access{mgr: mgr, logger: mgr.logger, metrics: mgr.metrics}
}

// ReadValues reads the current value of every target, keyed by name.
//
// Names whose node is not a variable, cannot be read or holds a non-scalar
// value are left out of the result; one bad node never fails the batch. A
// lost connection does, after the Manager's single reconnect and retry.
func (a *Access) ReadValues(ctx context.Context, targets map[string]string) (map[string]any, error) {
	if len(targets) == 0 {
		return map[string]any{}, nil
	}

	var values map[string]any
	err := a.mgr.Execute(ctx, "read", func(ctx context.Context, s Session) error {
		var err error
		values, err = a.readBatch(ctx, s, targets)
		return err
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (a *Access) readBatch(ctx context.Context, s Session, targets map[string]string) (map[string]any, error) {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]any, len(targets))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := targets[name]
		v, ok, err := a.readOne(ctx, s, id)
		if err != nil {
			if abort(ctx, err) {
				return nil, err
			}
			a.metrics.NodeReadErrors.Add(1)
			a.logger.Warn("read failed",
				slog.String("name", name),
				slog.String("node", id),
				slog.Any("error", err))
			continue
		}
		if !ok {
			a.metrics.NodesSkipped.Add(1)
			continue
		}
		a.metrics.NodesRead.Add(1)
		values[name] = v
	}
	return values, nil
}

// readOne returns ok=false for nodes that are skipped without an error.
func (a *Access) readOne(ctx context.Context, s Session, id string) (any, bool, error) {
	n, err := s.Node(id)
	if err != nil {
		return nil, false, err
	}
	class, err := n.NodeClass(ctx)
	if err != nil {
		return nil, false, err
	}
	if class != NodeClassVariable {
		a.logger.Debug("not a variable, skipping",
			slog.String("node", id),
			slog.String("class", class.String()))
		return nil, false, nil
	}

	raw, err := n.Value(ctx)
	if err != nil {
		return nil, false, err
	}
	v, scalar := normalize(raw)
	if !scalar {
		a.logger.Debug("unsupported value type, skipping",
			slog.String("node", id),
			slog.String("type", fmt.Sprintf("%T", raw)))
		return nil, false, nil
	}
	return v, true, nil
}

// WriteValue converts value to the node's declared data type and writes it.
// Every failure is returned: conversion problems as *ConfigError, rejected
// writes as *StatusError, lost connections after one reconnect and retry.
func (a *Access) WriteValue(ctx context.Context, nodeID string, value any) error {
	a.metrics.Writes.Add(1)
	err := a.mgr.Execute(ctx, "write", func(ctx context.Context, s Session) error {
		n, err := s.Node(nodeID)
		if err != nil {
			return err
		}
		dt, err := n.DataType(ctx)
		if err != nil {
			return err
		}
		typed, err := Coerce(value, dt.Builtin)
		if err != nil {
			return err
		}
		return n.Write(ctx, typed)
	})
	if err != nil {
		a.metrics.WriteErrors.Add(1)
		if !cancelled(ctx, err) {
			a.logger.Warn("write failed",
				slog.String("node", nodeID),
				slog.Any("error", err))
		}
		return err
	}
	a.logger.Debug("write succeeded",
		slog.String("node", nodeID),
		slog.Any("value", value))
	return nil
}
