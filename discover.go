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
)

// Discoverer walks the address space below a root node.
type Discoverer struct {
	mgr      *Manager
	logger   *slog.Logger
	maxDepth int
}

// NewDiscoverer creates a discoverer using mgr's session.
func NewDiscoverer(mgr *Manager, maxDepth int) *Discoverer {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Discoverer{mgr: mgr, logger: mgr.logger, maxDepth: maxDepth}
}

// Discover walks depth first from root and returns every variable holding a
// scalar value, in visiting order, with unique names.
//
// A node whose class or name cannot be read is skipped with its subtree.
// Unreadable values and non-scalar values skip only that variable. Lost
// connections abort the walk so the Manager can reconnect and start over.
func (d *Discoverer) Discover(ctx context.Context, root string) ([]NodeDescriptor, error) {
	var found []NodeDescriptor
	err := d.mgr.Execute(ctx, "discover", func(ctx context.Context, s Session) error {
		var err error
		found, err = d.walk(ctx, s, root)
		return err
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("discovery complete",
		slog.String("root", root),
		slog.Int("variables", len(found)))
	return uniqueNames(found, d.logger), nil
}

type frame struct {
	node  Node
	depth int
}

func (d *Discoverer) walk(ctx context.Context, s Session, root string) ([]NodeDescriptor, error) {
	rootNode, err := s.Node(root)
	if err != nil {
		return nil, &ConfigError{Field: "root", Value: root, Err: err}
	}

	var (
		found   []NodeDescriptor
		stack   = []frame{{node: rootNode}}
		visited = make(map[string]struct{})
	)

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		id := f.node.ID()
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		log := d.logger.With(slog.String("node", id))

		class, err := f.node.NodeClass(ctx)
		if err != nil {
			if abort(ctx, err) {
				return nil, err
			}
			log.Warn("cannot read node class, skipping branch", slog.Any("error", err))
			continue
		}
		name, err := f.node.DisplayName(ctx)
		if err != nil {
			if abort(ctx, err) {
				return nil, err
			}
			log.Warn("cannot read display name, skipping branch", slog.Any("error", err))
			continue
		}

		if class == NodeClassVariable {
			desc, ok, err := d.variable(ctx, f.node, name)
			if err != nil {
				return nil, err
			}
			if ok {
				found = append(found, desc)
			}
		}

		if !class.descends() {
			continue
		}
		if f.depth >= d.maxDepth {
			log.Debug("max depth reached", slog.Int("depth", f.depth))
			continue
		}

		children, err := f.node.Children(ctx)
		if err != nil {
			if abort(ctx, err) {
				return nil, err
			}
			log.Warn("cannot browse children", slog.Any("error", err))
			continue
		}
		// Pushed in reverse so children are visited in server order.
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: children[i], depth: f.depth + 1})
		}
	}
	return found, nil
}

// variable reads the value of a variable node. ok is false when the node is
// skipped; err is set only when the walk must stop.
func (d *Discoverer) variable(ctx context.Context, n Node, name string) (desc NodeDescriptor, ok bool, err error) {
	log := d.logger.With(slog.String("node", n.ID()), slog.String("name", name))

	raw, err := n.Value(ctx)
	if err != nil {
		if abort(ctx, err) {
			return NodeDescriptor{}, false, err
		}
		if IsNotReadable(err) {
			log.Warn("variable not readable, skipping")
		} else {
			log.Warn("cannot read variable, skipping", slog.Any("error", err))
		}
		return NodeDescriptor{}, false, nil
	}

	v, scalar := normalize(raw)
	if !scalar {
		log.Warn("unsupported value type, skipping", slog.String("type", fmt.Sprintf("%T", raw)))
		return NodeDescriptor{}, false, nil
	}
	log.Debug("variable found", slog.Any("value", v))
	return NodeDescriptor{Name: name, NodeID: n.ID(), Classification: PlainVariable, Value: v}, true, nil
}

// abort reports whether err ends a whole walk or batch rather than a single
// node.
func abort(ctx context.Context, err error) bool {
	return cancelled(ctx, err) || IsTransport(err)
}

// IsWritableBoolean reports whether the node is a variable with the write
// access bit set and a data type named "Boolean".
func (d *Discoverer) IsWritableBoolean(ctx context.Context, nodeID string) (bool, error) {
	c, err := d.classifyOne(ctx, nodeID)
	return c == WritableBoolean, err
}

// IsWritableNumber reports whether the node is a variable with the write
// access bit set and a numeric built-in data type.
func (d *Discoverer) IsWritableNumber(ctx context.Context, nodeID string) (bool, error) {
	c, err := d.classifyOne(ctx, nodeID)
	return c == WritableNumber, err
}

func (d *Discoverer) classifyOne(ctx context.Context, nodeID string) (Classification, error) {
	c := PlainVariable
	err := d.mgr.Execute(ctx, "classify", func(ctx context.Context, s Session) error {
		var err error
		c, err = d.classify(ctx, s, nodeID)
		return err
	})
	return c, err
}

// Classify returns copies of descs with their classification filled in.
// Nodes that cannot be inspected stay PlainVariable.
func (d *Discoverer) Classify(ctx context.Context, descs []NodeDescriptor) ([]NodeDescriptor, error) {
	var out []NodeDescriptor
	err := d.mgr.Execute(ctx, "classify", func(ctx context.Context, s Session) error {
		out = make([]NodeDescriptor, 0, len(descs))
		for _, desc := range descs {
			c, err := d.classify(ctx, s, desc.NodeID)
			if err != nil {
				return err
			}
			desc.Classification = c
			out = append(out, desc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// classify swallows node level failures, which leave the node
// PlainVariable.
func (d *Discoverer) classify(ctx context.Context, s Session, nodeID string) (Classification, error) {
	c, err := classifyNode(ctx, s, nodeID)
	if err != nil {
		if abort(ctx, err) {
			return PlainVariable, err
		}
		d.logger.Warn("cannot classify node",
			slog.String("node", nodeID),
			slog.Any("error", err))
		return PlainVariable, nil
	}
	return c, nil
}

func classifyNode(ctx context.Context, s Session, nodeID string) (Classification, error) {
	n, err := s.Node(nodeID)
	if err != nil {
		return PlainVariable, err
	}
	class, err := n.NodeClass(ctx)
	if err != nil || class != NodeClassVariable {
		return PlainVariable, err
	}
	access, err := n.AccessLevel(ctx)
	if err != nil || !access.Writable() {
		return PlainVariable, err
	}
	dt, err := n.DataType(ctx)
	if err != nil {
		return PlainVariable, err
	}
	switch {
	case dt.Name == "Boolean":
		return WritableBoolean, nil
	case dt.Builtin.IsNumeric():
		return WritableNumber, nil
	}
	return PlainVariable, nil
}
