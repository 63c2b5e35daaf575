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
	"fmt"
	"log/slog"
	"sort"
)

// Index maps display names to discovered nodes. An Index is never modified
// after NewIndex returns; rediscovery builds a new one. A nil *Index is an
// empty index.
type Index struct {
	byName map[string]NodeDescriptor
	names  []string
}

// NewIndex builds an index from descriptors. Names should already be
// unique (see Discoverer); if they are not, the last descriptor wins.
func NewIndex(descs []NodeDescriptor) *Index {
	idx := &Index{byName: make(map[string]NodeDescriptor, len(descs))}
	for _, d := range descs {
		idx.byName[d.Name] = d
	}
	idx.names = make([]string, 0, len(idx.byName))
	for name := range idx.byName {
		idx.names = append(idx.names, name)
	}
	sort.Strings(idx.names)
	return idx
}

// Len returns the number of indexed nodes.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.names)
}

// Lookup returns the descriptor registered under name.
func (idx *Index) Lookup(name string) (NodeDescriptor, bool) {
	if idx == nil {
		return NodeDescriptor{}, false
	}
	d, ok := idx.byName[name]
	return d, ok
}

// Names returns the indexed names in sorted order.
func (idx *Index) Names() []string {
	if idx == nil {
		return nil
	}
	return append([]string(nil), idx.names...)
}

// Descriptors returns the indexed descriptors sorted by name.
func (idx *Index) Descriptors() []NodeDescriptor {
	if idx == nil {
		return nil
	}
	out := make([]NodeDescriptor, 0, len(idx.names))
	for _, name := range idx.names {
		out = append(out, idx.byName[name])
	}
	return out
}

// Targets returns a fresh name to node ID mapping for ReadValues.
func (idx *Index) Targets() map[string]string {
	if idx == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(idx.byName))
	for name, d := range idx.byName {
		out[name] = d.NodeID
	}
	return out
}

// uniqueNames keeps the first node of each display name as is and renames
// later ones to "name (nodeID)", adding "#2", "#3" and so on while the
// renamed form is still taken.
func uniqueNames(descs []NodeDescriptor, logger *slog.Logger) []NodeDescriptor {
	seen := make(map[string]struct{}, len(descs))
	out := make([]NodeDescriptor, 0, len(descs))
	for _, d := range descs {
		if _, dup := seen[d.Name]; dup {
			base := fmt.Sprintf("%s (%s)", d.Name, d.NodeID)
			renamed := base
			for i := 2; ; i++ {
				if _, taken := seen[renamed]; !taken {
					break
				}
				renamed = fmt.Sprintf("%s #%d", base, i)
			}
			logger.Warn("duplicate display name",
				slog.String("name", d.Name),
				slog.String("node", d.NodeID),
				slog.String("renamed", renamed))
			d.Name = renamed
		}
		seen[d.Name] = struct{}{}
		out = append(out, d)
	}
	return out
}
