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

// Package bridge publishes hub snapshots on NATS and accepts write commands
// from it.
//
// Subjects, with the default prefix:
//
//	opcuahub.data.<hub>           snapshot of every published poll cycle
//	opcuahub.command.<hub>.write  write command, answered on the reply subject
//
// <hub> is the lowercased hub name with subject separators and wildcards
// replaced by underscores.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/edgeo-scada/opcuahub"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "opcuahub"

// Conn is the part of *nats.Conn the bridge uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// DataMessage is published for every snapshot.
type DataMessage struct {
	Hub       string         `json:"hub"`
	Cycle     uint64         `json:"cycle"`
	Timestamp int64          `json:"timestamp"`
	Values    map[string]any `json:"values"`
}

// WriteCommand is the payload of a write command.
type WriteCommand struct {
	RequestID string `json:"request_id,omitempty"`
	NodeID    string `json:"node_id"`
	Value     any    `json:"value"`
}

// WriteResult answers a write command.
type WriteResult struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// Bridge connects a registry to NATS.
type Bridge struct {
	conn     Conn
	registry *opcuahub.Registry
	prefix   string
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	subs    []*nats.Subscription
	hubs    map[string]string // subject token -> hub name
	running bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(b *Bridge) {
		if prefix != "" {
			b.prefix = strings.TrimSuffix(prefix, ".")
		}
	}
}

// WithWriteTimeout bounds each write command.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bridge. It does nothing until Start.
func New(conn Conn, registry *opcuahub.Registry, opts ...Option) *Bridge {
	b := &Bridge{
		conn:     conn,
		registry: registry,
		prefix:   DefaultPrefix,
		timeout:  10 * time.Second,
		logger:   slog.Default(),
		hubs:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(slog.String("component", "bridge"))
	return b
}

// Start subscribes to write commands and publishes the snapshots of every
// hub registered at this point.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	for _, h := range b.registry.Hubs() {
		hub := h.Name()
		if _, ok := b.hubs[Token(hub)]; ok {
			continue
		}
		b.hubs[Token(hub)] = hub
		h.OnSnapshot(func(s *opcuahub.Snapshot) {
			b.PublishSnapshot(hub, s)
		})
	}

	subject := b.prefix + ".command.*.write"
	sub, err := b.conn.Subscribe(subject, b.handleCommand)
	if err != nil {
		return err
	}
	if sub != nil {
		b.subs = append(b.subs, sub)
	}
	b.running = true
	b.logger.Info("bridge started",
		slog.String("commands", subject),
		slog.Int("hubs", len(b.hubs)))
	return nil
}

// Stop unsubscribes. Snapshots published afterwards are dropped.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Debug("unsubscribe failed", slog.Any("error", err))
		}
	}
	b.subs = nil
	b.running = false
}

// PublishSnapshot publishes s as the data of hub.
func (b *Bridge) PublishSnapshot(hub string, s *opcuahub.Snapshot) {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if !running {
		return
	}

	data, err := json.Marshal(DataMessage{
		Hub:       hub,
		Cycle:     s.Cycle(),
		Timestamp: s.Time().UnixMilli(),
		Values:    s.Values(),
	})
	if err != nil {
		b.logger.Error("failed to marshal snapshot", slog.String("hub", hub), slog.Any("error", err))
		return
	}
	if err := b.conn.Publish(b.DataSubject(hub), data); err != nil {
		b.logger.Warn("publish failed", slog.String("hub", hub), slog.Any("error", err))
	}
}

// DataSubject returns the subject snapshots of hub are published on.
func (b *Bridge) DataSubject(hub string) string {
	return b.prefix + ".data." + Token(hub)
}

// CommandSubject returns the subject write commands for hub are read from.
func (b *Bridge) CommandSubject(hub string) string {
	return b.prefix + ".command." + Token(hub) + ".write"
}

func (b *Bridge) handleCommand(msg *nats.Msg) {
	token := strings.TrimSuffix(strings.TrimPrefix(msg.Subject, b.prefix+".command."), ".write")

	b.mu.Lock()
	hub, ok := b.hubs[token]
	b.mu.Unlock()
	if !ok {
		hub = token
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	resp := b.handleWrite(ctx, hub, msg.Data)

	if msg.Reply == "" {
		return
	}
	if err := b.conn.Publish(msg.Reply, resp); err != nil {
		b.logger.Warn("reply failed", slog.String("hub", hub), slog.Any("error", err))
	}
}

// handleWrite runs one write command and returns the encoded WriteResult.
func (b *Bridge) handleWrite(ctx context.Context, hub string, data []byte) []byte {
	var cmd WriteCommand
	res := WriteResult{}

	if err := json.Unmarshal(data, &cmd); err != nil {
		res.RequestID = uuid.NewString()
		res.Error = "invalid command: " + err.Error()
		return encode(res)
	}
	res.RequestID = cmd.RequestID
	if res.RequestID == "" {
		res.RequestID = uuid.NewString()
	}

	log := b.logger.With(
		slog.String("request_id", res.RequestID),
		slog.String("hub", hub),
		slog.String("node", cmd.NodeID))

	if cmd.Value == nil {
		res.Error = "value is required"
		return encode(res)
	}

	if err := b.registry.Write(ctx, hub, cmd.NodeID, cmd.Value); err != nil {
		log.Warn("write command failed", slog.Any("error", err))
		res.Error = err.Error()
		return encode(res)
	}
	log.Info("write command succeeded")
	res.OK = true
	return encode(res)
}

func encode(res WriteResult) []byte {
	data, _ := json.Marshal(res)
	return data
}

// Token turns a hub name into a single subject token.
func Token(hub string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, strings.ToLower(hub))
}
