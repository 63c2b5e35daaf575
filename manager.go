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
	"sync"
	"sync/atomic"
	"time"
)

// teardownTimeout bounds Close on a session being discarded.
const teardownTimeout = 5 * time.Second

// Operation is a protocol call run by Manager.Execute against the live
// session.
type Operation func(ctx context.Context, s Session) error

// Manager owns the session of one hub and the state machine around it.
//
// The mutex is held only while connecting or disconnecting. Calls read the
// current session without it, so concurrent reads and writes never queue
// behind each other.
type Manager struct {
	cfg     *Config
	factory SessionFactory
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	closed  bool
	state   atomic.Int32
	session atomic.Pointer[liveSession]
}

type liveSession struct {
	Session
}

// NewManager creates a manager for cfg. It does not connect.
func NewManager(cfg *Config, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	return newManager(cfg, o)
}

func newManager(cfg *Config, o *hubOptions) *Manager {
	return &Manager{
		cfg:     cfg,
		factory: o.factory,
		logger:  o.logger.With(slog.String("hub", cfg.Name)),
		metrics: o.metrics,
	}
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

// IsConnected returns true if a session is established.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Metrics returns the manager metrics.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

func (m *Manager) setState(s ConnectionState) {
	m.state.Store(int32(s))
}

func (m *Manager) current() Session {
	if ls := m.session.Load(); ls != nil {
		return ls.Session
	}
	return nil
}

// Connect establishes the session. It returns nil at once if the hub is
// already connected. A failed attempt leaves the state Failed and returns a
// *ConnectError; the caller decides whether to try again.
func (m *Manager) Connect(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have finished the handshake while we waited.
	if m.IsConnected() {
		return nil
	}
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.closed {
		return ErrHubClosed
	}
	if stale := m.session.Swap(nil); stale != nil {
		m.closeSession(ctx, stale.Session)
	}
	m.setState(StateConnecting)
	m.logger.Debug("connecting", slog.String("endpoint", m.cfg.Endpoint))

	s, err := m.factory(m.cfg)
	if err != nil {
		m.setState(StateFailed)
		m.metrics.ConnectFailures.Add(1)
		return &ConnectError{Endpoint: m.cfg.Endpoint, Err: err}
	}

	timeout := m.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	err = s.Connect(cctx)
	cancel()
	m.metrics.ConnectLatency.Observe(time.Since(start))

	if err != nil {
		// Release whatever part of the handshake succeeded.
		m.closeSession(ctx, s)

		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			m.logger.Info("connect cancelled", slog.String("endpoint", m.cfg.Endpoint))
			return &ConnectError{Endpoint: m.cfg.Endpoint, Err: ctx.Err()}
		}

		m.setState(StateFailed)
		m.metrics.ConnectFailures.Add(1)
		m.logger.Warn("connect failed",
			slog.String("endpoint", m.cfg.Endpoint),
			slog.Any("error", err))
		return &ConnectError{Endpoint: m.cfg.Endpoint, Err: err}
	}

	m.session.Store(&liveSession{s})
	m.setState(StateConnected)
	m.metrics.Connects.Add(1)
	m.logger.Info("connected", slog.String("endpoint", m.cfg.Endpoint))
	return nil
}

// EnsureConnected is a cheap guard: no-op while connected, Connect otherwise.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}
	return m.Connect(ctx)
}

// Disconnect tears the session down. Teardown errors are logged, never
// returned, and the state is always Disconnected afterwards.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked(ctx)
}

// Close disconnects for good. Later calls to Connect, and through it every
// Execute, fail with ErrHubClosed.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.disconnectLocked(ctx)
}

func (m *Manager) disconnectLocked(ctx context.Context) {
	ls := m.session.Swap(nil)
	m.setState(StateDisconnected)
	if ls == nil {
		return
	}
	m.closeSession(ctx, ls.Session)
	m.metrics.Disconnects.Add(1)
	m.logger.Info("disconnected", slog.String("endpoint", m.cfg.Endpoint))
}

// closeSession closes s even when ctx is already cancelled.
func (m *Manager) closeSession(ctx context.Context, s Session) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := s.Close(cctx); err != nil {
		m.logger.Debug("session close failed", slog.Any("error", err))
	}
}

// markDisconnected flags the session that failed. A session installed by a
// concurrent reconnect is left alone.
func (m *Manager) markDisconnected(failed Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current() == failed {
		m.setState(StateDisconnected)
	}
}

// reconnect replaces the failed session with a new one, unless a concurrent
// caller already did.
func (m *Manager) reconnect(ctx context.Context, failed Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.current(); cur != nil && cur != failed && m.IsConnected() {
		return nil
	}
	m.metrics.Reconnects.Add(1)
	m.disconnectLocked(ctx)
	return m.connectLocked(ctx)
}

// Execute runs op against the live session with the reconnect-once policy:
//
//   - not connected and Connect fails: the connect error is returned.
//   - transport failure: the session is dropped, one reconnect is made and
//     op runs exactly once more. Its outcome is returned as is.
//   - cancellation: returned at once, the state is not touched.
//   - errors about a single node or value: returned, the session stays.
//   - anything else: the session is marked Disconnected and the error
//     returned.
func (m *Manager) Execute(ctx context.Context, name string, op Operation) error {
	if err := m.EnsureConnected(ctx); err != nil {
		return err
	}

	om := m.metrics.ForOperation(name)
	s := m.current()
	if s == nil {
		return ErrNotConnected
	}

	err := m.invoke(ctx, om, s, op)
	if err == nil {
		return nil
	}

	if cancelled(ctx, err) || !IsTransport(err) {
		m.settle(ctx, name, s, err)
		return err
	}

	m.markDisconnected(s)
	m.logger.Warn("transport failure, reconnecting",
		slog.String("op", name),
		slog.Any("error", err))

	if rerr := m.reconnect(ctx, s); rerr != nil {
		m.metrics.CallsFailed.Add(1)
		return &TransportError{Op: name, Err: err, Reconnect: rerr}
	}

	m.metrics.Retries.Add(1)
	s = m.current()
	if s == nil {
		m.metrics.CallsFailed.Add(1)
		return &TransportError{Op: name, Err: err, Reconnect: ErrNotConnected}
	}
	if err = m.invoke(ctx, om, s, op); err != nil {
		m.settle(ctx, name, s, err)
	}
	return err
}

func (m *Manager) invoke(ctx context.Context, om *OperationMetrics, s Session, op Operation) error {
	m.metrics.Calls.Add(1)
	om.Calls.Add(1)
	start := time.Now()
	err := op(ctx, s)
	om.Latency.Observe(time.Since(start))
	if err != nil {
		om.Errors.Add(1)
	}
	return err
}

// settle records a final failure of op and marks the session broken when
// the error says it is.
func (m *Manager) settle(ctx context.Context, name string, s Session, err error) {
	if cancelled(ctx, err) {
		m.logger.Info("operation cancelled", slog.String("op", name))
		return
	}
	m.metrics.CallsFailed.Add(1)
	if IsNodeScoped(err) {
		return
	}
	m.markDisconnected(s)
	m.logger.Warn("operation failed, session marked disconnected",
		slog.String("op", name),
		slog.Any("error", err))
}
