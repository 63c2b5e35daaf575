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

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/opcuahub"
	"github.com/edgeo-scada/opcuahub/internal/testutil"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu       sync.Mutex
	msgs     []published
	handlers map[string]nats.MsgHandler
	subErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]nats.MsgHandler)}
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{subject, data})
	return nil
}

func (c *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return nil, c.subErr
	}
	c.handlers[subject] = cb
	return nil, nil
}

func (c *fakeConn) on(subject string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, m := range c.msgs {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) deliver(handlerSubject string, msg *nats.Msg) {
	c.mu.Lock()
	h := c.handlers[handlerSubject]
	c.mu.Unlock()
	h(msg)
}

func setup(t *testing.T) (*Bridge, *fakeConn, *opcuahub.Hub, *testutil.FakeServer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := testutil.NewFakeServer(
		testutil.Object("ns=2;i=1", "Root", "ns=2;i=2", "ns=2;i=3"),
		testutil.Writable("ns=2;i=2", "Speed", 10.0),
		testutil.Writable("ns=2;i=3", "Enabled", false),
	)
	hub, err := opcuahub.NewHub(opcuahub.Config{Name: "Line.1", Endpoint: "opc.tcp://line1:4840"},
		opcuahub.WithSessionFactory(srv.Factory()),
		opcuahub.WithLogger(logger))
	require.NoError(t, err)

	reg := opcuahub.NewRegistry(logger)
	require.NoError(t, reg.Add(hub))
	t.Cleanup(func() { reg.Close(context.Background()) })

	conn := newFakeConn()
	b := New(conn, reg, WithPrefix("plant."), WithLogger(logger))
	return b, conn, hub, srv
}

func TestToken(t *testing.T) {
	assert.Equal(t, "line_1", Token("Line.1"))
	assert.Equal(t, "a_b__c", Token("a b*>c"))
	assert.Equal(t, "boiler", Token("boiler"))
}

func TestSubjects(t *testing.T) {
	b, _, _, _ := setup(t)
	assert.Equal(t, "plant.data.line_1", b.DataSubject("Line.1"))
	assert.Equal(t, "plant.command.line_1.write", b.CommandSubject("Line.1"))
}

func TestPublishesSnapshots(t *testing.T) {
	b, conn, hub, _ := setup(t)
	require.NoError(t, b.Start())
	require.NoError(t, hub.Start(context.Background()))

	msgs := conn.on("plant.data.line_1")
	require.Len(t, msgs, 1)

	var msg DataMessage
	require.NoError(t, json.Unmarshal(msgs[0].data, &msg))
	assert.Equal(t, "Line.1", msg.Hub)
	assert.EqualValues(t, 1, msg.Cycle)
	assert.Equal(t, map[string]any{"Speed": 10.0, "Enabled": false}, msg.Values)

	b.Stop()
	hub.Refresh(context.Background())
	assert.Len(t, conn.on("plant.data.line_1"), 1, "nothing is published after Stop")
}

func TestStartTwiceRegistersOnce(t *testing.T) {
	b, conn, hub, _ := setup(t)
	require.NoError(t, b.Start())
	b.Stop()
	require.NoError(t, b.Start())

	require.NoError(t, hub.Start(context.Background()))
	assert.Len(t, conn.on("plant.data.line_1"), 1)
}

func TestStartSubscribeError(t *testing.T) {
	b, conn, _, _ := setup(t)
	conn.subErr = errors.New("permissions violation")
	assert.Error(t, b.Start())
}

func TestWriteCommand(t *testing.T) {
	b, conn, _, srv := setup(t)
	require.NoError(t, b.Start())

	conn.deliver("plant.command.*.write", &nats.Msg{
		Subject: "plant.command.line_1.write",
		Reply:   "_INBOX.1",
		Data:    []byte(`{"request_id":"r1","node_id":"ns=2;i=2","value":42.5}`),
	})

	replies := conn.on("_INBOX.1")
	require.Len(t, replies, 1)
	var res WriteResult
	require.NoError(t, json.Unmarshal(replies[0].data, &res))
	assert.Equal(t, WriteResult{RequestID: "r1", OK: true}, res)
	assert.Equal(t, 42.5, srv.ValueOf("ns=2;i=2"))
}

func TestWriteCommandWithoutReply(t *testing.T) {
	b, conn, _, srv := setup(t)
	require.NoError(t, b.Start())

	conn.deliver("plant.command.*.write", &nats.Msg{
		Subject: "plant.command.line_1.write",
		Data:    []byte(`{"node_id":"ns=2;i=3","value":"on"}`),
	})
	assert.Equal(t, true, srv.ValueOf("ns=2;i=3"))
}

func TestHandleWriteFailures(t *testing.T) {
	b, _, _, srv := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		hub  string
		data string
		want string
	}{
		{"invalid json", "Line.1", `not json`, "invalid command"},
		{"missing value", "Line.1", `{"node_id":"ns=2;i=2"}`, "value is required"},
		{"unknown hub", "line_2", `{"node_id":"ns=2;i=2","value":1}`, "unknown hub"},
		{"unsupported value", "Line.1", `{"node_id":"ns=2;i=2","value":{"a":1}}`, "unsupported type"},
		{"malformed value", "Line.1", `{"node_id":"ns=2;i=2","value":"fast"}`, "malformed value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res WriteResult
			require.NoError(t, json.Unmarshal(b.handleWrite(ctx, tt.hub, []byte(tt.data)), &res))
			assert.False(t, res.OK)
			assert.NotEmpty(t, res.RequestID)
			assert.Contains(t, res.Error, tt.want)
		})
	}
	assert.Equal(t, 10.0, srv.ValueOf("ns=2;i=2"))
}
