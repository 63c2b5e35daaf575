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

package opcuahub_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/opcuahub"
	"github.com/edgeo-scada/opcuahub/internal/testutil"
)

func TestReadValuesPartialFailure(t *testing.T) {
	srv := plant()
	h := newHub(t, srv)

	values, err := h.ReadValues(context.Background(), map[string]string{
		"A":       aID,
		"B":       bID,
		"D":       dID,
		"Missing": "ns=2;i=404",
		"Broken":  "no-id",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"A": int64(5), "D": true}, values)
	assert.EqualValues(t, 3, h.Metrics().NodeReadErrors.Value())
	assert.True(t, h.Manager().IsConnected())
}

func TestReadValuesEmpty(t *testing.T) {
	srv := plant()
	h := newHub(t, srv)

	values, err := h.ReadValues(context.Background(), map[string]string{})
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Equal(t, 0, srv.Handshakes())
	assert.Equal(t, 0, srv.Ops())
}

func TestReadValuesSkipsNonVariables(t *testing.T) {
	srv := plant()
	h := newHub(t, srv)

	values, err := h.ReadValues(context.Background(), map[string]string{"A": aID, "C": cID})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"A": int64(5)}, values)
	assert.EqualValues(t, 1, h.Metrics().NodesSkipped.Value())
}

func TestReadValuesNilValue(t *testing.T) {
	srv := testutil.NewFakeServer(testutil.Variable(aID, "Empty", nil))
	h := newHub(t, srv)

	values, err := h.ReadValues(context.Background(), map[string]string{"Empty": aID})
	require.NoError(t, err)
	v, ok := values["Empty"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestReadValuesRetriesOnce(t *testing.T) {
	srv := plant()
	h := newHub(t, srv)
	ctx := context.Background()
	require.NoError(t, h.Manager().Connect(ctx))
	srv.DropSessions()

	values, err := h.ReadValues(ctx, map[string]string{"A": aID, "D": dID})
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.Equal(t, 2, srv.Handshakes())
}

func TestReadValuesCancelled(t *testing.T) {
	srv := plant()
	h := newHub(t, srv)
	require.NoError(t, h.Manager().Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.ReadValues(ctx, map[string]string{"A": aID})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, h.Manager().IsConnected())
	assert.Equal(t, 1, srv.Handshakes())
}

func TestWriteValue(t *testing.T) {
	srv := testutil.NewFakeServer(
		testutil.Writable(dID, "Run", false),
		testutil.Writable(aID, "Setpoint", int32(0)),
		testutil.Writable(bID, "Ratio", 0.0),
		testutil.Writable(cID, "Label", ""),
	)
	h := newHub(t, srv)
	ctx := context.Background()

	tests := []struct {
		name  string
		id    string
		value any
		want  any
	}{
		{"bool", dID, true, true},
		{"bool from string", dID, "off", false},
		{"float to int32", aID, 7.0, int32(7)},
		{"string to int32", aID, "42", int32(42)},
		{"int to double", bID, 3, 3.0},
		{"number to string", cID, 12.5, "12.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, h.Write(ctx, tt.id, tt.value))
			assert.Equal(t, tt.want, srv.ValueOf(tt.id))
		})
	}

	values, err := h.ReadValues(ctx, map[string]string{"Run": dID, "Setpoint": aID})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Run": false, "Setpoint": int64(42)}, values)
}

func TestWriteValueThenRead(t *testing.T) {
	srv := plant()
	srv.SetValue(dID, false)
	h := newHub(t, srv)
	ctx := context.Background()

	require.NoError(t, h.Write(ctx, dID, true))
	values, err := h.ReadValues(ctx, map[string]string{"D": dID})
	require.NoError(t, err)
	assert.Equal(t, true, values["D"])
}

func TestWriteValueMalformed(t *testing.T) {
	srv := testutil.NewFakeServer(testutil.Writable(aID, "Setpoint", int32(0)))
	h := newHub(t, srv)

	err := h.Write(context.Background(), aID, "abc")
	var ce *opcuahub.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, opcuahub.ErrMalformedValue)
	assert.Equal(t, int32(0), srv.ValueOf(aID))
	assert.True(t, h.Manager().IsConnected())
	assert.EqualValues(t, 1, h.Metrics().WriteErrors.Value())
}

func TestWriteValueRejected(t *testing.T) {
	srv := plant()
	h := newHub(t, srv)
	ctx := context.Background()

	err := h.Write(ctx, aID, 9)
	assert.True(t, opcuahub.IsNotWritable(err))
	assert.Equal(t, int32(5), srv.ValueOf(aID))

	err = h.Write(ctx, "ns=2;i=404", 1)
	assert.True(t, opcuahub.IsStatusCode(err, opcuahub.StatusBadNodeIDUnknown))

	err = h.Write(ctx, "nope", 1)
	assert.ErrorIs(t, err, opcuahub.ErrInvalidNodeID)

	assert.True(t, h.Manager().IsConnected())
	assert.Equal(t, 1, srv.Handshakes())
}

func TestWriteValueRetriesOnce(t *testing.T) {
	srv := plant()
	h := newHub(t, srv)
	require.NoError(t, h.Manager().Connect(context.Background()))
	srv.DropSessions()

	require.NoError(t, h.Write(context.Background(), dID, false))
	assert.Equal(t, false, srv.ValueOf(dID))
	assert.Equal(t, 2, srv.Handshakes())
}
