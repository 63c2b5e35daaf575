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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/opcuahub"
	"github.com/edgeo-scada/opcuahub/internal/testutil"
)

func newRegistry(t *testing.T, hubs ...*opcuahub.Hub) *opcuahub.Registry {
	t.Helper()
	r := opcuahub.NewRegistry(quietLogger())
	for _, h := range hubs {
		require.NoError(t, r.Add(h))
	}
	return r
}

func TestRegistryLookup(t *testing.T) {
	plantHub := newHub(t, plant())
	r := newRegistry(t, plantHub)

	h, err := r.Get("plant")
	require.NoError(t, err)
	assert.Same(t, plantHub, h)

	h, err = r.Get("PLANT")
	require.NoError(t, err)
	assert.Same(t, plantHub, h)

	_, err = r.Get("boiler")
	var ce *opcuahub.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, opcuahub.ErrUnknownHub)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	srv := plant()
	r := newRegistry(t, newHub(t, srv))

	err := r.Add(newHub(t, srv))
	assert.ErrorIs(t, err, opcuahub.ErrDuplicateHub)
	assert.Len(t, r.Hubs(), 1)
}

func TestRegistryHubsSorted(t *testing.T) {
	var hubs []*opcuahub.Hub
	for _, name := range []string{"west", "east", "north"} {
		h, err := opcuahub.NewHub(opcuahub.Config{Name: name, Endpoint: "opc.tcp://" + name + ":4840"},
			opcuahub.WithSessionFactory(plant().Factory()),
			opcuahub.WithLogger(quietLogger()))
		require.NoError(t, err)
		hubs = append(hubs, h)
	}
	r := newRegistry(t, hubs...)

	var names []string
	for _, h := range r.Hubs() {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"east", "north", "west"}, names)
}

func TestRegistryWrite(t *testing.T) {
	srv := testutil.NewFakeServer(
		testutil.Writable(aID, "Setpoint", int32(0)),
		testutil.Writable(dID, "Run", false),
		testutil.Variable(bID, "Reading", 1.0),
	)
	r := newRegistry(t, newHub(t, srv))
	ctx := context.Background()

	require.NoError(t, r.Write(ctx, "Plant", aID, 12.0))
	assert.Equal(t, int32(12), srv.ValueOf(aID))

	require.NoError(t, r.Write(ctx, "plant", dID, "true"))
	assert.Equal(t, true, srv.ValueOf(dID))

	err := r.Write(ctx, "boiler", aID, 1)
	assert.ErrorIs(t, err, opcuahub.ErrUnknownHub)

	err = r.Write(ctx, "plant", aID, []int{1})
	var ce *opcuahub.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, opcuahub.ErrUnsupportedType)

	err = r.Write(ctx, "plant", "", 1)
	assert.ErrorIs(t, err, opcuahub.ErrInvalidNodeID)

	err = r.Write(ctx, "plant", bID, 2.0)
	var we *opcuahub.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "Plant", we.Hub)
	assert.Equal(t, bID, we.NodeID)
	assert.True(t, opcuahub.IsNotWritable(err))
	assert.Equal(t, 1.0, srv.ValueOf(bID))
}

func TestRegistryWriteAcceptsTime(t *testing.T) {
	srv := plant()
	r := newRegistry(t, newHub(t, srv))

	// A DateTime value sent to an Int32 node fails conversion, not validation.
	err := r.Write(context.Background(), "plant", aID, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.ErrorIs(t, err, opcuahub.ErrMalformedValue)
	assert.NotErrorIs(t, err, opcuahub.ErrUnsupportedType)
}

func TestRegistryClose(t *testing.T) {
	srv := plant()
	h := newHub(t, srv)
	r := newRegistry(t, h)
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))

	r.Close(ctx)
	r.Close(ctx)

	assert.Equal(t, opcuahub.StateDisconnected, h.State())
	assert.Equal(t, 1, srv.Closes())
	_, err := r.Get("plant")
	assert.ErrorIs(t, err, opcuahub.ErrRegistryClosed)
	assert.ErrorIs(t, r.Add(h), opcuahub.ErrRegistryClosed)
	assert.Empty(t, r.Hubs())
}

func TestSharedMetrics(t *testing.T) {
	metrics := opcuahub.NewMetrics()
	a := newHub(t, plant(), opcuahub.WithMetrics(metrics))
	b, err := opcuahub.NewHub(opcuahub.Config{Name: "Second", Endpoint: "opc.tcp://second:4840"},
		opcuahub.WithSessionFactory(plant().Factory()),
		opcuahub.WithLogger(quietLogger()),
		opcuahub.WithMetrics(metrics))
	require.NoError(t, err)
	defer b.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	assert.Same(t, a.Metrics(), b.Metrics())
	assert.EqualValues(t, 2, metrics.Connects.Value())
	assert.EqualValues(t, 2, metrics.Cycles.Value())
}
