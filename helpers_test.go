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
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/opcuahub"
	"github.com/edgeo-scada/opcuahub/internal/testutil"
)

const (
	rootID = "ns=2;i=1"
	aID    = "ns=2;i=2"
	bID    = "ns=2;i=3"
	cID    = "ns=2;i=4"
	dID    = "ns=2;i=5"
)

var lostConnection = &opcuahub.StatusError{Op: "read", Code: opcuahub.StatusBadConnectionClosed}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// plant is the address space
//
//	Root
//	├── A  Variable Int32 = 5
//	├── B  Variable, not readable
//	└── C  Object
//	    └── D  Variable Boolean = true, writable
func plant() *testutil.FakeServer {
	b := testutil.Variable(bID, "B", int32(0))
	b.ValueErr = &opcuahub.StatusError{Op: "read value", NodeID: bID, Code: opcuahub.StatusBadNotReadable, Item: true}

	return testutil.NewFakeServer(
		testutil.Object(rootID, "Root", aID, bID, cID),
		testutil.Variable(aID, "A", int32(5)),
		b,
		testutil.Object(cID, "C", dID),
		testutil.Writable(dID, "D", true),
	)
}

func newHub(t *testing.T, srv *testutil.FakeServer, opts ...opcuahub.Option) *opcuahub.Hub {
	t.Helper()

	opts = append([]opcuahub.Option{
		opcuahub.WithSessionFactory(srv.Factory()),
		opcuahub.WithLogger(quietLogger()),
	}, opts...)
	h, err := opcuahub.NewHub(opcuahub.Config{Name: "Plant", Endpoint: "opc.tcp://plant.local:4840"}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

func newManager(srv *testutil.FakeServer) *opcuahub.Manager {
	cfg := &opcuahub.Config{Name: "plant", Endpoint: "opc.tcp://plant.local:4840"}
	return opcuahub.NewManager(cfg,
		opcuahub.WithSessionFactory(srv.Factory()),
		opcuahub.WithLogger(quietLogger()))
}

// readRoot is an operation touching the server once.
func readRoot(ctx context.Context, s opcuahub.Session) error {
	n, err := s.Node(rootID)
	if err != nil {
		return err
	}
	_, err = n.NodeClass(ctx)
	return err
}
