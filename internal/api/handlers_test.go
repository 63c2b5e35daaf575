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

package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/opcuahub"
	"github.com/edgeo-scada/opcuahub/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*Handler, *testutil.FakeServer) {
	t.Helper()

	srv := testutil.NewFakeServer(
		testutil.Object("ns=2;i=1", "Root", "ns=2;i=2", "ns=2;i=3", "ns=2;i=4"),
		testutil.Variable("ns=2;i=2", "Temperature", 21.5),
		testutil.Writable("ns=2;i=3", "Setpoint", int32(20)),
		testutil.Writable("ns=2;i=4", "Pump", false),
	)
	hub, err := opcuahub.NewHub(opcuahub.Config{Name: "Boiler", Endpoint: "opc.tcp://boiler:4840"},
		opcuahub.WithSessionFactory(srv.Factory()),
		opcuahub.WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, hub.Start(context.Background()))

	reg := opcuahub.NewRegistry(quietLogger())
	require.NoError(t, reg.Add(hub))
	t.Cleanup(func() { reg.Close(context.Background()) })

	return NewHandler(reg, "test", quietLogger()), srv
}

func hubContext(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, hub string) echo.Context {
	c := e.NewContext(req, rec)
	c.SetParamNames("hub")
	c.SetParamValues(hub)
	return c
}

func TestHandleHealth(t *testing.T) {
	h, _ := setup(t)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	if assert.NoError(t, h.HandleHealth(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
		assert.Contains(t, rec.Body.String(), `"connected":1`)
	}
}

func TestHandleListHubs(t *testing.T) {
	h, _ := setup(t)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/hubs", nil), rec)
	require.NoError(t, h.HandleListHubs(c))

	var hubs []HubSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hubs))
	require.Len(t, hubs, 1)
	assert.Equal(t, "Boiler", hubs[0].Name)
	assert.Equal(t, "connected", hubs[0].State)
	assert.Equal(t, 3, hubs[0].Nodes)
	assert.EqualValues(t, 1, hubs[0].Cycle)
}

func TestHandleSnapshot(t *testing.T) {
	h, _ := setup(t)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := hubContext(e, httptest.NewRequest(http.MethodGet, "/api/hubs/boiler/snapshot", nil), rec, "boiler")
	require.NoError(t, h.HandleSnapshot(c))

	var snap SnapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "Boiler", snap.Hub)
	assert.Equal(t, map[string]any{"Temperature": 21.5, "Setpoint": 20.0, "Pump": false}, snap.Values)
}

func TestHandleSnapshotUnknownHub(t *testing.T) {
	h, _ := setup(t)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := hubContext(e, httptest.NewRequest(http.MethodGet, "/api/hubs/nope/snapshot", nil), rec, "nope")
	err := h.HandleSnapshot(c)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestHandleNodes(t *testing.T) {
	h, _ := setup(t)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := hubContext(e, httptest.NewRequest(http.MethodGet, "/api/hubs/boiler/nodes?classify=true", nil), rec, "boiler")
	require.NoError(t, h.HandleNodes(c))

	body := rec.Body.String()
	assert.Contains(t, body, `"name":"Pump","node_id":"ns=2;i=4","classification":"writable_boolean"`)
	assert.Contains(t, body, `"name":"Setpoint","node_id":"ns=2;i=3","classification":"writable_number"`)
	assert.Contains(t, body, `"name":"Temperature","node_id":"ns=2;i=2","classification":"plain"`)

	rec = httptest.NewRecorder()
	c = hubContext(e, httptest.NewRequest(http.MethodGet, "/api/hubs/boiler/nodes?classify=maybe", nil), rec, "boiler")
	var apiErr *APIError
	require.ErrorAs(t, h.HandleNodes(c), &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestHandleWrite(t *testing.T) {
	h, srv := setup(t)
	e := echo.New()

	write := func(hub, body string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPost, "/api/hubs/"+hub+"/write", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		return rec, h.HandleWrite(hubContext(e, req, rec, hub))
	}

	rec, err := write("BOILER", `{"node_id":"ns=2;i=3","value":25}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(25), srv.ValueOf("ns=2;i=3"))

	_, err = write("boiler", `{"node_id":"ns=2;i=4","value":"on"}`)
	require.NoError(t, err)
	assert.Equal(t, true, srv.ValueOf("ns=2;i=4"))

	tests := []struct {
		name   string
		hub    string
		body   string
		status int
	}{
		{"unknown hub", "nope", `{"node_id":"ns=2;i=3","value":1}`, http.StatusNotFound},
		{"missing node", "boiler", `{"value":1}`, http.StatusBadRequest},
		{"missing value", "boiler", `{"node_id":"ns=2;i=3"}`, http.StatusBadRequest},
		{"bad json", "boiler", `{"node_id":`, http.StatusBadRequest},
		{"unsupported value", "boiler", `{"node_id":"ns=2;i=3","value":[1,2]}`, http.StatusBadRequest},
		{"malformed value", "boiler", `{"node_id":"ns=2;i=3","value":"abc"}`, http.StatusBadRequest},
		{"read only", "boiler", `{"node_id":"ns=2;i=2","value":1}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := write(tt.hub, tt.body)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
		})
	}
}

func TestHandleWriteClosedHub(t *testing.T) {
	h, srv := setup(t)
	e := echo.New()

	hub, err := h.registry.Get("boiler")
	require.NoError(t, err)
	hub.Close(context.Background())
	handshakes := srv.Handshakes()

	req := httptest.NewRequest(http.MethodPost, "/api/hubs/boiler/write", strings.NewReader(`{"node_id":"ns=2;i=3","value":1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	err = h.HandleWrite(hubContext(e, req, rec, "boiler"))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, handshakes, srv.Handshakes())
}

func TestHandleMetrics(t *testing.T) {
	h, _ := setup(t)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/metrics", nil), rec)
	require.NoError(t, h.HandleMetrics(c))

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.EqualValues(t, 1, got["Boiler"]["cycles"])
	assert.EqualValues(t, 1, got["Boiler"]["connects"])
}

func TestServerRoutes(t *testing.T) {
	h, _ := setup(t)
	e := NewServer(h)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hubs/boiler/snapshot", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Temperature":21.5`)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hubs/nope/nodes", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"HTTP_ERROR"`)
}
