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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/edgeo-scada/opcuahub"
)

// Handler serves the hubs of a registry over HTTP.
type Handler struct {
	registry *opcuahub.Registry
	version  string
	logger   *slog.Logger
}

// NewHandler creates a handler for registry.
func NewHandler(registry *opcuahub.Registry, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{registry: registry, version: version, logger: logger}
}

// HubSummary describes one hub in the hub list.
type HubSummary struct {
	Name     string    `json:"name"`
	ID       string    `json:"id"`
	Endpoint string    `json:"url"`
	State    string    `json:"state"`
	Nodes    int       `json:"nodes"`
	Cycle    uint64    `json:"cycle"`
	Updated  time.Time `json:"updated"`
}

// SnapshotResponse is the body of the snapshot endpoint.
type SnapshotResponse struct {
	Hub    string         `json:"hub"`
	Cycle  uint64         `json:"cycle"`
	Time   time.Time      `json:"time"`
	Values map[string]any `json:"values"`
}

// WriteRequest is the body of the write endpoint.
type WriteRequest struct {
	NodeID string `json:"node_id"`
	Value  any    `json:"value"`
}

// HandleHealth reports liveness and how many hubs are connected.
func (h *Handler) HandleHealth(c echo.Context) error {
	hubs := h.registry.Hubs()
	connected := 0
	for _, hub := range hubs {
		if hub.State() == opcuahub.StateConnected {
			connected++
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"hubs":      len(hubs),
		"connected": connected,
	})
}

// HandleListHubs lists the registered hubs.
func (h *Handler) HandleListHubs(c echo.Context) error {
	hubs := h.registry.Hubs()
	out := make([]HubSummary, 0, len(hubs))
	for _, hub := range hubs {
		snap := hub.Snapshot()
		out = append(out, HubSummary{
			Name:     hub.Name(),
			ID:       hub.ID(),
			Endpoint: hub.Config().Endpoint,
			State:    hub.State().String(),
			Nodes:    hub.Coordinator().Index().Len(),
			Cycle:    snap.Cycle(),
			Updated:  snap.Time(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// HandleSnapshot returns the last published snapshot of a hub.
func (h *Handler) HandleSnapshot(c echo.Context) error {
	hub, err := h.hub(c)
	if err != nil {
		return err
	}
	snap := hub.Snapshot()
	return c.JSON(http.StatusOK, SnapshotResponse{
		Hub:    hub.Name(),
		Cycle:  snap.Cycle(),
		Time:   snap.Time(),
		Values: snap.Values(),
	})
}

// HandleNodes returns the indexed nodes of a hub. With ?classify=true the
// nodes are inspected for writability first.
func (h *Handler) HandleNodes(c echo.Context) error {
	hub, err := h.hub(c)
	if err != nil {
		return err
	}
	nodes := hub.Nodes()

	if q := c.QueryParam("classify"); q != "" {
		classify, err := strconv.ParseBool(q)
		if err != nil {
			return NewBadRequestError("invalid classify parameter", err)
		}
		if classify {
			nodes, err = hub.Classify(c.Request().Context(), nodes)
			if err != nil {
				return fromHubError(hub.Name(), err)
			}
		}
	}
	if nodes == nil {
		nodes = []opcuahub.NodeDescriptor{}
	}
	return c.JSON(http.StatusOK, nodes)
}

// HandleWrite runs a write command against a hub.
func (h *Handler) HandleWrite(c echo.Context) error {
	name := c.Param("hub")

	var req WriteRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.NodeID == "" {
		return NewBadRequestError("node_id is required", nil)
	}
	if req.Value == nil {
		return NewBadRequestError("value is required", nil)
	}

	if err := h.registry.Write(c.Request().Context(), name, req.NodeID, req.Value); err != nil {
		h.logger.Warn("write command failed",
			slog.String("hub", name),
			slog.String("node", req.NodeID),
			slog.Any("error", err))
		return fromHubError(name, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":      true,
		"hub":     name,
		"node_id": req.NodeID,
	})
}

// HandleMetrics returns the metrics of every hub.
func (h *Handler) HandleMetrics(c echo.Context) error {
	out := make(map[string]interface{})
	for _, hub := range h.registry.Hubs() {
		out[hub.Name()] = hub.Metrics().Collect()
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) hub(c echo.Context) (*opcuahub.Hub, error) {
	name := c.Param("hub")
	hub, err := h.registry.Get(name)
	if err != nil {
		return nil, fromHubError(name, err)
	}
	return hub, nil
}
