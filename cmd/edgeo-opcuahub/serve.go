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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/edgeo-scada/opcuahub"
	"github.com/edgeo-scada/opcuahub/internal/api"
	"github.com/edgeo-scada/opcuahub/internal/bridge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hubs with an HTTP API and an optional NATS bridge",
	Long: `Start every configured hub, poll each at its own interval and serve
snapshots and write commands over HTTP and, with --nats-url, over NATS.

Hubs are read from the "hubs" list of the config file; without one, the
hub described by the flags is served.

Examples:
  edgeo-opcuahub serve -e opc.tcp://localhost:4840 --listen :8080
  edgeo-opcuahub serve --config hubs.yaml --nats-url nats://localhost:4222`,
	RunE: runServe,
}

var (
	listenAddr string
	natsURL    string
	natsPrefix string
)

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (disabled when empty)")
	serveCmd.Flags().StringVar(&natsPrefix, "nats-prefix", bridge.DefaultPrefix, "NATS subject prefix")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("nats.url", serveCmd.Flags().Lookup("nats-url"))
	viper.BindPFlag("nats.prefix", serveCmd.Flags().Lookup("nats-prefix"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := loggerAt(slog.LevelInfo)

	cfgs, err := hubConfigs()
	if err != nil {
		return err
	}

	registry := opcuahub.NewRegistry(logger)
	defer registry.Close(context.Background())

	for _, cfg := range cfgs {
		h, err := opcuahub.NewHub(cfg, opcuahub.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("hub %q: %w", cfg.Name, err)
		}
		if err := registry.Add(h); err != nil {
			return err
		}
	}

	if url := viper.GetString("nats.url"); url != "" {
		nc, err := nats.Connect(url,
			nats.Name("edgeo-opcuahub"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Drain()

		b := bridge.New(nc, registry,
			bridge.WithPrefix(viper.GetString("nats.prefix")),
			bridge.WithWriteTimeout(2*operationTimeout()),
			bridge.WithLogger(logger))
		if err := b.Start(); err != nil {
			return fmt.Errorf("failed to start NATS bridge: %w", err)
		}
		defer b.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, h := range registry.Hubs() {
		h := h
		g.Go(func() error {
			if err := h.Start(gctx); err != nil && gctx.Err() == nil {
				logger.Warn("hub start failed, retrying on next poll",
					slog.String("hub", h.Name()),
					slog.Any("error", err))
			}
			return pollLoop(gctx, h)
		})
	}

	e := api.NewServer(api.NewHandler(registry, opcuahub.Version, logger))
	addr := viper.GetString("listen")
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})

	return g.Wait()
}

func pollLoop(ctx context.Context, h *opcuahub.Hub) error {
	ticker := time.NewTicker(h.Config().PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			poll(ctx, h)
		}
	}
}
