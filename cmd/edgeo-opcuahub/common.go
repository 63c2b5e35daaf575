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
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/edgeo-scada/opcuahub"
)

// newLogger logs to stderr so command output on stdout stays parseable.
func newLogger() *slog.Logger {
	return loggerAt(slog.LevelWarn)
}

func loggerAt(level slog.Level) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func operationTimeout() time.Duration {
	return time.Duration(viper.GetInt("timeout")) * time.Millisecond
}

// flagConfig builds the hub configuration from flags, environment and the
// config file, in viper's precedence order.
func flagConfig() opcuahub.Config {
	t := operationTimeout()
	return opcuahub.Config{
		Name:           viper.GetString("name"),
		Endpoint:       viper.GetString("endpoint"),
		Username:       viper.GetString("username"),
		Password:       viper.GetString("password"),
		RootNodeID:     viper.GetString("root"),
		PollInterval:   viper.GetDuration("interval"),
		ConnectTimeout: t,
		RequestTimeout: t,
		SecurityPolicy: viper.GetString("security-policy"),
		SecurityMode:   viper.GetString("security-mode"),
		CertFile:       viper.GetString("cert"),
		KeyFile:        viper.GetString("key"),
	}
}

// hubConfigs returns the hubs listed under "hubs" in the config file, or
// the single hub described by the flags.
func hubConfigs() ([]opcuahub.Config, error) {
	if !viper.IsSet("hubs") {
		return []opcuahub.Config{flagConfig()}, nil
	}
	var cfgs []opcuahub.Config
	if err := viper.UnmarshalKey("hubs", &cfgs); err != nil {
		return nil, fmt.Errorf("invalid hubs configuration: %w", err)
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no hubs configured")
	}
	return cfgs, nil
}

func newHub(cfg opcuahub.Config, logger *slog.Logger) (*opcuahub.Hub, error) {
	h, err := opcuahub.NewHub(cfg, opcuahub.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return h, nil
}

// connectedHub creates the flag-configured hub and connects it.
func connectedHub(ctx context.Context) (*opcuahub.Hub, error) {
	h, err := newHub(flagConfig(), newLogger())
	if err != nil {
		return nil, err
	}
	if err := h.Manager().Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return h, nil
}

func closeHub(h *opcuahub.Hub) {
	h.Close(context.Background())
}
