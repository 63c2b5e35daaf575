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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/opcuahub"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll every discovered variable and print snapshots",
	Long: `Discover the variables below the root node, then refresh and print a
snapshot every interval until interrupted.

Examples:
  edgeo-opcuahub poll -e opc.tcp://localhost:4840
  edgeo-opcuahub poll -e opc.tcp://localhost:4840 -i 1s -c 10 -o json`,
	RunE: runPoll,
}

var pollCount int

func init() {
	pollCmd.Flags().IntVarP(&pollCount, "count", "c", 0, "Stop after this many published snapshots (0 = unlimited)")
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := newHub(flagConfig(), newLogger())
	if err != nil {
		return err
	}
	defer closeHub(h)

	if err := h.Start(ctx); err != nil {
		printError("initial discovery failed, will retry: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Polling %d variables every %s (Ctrl+C to stop)\n",
		h.Coordinator().Index().Len(), viper.GetDuration("interval"))

	published := 0
	show := func() error {
		published++
		return printSnapshot(h)
	}
	if h.Snapshot().Cycle() > 0 {
		if err := show(); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(h.Config().PollInterval)
	defer ticker.Stop()

	for pollCount == 0 || published < pollCount {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nReceived interrupt, stopping...")
			return nil
		case <-ticker.C:
			if !poll(ctx, h) {
				continue
			}
			if err := show(); err != nil {
				return err
			}
		}
	}
	return nil
}

// poll runs one cycle, discovering first while the index is still empty.
func poll(ctx context.Context, h *opcuahub.Hub) bool {
	if h.Coordinator().Index().Len() == 0 {
		if err := h.Rediscover(ctx); err != nil {
			return false
		}
	}
	return h.Refresh(ctx)
}

func printSnapshot(h *opcuahub.Hub) error {
	snap := h.Snapshot()
	return printValues(valuesOutput{
		Hub:    h.Name(),
		Cycle:  snap.Cycle(),
		Time:   snap.Time(),
		Values: snap.Values(),
	}, h.Coordinator().Index().Names())
}
