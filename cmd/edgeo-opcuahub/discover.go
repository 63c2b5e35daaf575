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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the variables below the root node",
	Long: `Walk the address space below the root node and list every variable
holding a scalar value.

Examples:
  edgeo-opcuahub discover -e opc.tcp://localhost:4840
  edgeo-opcuahub discover -e opc.tcp://localhost:4840 -r "ns=3;s=Plant" --classify -o json`,
	RunE: runDiscover,
}

var discoverClassify bool

func init() {
	discoverCmd.Flags().BoolVar(&discoverClassify, "classify", false, "Inspect each variable for writable booleans and numbers")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*operationTimeout())
	defer cancel()

	h, err := connectedHub(ctx)
	if err != nil {
		return err
	}
	defer closeHub(h)

	nodes, err := h.Discover(ctx, viper.GetString("root"))
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	if discoverClassify {
		if nodes, err = h.Classify(ctx, nodes); err != nil {
			return fmt.Errorf("classification failed: %w", err)
		}
	}
	return printNodes(nodes)
}
