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
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a value to an OPC UA node",
	Long: `Write a value to a node. The value is converted to the node's declared
data type; --type parses it as a given type first.

Examples:
  edgeo-opcuahub write -e opc.tcp://localhost:4840 -n "ns=2;i=3" --value 42
  edgeo-opcuahub write -e opc.tcp://localhost:4840 -n "ns=2;s=Pump" --value on
  edgeo-opcuahub write -e opc.tcp://localhost:4840 -n "ns=2;s=Ratio" --value 0.75 -T double`,
	RunE: runWrite,
}

var (
	writeNodeID string
	writeValue  string
	writeType   string
)

func init() {
	writeCmd.Flags().StringVarP(&writeNodeID, "node", "n", "", "Node ID to write to")
	writeCmd.Flags().StringVar(&writeValue, "value", "", "Value to write")
	writeCmd.Flags().StringVarP(&writeType, "type", "T", "auto", "Value type: auto, bool, int32, uint32, int64, uint64, float, double, string, datetime")
	writeCmd.MarkFlagRequired("node")
	writeCmd.MarkFlagRequired("value")
}

func runWrite(cmd *cobra.Command, args []string) error {
	value, err := parseValue(writeValue, writeType)
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*operationTimeout())
	defer cancel()

	h, err := connectedHub(ctx)
	if err != nil {
		return err
	}
	defer closeHub(h)

	if err := h.Write(ctx, writeNodeID, value); err != nil {
		printError("write to %s failed", writeNodeID)
		return fmt.Errorf("write failed: %w", err)
	}

	fmt.Printf("%s wrote %v to %s\n", successPrefix, value, writeNodeID)
	return nil
}
