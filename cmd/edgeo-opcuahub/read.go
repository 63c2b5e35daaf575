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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/opcuahub"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read values from OPC UA nodes",
	Long: `Read the current value of nodes. Each --node is either a node ID or
name=nodeID. Without --node, every discovered variable is read.

Examples:
  edgeo-opcuahub read -e opc.tcp://localhost:4840 -n "ns=2;i=2"
  edgeo-opcuahub read -e opc.tcp://localhost:4840 -n "Temperature=ns=2;s=Temp" -n "ns=2;i=3"
  edgeo-opcuahub read -e opc.tcp://localhost:4840 -o yaml`,
	RunE: runRead,
}

var readNodes []string

func init() {
	readCmd.Flags().StringArrayVarP(&readNodes, "node", "n", nil, "Node to read, as nodeID or name=nodeID (can specify multiple)")
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*operationTimeout())
	defer cancel()

	h, err := connectedHub(ctx)
	if err != nil {
		return err
	}
	defer closeHub(h)

	var targets map[string]string
	var names []string
	if len(readNodes) == 0 {
		if err := h.Rediscover(ctx); err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		targets = h.Coordinator().Index().Targets()
		names = h.Coordinator().Index().Names()
	} else {
		targets, names = parseTargets(readNodes)
	}

	values, err := h.ReadValues(ctx, targets)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	return printValues(valuesOutput{Hub: h.Name(), Time: time.Now(), Values: values}, names)
}

// parseTargets splits name=nodeID arguments. A bare node ID is its own
// name. Node IDs contain '=' themselves, so only a prefix before the first
// '=' that is not an OPC UA identifier key counts as a name.
func parseTargets(args []string) (map[string]string, []string) {
	targets := make(map[string]string, len(args))
	names := make([]string, 0, len(args))
	for _, arg := range args {
		name, id := arg, arg
		if i := strings.Index(arg, "="); i > 0 && !isNodeIDKey(arg[:i]) {
			name, id = arg[:i], arg[i+1:]
		}
		if _, dup := targets[name]; !dup {
			names = append(names, name)
		}
		targets[name] = id
	}
	return targets, names
}

func isNodeIDKey(s string) bool {
	switch s {
	case "ns", "nsu", "i", "s", "g", "b":
		return true
	}
	return false
}

// typeByName maps --type values to built-in types.
var typeByName = map[string]opcuahub.TypeID{
	"bool":     opcuahub.TypeBoolean,
	"boolean":  opcuahub.TypeBoolean,
	"sbyte":    opcuahub.TypeSByte,
	"int8":     opcuahub.TypeSByte,
	"byte":     opcuahub.TypeByte,
	"uint8":    opcuahub.TypeByte,
	"int16":    opcuahub.TypeInt16,
	"uint16":   opcuahub.TypeUInt16,
	"int32":    opcuahub.TypeInt32,
	"int":      opcuahub.TypeInt32,
	"uint32":   opcuahub.TypeUInt32,
	"int64":    opcuahub.TypeInt64,
	"uint64":   opcuahub.TypeUInt64,
	"float":    opcuahub.TypeFloat,
	"float32":  opcuahub.TypeFloat,
	"double":   opcuahub.TypeDouble,
	"float64":  opcuahub.TypeDouble,
	"string":   opcuahub.TypeString,
	"datetime": opcuahub.TypeDateTime,
}

// parseValue converts the --value string. With "auto" the string is passed
// on and converted to the node's declared type by the hub.
func parseValue(value, typeName string) (any, error) {
	typeName = strings.ToLower(typeName)
	if typeName == "auto" || typeName == "" {
		return value, nil
	}
	t, ok := typeByName[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", typeName)
	}
	return opcuahub.Coerce(value, t)
}
