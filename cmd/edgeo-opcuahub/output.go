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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/edgeo-scada/opcuahub"
)

var (
	headerColor   = color.New(color.FgBlue, color.Bold)
	booleanColor  = color.New(color.FgGreen)
	numberColor   = color.New(color.FgCyan)
	missingColor  = color.New(color.FgYellow)
	errorColor    = color.New(color.FgRed, color.Bold)
	successPrefix = color.New(color.FgGreen).Sprint("OK")
)

func format() string {
	return strings.ToLower(outputFormat)
}

// encode writes v as json or yaml. It reports false for the table format.
func encode(w io.Writer, v any) (bool, error) {
	switch format() {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case "table", "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q", outputFormat)
	}
}

func printNodes(nodes []opcuahub.NodeDescriptor) error {
	if done, err := encode(os.Stdout, nodes); done {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tNODE ID\tVALUE\tKIND")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", n.Name, n.NodeID, n.Value, kind(n.Classification))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d variables\n", len(nodes))
	return nil
}

func kind(c opcuahub.Classification) string {
	switch c {
	case opcuahub.WritableBoolean:
		return booleanColor.Sprint(c.String())
	case opcuahub.WritableNumber:
		return numberColor.Sprint(c.String())
	}
	return c.String()
}

type valuesOutput struct {
	Hub    string         `json:"hub" yaml:"hub"`
	Cycle  uint64         `json:"cycle,omitempty" yaml:"cycle,omitempty"`
	Time   time.Time      `json:"time" yaml:"time"`
	Values map[string]any `json:"values" yaml:"values"`
}

// printValues prints a name to value mapping. Names listed in expected but
// missing from values are shown as unavailable.
func printValues(out valuesOutput, expected []string) error {
	if done, err := encode(os.Stdout, out); done {
		return err
	}

	names := expected
	if names == nil {
		for name := range out.Values {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	header := out.Time.Format("15:04:05.000")
	if out.Cycle > 0 {
		header = fmt.Sprintf("%s  cycle %d", header, out.Cycle)
	}
	headerColor.Printf("[%s] %s\n", out.Hub, header)

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	for _, name := range names {
		v, ok := out.Values[name]
		if !ok {
			fmt.Fprintf(tw, "  %s\t%s\n", name, missingColor.Sprint("<unavailable>"))
			continue
		}
		fmt.Fprintf(tw, "  %s\t%v\n", name, v)
	}
	return tw.Flush()
}

func printError(msg string, args ...any) {
	errorColor.Fprintf(os.Stderr, msg+"\n", args...)
}
