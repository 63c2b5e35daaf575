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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/opcuahub"
)

var (
	cfgFile        string
	endpoint       string
	hubName        string
	timeout        int
	verbose        bool
	username       string
	password       string
	rootNode       string
	interval       time.Duration
	securityPolicy string
	securityMode   string
	certFile       string
	keyFile        string
	outputFormat   string
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-opcuahub",
	Short: "OPC UA hub: discover, read, write and poll OPC UA servers",
	Long: `A command line interface for the OPC UA hub.

Examples:
  edgeo-opcuahub discover -e opc.tcp://localhost:4840 --classify
  edgeo-opcuahub read -e opc.tcp://localhost:4840 -n Temperature=ns=2;i=2
  edgeo-opcuahub write -e opc.tcp://localhost:4840 -n "ns=2;i=3" --value 42
  edgeo-opcuahub poll -e opc.tcp://localhost:4840 -i 2s
  edgeo-opcuahub serve --config hubs.yaml --listen :8080`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml) holding a hubs list")
	pf.StringVarP(&endpoint, "endpoint", "e", "opc.tcp://localhost:4840", "OPC UA server endpoint URL")
	pf.StringVar(&hubName, "name", "", "Hub name (defaults to the endpoint)")
	pf.IntVarP(&timeout, "timeout", "t", 5000, "Operation timeout in milliseconds")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.StringVarP(&username, "username", "u", "", "User name for authentication")
	pf.StringVarP(&password, "password", "p", "", "Password for authentication")
	pf.StringVarP(&rootNode, "root", "r", opcuahub.DefaultRootNodeID, "Root node of discovery")
	pf.DurationVarP(&interval, "interval", "i", opcuahub.DefaultPollInterval, "Poll interval")
	pf.StringVarP(&securityPolicy, "security-policy", "s", "None", "Security policy (None, Basic128Rsa15, Basic256, Basic256Sha256, Aes128Sha256RsaOaep, Aes256Sha256RsaPss)")
	pf.StringVarP(&securityMode, "security-mode", "m", "None", "Security mode (None, Sign, SignAndEncrypt)")
	pf.StringVar(&certFile, "cert", "", "Path to client certificate file (PEM format)")
	pf.StringVar(&keyFile, "key", "", "Path to client private key file (PEM format)")
	pf.StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")

	for _, name := range []string{
		"endpoint", "name", "timeout", "username", "password", "root",
		"interval", "security-policy", "security-mode", "cert", "key", "output",
	} {
		viper.BindPFlag(name, pf.Lookup(name))
	}

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	viper.SetEnvPrefix("OPCUAHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		cobra.CheckErr(fmt.Errorf("failed to read config %s: %w", cfgFile, err))
	}
}
