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

package opcuahub

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/gopcua/opcua/ua"
)

// Default configuration values.
const (
	DefaultRootNodeID     = "ns=2;i=1"
	DefaultPollInterval   = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultMaxDepth       = 64
)

// Config describes one OPC UA server the hub talks to. Zero fields are
// filled from the default tags by Normalize.
type Config struct {
	// Name identifies the hub in write commands. Matching is case-insensitive.
	Name     string `mapstructure:"name" json:"name" yaml:"name"`
	Endpoint string `mapstructure:"url" json:"url" yaml:"url"`
	Username string `mapstructure:"username" json:"username,omitempty" yaml:"username,omitempty"`
	Password string `mapstructure:"password" json:"-" yaml:"-"`

	RootNodeID     string        `mapstructure:"root" json:"root" yaml:"root" default:"ns=2;i=1"`
	PollInterval   time.Duration `mapstructure:"scan_interval" json:"scan_interval" yaml:"scan_interval" default:"10s"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout" yaml:"connect_timeout" default:"5s"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout" default:"10s"`
	MaxDepth       int           `mapstructure:"max_depth" json:"max_depth" yaml:"max_depth" default:"64"`

	SecurityPolicy string `mapstructure:"security_policy" json:"security_policy" yaml:"security_policy" default:"None"`
	SecurityMode   string `mapstructure:"security_mode" json:"security_mode" yaml:"security_mode" default:"None"`
	CertFile       string `mapstructure:"cert" json:"cert,omitempty" yaml:"cert,omitempty"`
	KeyFile        string `mapstructure:"key" json:"key,omitempty" yaml:"key,omitempty"`
}

// Normalize fills defaults and validates the configuration.
func (c *Config) Normalize() error {
	if err := defaults.Set(c); err != nil {
		return &ConfigError{Field: "config", Err: err}
	}
	if c.Name == "" {
		c.Name = c.Endpoint
	}
	return c.Validate()
}

// Validate checks the configuration without modifying it.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return &ConfigError{Field: "url", Err: ErrInvalidEndpoint}
	}
	if !strings.HasPrefix(c.Endpoint, "opc.tcp://") {
		return &ConfigError{Field: "url", Value: c.Endpoint, Err: ErrInvalidEndpoint}
	}
	if _, err := ua.ParseNodeID(c.RootNodeID); err != nil {
		return &ConfigError{Field: "root", Value: c.RootNodeID, Err: fmt.Errorf("%w: %v", ErrInvalidNodeID, err)}
	}
	if c.PollInterval <= 0 {
		return &ConfigError{Field: "scan_interval", Value: c.PollInterval.String(), Err: errors.New("must be positive")}
	}
	if c.ConnectTimeout <= 0 {
		return &ConfigError{Field: "connect_timeout", Value: c.ConnectTimeout.String(), Err: errors.New("must be positive")}
	}
	if c.MaxDepth <= 0 {
		return &ConfigError{Field: "max_depth", Value: fmt.Sprint(c.MaxDepth), Err: errors.New("must be positive")}
	}

	policy, err := securityPolicyURI(c.SecurityPolicy)
	if err != nil {
		return err
	}
	mode, err := securityMode(c.SecurityMode)
	if err != nil {
		return err
	}
	if mode != ua.MessageSecurityModeNone && policy == ua.SecurityPolicyURINone {
		return &ConfigError{Field: "security_mode", Value: c.SecurityMode, Err: errors.New("requires a security policy other than None")}
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return &ConfigError{Field: "cert", Err: errors.New("cert and key must be specified together")}
	}
	if mode != ua.MessageSecurityModeNone && c.CertFile == "" {
		return &ConfigError{Field: "security_mode", Value: c.SecurityMode, Err: errors.New("requires a client certificate")}
	}
	return nil
}

// Key returns the registry key of the hub.
func (c *Config) Key() string {
	return strings.ToLower(c.Name)
}

func securityPolicyURI(s string) (string, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return ua.SecurityPolicyURINone, nil
	case "basic128rsa15":
		return ua.SecurityPolicyURIBasic128Rsa15, nil
	case "basic256":
		return ua.SecurityPolicyURIBasic256, nil
	case "basic256sha256":
		return ua.SecurityPolicyURIBasic256Sha256, nil
	case "aes128sha256rsaoaep", "aes128sha256":
		return ua.SecurityPolicyURIAes128Sha256RsaOaep, nil
	case "aes256sha256rsapss", "aes256sha256":
		return ua.SecurityPolicyURIAes256Sha256RsaPss, nil
	default:
		return "", &ConfigError{Field: "security_policy", Value: s, Err: errors.New("unknown security policy")}
	}
}

func securityMode(s string) (ua.MessageSecurityMode, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return ua.MessageSecurityModeNone, nil
	case "sign":
		return ua.MessageSecurityModeSign, nil
	case "signandencrypt", "sign_and_encrypt":
		return ua.MessageSecurityModeSignAndEncrypt, nil
	default:
		return ua.MessageSecurityModeInvalid, &ConfigError{Field: "security_mode", Value: s, Err: errors.New("unknown security mode")}
	}
}

// Option configures a Hub.
type Option func(*hubOptions)

type hubOptions struct {
	logger    *slog.Logger
	factory   SessionFactory
	metrics   *Metrics
	listeners []func(*Snapshot)
}

func defaultOptions() *hubOptions {
	return &hubOptions{
		logger:  slog.Default(),
		factory: NewUASession,
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *hubOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSessionFactory replaces the function that creates protocol sessions.
// The default creates gopcua sessions.
func WithSessionFactory(f SessionFactory) Option {
	return func(o *hubOptions) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithMetrics shares a metrics set between hubs.
func WithMetrics(m *Metrics) Option {
	return func(o *hubOptions) {
		o.metrics = m
	}
}

// WithSnapshotListener registers fn to be called after every published
// snapshot.
func WithSnapshotListener(fn func(*Snapshot)) Option {
	return func(o *hubOptions) {
		if fn != nil {
			o.listeners = append(o.listeners, fn)
		}
	}
}
