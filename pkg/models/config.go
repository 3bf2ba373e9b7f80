/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/carverauto/fleetrelay/pkg/logger"
)

var (
	errInvalidDuration     = errors.New("invalid duration")
	errNATSURLRequired     = errors.New("nats url is required unless nats.embedded is set")
	errWindowNegative      = errors.New("liveness.window must not be negative")
	errTimeoutOrder        = errors.New("tasks.default_timeout must not exceed tasks.max_timeout")
	errJWTSecretRequired   = errors.New("auth.jwt_secret is required")
	errMaxRoomsNonPositive = errors.New("gateway.max_rooms must be positive")
	errInvalidSecurityMode = errors.New("security.mode must be \"none\" or \"mtls\"")
	errMTLSFilesIncomplete = errors.New("mtls requires tls.cert_file, tls.key_file and tls.ca_file")
)

const (
	DefaultListenAddr      = ":8080"
	DefaultLivenessWindow  = 5 * time.Minute
	DefaultTaskTimeout     = 30 * time.Second
	DefaultTaskGrace       = 5 * time.Second
	DefaultMaxTaskTimeout  = 10 * time.Minute
	DefaultSubjectPrefix   = "fleetrelay"
	DefaultLivenessBucket  = "fleetrelay-liveness"
	DefaultTaskBucket      = "fleetrelay-tasks"
	DefaultMaxRooms        = 16
	DefaultSendBuffer      = 256
	DefaultReadLimit       = 1 << 20
	DefaultMessageRate     = 50
	DefaultMessageBurst    = 100
	DefaultPingInterval    = 30 * time.Second
	DefaultWriteWait       = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// Duration is a time.Duration that reads "30s" style strings or numeric nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errInvalidDuration
	}

	if dur, err := time.ParseDuration(node.Value); err == nil {
		*d = Duration(dur)
		return nil
	}

	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("%w: %q", errInvalidDuration, node.Value)
	}

	*d = Duration(time.Duration(n))

	return nil
}

// TLSConfig holds certificate locations for mTLS.
type TLSConfig struct {
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	CAFile   string `json:"ca_file" yaml:"ca_file"`
}

// SecurityMode defines the type of security to use.
type SecurityMode string

const (
	SecurityModeNone SecurityMode = "none"
	SecurityModeMTLS SecurityMode = "mtls"
)

// SecurityConfig holds transport security for outbound connections (NATS).
type SecurityConfig struct {
	Mode       SecurityMode `json:"mode" yaml:"mode"`
	CertDir    string       `json:"cert_dir" yaml:"cert_dir"`
	ServerName string       `json:"server_name,omitempty" yaml:"server_name,omitempty"`
	TLS        TLSConfig    `json:"tls" yaml:"tls"`
}

// NATSConfig describes the shared broker. A nil NATSConfig runs the process
// standalone with in-memory stores and local-only delivery.
type NATSConfig struct {
	URL       string          `json:"url" yaml:"url"`
	Domain    string          `json:"domain,omitempty" yaml:"domain,omitempty"`
	CredsFile string          `json:"creds_file,omitempty" yaml:"creds_file,omitempty"`
	Security  *SecurityConfig `json:"security,omitempty" yaml:"security,omitempty"`
	// Embedded starts an in-process JetStream server and connects to it.
	Embedded    bool   `json:"embedded,omitempty" yaml:"embedded,omitempty"`
	EmbeddedDir string `json:"embedded_dir,omitempty" yaml:"embedded_dir,omitempty"`
}

type LivenessConfig struct {
	Window Duration `json:"window" yaml:"window"`
	Bucket string   `json:"bucket" yaml:"bucket"`
}

type TaskConfig struct {
	DefaultTimeout Duration `json:"default_timeout" yaml:"default_timeout"`
	MaxTimeout     Duration `json:"max_timeout" yaml:"max_timeout"`
	Grace          Duration `json:"grace" yaml:"grace"`
	Bucket         string   `json:"bucket" yaml:"bucket"`
}

type FabricConfig struct {
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

type GatewayConfig struct {
	MaxRooms       int      `json:"max_rooms" yaml:"max_rooms"`
	SendBuffer     int      `json:"send_buffer" yaml:"send_buffer"`
	ReadLimit      int64    `json:"read_limit" yaml:"read_limit"`
	MessageRate    float64  `json:"message_rate" yaml:"message_rate"`
	MessageBurst   int      `json:"message_burst" yaml:"message_burst"`
	PingInterval   Duration `json:"ping_interval" yaml:"ping_interval"`
	WriteWait      Duration `json:"write_wait" yaml:"write_wait"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret" sensitive:"true"`
	Issuer    string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty" sensitive:"true"`
}

// CORSConfig represents CORS configuration for the REST surface.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials,omitempty" yaml:"allow_credentials,omitempty"`
}

// RelayConfig is the full configuration of a fleetrelay process.
type RelayConfig struct {
	ListenAddr      string         `json:"listen_addr" yaml:"listen_addr"`
	ProcessID       string         `json:"process_id,omitempty" yaml:"process_id,omitempty"`
	ShutdownTimeout Duration       `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
	NATS            *NATSConfig    `json:"nats,omitempty" yaml:"nats,omitempty"`
	Liveness        LivenessConfig `json:"liveness" yaml:"liveness"`
	Tasks           TaskConfig     `json:"tasks" yaml:"tasks"`
	Fabric          FabricConfig   `json:"fabric" yaml:"fabric"`
	Gateway         GatewayConfig  `json:"gateway" yaml:"gateway"`
	Auth            AuthConfig     `json:"auth" yaml:"auth"`
	CORS            CORSConfig     `json:"cors,omitempty" yaml:"cors,omitempty"`
	Logging         *logger.Config `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// Validate checks required fields and fills defaults for everything left unset.
func (c *RelayConfig) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}

	if err := c.validateNATS(); err != nil {
		return err
	}

	if c.Liveness.Window < 0 {
		return errWindowNegative
	}

	if c.Auth.JWTSecret == "" {
		return errJWTSecretRequired
	}

	if c.Gateway.MaxRooms < 0 {
		return errMaxRoomsNonPositive
	}

	c.setDefaults()

	if c.Tasks.DefaultTimeout > c.Tasks.MaxTimeout {
		return errTimeoutOrder
	}

	return nil
}

func (c *RelayConfig) validateNATS() error {
	if c.NATS == nil {
		return nil
	}

	if c.NATS.URL == "" && !c.NATS.Embedded {
		return errNATSURLRequired
	}

	sec := c.NATS.Security
	if sec == nil {
		return nil
	}

	switch sec.Mode {
	case "", SecurityModeNone:
		return nil
	case SecurityModeMTLS:
		if sec.TLS.CertFile == "" || sec.TLS.KeyFile == "" || sec.TLS.CAFile == "" {
			return errMTLSFilesIncomplete
		}

		return nil
	default:
		return errInvalidSecurityMode
	}
}

func (c *RelayConfig) setDefaults() {
	if c.Liveness.Window == 0 {
		c.Liveness.Window = Duration(DefaultLivenessWindow)
	}

	if c.Liveness.Bucket == "" {
		c.Liveness.Bucket = DefaultLivenessBucket
	}

	if c.Tasks.DefaultTimeout <= 0 {
		c.Tasks.DefaultTimeout = Duration(DefaultTaskTimeout)
	}

	if c.Tasks.MaxTimeout <= 0 {
		c.Tasks.MaxTimeout = Duration(DefaultMaxTaskTimeout)
	}

	if c.Tasks.Grace <= 0 {
		c.Tasks.Grace = Duration(DefaultTaskGrace)
	}

	if c.Tasks.Bucket == "" {
		c.Tasks.Bucket = DefaultTaskBucket
	}

	if c.Fabric.SubjectPrefix == "" {
		c.Fabric.SubjectPrefix = DefaultSubjectPrefix
	}

	c.setGatewayDefaults()
}

func (c *RelayConfig) setGatewayDefaults() {
	g := &c.Gateway

	if g.MaxRooms == 0 {
		g.MaxRooms = DefaultMaxRooms
	}

	if g.SendBuffer <= 0 {
		g.SendBuffer = DefaultSendBuffer
	}

	if g.ReadLimit <= 0 {
		g.ReadLimit = DefaultReadLimit
	}

	if g.MessageRate <= 0 {
		g.MessageRate = DefaultMessageRate
	}

	if g.MessageBurst <= 0 {
		g.MessageBurst = DefaultMessageBurst
	}

	if g.PingInterval <= 0 {
		g.PingInterval = Duration(DefaultPingInterval)
	}

	if g.WriteWait <= 0 {
		g.WriteWait = Duration(DefaultWriteWait)
	}
}
