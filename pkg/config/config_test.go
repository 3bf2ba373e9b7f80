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

package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAndValidateJSONFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeFile(t, "relay.json", `{
		"listen_addr": ":9000",
		"auth": {"jwt_secret": "s3cret"},
		"liveness": {"window": "2m"},
		"nats": {
			"url": "nats://127.0.0.1:4222",
			"security": {
				"mode": "mtls",
				"cert_dir": "/etc/fleetrelay/certs",
				"tls": {"cert_file": "client.pem", "key_file": "client-key.pem", "ca_file": "/abs/root.pem"}
			}
		}
	}`)

	var cfg models.RelayConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 2*time.Minute, time.Duration(cfg.Liveness.Window))
	assert.Equal(t, models.DefaultTaskBucket, cfg.Tasks.Bucket)
	assert.Equal(t, "/etc/fleetrelay/certs/client.pem", cfg.NATS.Security.TLS.CertFile)
	assert.Equal(t, "/etc/fleetrelay/certs/client-key.pem", cfg.NATS.Security.TLS.KeyFile)
	assert.Equal(t, "/abs/root.pem", cfg.NATS.Security.TLS.CAFile)
}

func TestLoadAndValidateYAMLFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	path := writeFile(t, "relay.yaml", `
listen_addr: ":9100"
auth:
  jwt_secret: yaml-secret
tasks:
  default_timeout: 10s
  max_timeout: 1m
gateway:
  max_rooms: 4
`)

	var cfg models.RelayConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Tasks.DefaultTimeout))
	assert.Equal(t, time.Minute, time.Duration(cfg.Tasks.MaxTimeout))
	assert.Equal(t, 4, cfg.Gateway.MaxRooms)
	assert.Nil(t, cfg.NATS)
}

func TestLoadAndValidateRunsValidator(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeFile(t, "relay.json", `{"listen_addr": ":9000"}`)

	var cfg models.RelayConfig
	require.Error(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))
}

func TestLoadAndValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "consul")

	var cfg models.RelayConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), "unused.json", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestEnvLoaderNestedFields(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "")
	t.Setenv("FLEETRELAY_LISTEN_ADDR", ":7000")
	t.Setenv("FLEETRELAY_AUTH_JWT_SECRET", "env-secret")
	t.Setenv("FLEETRELAY_LIVENESS_WINDOW", "90s")
	t.Setenv("FLEETRELAY_GATEWAY_MESSAGE_RATE", "12.5")
	t.Setenv("FLEETRELAY_GATEWAY_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	var cfg models.RelayConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 90*time.Second, time.Duration(cfg.Liveness.Window))
	assert.InDelta(t, 12.5, cfg.Gateway.MessageRate, 0.001)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Gateway.AllowedOrigins)
	assert.Nil(t, cfg.NATS, "optional sections stay nil without matching variables")
}

func TestEnvLoaderAllocatesOptionalSection(t *testing.T) {
	t.Setenv("TEST_NATS_URL", "nats://broker:4222")
	t.Setenv("TEST_NATS_EMBEDDED", "true")

	var cfg models.RelayConfig
	require.NoError(t, NewEnvConfigLoader(nil, "TEST_").Load(context.Background(), "", &cfg))

	require.NotNil(t, cfg.NATS)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.True(t, cfg.NATS.Embedded)
}

func TestEnvLoaderConfigJSON(t *testing.T) {
	t.Setenv("JSONCFG_CONFIG_JSON", `{"listen_addr": ":6000", "auth": {"jwt_secret": "x"}}`)

	var cfg models.RelayConfig
	require.NoError(t, NewEnvConfigLoader(nil, "JSONCFG_").Load(context.Background(), "", &cfg))
	assert.Equal(t, ":6000", cfg.ListenAddr)
}

func TestEnvLoaderRejectsBadValue(t *testing.T) {
	t.Setenv("BAD_GATEWAY_MAX_ROOMS", "many")

	var cfg models.RelayConfig
	require.Error(t, NewEnvConfigLoader(nil, "BAD_").Load(context.Background(), "", &cfg))
}

func TestEnvLoaderRequiresStructPointer(t *testing.T) {
	loader := NewEnvConfigLoader(nil, "NONE_")

	var s string
	require.ErrorIs(t, loader.Load(context.Background(), "", &s), ErrDstMustBePointerToStruct)
	require.ErrorIs(t, loader.Load(context.Background(), "", nil), ErrDstMustBeNonNilPointer)
}

func TestRedactedDropsSensitiveFields(t *testing.T) {
	cfg := models.RelayConfig{
		ListenAddr: ":8080",
		Auth:       models.AuthConfig{JWTSecret: "top-secret", Issuer: "fleet", APIKey: "key"},
		Liveness:   models.LivenessConfig{Window: models.Duration(time.Minute)},
	}

	data, err := Redacted(&cfg)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))

	auth := out["auth"].(map[string]interface{})
	assert.Equal(t, "fleet", auth["issuer"])
	assert.NotContains(t, auth, "jwt_secret")
	assert.NotContains(t, auth, "api_key")
	assert.Equal(t, "1m0s", out["liveness"].(map[string]interface{})["window"])
	assert.NotContains(t, string(data), "top-secret")
}
