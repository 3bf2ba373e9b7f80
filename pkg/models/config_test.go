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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValidateFillsDefaults(t *testing.T) {
	cfg := RelayConfig{Auth: AuthConfig{JWTSecret: "s"}}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, Duration(DefaultLivenessWindow), cfg.Liveness.Window)
	assert.Equal(t, Duration(DefaultTaskTimeout), cfg.Tasks.DefaultTimeout)
	assert.Equal(t, Duration(DefaultMaxTaskTimeout), cfg.Tasks.MaxTimeout)
	assert.Equal(t, Duration(DefaultTaskGrace), cfg.Tasks.Grace)
	assert.Equal(t, DefaultSubjectPrefix, cfg.Fabric.SubjectPrefix)
	assert.Equal(t, DefaultLivenessBucket, cfg.Liveness.Bucket)
	assert.Equal(t, DefaultTaskBucket, cfg.Tasks.Bucket)
	assert.Equal(t, DefaultMaxRooms, cfg.Gateway.MaxRooms)
	assert.Nil(t, cfg.NATS)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  RelayConfig
		want error
	}{
		{"missing secret", RelayConfig{}, errJWTSecretRequired},
		{"nats without url", RelayConfig{Auth: AuthConfig{JWTSecret: "s"}, NATS: &NATSConfig{}}, errNATSURLRequired},
		{"negative window", RelayConfig{Auth: AuthConfig{JWTSecret: "s"}, Liveness: LivenessConfig{Window: -1}}, errWindowNegative},
		{"negative rooms", RelayConfig{Auth: AuthConfig{JWTSecret: "s"}, Gateway: GatewayConfig{MaxRooms: -1}}, errMaxRoomsNonPositive},
		{
			"timeout order",
			RelayConfig{Auth: AuthConfig{JWTSecret: "s"}, Tasks: TaskConfig{
				DefaultTimeout: Duration(time.Hour), MaxTimeout: Duration(time.Minute),
			}},
			errTimeoutOrder,
		},
		{
			"unknown security mode",
			RelayConfig{Auth: AuthConfig{JWTSecret: "s"}, NATS: &NATSConfig{
				URL: "nats://localhost:4222", Security: &SecurityConfig{Mode: "spiffe"},
			}},
			errInvalidSecurityMode,
		},
		{
			"mtls missing files",
			RelayConfig{Auth: AuthConfig{JWTSecret: "s"}, NATS: &NATSConfig{
				URL: "nats://localhost:4222", Security: &SecurityConfig{Mode: SecurityModeMTLS},
			}},
			errMTLSFilesIncomplete,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.cfg.Validate(), tc.want)
		})
	}
}

func TestValidateAcceptsEmbeddedNATS(t *testing.T) {
	cfg := RelayConfig{Auth: AuthConfig{JWTSecret: "s"}, NATS: &NATSConfig{Embedded: true}}
	require.NoError(t, cfg.Validate())
}

func TestDurationJSON(t *testing.T) {
	var d Duration

	require.NoError(t, json.Unmarshal([]byte(`"5m"`), &d))
	assert.Equal(t, Duration(5*time.Minute), d)

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, Duration(time.Second), d)

	require.ErrorIs(t, json.Unmarshal([]byte(`"soon"`), &d), errInvalidDuration)
	require.ErrorIs(t, json.Unmarshal([]byte(`true`), &d), errInvalidDuration)

	out, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))
}

func TestDurationYAML(t *testing.T) {
	var cfg struct {
		Window  Duration `yaml:"window"`
		Timeout Duration `yaml:"timeout"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("window: 2m\ntimeout: 1000\n"), &cfg))
	assert.Equal(t, Duration(2*time.Minute), cfg.Window)
	assert.Equal(t, Duration(1000), cfg.Timeout)

	require.Error(t, yaml.Unmarshal([]byte("window: later\n"), &cfg))
}
