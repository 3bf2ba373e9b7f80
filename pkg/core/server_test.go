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

package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetrelay/pkg/api"
	"github.com/carverauto/fleetrelay/pkg/auth"
	"github.com/carverauto/fleetrelay/pkg/broker"
	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/natsutil"
)

const testSecret = "relay-test-secret"

type node struct {
	srv  *Server
	http *httptest.Server
}

func (n *node) wsURL() string {
	return "ws" + strings.TrimPrefix(n.http.URL, "http") + "/ws"
}

func testConfig(t *testing.T, natsCfg *models.NATSConfig) *models.RelayConfig {
	t.Helper()

	cfg := &models.RelayConfig{
		NATS: natsCfg,
		Auth: models.AuthConfig{JWTSecret: testSecret},
	}
	require.NoError(t, cfg.Validate())

	return cfg
}

func startNode(t *testing.T, cfg *models.RelayConfig, opts ...Option) *node {
	t.Helper()

	ctx := context.Background()

	srv, err := NewServer(ctx, cfg, logger.NewTestLogger(), opts...)
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))

	hs := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		assert.NoError(t, srv.Stop(stopCtx))
		hs.Close()
	})

	return &node{srv: srv, http: hs}
}

func startNATS(t *testing.T) string {
	t.Helper()

	ns, err := natsutil.StartEmbedded(natsutil.EmbeddedOptions{Port: -1, StoreDir: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return ns.ClientURL()
}

func connect(t *testing.T, n *node, subject string, role auth.Role) *websocket.Conn {
	t.Helper()

	authn, err := auth.NewJWTAuthenticator([]byte(testSecret), "")
	require.NoError(t, err)

	token, err := authn.Issue(subject, role, time.Minute)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(n.wsURL()+"?token="+token, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = conn.Close() })

	expectEvent(t, conn, models.EventWelcome)

	return conn
}

func expectEvent(t *testing.T, conn *websocket.Conn, event string) models.Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	for {
		var frame models.Frame
		require.NoError(t, conn.ReadJSON(&frame))

		if frame.Event == event {
			return frame
		}
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.Frame{Event: event, Data: raw}))
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

// answerCommands replies to every command with payload.
func answerCommands(conn *websocket.Conn, payload json.RawMessage) {
	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		if frame.Event != models.EventCommand {
			continue
		}

		var cmd models.CommandMessage
		if err := json.Unmarshal(frame.Data, &cmd); err != nil {
			return
		}

		resp, _ := json.Marshal(models.ResponseMessage{CorrelationID: cmd.CorrelationID, Payload: payload})
		if err := conn.WriteJSON(models.Frame{Event: models.EventResponse, Data: resp}); err != nil {
			return
		}
	}
}

func TestScreenshotAcrossProcesses(t *testing.T) {
	natsURL := startNATS(t)
	a := startNode(t, testConfig(t, &models.NATSConfig{URL: natsURL}))
	b := startNode(t, testConfig(t, &models.NATSConfig{URL: natsURL}))

	device := connect(t, b, "D1", auth.RoleDevice)
	controller := connect(t, a, "U1", auth.RoleController)

	sendFrame(t, controller, models.EventPair, models.PairMessage{DeviceID: "D1"})
	expectEvent(t, controller, models.EventPaired)

	presence := expectEvent(t, controller, models.EventPresence)
	assert.JSONEq(t, `{"deviceId":"D1","online":true}`, string(presence.Data))

	sendFrame(t, device, models.EventStatus, models.StatusMessage{Payload: json.RawMessage(`{"battery":80}`)})

	status := expectEvent(t, controller, models.EventStatusUpdate)
	assert.JSONEq(t, `{"battery":80}`, string(status.Data))

	require.NoError(t, device.SetReadDeadline(time.Time{}))

	go answerCommands(device, json.RawMessage(`{"image":"iVBORw0KGgo="}`))

	started := time.Now()
	resp, body := postJSON(t, a.http.URL+"/api/devices/D1/commands",
		`{"type":"screenshot","expects_response":true,"timeout_ms":5000,"issuer":"U1"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Less(t, time.Since(started), 2*time.Second)

	var out api.CommandResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "completed", out.Status)
	assert.JSONEq(t, `{"image":"iVBORw0KGgo="}`, string(out.Result))
	assert.Equal(t, int64(0), a.srv.Tasks.Orphans())
}

func TestScreenshotTimesOutWhenDeviceIsSilent(t *testing.T) {
	natsURL := startNATS(t)
	a := startNode(t, testConfig(t, &models.NATSConfig{URL: natsURL}))
	b := startNode(t, testConfig(t, &models.NATSConfig{URL: natsURL}))

	device := connect(t, b, "D1", auth.RoleDevice)

	started := time.Now()
	resp, body := postJSON(t, a.http.URL+"/api/devices/D1/commands",
		`{"type":"screenshot","expects_response":true,"timeout_ms":500}`)
	elapsed := time.Since(started)

	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode, string(body))
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	cmd := expectEvent(t, device, models.EventCommand)

	var msg models.CommandMessage
	require.NoError(t, json.Unmarshal(cmd.Data, &msg))

	sendFrame(t, device, models.EventResponse, models.ResponseMessage{
		CorrelationID: msg.CorrelationID,
		Payload:       json.RawMessage(`{"late":true}`),
	})

	require.Eventually(t, func() bool { return b.srv.Tasks.Orphans() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestCommandToOfflineDevice(t *testing.T) {
	natsURL := startNATS(t)
	a := startNode(t, testConfig(t, &models.NATSConfig{URL: natsURL}))

	resp, _ := postJSON(t, a.http.URL+"/api/devices/D9/commands", `{"type":"screenshot","expects_response":true}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	statusResp, err := http.Get(a.http.URL + "/api/devices/D9/status")
	require.NoError(t, err)

	defer func() { _ = statusResp.Body.Close() }()

	var status api.DeviceStatusResponse
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.False(t, status.Online)
	assert.Equal(t, "offline", status.Status)
}

func TestRoomAnnouncementReachesRemoteMembers(t *testing.T) {
	natsURL := startNATS(t)
	a := startNode(t, testConfig(t, &models.NATSConfig{URL: natsURL}))
	b := startNode(t, testConfig(t, &models.NATSConfig{URL: natsURL}))

	controller := connect(t, b, "U1", auth.RoleController)

	resp, body := postJSON(t, a.http.URL+"/api/rooms/user:U1/events", `{"event":"notice","payload":{"text":"maintenance"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	frame := expectEvent(t, controller, "notice")
	assert.JSONEq(t, `{"text":"maintenance"}`, string(frame.Data))
}

func TestEmbeddedNATSMode(t *testing.T) {
	n := startNode(t, testConfig(t, &models.NATSConfig{Embedded: true, EmbeddedDir: t.TempDir()}))

	device := connect(t, n, "D1", auth.RoleDevice)

	require.NoError(t, device.SetReadDeadline(time.Time{}))

	go answerCommands(device, json.RawMessage(`"pong"`))

	resp, body := postJSON(t, n.http.URL+"/api/devices/D1/commands", `{"type":"ping","expects_response":true,"timeout_ms":2000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	health, err := http.Get(n.http.URL + "/health")
	require.NoError(t, err)

	_ = health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestStandaloneServersShareBroker(t *testing.T) {
	shared := broker.NewMemoryBroker(64)
	t.Cleanup(func() { _ = shared.Close() })

	a := startNode(t, testConfig(t, nil), WithBroker(shared))
	b := startNode(t, testConfig(t, nil), WithBroker(shared))

	controller := connect(t, a, "U1", auth.RoleController)
	device := connect(t, b, "D1", auth.RoleDevice)

	sendFrame(t, controller, models.EventPair, models.PairMessage{DeviceID: "D1"})
	expectEvent(t, controller, models.EventPaired)

	sendFrame(t, device, models.EventSignal, models.DeviceSignalMessage{
		ToRoom: "control:D1", Payload: json.RawMessage(`{"candidate":"c1"}`),
	})

	frame := expectEvent(t, controller, models.EventSignal)
	assert.JSONEq(t, `{"candidate":"c1"}`, string(frame.Data))
}

func TestPairAuthorizerOption(t *testing.T) {
	n := startNode(t, testConfig(t, nil), WithPairAuthorizer(func(_ context.Context, userID, _ string) error {
		if userID != "admin" {
			return assert.AnError
		}

		return nil
	}))

	controller := connect(t, n, "guest", auth.RoleController)

	sendFrame(t, controller, models.EventPair, models.PairMessage{DeviceID: "D1"})

	frame := expectEvent(t, controller, models.EventError)
	assert.Contains(t, string(frame.Data), "pairing denied")
}

func TestEmbeddedOptions(t *testing.T) {
	opts, err := embeddedOptions(&models.NATSConfig{Embedded: true})
	require.NoError(t, err)
	assert.Equal(t, -1, opts.Port)

	opts, err = embeddedOptions(&models.NATSConfig{Embedded: true, URL: "nats://0.0.0.0:4222", EmbeddedDir: "/data"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", opts.Host)
	assert.Equal(t, 4222, opts.Port)
	assert.Equal(t, "/data", opts.StoreDir)

	_, err = embeddedOptions(&models.NATSConfig{Embedded: true, URL: "nats://localhost"})
	require.ErrorIs(t, err, errEmbeddedURLPort)
}

func TestNewServerRequiresConfig(t *testing.T) {
	_, err := NewServer(context.Background(), nil, nil)
	require.ErrorIs(t, err, errNilConfig)
}
