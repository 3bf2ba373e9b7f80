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

// Package gateway accepts device and controller WebSocket connections and
// routes their frames into the registry, liveness, task and relay components.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/fleetrelay/pkg/auth"
	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/registry"
)

//go:generate mockgen -destination=mock_gateway.go -package=gateway github.com/carverauto/fleetrelay/pkg/gateway Publisher,Liveness,Responder,Forwarder

var (
	ErrMissingDependency = errors.New("gateway dependency is required")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrSendBufferFull    = errors.New("send buffer full")
	errGatewayClosed     = errors.New("gateway is shutting down")
)

// Publisher addresses a room; satisfied by *fabric.Fabric.
type Publisher interface {
	Publish(ctx context.Context, room models.Room, event string, payload json.RawMessage) error
}

// Liveness is the subset of *liveness.Tracker the gateway drives.
type Liveness interface {
	MarkSeen(ctx context.Context, deviceID string) (time.Time, error)
	MarkOffline(ctx context.Context, deviceID string, seenAt time.Time) (bool, error)
	IsOnline(ctx context.Context, deviceID string) (bool, error)
}

// Responder resolves correlated tasks; satisfied by *tasks.Engine.
type Responder interface {
	DeliverResponse(ctx context.Context, deviceID, correlationID string, payload json.RawMessage) (bool, error)
	DeliverFailure(ctx context.Context, deviceID, correlationID, reason string) (bool, error)
}

// Forwarder relays signaling payloads; satisfied by *signaling.Relay.
type Forwarder interface {
	Forward(ctx context.Context, from, to models.Room, event string, payload json.RawMessage) error
}

// PairAuthorizer decides whether userID may control deviceID.
type PairAuthorizer func(ctx context.Context, userID, deviceID string) error

// Deps are the collaborators of a Gateway. PairAuthorizer and Logger are
// optional; a nil PairAuthorizer allows every pairing.
type Deps struct {
	Registry       *registry.Registry
	Authenticator  auth.Authenticator
	Publisher      Publisher
	Liveness       Liveness
	Tasks          Responder
	Relay          Forwarder
	PairAuthorizer PairAuthorizer
	Logger         logger.Logger
}

func (d *Deps) validate() error {
	switch {
	case d.Registry == nil:
		return errors.Join(ErrMissingDependency, errors.New("registry"))
	case d.Authenticator == nil:
		return errors.Join(ErrMissingDependency, errors.New("authenticator"))
	case d.Publisher == nil:
		return errors.Join(ErrMissingDependency, errors.New("publisher"))
	case d.Liveness == nil:
		return errors.Join(ErrMissingDependency, errors.New("liveness"))
	case d.Tasks == nil:
		return errors.Join(ErrMissingDependency, errors.New("tasks"))
	case d.Relay == nil:
		return errors.Join(ErrMissingDependency, errors.New("relay"))
	}

	return nil
}

// Gateway is an http.Handler serving the WebSocket endpoint.
type Gateway struct {
	deps     Deps
	cfg      models.GatewayConfig
	log      logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
	wg      sync.WaitGroup
}

// New creates a gateway. Zero values in cfg take the service defaults.
func New(deps Deps, cfg models.GatewayConfig) (*Gateway, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	g := &Gateway{
		deps:    deps,
		cfg:     cfg,
		log:     logger.Component(deps.Logger, "gateway"),
		clients: make(map[string]*client),
	}

	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, cfg.AllowedOrigins)
		},
	}

	return g, nil
}

func applyDefaults(cfg *models.GatewayConfig) {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = models.DefaultSendBuffer
	}

	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = models.DefaultReadLimit
	}

	if cfg.MessageRate <= 0 {
		cfg.MessageRate = models.DefaultMessageRate
	}

	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = models.DefaultMessageBurst
	}

	if cfg.PingInterval <= 0 {
		cfg.PingInterval = models.Duration(models.DefaultPingInterval)
	}

	if cfg.WriteWait <= 0 {
		cfg.WriteWait = models.Duration(models.DefaultWriteWait)
	}
}

// ServeHTTP authenticates the request, upgrades it and runs the connection
// until the transport closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	principal, err := g.deps.Authenticator.Authenticate(r.Context(), token)
	if err != nil {
		g.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected connection")
		http.Error(w, "unauthorized", http.StatusUnauthorized)

		return
	}

	if !g.track() {
		http.Error(w, errGatewayClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	defer g.wg.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := newClient(g, ws, *principal)

	ctx := context.WithoutCancel(r.Context())

	if err := g.attach(ctx, c); err != nil {
		g.log.Warn().Err(err).Str("subject", principal.Subject).Msg("Failed to attach connection")
		c.closeWith(websocket.CloseInternalServerErr, "registration failed")
		c.writePump()

		return
	}

	go c.writePump()

	clean := c.readPump(ctx)

	g.detach(ctx, c, clean)
}

// track admits a new connection unless the gateway is shutting down.
func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}

	g.wg.Add(1)

	return true
}

func (g *Gateway) attach(ctx context.Context, c *client) error {
	identity := registry.Identity{}

	var home models.Room

	switch c.principal.Role {
	case auth.RoleDevice:
		identity.DeviceID = c.principal.Subject
		home = models.DeviceRoom(c.principal.Subject)
	case auth.RoleController:
		identity.UserID = c.principal.Subject
		home = models.UserRoom(c.principal.Subject)
	default:
		return auth.ErrInvalidRole
	}

	if err := g.deps.Registry.Register(c, identity); err != nil {
		return err
	}

	if err := g.deps.Registry.Join(c, home); err != nil {
		g.deps.Registry.Remove(c)
		return err
	}

	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()

	welcome, _ := json.Marshal(models.WelcomeMessage{
		ConnectionID: c.id,
		Role:         string(c.principal.Role),
		Subject:      c.principal.Subject,
	})
	_ = c.Send(models.EventWelcome, welcome)

	if c.principal.Role == auth.RoleDevice {
		seen, err := g.deps.Liveness.MarkSeen(ctx, c.principal.Subject)
		if err != nil {
			g.log.Warn().Err(err).Str("device_id", c.principal.Subject).Msg("Failed to mark device seen")
		}

		c.lastSeen = seen

		g.publishPresence(ctx, c.principal.Subject, true)
	}

	g.log.Info().Str("connection_id", c.id).Str("role", string(c.principal.Role)).
		Str("subject", c.principal.Subject).Msg("Connection established")

	return nil
}

func (g *Gateway) detach(ctx context.Context, c *client, clean bool) {
	c.close()

	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()

	rooms := g.deps.Registry.Remove(c)

	g.log.Info().Str("connection_id", c.id).Str("subject", c.principal.Subject).
		Bool("clean", clean).Int("rooms", len(rooms)).Msg("Connection closed")

	if c.principal.Role != auth.RoleDevice || !clean {
		return
	}

	deviceID := c.principal.Subject
	if g.deps.Registry.HasLocal(models.DeviceRoom(deviceID)) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.cfg.WriteWait))
	defer cancel()

	demoted, err := g.deps.Liveness.MarkOffline(ctx, deviceID, c.lastSeen)
	if err != nil {
		g.log.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to mark device offline")
		return
	}

	if demoted {
		g.publishPresence(ctx, deviceID, false)
	}
}

func (g *Gateway) publishPresence(ctx context.Context, deviceID string, online bool) {
	data, _ := json.Marshal(models.PresenceMessage{DeviceID: deviceID, Online: online})

	if err := g.deps.Publisher.Publish(ctx, models.ControlRoom(deviceID), models.EventPresence, data); err != nil {
		g.log.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to publish presence")
	}
}

// Connections returns the number of open connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.clients)
}

// Shutdown refuses new connections, closes the open ones with a going-away
// status and waits for their handlers to finish or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true

	open := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		open = append(open, c)
	}
	g.mu.Unlock()

	for _, c := range open {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})

	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	return r.URL.Query().Get("token")
}
