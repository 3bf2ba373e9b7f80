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

// Package core wires the relay components into one process.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/fleetrelay/pkg/api"
	"github.com/carverauto/fleetrelay/pkg/auth"
	"github.com/carverauto/fleetrelay/pkg/broker"
	"github.com/carverauto/fleetrelay/pkg/fabric"
	"github.com/carverauto/fleetrelay/pkg/gateway"
	"github.com/carverauto/fleetrelay/pkg/liveness"
	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/natsutil"
	"github.com/carverauto/fleetrelay/pkg/registry"
	"github.com/carverauto/fleetrelay/pkg/signaling"
	"github.com/carverauto/fleetrelay/pkg/tasks"
)

const meterName = "github.com/carverauto/fleetrelay/pkg/core"

var (
	errNilConfig       = errors.New("config is required")
	errNATSNotHealthy  = errors.New("nats connection is not established")
	errEmbeddedURLPort = errors.New("embedded nats url must carry a numeric port")
)

// Option customizes a Server.
type Option func(*Server)

// WithPairAuthorizer installs the hook consulted when a controller pairs.
func WithPairAuthorizer(fn gateway.PairAuthorizer) Option {
	return func(s *Server) {
		s.pairAuthorizer = fn
	}
}

// WithBroker overrides the broker used when no NATS section is configured,
// letting several in-process servers share one.
func WithBroker(b broker.Broker) Option {
	return func(s *Server) {
		s.broker = b
	}
}

// Server owns one relay process: its broker connection, stores, components
// and HTTP handler.
type Server struct {
	cfg            *models.RelayConfig
	log            logger.Logger
	procID         string
	pairAuthorizer gateway.PairAuthorizer

	natsServer *server.Server
	nc         *nats.Conn
	broker     broker.Broker

	Registry *registry.Registry
	Fabric   *fabric.Fabric
	Liveness *liveness.Tracker
	Tasks    *tasks.Engine
	Relay    *signaling.Relay
	Gateway  *gateway.Gateway

	api        *api.APIServer
	metricsReg metric.Registration
}

// NewServer builds every component from cfg. cfg must already be validated.
// Without a NATS section the process runs standalone on in-memory stores.
func NewServer(ctx context.Context, cfg *models.RelayConfig, log logger.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		procID: cfg.ProcessID,
	}

	for _, o := range opts {
		o(s)
	}

	if s.procID == "" {
		s.procID = uuid.New().String()
	}

	if err := s.build(ctx); err != nil {
		s.closeTransport()
		return nil, err
	}

	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	liveStore, taskStore, err := s.initStores(ctx)
	if err != nil {
		return err
	}

	s.Registry = registry.New(s.cfg.Gateway.MaxRooms)

	s.metricsReg, err = s.Registry.RegisterMetrics(otel.Meter(meterName))
	if err != nil {
		return fmt.Errorf("register registry metrics: %w", err)
	}

	s.Fabric = fabric.New(s.Registry, s.broker, fabric.Options{
		ProcessID:     s.procID,
		SubjectPrefix: s.cfg.Fabric.SubjectPrefix,
		Logger:        s.log,
	})

	s.Liveness = liveness.NewTracker(liveStore,
		liveness.WithWindow(time.Duration(s.cfg.Liveness.Window)),
		liveness.WithLogger(s.log),
	)

	s.Tasks = tasks.NewEngine(taskStore, s.Fabric, s.Liveness, tasks.Config{
		ProcessID:      s.procID,
		SubjectPrefix:  s.cfg.Fabric.SubjectPrefix,
		Broker:         s.broker,
		DefaultTimeout: time.Duration(s.cfg.Tasks.DefaultTimeout),
		MaxTimeout:     time.Duration(s.cfg.Tasks.MaxTimeout),
		Grace:          time.Duration(s.cfg.Tasks.Grace),
		Logger:         s.log,
	})

	s.Relay = signaling.NewRelay(s.Fabric, s.log)

	authn, err := auth.NewJWTAuthenticator([]byte(s.cfg.Auth.JWTSecret), s.cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	s.Gateway, err = gateway.New(gateway.Deps{
		Registry:       s.Registry,
		Authenticator:  authn,
		Publisher:      s.Fabric,
		Liveness:       s.Liveness,
		Tasks:          s.Tasks,
		Relay:          s.Relay,
		PairAuthorizer: s.pairAuthorizer,
		Logger:         s.log,
	}, s.cfg.Gateway)
	if err != nil {
		return err
	}

	s.api = api.NewAPIServer(s.cfg.CORS,
		api.WithDispatcher(s.Tasks),
		api.WithLivenessReader(s.Liveness),
		api.WithPublisher(s.Fabric),
		api.WithAPIKey(s.cfg.Auth.APIKey),
		api.WithHealthCheck(s.healthCheck),
		api.WithWebSocketHandler(s.Gateway),
		api.WithLogger(s.log),
	)

	return nil
}

// initStores connects to NATS when configured and returns the liveness and
// task stores for the selected mode.
func (s *Server) initStores(ctx context.Context) (liveness.Store, tasks.Store, error) {
	natsCfg := s.cfg.NATS
	if natsCfg == nil {
		s.log.Info().Msg("No NATS configured, running standalone with in-memory stores")
		return liveness.NewMemoryStore(), tasks.NewMemoryStore(), nil
	}

	natsURL := natsCfg.URL

	if natsCfg.Embedded {
		embedded, err := embeddedOptions(natsCfg)
		if err != nil {
			return nil, nil, err
		}

		s.natsServer, err = natsutil.StartEmbedded(embedded)
		if err != nil {
			return nil, nil, err
		}

		natsURL = s.natsServer.ClientURL()

		s.log.Info().Str("url", natsURL).Msg("Started embedded NATS server")
	}

	nc, err := natsutil.Connect(ctx, natsURL, natsCfg, s.log)
	if err != nil {
		return nil, nil, err
	}

	s.nc = nc
	s.broker = broker.NewNATSBroker(nc)

	js, err := natsutil.JetStream(nc, natsCfg.Domain)
	if err != nil {
		return nil, nil, err
	}

	liveStore, err := liveness.NewNATSStore(ctx, js, s.cfg.Liveness.Bucket)
	if err != nil {
		return nil, nil, err
	}

	maxAge := time.Duration(s.cfg.Tasks.MaxTimeout) + time.Duration(s.cfg.Tasks.Grace)

	taskStore, err := tasks.NewNATSStore(ctx, js, s.cfg.Tasks.Bucket, maxAge)
	if err != nil {
		return nil, nil, err
	}

	return liveStore, taskStore, nil
}

// embeddedOptions listens on the URL's host and port when one is given, or
// on a random loopback port otherwise.
func embeddedOptions(cfg *models.NATSConfig) (natsutil.EmbeddedOptions, error) {
	opts := natsutil.EmbeddedOptions{Port: -1, StoreDir: cfg.EmbeddedDir}

	if cfg.URL == "" {
		return opts, nil
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return opts, fmt.Errorf("parse nats url: %w", err)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return opts, errors.Join(errEmbeddedURLPort, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return opts, errors.Join(errEmbeddedURLPort, err)
	}

	opts.Host = host
	opts.Port = port

	return opts, nil
}

// ProcessID identifies this process on the broker.
func (s *Server) ProcessID() string { return s.procID }

// Handler serves the REST surface and the WebSocket endpoint.
func (s *Server) Handler() http.Handler { return s.api.Handler() }

// Start subscribes the fabric and the task engine to the broker.
func (s *Server) Start(_ context.Context) error {
	if err := s.Fabric.Start(); err != nil {
		return err
	}

	if err := s.Tasks.Start(); err != nil {
		_ = s.Fabric.Stop()
		return err
	}

	s.log.Info().Str("process_id", s.procID).Bool("nats", s.nc != nil).Msg("Relay started")

	return nil
}

// Stop closes client connections, drops broker subscriptions and releases
// the NATS connection and embedded server.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if err := s.Gateway.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway shutdown: %w", err))
	}

	if err := s.Tasks.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("tasks stop: %w", err))
	}

	if err := s.Fabric.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("fabric stop: %w", err))
	}

	if s.metricsReg != nil {
		if err := s.metricsReg.Unregister(); err != nil {
			errs = append(errs, err)
		}
	}

	s.closeTransport()

	s.log.Info().Str("process_id", s.procID).Msg("Relay stopped")

	return errors.Join(errs...)
}

func (s *Server) closeTransport() {
	if s.nc != nil {
		s.nc.Close()
	}

	if s.natsServer != nil {
		s.natsServer.Shutdown()
		s.natsServer.WaitForShutdown()
	}
}

func (s *Server) healthCheck(_ context.Context) error {
	if s.nc != nil && !s.nc.IsConnected() {
		return errNATSNotHealthy
	}

	return nil
}
