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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/carverauto/fleetrelay/pkg/config"
	"github.com/carverauto/fleetrelay/pkg/core"
	"github.com/carverauto/fleetrelay/pkg/lifecycle"
	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/version"
)

const serviceName = "fleetrelay"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", "/etc/fleetrelay/fleetrelay.yaml", "Path to relay config file")
	listenAddr := pflag.String("listen", "", "Override listen_addr from the config")
	showVersion := pflag.BoolP("version", "v", false, "Print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	ctx := context.Background()

	var cfg models.RelayConfig

	bootLog := logger.NewTestLogger()
	if err := config.NewConfig(bootLog).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	if cfg.Logging == nil {
		cfg.Logging = logger.DefaultConfig()
	}

	mainLogger, err := lifecycle.CreateComponentLogger(ctx, "relay-main", cfg.Logging)
	if err != nil {
		return err
	}

	defer func() {
		if shutdownErr := lifecycle.ShutdownLogger(); shutdownErr != nil {
			mainLogger.Error().Err(shutdownErr).Msg("Error shutting down logger")
		}
	}()

	if _, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Version(),
		OTel:           &cfg.Logging.OTel,
	}); err != nil {
		return err
	}

	if _, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Version(),
		OTel:           &cfg.Logging.OTel,
	}); err != nil && !errors.Is(err, logger.ErrOTelMetricsDisabled) {
		return err
	}

	if redacted, err := config.Redacted(&cfg); err == nil {
		mainLogger.Debug().RawJSON("config", redacted).Msg("Loaded configuration")
	}

	server, err := core.NewServer(ctx, &cfg, mainLogger)
	if err != nil {
		return err
	}

	mainLogger.Info().Str("process_id", server.ProcessID()).Int("pid", os.Getpid()).
		Str("version", version.String()).Msg("Starting relay")

	return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
		ServiceName:     serviceName,
		ListenAddr:      cfg.ListenAddr,
		Handler:         server.Handler(),
		Service:         server,
		ShutdownTimeout: time.Duration(cfg.ShutdownTimeout),
		Logger:          mainLogger,
	})
}
