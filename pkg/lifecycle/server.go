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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/fleetrelay/pkg/logger"
)

var errHandlerRequired = errors.New("http handler is required")

const (
	defaultShutdownTimeout = 15 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Service is a long-running component started before the HTTP listener and
// stopped after it has drained.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServerOptions configures RunServer.
type ServerOptions struct {
	ServiceName     string
	ListenAddr      string
	Handler         http.Handler
	Service         Service
	ShutdownTimeout time.Duration
	Logger          logger.Logger
}

// RunServer starts the service and its HTTP listener and blocks until ctx is
// canceled, SIGINT/SIGTERM arrives, or the listener fails.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	if opts.Handler == nil {
		return errHandlerRequired
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Service != nil {
		if err := opts.Service.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", opts.ServiceName, err)
		}
	}

	srv := &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           opts.Handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("service", opts.ServiceName).Str("addr", opts.ListenAddr).Msg("Listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		timeout := opts.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		log.Info().Str("service", opts.ServiceName).Msg("Shutting down")

		var errs []error

		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}

		if opts.Service != nil {
			if err := opts.Service.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("service stop: %w", err))
			}
		}

		return errors.Join(errs...)
	})

	return g.Wait()
}
