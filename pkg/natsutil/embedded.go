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

package natsutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

var errEmbeddedNotReady = errors.New("embedded NATS server not ready")

const embeddedReadyTimeout = 10 * time.Second

// EmbeddedOptions configures an in-process JetStream server.
type EmbeddedOptions struct {
	Host     string
	Port     int
	StoreDir string
}

// StartEmbedded launches a JetStream-enabled nats-server inside the process
// and waits until it accepts connections. Port -1 picks a free port.
func StartEmbedded(opts EmbeddedOptions) (*server.Server, error) {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}

	srv, err := server.NewServer(&server.Options{
		Host:      host,
		Port:      opts.Port,
		JetStream: true,
		StoreDir:  opts.StoreDir,
		NoSigs:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go srv.Start()

	if !srv.ReadyForConnections(embeddedReadyTimeout) {
		srv.Shutdown()
		return nil, errEmbeddedNotReady
	}

	deadline := time.Now().Add(embeddedReadyTimeout)
	for !srv.JetStreamEnabled() {
		if time.Now().After(deadline) {
			srv.Shutdown()
			return nil, errEmbeddedNotReady
		}

		time.Sleep(10 * time.Millisecond)
	}

	return srv, nil
}
