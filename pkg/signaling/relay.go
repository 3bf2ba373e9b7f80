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

// Package signaling shuttles opaque peer-negotiation messages between a
// device room and its paired controllers.
package signaling

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
)

// Publisher addresses a room; satisfied by *fabric.Fabric.
type Publisher interface {
	Publish(ctx context.Context, room models.Room, event string, payload json.RawMessage) error
}

// Relay has no state machine of its own. Messages to an empty room are
// dropped by the fabric and must be renegotiated by the endpoints.
type Relay struct {
	pub       Publisher
	log       logger.Logger
	forwarded atomic.Int64
}

func NewRelay(pub Publisher, log logger.Logger) *Relay {
	return &Relay{pub: pub, log: logger.Component(log, "signaling")}
}

// Forward publishes payload to the target room unchanged.
func (r *Relay) Forward(ctx context.Context, from, to models.Room, event string, payload json.RawMessage) error {
	if err := r.pub.Publish(ctx, to, event, payload); err != nil {
		return err
	}

	r.forwarded.Add(1)

	r.log.Trace().Str("from", from.String()).Str("to", to.String()).Str("event", event).Msg("Forwarded signal")

	return nil
}

// Forwarded returns the number of messages handed to the fabric.
func (r *Relay) Forwarded() int64 { return r.forwarded.Load() }
