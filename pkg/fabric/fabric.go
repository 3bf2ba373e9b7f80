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

// Package fabric delivers room-addressed events to every member of a room,
// whichever process holds the member's connection.
package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/fleetrelay/pkg/broker"
	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/natsutil"
	"github.com/carverauto/fleetrelay/pkg/registry"
)

var (
	ErrEmptyEvent     = errors.New("event name is required")
	ErrAlreadyStarted = errors.New("fabric already started")
)

const meterName = "github.com/carverauto/fleetrelay/pkg/fabric"

// Envelope is the broker wire format for a room event.
type Envelope struct {
	Origin  string          `json:"origin"`
	Room    models.Room     `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Options configures a Fabric.
type Options struct {
	// ProcessID identifies this process on the broker. Generated when empty.
	ProcessID     string
	SubjectPrefix string
	Logger        logger.Logger
}

// Stats are cumulative counters since construction.
type Stats struct {
	Published    int64
	Delivered    int64
	Received     int64
	Dropped      int64
	SendFailures int64
	BrokerErrors int64
}

// Fabric fans events out to local members through the registry and to other
// processes through the broker. A nil broker gives local-only delivery.
type Fabric struct {
	registry *registry.Registry
	broker   broker.Broker
	procID   string
	prefix   string
	log      logger.Logger

	mu  sync.Mutex
	sub broker.Subscription

	published    atomic.Int64
	delivered    atomic.Int64
	received     atomic.Int64
	dropped      atomic.Int64
	sendFailures atomic.Int64
	brokerErrors atomic.Int64

	eventCounter metric.Int64Counter
}

// New creates a fabric. Call Start to receive events from other processes.
func New(reg *registry.Registry, b broker.Broker, opts Options) *Fabric {
	if opts.ProcessID == "" {
		opts.ProcessID = uuid.New().String()
	}

	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = models.DefaultSubjectPrefix
	}

	counter, err := otel.Meter(meterName).Int64Counter(
		"fleetrelay_fabric_events",
		metric.WithDescription("Room events by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Fabric{
		registry:     reg,
		broker:       b,
		procID:       opts.ProcessID,
		prefix:       opts.SubjectPrefix,
		log:          logger.Component(opts.Logger, "fabric"),
		eventCounter: counter,
	}
}

// ProcessID returns the origin identifier stamped on outgoing envelopes.
func (f *Fabric) ProcessID() string { return f.procID }

// Subject returns the broker subject a room's events travel on.
func (f *Fabric) Subject(room models.Room) (string, error) {
	kind, target, err := room.Split()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s.room.%s.%s", f.prefix, kind, natsutil.EncodeKey(target)), nil
}

// Start subscribes to every room subject on the broker.
func (f *Fabric) Start() error {
	if f.broker == nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sub != nil {
		return ErrAlreadyStarted
	}

	sub, err := f.broker.Subscribe(f.prefix+".room.>", f.handleRemote)
	if err != nil {
		return fmt.Errorf("fabric subscribe: %w", err)
	}

	f.sub = sub

	f.log.Info().Str("process_id", f.procID).Str("prefix", f.prefix).Msg("Fabric subscribed")

	return nil
}

// Stop drops the broker subscription. Local delivery keeps working.
func (f *Fabric) Stop() error {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()

	if sub == nil {
		return nil
	}

	return sub.Unsubscribe()
}

// Publish delivers payload under event to every member of room on every
// process. Delivery is at most once; empty rooms drop the event and broker
// failures degrade to local-only delivery. Only malformed input is an error.
func (f *Fabric) Publish(ctx context.Context, room models.Room, event string, payload json.RawMessage) error {
	subject, err := f.Subject(room)
	if err != nil {
		return err
	}

	if event == "" {
		return ErrEmptyEvent
	}

	f.published.Add(1)

	local := f.deliverLocal(room, event, payload)

	if f.broker == nil {
		if local == 0 {
			f.countDropped(ctx, room)
		}

		return nil
	}

	data, err := json.Marshal(Envelope{Origin: f.procID, Room: room, Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("fabric envelope: %w", err)
	}

	if err := f.broker.Publish(ctx, subject, data); err != nil {
		f.brokerErrors.Add(1)
		f.record(ctx, "broker_error", room)
		f.log.Warn().Err(err).Str("room", room.String()).Str("event", event).
			Msg("Broker publish failed, delivered locally only")
	}

	return nil
}

func (f *Fabric) handleRemote(_ string, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.log.Warn().Err(err).Msg("Discarding malformed fabric envelope")
		return
	}

	if env.Origin == f.procID {
		return
	}

	f.received.Add(1)

	if f.deliverLocal(env.Room, env.Event, env.Payload) == 0 {
		f.countDropped(context.Background(), env.Room)
	}
}

// deliverLocal sends to the snapshot of local members and returns how many
// accepted the event.
func (f *Fabric) deliverLocal(room models.Room, event string, payload json.RawMessage) int {
	n := 0

	for _, conn := range f.registry.LocalConnectionsIn(room) {
		if err := conn.Send(event, payload); err != nil {
			f.sendFailures.Add(1)
			f.log.Debug().Err(err).Str("conn_id", conn.ID()).Str("room", room.String()).
				Msg("Local delivery failed")

			continue
		}

		n++
	}

	f.delivered.Add(int64(n))

	return n
}

func (f *Fabric) countDropped(ctx context.Context, room models.Room) {
	f.dropped.Add(1)
	f.record(ctx, "dropped", room)
}

func (f *Fabric) record(ctx context.Context, outcome string, room models.Room) {
	if f.eventCounter == nil {
		return
	}

	f.eventCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("room_kind", string(room.Kind())),
	))
}

// Stats returns a snapshot of the fabric counters.
func (f *Fabric) Stats() Stats {
	return Stats{
		Published:    f.published.Load(),
		Delivered:    f.delivered.Load(),
		Received:     f.received.Load(),
		Dropped:      f.dropped.Load(),
		SendFailures: f.sendFailures.Load(),
		BrokerErrors: f.brokerErrors.Load(),
	}
}
