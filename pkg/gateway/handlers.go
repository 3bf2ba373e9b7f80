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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/carverauto/fleetrelay/pkg/auth"
	"github.com/carverauto/fleetrelay/pkg/models"
)

var (
	errUnsupportedEvent = errors.New("unsupported event")
	errMalformedData    = errors.New("malformed data")
	errDeviceIDRequired = errors.New("deviceId is required")
	errNotPaired        = errors.New("not paired with device")
	errPairDenied       = errors.New("pairing denied")
)

func (g *Gateway) handle(ctx context.Context, c *client, frame models.Frame) error {
	if c.principal.Role == auth.RoleDevice {
		return g.handleDevice(ctx, c, frame)
	}

	return g.handleController(ctx, c, frame)
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return errMalformedData
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %w", errMalformedData, err)
	}

	return nil
}

func (g *Gateway) handleDevice(ctx context.Context, c *client, frame models.Frame) error {
	deviceID := c.principal.Subject

	switch frame.Event {
	case models.EventHeartbeat:
		seen, err := g.deps.Liveness.MarkSeen(ctx, deviceID)
		if err != nil {
			g.log.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to record heartbeat")
			return errors.New("heartbeat not recorded")
		}

		c.lastSeen = seen

		return nil

	case models.EventResponse:
		var msg models.ResponseMessage
		if err := decode(frame.Data, &msg); err != nil {
			return err
		}

		var err error
		if msg.Error != "" {
			_, err = g.deps.Tasks.DeliverFailure(ctx, deviceID, msg.CorrelationID, msg.Error)
		} else {
			_, err = g.deps.Tasks.DeliverResponse(ctx, deviceID, msg.CorrelationID, msg.Payload)
		}

		if err != nil {
			g.log.Warn().Err(err).Str("device_id", deviceID).Str("correlation_id", msg.CorrelationID).
				Msg("Failed to deliver response")

			return errors.New("response not recorded")
		}

		return nil

	case models.EventStatus:
		var msg models.StatusMessage
		if err := decode(frame.Data, &msg); err != nil {
			return err
		}

		return g.deps.Publisher.Publish(ctx, models.ControlRoom(deviceID), models.EventStatusUpdate, msg.Payload)

	case models.EventSignal:
		var msg models.DeviceSignalMessage
		if err := decode(frame.Data, &msg); err != nil {
			return err
		}

		to, err := models.ParseRoom(msg.ToRoom)
		if err != nil {
			return err
		}

		return g.deps.Relay.Forward(ctx, models.DeviceRoom(deviceID), to, models.EventSignal, msg.Payload)
	}

	return errUnsupportedEvent
}

func (g *Gateway) handleController(ctx context.Context, c *client, frame models.Frame) error {
	switch frame.Event {
	case models.EventHeartbeat:
		return nil

	case models.EventPair:
		var msg models.PairMessage
		if err := decode(frame.Data, &msg); err != nil {
			return err
		}

		return g.pair(ctx, c, msg.DeviceID)

	case models.EventUnpair:
		var msg models.PairMessage
		if err := decode(frame.Data, &msg); err != nil {
			return err
		}

		if msg.DeviceID == "" {
			return errDeviceIDRequired
		}

		return g.deps.Registry.Leave(c, models.ControlRoom(msg.DeviceID))

	case models.EventSignal:
		var msg models.ControllerSignalMessage
		if err := decode(frame.Data, &msg); err != nil {
			return err
		}

		if msg.DeviceID == "" {
			return errDeviceIDRequired
		}

		control := models.ControlRoom(msg.DeviceID)
		if !slices.Contains(g.deps.Registry.Rooms(c), control) {
			return errNotPaired
		}

		return g.deps.Relay.Forward(ctx, control, models.DeviceRoom(msg.DeviceID), models.EventSignal, msg.Payload)
	}

	return errUnsupportedEvent
}

// pair joins the controller to the device's control room, acknowledges with
// a paired frame and reports the device's current presence.
func (g *Gateway) pair(ctx context.Context, c *client, deviceID string) error {
	if deviceID == "" {
		return errDeviceIDRequired
	}

	if g.deps.PairAuthorizer != nil {
		if err := g.deps.PairAuthorizer(ctx, c.principal.Subject, deviceID); err != nil {
			g.log.Info().Err(err).Str("user_id", c.principal.Subject).Str("device_id", deviceID).
				Msg("Pairing denied")

			return errPairDenied
		}
	}

	if err := g.deps.Registry.Join(c, models.ControlRoom(deviceID)); err != nil {
		return err
	}

	ack, _ := json.Marshal(models.PairMessage{DeviceID: deviceID})
	_ = c.Send(models.EventPaired, ack)

	online, err := g.deps.Liveness.IsOnline(ctx, deviceID)
	if err != nil {
		g.log.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to read presence")
		return nil
	}

	presence, _ := json.Marshal(models.PresenceMessage{DeviceID: deviceID, Online: online})
	_ = c.Send(models.EventPresence, presence)

	return nil
}
