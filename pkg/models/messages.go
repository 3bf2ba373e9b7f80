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

import "encoding/json"

// Event names exchanged with devices and controllers.
const (
	EventCommand      = "command"
	EventResponse     = "response"
	EventHeartbeat    = "heartbeat"
	EventStatus       = "status"
	EventStatusUpdate = "statusUpdate"
	EventSignal       = "signal"
	EventPair         = "pair"
	EventUnpair       = "unpair"
	EventPaired       = "paired"
	EventPresence     = "presence"
	EventWelcome      = "welcome"
	EventError        = "error"
)

// Frame is the JSON envelope of every WebSocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CommandMessage is published to device:<id> for every dispatched command.
type CommandMessage struct {
	CorrelationID string          `json:"correlationId"`
	CommandType   string          `json:"commandType"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ResponseMessage is sent by a device to answer a command. A non-empty Error
// marks the command as failed on the device side.
type ResponseMessage struct {
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
}

type StatusMessage struct {
	Payload json.RawMessage `json:"payload"`
}

// DeviceSignalMessage carries an opaque negotiation payload from a device.
type DeviceSignalMessage struct {
	ToRoom  string          `json:"toRoom"`
	Payload json.RawMessage `json:"payload"`
}

// ControllerSignalMessage carries an opaque negotiation payload from a controller.
type ControllerSignalMessage struct {
	DeviceID string          `json:"deviceId"`
	Payload  json.RawMessage `json:"payload"`
}

type PairMessage struct {
	DeviceID string `json:"deviceId"`
}

type PresenceMessage struct {
	DeviceID string `json:"deviceId"`
	Online   bool   `json:"online"`
}

type WelcomeMessage struct {
	ConnectionID string `json:"connectionId"`
	Role         string `json:"role"`
	Subject      string `json:"subject"`
}

type ErrorMessage struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// ErrorResponse represents a REST error response.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}
