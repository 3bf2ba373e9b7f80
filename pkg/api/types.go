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

package api

import (
	"encoding/json"
	"time"
)

// CommandRequest is the body of POST /api/devices/{id}/commands.
type CommandRequest struct {
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ExpectsResponse bool            `json:"expects_response"`
	TimeoutMS       int64           `json:"timeout_ms,omitempty"`
	Issuer          string          `json:"issuer,omitempty"`
}

// CommandResponse reports the outcome of a dispatch.
type CommandResponse struct {
	Status        string          `json:"status"`
	DeviceID      string          `json:"device_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// DeviceStatusResponse is the body of GET /api/devices/{id}/status.
type DeviceStatusResponse struct {
	DeviceID string     `json:"device_id"`
	Online   bool       `json:"online"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// RoomEventRequest is the body of POST /api/rooms/{room}/events.
type RoomEventRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomEventResponse acknowledges a published room event.
type RoomEventResponse struct {
	Room  string `json:"room"`
	Event string `json:"event"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
