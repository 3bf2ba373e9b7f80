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
	"context"
	"encoding/json"

	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/tasks"
)

//go:generate mockgen -destination=mock_api.go -package=api github.com/carverauto/fleetrelay/pkg/api Dispatcher,LivenessReader,Publisher

// Dispatcher issues commands to devices; satisfied by *tasks.Engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceID, commandType string, payload json.RawMessage, opts tasks.Options) (tasks.Outcome, error)
	Task(ctx context.Context, id string) (*models.Task, error)
}

// LivenessReader reports device presence; satisfied by *liveness.Tracker.
type LivenessReader interface {
	Status(ctx context.Context, deviceID string) (models.LivenessRecord, error)
}

// Publisher addresses a room; satisfied by *fabric.Fabric.
type Publisher interface {
	Publish(ctx context.Context, room models.Room, event string, payload json.RawMessage) error
}
