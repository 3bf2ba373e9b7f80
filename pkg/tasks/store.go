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

package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/carverauto/fleetrelay/pkg/models"
)

//go:generate mockgen -destination=mock_tasks.go -package=tasks github.com/carverauto/fleetrelay/pkg/tasks Store,Publisher,LivenessChecker

// Store persists task records in an ephemeral, TTL-bearing store.
type Store interface {
	// Create writes a new pending task that disappears after ttl.
	Create(ctx context.Context, task *models.Task, ttl time.Duration) error
	// Get returns the task or ErrTaskNotFound.
	Get(ctx context.Context, id string) (*models.Task, error)
	// Transition atomically moves a pending task owned by deviceID to the
	// terminal status to. It returns the stored task and true when this call
	// made the transition, or the current task and false when the task is
	// already terminal or belongs to another device. Missing tasks return
	// ErrTaskNotFound.
	Transition(ctx context.Context, id, deviceID string, to models.TaskStatus,
		result json.RawMessage, reason string, at time.Time) (*models.Task, bool, error)
}

// Publisher addresses a room; satisfied by *fabric.Fabric.
type Publisher interface {
	Publish(ctx context.Context, room models.Room, event string, payload json.RawMessage) error
}

// LivenessChecker answers whether a device is online; satisfied by *liveness.Tracker.
type LivenessChecker interface {
	IsOnline(ctx context.Context, deviceID string) (bool, error)
}

// applyTransition mutates a pending task in place. Callers hold the store's
// atomicity guarantee.
func applyTransition(t *models.Task, to models.TaskStatus, result json.RawMessage, reason string, at time.Time) {
	resolved := at.UTC()
	t.Status = to
	t.Result = result
	t.Reason = reason
	t.ResolvedAt = &resolved
}

// transitionAllowed reports whether deviceID may move t out of pending.
func transitionAllowed(t *models.Task, deviceID string) bool {
	return t.Status == models.TaskPending && t.DeviceID == deviceID
}
