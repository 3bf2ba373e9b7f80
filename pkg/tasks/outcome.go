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
	"encoding/json"
	"fmt"

	"github.com/carverauto/fleetrelay/pkg/models"
)

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind string

const (
	OutcomeAccepted      OutcomeKind = "accepted"
	OutcomeCompleted     OutcomeKind = "completed"
	OutcomeFailed        OutcomeKind = "failed"
	OutcomeDeviceOffline OutcomeKind = "device_offline"
	OutcomeTimeout       OutcomeKind = "timeout"
)

// Outcome is the result of a dispatch. Protocol-level results such as an
// offline device or a timeout are values, not errors.
type Outcome struct {
	Kind   OutcomeKind     `json:"kind"`
	TaskID string          `json:"task_id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Err maps failure kinds onto the package sentinel errors and returns nil for
// accepted and completed outcomes.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeDeviceOffline:
		return ErrDeviceOffline
	case OutcomeTimeout:
		return ErrTimeout
	case OutcomeFailed:
		if o.Reason == "" {
			return ErrDeviceFailure
		}

		return fmt.Errorf("%w: %s", ErrDeviceFailure, o.Reason)
	case OutcomeAccepted, OutcomeCompleted:
		return nil
	default:
		return nil
	}
}

// outcomeFromTask converts a terminal task into the caller's outcome.
func outcomeFromTask(t *models.Task) Outcome {
	o := Outcome{TaskID: t.ID, Result: t.Result, Reason: t.Reason}

	switch t.Status {
	case models.TaskCompleted:
		o.Kind = OutcomeCompleted
	case models.TaskFailed:
		o.Kind = OutcomeFailed
	case models.TaskExpired, models.TaskPending:
		o.Kind = OutcomeTimeout
	}

	return o
}
