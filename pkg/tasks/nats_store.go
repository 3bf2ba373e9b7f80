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
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/natsutil"
)

const (
	maxTransitionAttempts = 5
	// limitMarkerTTL enables per-key TTLs on the bucket.
	limitMarkerTTL = time.Second
)

// NATSStore keeps tasks in a JetStream KV bucket shared by every process.
// Pending tasks carry a per-key TTL; the bucket max age caps terminal records.
type NATSStore struct {
	kv jetstream.KeyValue
}

// NewNATSStore ensures bucket exists. maxAge bounds how long any record,
// including resolved ones, is retained.
func NewNATSStore(ctx context.Context, js jetstream.JetStream, bucket string, maxAge time.Duration) (*NATSStore, error) {
	kv, err := natsutil.EnsureKeyValue(ctx, js, jetstream.KeyValueConfig{
		Bucket:         bucket,
		Description:    "fleetrelay correlated tasks",
		Storage:        jetstream.MemoryStorage,
		TTL:            maxAge,
		LimitMarkerTTL: limitMarkerTTL,
	})
	if err != nil {
		return nil, err
	}

	return &NATSStore{kv: kv}, nil
}

func (s *NATSStore) Create(ctx context.Context, task *models.Task, ttl time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	_, err = s.kv.Create(ctx, natsutil.EncodeKey(task.ID), data, jetstream.KeyTTL(ttl))
	if natsutil.IsWrongRevision(err) {
		return ErrTaskExists
	}

	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.ID, err)
	}

	return nil
}

func (s *NATSStore) Get(ctx context.Context, id string) (*models.Task, error) {
	task, _, err := s.get(ctx, id)

	return task, err
}

func (s *NATSStore) get(ctx context.Context, id string) (*models.Task, uint64, error) {
	entry, err := s.kv.Get(ctx, natsutil.EncodeKey(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, 0, ErrTaskNotFound
	}

	if err != nil {
		return nil, 0, fmt.Errorf("failed to get task %s: %w", id, err)
	}

	var task models.Task
	if err := json.Unmarshal(entry.Value(), &task); err != nil {
		return nil, 0, fmt.Errorf("failed to decode task %s: %w", id, err)
	}

	return &task, entry.Revision(), nil
}

// Transition performs a read-check-update loop guarded by the entry revision,
// so concurrent resolvers on different processes cannot both succeed.
func (s *NATSStore) Transition(ctx context.Context, id, deviceID string, to models.TaskStatus,
	result json.RawMessage, reason string, at time.Time) (*models.Task, bool, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		task, rev, err := s.get(ctx, id)
		if err != nil {
			return nil, false, err
		}

		if !transitionAllowed(task, deviceID) {
			return task, false, nil
		}

		applyTransition(task, to, result, reason, at)

		data, err := json.Marshal(task)
		if err != nil {
			return nil, false, err
		}

		_, err = s.kv.Update(ctx, natsutil.EncodeKey(id), data, rev)
		if err == nil {
			return task, true, nil
		}

		if !natsutil.IsWrongRevision(err) {
			return nil, false, fmt.Errorf("failed to update task %s: %w", id, err)
		}
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	return task, false, nil
}
