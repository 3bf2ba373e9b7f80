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

package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/natsutil"
)

// NATSStore keeps records in a JetStream KV bucket shared by every process.
// Keys are base64url-encoded device IDs.
type NATSStore struct {
	kv jetstream.KeyValue
}

// NewNATSStore ensures bucket exists and returns a store over it.
func NewNATSStore(ctx context.Context, js jetstream.JetStream, bucket string) (*NATSStore, error) {
	kv, err := natsutil.EnsureKeyValue(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "fleetrelay device liveness",
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, err
	}

	return &NATSStore{kv: kv}, nil
}

func (s *NATSStore) Get(ctx context.Context, deviceID string) (*models.LivenessRecord, uint64, error) {
	entry, err := s.kv.Get(ctx, natsutil.EncodeKey(deviceID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, ErrNotFound
	}

	if err != nil {
		return nil, 0, fmt.Errorf("failed to get liveness for %s: %w", deviceID, err)
	}

	var rec models.LivenessRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, 0, fmt.Errorf("failed to decode liveness for %s: %w", deviceID, err)
	}

	return &rec, entry.Revision(), nil
}

func (s *NATSStore) Put(ctx context.Context, rec *models.LivenessRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if _, err := s.kv.Put(ctx, natsutil.EncodeKey(rec.DeviceID), data); err != nil {
		return fmt.Errorf("failed to put liveness for %s: %w", rec.DeviceID, err)
	}

	return nil
}

func (s *NATSStore) CompareAndPut(ctx context.Context, rec *models.LivenessRecord, revision uint64) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := natsutil.EncodeKey(rec.DeviceID)

	if revision == 0 {
		_, err = s.kv.Create(ctx, key, data)
	} else {
		_, err = s.kv.Update(ctx, key, data, revision)
	}

	if natsutil.IsWrongRevision(err) {
		return ErrRevisionConflict
	}

	if err != nil {
		return fmt.Errorf("failed to update liveness for %s: %w", rec.DeviceID, err)
	}

	return nil
}
