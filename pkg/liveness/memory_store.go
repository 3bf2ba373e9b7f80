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
	"sync"

	"github.com/carverauto/fleetrelay/pkg/models"
)

// MemoryStore keeps records in process memory. It is used when the process
// runs without a shared broker.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	seq     uint64
}

type memoryRecord struct {
	rec models.LivenessRecord
	rev uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Get(_ context.Context, deviceID string) (*models.LivenessRecord, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[deviceID]
	if !ok {
		return nil, 0, ErrNotFound
	}

	rec := r.rec

	return &rec, r.rev, nil
}

func (s *MemoryStore) Put(_ context.Context, rec *models.LivenessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.records[rec.DeviceID] = memoryRecord{rec: *rec, rev: s.seq}

	return nil
}

func (s *MemoryStore) CompareAndPut(_ context.Context, rec *models.LivenessRecord, revision uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[rec.DeviceID]

	switch {
	case !ok && revision != 0:
		return ErrRevisionConflict
	case ok && current.rev != revision:
		return ErrRevisionConflict
	}

	s.seq++
	s.records[rec.DeviceID] = memoryRecord{rec: *rec, rev: s.seq}

	return nil
}
