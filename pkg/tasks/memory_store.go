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
	"sync"
	"time"

	"github.com/carverauto/fleetrelay/pkg/models"
)

// MemoryStore keeps tasks in process memory and evicts each one when its TTL
// lapses. It is used when the process runs without a shared broker.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*memoryTask
	now   func() time.Time
}

type memoryTask struct {
	task      models.Task
	expiresAt time.Time
	timer     *time.Timer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*memoryTask),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, task *models.Task, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(task.ID); ok {
		return ErrTaskExists
	}

	id := task.ID
	s.tasks[id] = &memoryTask{
		task:      *task,
		expiresAt: s.now().Add(ttl),
		timer: time.AfterFunc(ttl, func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			if mt, ok := s.tasks[id]; ok && !s.now().Before(mt.expiresAt) {
				delete(s.tasks, id)
			}
		}),
	}

	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mt, ok := s.live(id)
	if !ok {
		return nil, ErrTaskNotFound
	}

	t := mt.task

	return &t, nil
}

func (s *MemoryStore) Transition(_ context.Context, id, deviceID string, to models.TaskStatus,
	result json.RawMessage, reason string, at time.Time) (*models.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mt, ok := s.live(id)
	if !ok {
		return nil, false, ErrTaskNotFound
	}

	if !transitionAllowed(&mt.task, deviceID) {
		t := mt.task
		return &t, false, nil
	}

	applyTransition(&mt.task, to, result, reason, at)

	t := mt.task

	return &t, true, nil
}

// Len returns the number of live tasks.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tasks)
}

// live must be called with mu held. Expired entries are evicted on access.
func (s *MemoryStore) live(id string) (*memoryTask, bool) {
	mt, ok := s.tasks[id]
	if !ok {
		return nil, false
	}

	if !s.now().Before(mt.expiresAt) {
		mt.timer.Stop()
		delete(s.tasks, id)

		return nil, false
	}

	return mt, true
}
