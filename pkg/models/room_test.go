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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomConstructors(t *testing.T) {
	assert.Equal(t, Room("device:d1"), DeviceRoom("d1"))
	assert.Equal(t, Room("user:u1"), UserRoom("u1"))
	assert.Equal(t, Room("control:d1"), ControlRoom("d1"))
}

func TestParseRoom(t *testing.T) {
	tests := []struct {
		in       string
		kind     RoomKind
		target   string
		wantFail bool
	}{
		{in: "device:d1", kind: RoomKindDevice, target: "d1"},
		{in: "user:alice@example.com", kind: RoomKindUser, target: "alice@example.com"},
		{in: "control:a:b", kind: RoomKindControl, target: "a:b"},
		{in: "device:", wantFail: true},
		{in: "lobby", wantFail: true},
		{in: "team:x", wantFail: true},
		{in: "", wantFail: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			r, err := ParseRoom(tc.in)
			if tc.wantFail {
				require.ErrorIs(t, err, ErrInvalidRoom)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.kind, r.Kind())
			assert.Equal(t, tc.target, r.Target())
			assert.Equal(t, tc.in, r.String())
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, TaskPending.Terminal())
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, TaskExpired.Terminal())
}
