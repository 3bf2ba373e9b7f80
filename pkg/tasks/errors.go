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

import "errors"

var (
	// ErrDeviceOffline is returned by Outcome.Err when the target device was not online.
	ErrDeviceOffline = errors.New("device offline")
	// ErrTimeout is returned by Outcome.Err when no response arrived before the deadline.
	ErrTimeout = errors.New("task timed out")
	// ErrDeviceFailure is returned by Outcome.Err when the device reported an error.
	ErrDeviceFailure = errors.New("device reported failure")
	// ErrTaskNotFound is returned by stores for unknown or expired tasks.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidCommand rejects a dispatch with a missing device, type or a negative timeout.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrTimeoutTooLarge rejects a dispatch whose timeout exceeds the configured maximum.
	ErrTimeoutTooLarge = errors.New("timeout exceeds maximum")
	// ErrTaskExists is returned by Store.Create for a duplicate correlation ID.
	ErrTaskExists = errors.New("task already exists")

	errEngineStarted = errors.New("engine already started")
)
