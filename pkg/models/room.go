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
	"errors"
	"strings"
)

// ErrInvalidRoom is returned when a room string has no known prefix or no target.
var ErrInvalidRoom = errors.New("invalid room")

// RoomKind is the addressing class of a room.
type RoomKind string

const (
	RoomKindDevice  RoomKind = "device"
	RoomKindUser    RoomKind = "user"
	RoomKindControl RoomKind = "control"
)

const roomSeparator = ":"

// Room is a logical broadcast address such as "device:<id>", "user:<id>" or
// "control:<device-id>". Rooms are never stored; they join local membership
// to cross-process fan-out.
type Room string

func newRoom(kind RoomKind, target string) Room {
	return Room(string(kind) + roomSeparator + target)
}

// DeviceRoom addresses every connection of a device.
func DeviceRoom(deviceID string) Room { return newRoom(RoomKindDevice, deviceID) }

// UserRoom addresses every connection of a controller user.
func UserRoom(userID string) Room { return newRoom(RoomKindUser, userID) }

// ControlRoom addresses every controller paired with a device.
func ControlRoom(deviceID string) Room { return newRoom(RoomKindControl, deviceID) }

// ParseRoom validates s and returns it as a Room.
func ParseRoom(s string) (Room, error) {
	r := Room(s)
	if _, _, err := r.Split(); err != nil {
		return "", err
	}

	return r, nil
}

// Split returns the kind and target of the room.
func (r Room) Split() (RoomKind, string, error) {
	kind, target, ok := strings.Cut(string(r), roomSeparator)
	if !ok || target == "" {
		return "", "", ErrInvalidRoom
	}

	switch RoomKind(kind) {
	case RoomKindDevice, RoomKindUser, RoomKindControl:
		return RoomKind(kind), target, nil
	default:
		return "", "", ErrInvalidRoom
	}
}

// Kind returns the room kind, or "" for a malformed room.
func (r Room) Kind() RoomKind {
	kind, _, _ := r.Split()
	return kind
}

// Target returns the identity part of the room, or "" for a malformed room.
func (r Room) Target() string {
	_, target, _ := r.Split()
	return target
}

func (r Room) String() string { return string(r) }
