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

// Package registry tracks the connections held by this process and the rooms
// they have joined. Membership is process-local; cross-process delivery is the
// fabric's job.
package registry

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/carverauto/fleetrelay/pkg/models"
)

var (
	ErrNotRegistered     = errors.New("connection not registered")
	ErrTooManyRooms      = errors.New("connection room limit reached")
	ErrNilConnection     = errors.New("connection is nil")
	ErrAlreadyRegistered = errors.New("connection already registered")
)

// DefaultMaxRooms bounds the number of rooms a single connection may join.
const DefaultMaxRooms = models.DefaultMaxRooms

// Connection is a live transport endpoint owned by this process.
type Connection interface {
	ID() string
	// Send queues an event for the peer. It must not block on network I/O.
	Send(event string, payload json.RawMessage) error
}

// Identity is the logical identity bound to a connection at authentication.
// Exactly one of DeviceID and UserID is normally set.
type Identity struct {
	DeviceID string
	UserID   string
}

// ConnectionInfo is a snapshot of a registered connection.
type ConnectionInfo struct {
	ID        string
	Identity  Identity
	Rooms     []models.Room
	CreatedAt time.Time
}

type entry struct {
	conn      Connection
	identity  Identity
	rooms     map[models.Room]struct{}
	createdAt time.Time
}

// Registry is safe for concurrent use. A single lock guards both indexes so
// Remove is atomic with respect to LocalConnectionsIn.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*entry
	rooms    map[models.Room]map[string]Connection
	maxRooms int
	now      func() time.Time
}

// New creates an empty registry. maxRooms <= 0 selects DefaultMaxRooms.
func New(maxRooms int) *Registry {
	if maxRooms <= 0 {
		maxRooms = DefaultMaxRooms
	}

	return &Registry{
		conns:    make(map[string]*entry),
		rooms:    make(map[models.Room]map[string]Connection),
		maxRooms: maxRooms,
		now:      time.Now,
	}
}

// Register binds identity to conn. Registering the same connection twice is an error.
func (r *Registry) Register(conn Connection, identity Identity) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID()]; ok {
		return ErrAlreadyRegistered
	}

	r.conns[conn.ID()] = &entry{
		conn:      conn,
		identity:  identity,
		rooms:     make(map[models.Room]struct{}),
		createdAt: r.now(),
	}

	return nil
}

// Join adds conn to room. Joining a room twice is a no-op.
func (r *Registry) Join(conn Connection, room models.Room) error {
	if _, _, err := room.Split(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn.ID()]
	if !ok {
		return ErrNotRegistered
	}

	if _, member := e.rooms[room]; member {
		return nil
	}

	if len(e.rooms) >= r.maxRooms {
		return ErrTooManyRooms
	}

	e.rooms[room] = struct{}{}

	members := r.rooms[room]
	if members == nil {
		members = make(map[string]Connection)
		r.rooms[room] = members
	}

	members[conn.ID()] = conn

	return nil
}

// Leave removes conn from room. Leaving a room the connection never joined is a no-op.
func (r *Registry) Leave(conn Connection, room models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn.ID()]
	if !ok {
		return ErrNotRegistered
	}

	delete(e.rooms, room)
	r.dropMember(room, conn.ID())

	return nil
}

// LocalConnectionsIn returns a snapshot of the local members of room.
func (r *Registry) LocalConnectionsIn(room models.Room) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	if len(members) == 0 {
		return nil
	}

	out := make([]Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}

	return out
}

// Remove forgets conn and drops it from every room it joined. It returns the
// rooms the connection was in. Unknown connections return nil.
func (r *Registry) Remove(conn Connection) []models.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn.ID()]
	if !ok {
		return nil
	}

	rooms := make([]models.Room, 0, len(e.rooms))
	for room := range e.rooms {
		r.dropMember(room, conn.ID())
		rooms = append(rooms, room)
	}

	delete(r.conns, conn.ID())
	sortRooms(rooms)

	return rooms
}

// dropMember must be called with mu held.
func (r *Registry) dropMember(room models.Room, connID string) {
	members := r.rooms[room]
	if members == nil {
		return
	}

	delete(members, connID)

	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Identity returns the identity bound to conn.
func (r *Registry) Identity(conn Connection) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[conn.ID()]
	if !ok {
		return Identity{}, false
	}

	return e.identity, true
}

// Rooms returns the sorted rooms conn has joined.
func (r *Registry) Rooms(conn Connection) []models.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[conn.ID()]
	if !ok {
		return nil
	}

	rooms := make([]models.Room, 0, len(e.rooms))
	for room := range e.rooms {
		rooms = append(rooms, room)
	}

	sortRooms(rooms)

	return rooms
}

// Info returns a snapshot of conn's registration.
func (r *Registry) Info(conn Connection) (ConnectionInfo, bool) {
	r.mu.RLock()
	e, ok := r.conns[conn.ID()]
	if !ok {
		r.mu.RUnlock()
		return ConnectionInfo{}, false
	}

	info := ConnectionInfo{ID: conn.ID(), Identity: e.identity, CreatedAt: e.createdAt}
	r.mu.RUnlock()

	info.Rooms = r.Rooms(conn)

	return info, true
}

// HasLocal reports whether any local connection is joined to room.
func (r *Registry) HasLocal(room models.Room) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[room]) > 0
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// RoomCount returns the number of rooms with at least one local member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

func sortRooms(rooms []models.Room) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
}
