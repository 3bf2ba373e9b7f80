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

// Package liveness derives device online/offline state from heartbeats.
// Staleness is resolved lazily when the state is read; there is no sweep.
package liveness

import (
	"context"
	"errors"
	"time"

	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
)

//go:generate mockgen -destination=mock_liveness.go -package=liveness github.com/carverauto/fleetrelay/pkg/liveness Store

var (
	ErrNotFound         = errors.New("liveness record not found")
	ErrRevisionConflict = errors.New("liveness record changed concurrently")
	ErrEmptyDeviceID    = errors.New("device id is required")
)

// DefaultWindow is the silence after which an online device is demoted.
const DefaultWindow = models.DefaultLivenessWindow

// maxCASAttempts bounds the read-modify-write retries against concurrent writers.
const maxCASAttempts = 3

// Store persists liveness records with a revision for compare-and-swap.
type Store interface {
	// Get returns the record and its revision, or ErrNotFound.
	Get(ctx context.Context, deviceID string) (*models.LivenessRecord, uint64, error)
	Put(ctx context.Context, rec *models.LivenessRecord) error
	// CompareAndPut writes rec only if the stored revision still equals
	// revision; revision 0 means the record must not exist yet.
	CompareAndPut(ctx context.Context, rec *models.LivenessRecord, revision uint64) error
}

// Tracker is safe for concurrent use.
type Tracker struct {
	store  Store
	window time.Duration
	now    func() time.Time
	log    logger.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWindow sets the liveness window. Non-positive values are ignored.
func WithWindow(window time.Duration) Option {
	return func(t *Tracker) {
		if window > 0 {
			t.window = window
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(t *Tracker) {
		t.log = logger.Component(log, "liveness")
	}
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		window: DefaultWindow,
		now:    time.Now,
		log:    logger.Component(nil, "liveness"),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Window returns the configured liveness window.
func (t *Tracker) Window() time.Duration { return t.window }

// MarkSeen records a heartbeat or authentication: last-seen becomes now and
// the device is online. It returns the recorded time.
func (t *Tracker) MarkSeen(ctx context.Context, deviceID string) (time.Time, error) {
	if deviceID == "" {
		return time.Time{}, ErrEmptyDeviceID
	}

	now := t.now().UTC()

	err := t.store.Put(ctx, &models.LivenessRecord{
		DeviceID: deviceID,
		Status:   models.DeviceOnline,
		LastSeen: now,
	})
	if err != nil {
		return time.Time{}, err
	}

	return now, nil
}

// IsOnline reports status == online && now - last_seen <= window. A stored
// online status whose window has lapsed is demoted to offline before
// returning false.
func (t *Tracker) IsOnline(ctx context.Context, deviceID string) (bool, error) {
	rec, err := t.Status(ctx, deviceID)
	if err != nil {
		return false, err
	}

	return rec.Status == models.DeviceOnline, nil
}

// Status returns the current record after lazy demotion. Unknown devices are
// reported offline with a zero LastSeen.
func (t *Tracker) Status(ctx context.Context, deviceID string) (models.LivenessRecord, error) {
	if deviceID == "" {
		return models.LivenessRecord{}, ErrEmptyDeviceID
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		rec, rev, err := t.store.Get(ctx, deviceID)
		if errors.Is(err, ErrNotFound) {
			return models.LivenessRecord{DeviceID: deviceID, Status: models.DeviceOffline}, nil
		}

		if err != nil {
			return models.LivenessRecord{}, err
		}

		if rec.Status != models.DeviceOnline || t.now().Sub(rec.LastSeen) <= t.window {
			return *rec, nil
		}

		demoted := *rec
		demoted.Status = models.DeviceOffline

		err = t.store.CompareAndPut(ctx, &demoted, rev)
		if err == nil {
			t.log.Debug().Str("device_id", deviceID).Time("last_seen", rec.LastSeen).
				Msg("Demoted stale device to offline")

			return demoted, nil
		}

		if !errors.Is(err, ErrRevisionConflict) {
			return models.LivenessRecord{}, err
		}
		// A concurrent writer won; re-read and evaluate its record.
	}

	return models.LivenessRecord{DeviceID: deviceID, Status: models.DeviceOffline}, nil
}

// MarkOffline demotes the device on a clean transport close. When seenAt is
// non-zero the demotion is skipped if the device has been seen after seenAt,
// which means another connection is still reporting for it. It reports
// whether the record was demoted.
func (t *Tracker) MarkOffline(ctx context.Context, deviceID string, seenAt time.Time) (bool, error) {
	if deviceID == "" {
		return false, ErrEmptyDeviceID
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		rec, rev, err := t.store.Get(ctx, deviceID)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}

		if err != nil {
			return false, err
		}

		if rec.Status == models.DeviceOffline {
			return false, nil
		}

		if !seenAt.IsZero() && rec.LastSeen.After(seenAt) {
			return false, nil
		}

		demoted := *rec
		demoted.Status = models.DeviceOffline

		err = t.store.CompareAndPut(ctx, &demoted, rev)
		if err == nil {
			return true, nil
		}

		if !errors.Is(err, ErrRevisionConflict) {
			return false, err
		}
	}

	return false, ErrRevisionConflict
}
