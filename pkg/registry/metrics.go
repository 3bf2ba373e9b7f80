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

package registry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

const (
	metricConnectionsName = "fleetrelay_registry_connections"
	metricRoomsName       = "fleetrelay_registry_rooms"
)

// RegisterMetrics exposes connection and room counts as observable gauges.
// The returned registration must be unregistered when the registry is discarded.
func (r *Registry) RegisterMetrics(meter metric.Meter) (metric.Registration, error) {
	connections, err := meter.Int64ObservableGauge(
		metricConnectionsName,
		metric.WithDescription("Connections registered on this process"),
	)
	if err != nil {
		return nil, err
	}

	rooms, err := meter.Int64ObservableGauge(
		metricRoomsName,
		metric.WithDescription("Rooms with at least one local member"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(connections, int64(r.Count()))
		o.ObserveInt64(rooms, int64(r.RoomCount()))

		return nil
	}, connections, rooms)
}
