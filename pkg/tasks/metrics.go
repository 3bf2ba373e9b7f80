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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/carverauto/fleetrelay/pkg/tasks"

type engineMetrics struct {
	dispatches metric.Int64Counter
	orphans    metric.Int64Counter
	wait       metric.Float64Histogram
}

func newEngineMetrics(meter metric.Meter) *engineMetrics {
	m := &engineMetrics{}

	var err error

	m.dispatches, err = meter.Int64Counter(
		"fleetrelay_task_dispatches",
		metric.WithDescription("Dispatched commands by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	m.orphans, err = meter.Int64Counter(
		"fleetrelay_task_orphan_responses",
		metric.WithDescription("Responses discarded because their task was missing, terminal or owned by another device"),
	)
	if err != nil {
		otel.Handle(err)
	}

	m.wait, err = meter.Float64Histogram(
		"fleetrelay_task_wait_ms",
		metric.WithDescription("Time callers spent waiting for a correlated response"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return m
}

func (m *engineMetrics) recordDispatch(ctx context.Context, kind OutcomeKind, commandType string) {
	if m.dispatches == nil {
		return
	}

	m.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(kind)),
		attribute.String("command_type", commandType),
	))
}

func (m *engineMetrics) recordOrphan(ctx context.Context, reason string) {
	if m.orphans == nil {
		return
	}

	m.orphans.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *engineMetrics) recordWait(ctx context.Context, d time.Duration, kind OutcomeKind) {
	if m.wait == nil {
		return
	}

	m.wait.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("outcome", string(kind)),
	))
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func defaultMeter() metric.Meter {
	return otel.Meter(instrumentationName)
}
