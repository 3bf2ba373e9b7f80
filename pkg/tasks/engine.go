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

// Package tasks correlates commands sent to devices with their asynchronous
// responses. A task record in a TTL store is the source of truth; the waiting
// caller is resumed by whichever comes first, the response or the deadline.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/fleetrelay/pkg/broker"
	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/natsutil"
)

// expireTimeout bounds the store write made when a deadline fires.
const expireTimeout = 5 * time.Second

// Options are per-dispatch settings.
type Options struct {
	ExpectsResponse bool
	// Timeout is the wait for a response. Zero selects the engine default.
	Timeout  time.Duration
	IssuerID string
}

// Config configures an Engine.
type Config struct {
	// ProcessID stamps tasks with their owner so resolutions on another
	// process can be routed back. Generated when empty.
	ProcessID     string
	SubjectPrefix string
	// Broker carries resolutions between processes. Nil keeps the engine local.
	Broker         broker.Broker
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	// Grace is added to the wait when computing the store TTL.
	Grace  time.Duration
	Logger logger.Logger
	Meter  metric.Meter
	Tracer trace.Tracer
}

// Engine is safe for concurrent use.
type Engine struct {
	store    Store
	pub      Publisher
	liveness LivenessChecker
	broker   broker.Broker

	procID         string
	prefix         string
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	grace          time.Duration
	now            func() time.Time

	log     logger.Logger
	metrics *engineMetrics
	tracer  trace.Tracer

	mu      sync.Mutex
	waiters map[string]chan *models.Task
	sub     broker.Subscription

	orphans atomic.Int64
}

// NewEngine wires an engine over its collaborators.
func NewEngine(store Store, pub Publisher, live LivenessChecker, cfg Config) *Engine {
	if cfg.ProcessID == "" {
		cfg.ProcessID = uuid.New().String()
	}

	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = models.DefaultSubjectPrefix
	}

	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = models.DefaultTaskTimeout
	}

	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = models.DefaultMaxTaskTimeout
	}

	if cfg.Grace <= 0 {
		cfg.Grace = models.DefaultTaskGrace
	}

	if cfg.Meter == nil {
		cfg.Meter = defaultMeter()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = defaultTracer()
	}

	return &Engine{
		store:          store,
		pub:            pub,
		liveness:       live,
		broker:         cfg.Broker,
		procID:         cfg.ProcessID,
		prefix:         cfg.SubjectPrefix,
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
		grace:          cfg.Grace,
		now:            time.Now,
		log:            logger.Component(cfg.Logger, "tasks"),
		metrics:        newEngineMetrics(cfg.Meter),
		tracer:         cfg.Tracer,
		waiters:        make(map[string]chan *models.Task),
	}
}

// resolvedSubject is where resolutions for tasks owned by procID are sent.
func (e *Engine) resolvedSubject(procID string) string {
	return fmt.Sprintf("%s.tasks.resolved.%s", e.prefix, natsutil.EncodeKey(procID))
}

// Start subscribes to resolutions routed to this process.
func (e *Engine) Start() error {
	if e.broker == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub != nil {
		return errEngineStarted
	}

	sub, err := e.broker.Subscribe(e.resolvedSubject(e.procID), e.handleResolved)
	if err != nil {
		return fmt.Errorf("task resolution subscribe: %w", err)
	}

	e.sub = sub

	return nil
}

// Stop drops the resolution subscription. Callers still waiting fall back to
// their deadlines.
func (e *Engine) Stop() error {
	e.mu.Lock()
	sub := e.sub
	e.sub = nil
	e.mu.Unlock()

	if sub == nil {
		return nil
	}

	return sub.Unsubscribe()
}

// Dispatch sends a command to deviceID. Offline devices fail fast without a
// task. Fire-and-forget commands return Accepted once published. Otherwise
// the calling goroutine waits for the response, a device failure, the
// deadline or ctx, whichever comes first. A canceled ctx only ends the wait;
// the task remains pending until its TTL.
func (e *Engine) Dispatch(ctx context.Context, deviceID, commandType string, payload json.RawMessage, opts Options) (Outcome, error) {
	timeout, err := e.validate(deviceID, commandType, opts)
	if err != nil {
		return Outcome{}, err
	}

	ctx, span := e.tracer.Start(ctx, "tasks.Dispatch", trace.WithAttributes(
		attribute.String("device_id", deviceID),
		attribute.String("command_type", commandType),
		attribute.Bool("expects_response", opts.ExpectsResponse),
	))
	defer span.End()

	outcome, err := e.dispatch(ctx, deviceID, commandType, payload, opts, timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return outcome, err
	}

	span.SetAttributes(attribute.String("outcome", string(outcome.Kind)), attribute.String("task_id", outcome.TaskID))
	e.metrics.recordDispatch(ctx, outcome.Kind, commandType)

	return outcome, nil
}

func (e *Engine) validate(deviceID, commandType string, opts Options) (time.Duration, error) {
	if deviceID == "" || commandType == "" {
		return 0, fmt.Errorf("%w: device id and command type are required", ErrInvalidCommand)
	}

	timeout := opts.Timeout

	switch {
	case timeout < 0:
		return 0, fmt.Errorf("%w: negative timeout", ErrInvalidCommand)
	case timeout == 0:
		timeout = e.defaultTimeout
	case timeout > e.maxTimeout:
		return 0, fmt.Errorf("%w: %s > %s", ErrTimeoutTooLarge, timeout, e.maxTimeout)
	}

	return timeout, nil
}

func (e *Engine) dispatch(ctx context.Context, deviceID, commandType string, payload json.RawMessage,
	opts Options, timeout time.Duration) (Outcome, error) {
	online, err := e.liveness.IsOnline(ctx, deviceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("liveness check: %w", err)
	}

	if !online {
		return Outcome{Kind: OutcomeDeviceOffline}, nil
	}

	id := uuid.New().String()

	cmd, err := json.Marshal(models.CommandMessage{CorrelationID: id, CommandType: commandType, Payload: payload})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	room := models.DeviceRoom(deviceID)

	if !opts.ExpectsResponse {
		if err := e.pub.Publish(ctx, room, models.EventCommand, cmd); err != nil {
			return Outcome{}, fmt.Errorf("publish command: %w", err)
		}

		return Outcome{Kind: OutcomeAccepted, TaskID: id}, nil
	}

	now := e.now().UTC()
	task := &models.Task{
		ID:          id,
		DeviceID:    deviceID,
		IssuerID:    opts.IssuerID,
		Type:        commandType,
		Status:      models.TaskPending,
		CreatedAt:   now,
		Deadline:    now.Add(timeout),
		OwnerProcID: e.procID,
	}

	// The waiter and the record exist before the command leaves, so an
	// immediate response always finds both.
	ch := e.addWaiter(id)
	defer e.removeWaiter(id)

	if err := e.store.Create(ctx, task, timeout+e.grace); err != nil {
		return Outcome{}, fmt.Errorf("create task: %w", err)
	}

	if err := e.pub.Publish(ctx, room, models.EventCommand, cmd); err != nil {
		e.abandon(ctx, task, err)
		return Outcome{}, fmt.Errorf("publish command: %w", err)
	}

	return e.wait(ctx, task, ch, timeout)
}

func (e *Engine) wait(ctx context.Context, task *models.Task, ch <-chan *models.Task, timeout time.Duration) (Outcome, error) {
	started := time.Now()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var outcome Outcome

	select {
	case resolved := <-ch:
		outcome = outcomeFromTask(resolved)
	case <-timer.C:
		outcome = e.expire(ctx, task)
	case <-ctx.Done():
		e.log.Debug().Str("task_id", task.ID).Err(ctx.Err()).Msg("Caller stopped waiting, task left to expire")
		return Outcome{TaskID: task.ID}, ctx.Err()
	}

	e.metrics.recordWait(ctx, time.Since(started), outcome.Kind)

	return outcome, nil
}

// expire moves the task to expired. When a resolution won the race the
// stored terminal state is returned instead.
func (e *Engine) expire(ctx context.Context, task *models.Task) Outcome {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), expireTimeout)
	defer cancel()

	current, transitioned, err := e.store.Transition(storeCtx, task.ID, task.DeviceID, models.TaskExpired, nil, "timeout", e.now())
	if err != nil {
		if !errors.Is(err, ErrTaskNotFound) {
			e.log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to mark task expired")
		}

		return Outcome{Kind: OutcomeTimeout, TaskID: task.ID}
	}

	if transitioned {
		return Outcome{Kind: OutcomeTimeout, TaskID: task.ID, Reason: current.Reason}
	}

	return outcomeFromTask(current)
}

// abandon fails a task whose command could not be published.
func (e *Engine) abandon(ctx context.Context, task *models.Task, cause error) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), expireTimeout)
	defer cancel()

	if _, _, err := e.store.Transition(storeCtx, task.ID, task.DeviceID, models.TaskFailed, nil, cause.Error(), e.now()); err != nil {
		e.log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to mark undeliverable task failed")
	}
}

// DeliverResponse completes the pending task correlationID owned by deviceID
// with payload. Responses for missing, terminal or foreign tasks are orphans:
// they are counted and discarded. It reports whether the task was completed.
func (e *Engine) DeliverResponse(ctx context.Context, deviceID, correlationID string, payload json.RawMessage) (bool, error) {
	return e.resolve(ctx, deviceID, correlationID, models.TaskCompleted, payload, "")
}

// DeliverFailure fails the pending task with a device-reported reason. Orphans
// are handled as in DeliverResponse.
func (e *Engine) DeliverFailure(ctx context.Context, deviceID, correlationID, reason string) (bool, error) {
	return e.resolve(ctx, deviceID, correlationID, models.TaskFailed, nil, reason)
}

func (e *Engine) resolve(ctx context.Context, deviceID, correlationID string, to models.TaskStatus,
	payload json.RawMessage, reason string) (bool, error) {
	if correlationID == "" {
		e.orphan(ctx, deviceID, correlationID, "missing_id")
		return false, nil
	}

	task, transitioned, err := e.store.Transition(ctx, correlationID, deviceID, to, payload, reason, e.now())
	if errors.Is(err, ErrTaskNotFound) {
		e.orphan(ctx, deviceID, correlationID, "not_found")
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("resolve task %s: %w", correlationID, err)
	}

	if !transitioned {
		reasonTag := "terminal"
		if task.DeviceID != deviceID {
			reasonTag = "foreign_device"
		}

		e.orphan(ctx, deviceID, correlationID, reasonTag)

		return false, nil
	}

	e.route(ctx, task)

	return true, nil
}

// route resumes the waiter for a freshly resolved task, directly when it is
// local and through the broker when another process owns it.
func (e *Engine) route(ctx context.Context, task *models.Task) {
	if e.resumeLocal(task) {
		return
	}

	if e.broker == nil || task.OwnerProcID == "" || task.OwnerProcID == e.procID {
		return
	}

	data, err := json.Marshal(task)
	if err != nil {
		e.log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to encode task resolution")
		return
	}

	if err := e.broker.Publish(ctx, e.resolvedSubject(task.OwnerProcID), data); err != nil {
		// The owner's caller falls back to its deadline and reads the stored result.
		e.log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to route task resolution")
	}
}

func (e *Engine) handleResolved(_ string, data []byte) {
	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		e.log.Warn().Err(err).Msg("Discarding malformed task resolution")
		return
	}

	if !task.Status.Terminal() {
		return
	}

	e.resumeLocal(&task)
}

func (e *Engine) resumeLocal(task *models.Task) bool {
	e.mu.Lock()
	ch, ok := e.waiters[task.ID]
	e.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case ch <- task:
	default:
	}

	return true
}

func (e *Engine) orphan(ctx context.Context, deviceID, correlationID, reason string) {
	e.orphans.Add(1)
	e.metrics.recordOrphan(ctx, reason)
	e.log.Debug().Str("device_id", deviceID).Str("correlation_id", correlationID).Str("reason", reason).
		Msg("Discarded orphan response")
}

func (e *Engine) addWaiter(id string) chan *models.Task {
	ch := make(chan *models.Task, 1)

	e.mu.Lock()
	e.waiters[id] = ch
	e.mu.Unlock()

	return ch
}

func (e *Engine) removeWaiter(id string) {
	e.mu.Lock()
	delete(e.waiters, id)
	e.mu.Unlock()
}

// Task returns the stored record for id.
func (e *Engine) Task(ctx context.Context, id string) (*models.Task, error) {
	return e.store.Get(ctx, id)
}

// Orphans returns the number of discarded responses since construction.
func (e *Engine) Orphans() int64 { return e.orphans.Load() }

// Waiting returns the number of callers currently waiting on this process.
func (e *Engine) Waiting() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.waiters)
}

// ProcessID returns the owner identifier stamped on tasks created here.
func (e *Engine) ProcessID() string { return e.procID }
