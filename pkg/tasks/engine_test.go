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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/fleetrelay/pkg/broker"
	"github.com/carverauto/fleetrelay/pkg/fabric"
	"github.com/carverauto/fleetrelay/pkg/liveness"
	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/registry"
)

var errPublish = errors.New("publish failed")

// fakeDevice is a registry connection that hands every command to onCommand.
type fakeDevice struct {
	id        string
	mu        sync.Mutex
	commands  []models.CommandMessage
	onCommand func(models.CommandMessage)
}

func (d *fakeDevice) ID() string { return "conn-" + d.id }

func (d *fakeDevice) Send(event string, payload json.RawMessage) error {
	if event != models.EventCommand {
		return nil
	}

	var cmd models.CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return err
	}

	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	handler := d.onCommand
	d.mu.Unlock()

	if handler != nil {
		handler(cmd)
	}

	return nil
}

func (d *fakeDevice) received() []models.CommandMessage {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]models.CommandMessage(nil), d.commands...)
}

type harness struct {
	reg      *registry.Registry
	fabric   *fabric.Fabric
	liveness *liveness.Tracker
	store    *MemoryStore
	engine   *Engine
}

func newHarness(t *testing.T, b broker.Broker, store *MemoryStore, procID string) *harness {
	t.Helper()

	reg := registry.New(0)
	fab := fabric.New(reg, b, fabric.Options{ProcessID: procID, SubjectPrefix: "test", Logger: logger.NewTestLogger()})
	live := liveness.NewTracker(liveness.NewMemoryStore())

	if store == nil {
		store = NewMemoryStore()
	}

	engine := NewEngine(store, fab, live, Config{
		ProcessID:      procID,
		SubjectPrefix:  "test",
		Broker:         b,
		DefaultTimeout: time.Second,
		MaxTimeout:     10 * time.Second,
		Grace:          time.Second,
		Logger:         logger.NewTestLogger(),
	})

	if b != nil {
		require.NoError(t, fab.Start())
		require.NoError(t, engine.Start())
		t.Cleanup(func() {
			_ = engine.Stop()
			_ = fab.Stop()
		})
	}

	return &harness{reg: reg, fabric: fab, liveness: live, store: store, engine: engine}
}

func (h *harness) connect(t *testing.T, deviceID string, onCommand func(models.CommandMessage)) *fakeDevice {
	t.Helper()

	d := &fakeDevice{id: deviceID, onCommand: onCommand}
	require.NoError(t, h.reg.Register(d, registry.Identity{DeviceID: deviceID}))
	require.NoError(t, h.reg.Join(d, models.DeviceRoom(deviceID)))

	_, err := h.liveness.MarkSeen(context.Background(), deviceID)
	require.NoError(t, err)

	return d
}

func TestDispatchOfflineFailsFast(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := NewMockStore(ctrl)
	pub := NewMockPublisher(ctrl)
	live := NewMockLivenessChecker(ctrl)

	live.EXPECT().IsOnline(gomock.Any(), "d1").Return(false, nil)

	engine := NewEngine(store, pub, live, Config{})

	start := time.Now()
	outcome, err := engine.Dispatch(context.Background(), "d1", "screenshot", nil, Options{ExpectsResponse: true, Timeout: 5 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeviceOffline, outcome.Kind)
	require.ErrorIs(t, outcome.Err(), ErrDeviceOffline)
	assert.Empty(t, outcome.TaskID)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatchWithoutConnectionIsOffline(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")

	outcome, err := h.engine.Dispatch(context.Background(), "never-connected", "ping", nil, Options{ExpectsResponse: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeviceOffline, outcome.Kind)
	assert.Zero(t, h.store.Len())
}

func TestDispatchFireAndForget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")
	device := h.connect(t, "d1", nil)

	outcome, err := h.engine.Dispatch(context.Background(), "d1", "vibrate", json.RawMessage(`{"ms":200}`), Options{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAccepted, outcome.Kind)
	require.NoError(t, outcome.Err())
	assert.Zero(t, h.store.Len(), "fire-and-forget commands create no task")

	cmds := device.received()
	require.Len(t, cmds, 1)
	assert.Equal(t, outcome.TaskID, cmds[0].CorrelationID)
	assert.Equal(t, "vibrate", cmds[0].CommandType)
	assert.JSONEq(t, `{"ms":200}`, string(cmds[0].Payload))
}

func TestDispatchCompletesWithExactPayload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")
	payload := json.RawMessage(`{"url":"https://files.example/shot.png"}`)

	h.connect(t, "D1", func(cmd models.CommandMessage) {
		go func() {
			time.Sleep(20 * time.Millisecond)

			ok, err := h.engine.DeliverResponse(context.Background(), "D1", cmd.CorrelationID, payload)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	})

	outcome, err := h.engine.Dispatch(context.Background(), "D1", "screenshot", json.RawMessage(`{}`),
		Options{ExpectsResponse: true, Timeout: 5 * time.Second, IssuerID: "U1"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Equal(t, string(payload), string(outcome.Result))

	task, err := h.engine.Task(context.Background(), outcome.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, task.Status)
	assert.Equal(t, "U1", task.IssuerID)
	require.NotNil(t, task.ResolvedAt)

	// Duplicate delivery is an orphan.
	ok, err := h.engine.DeliverResponse(context.Background(), "D1", outcome.TaskID, json.RawMessage(`{"url":"other"}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), h.engine.Orphans())

	task, err = h.engine.Task(context.Background(), outcome.TaskID)
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(task.Result), "terminal tasks are immutable")
	assert.Zero(t, h.engine.Waiting())
}

func TestImmediateResponseFindsWaiter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")

	// The response is delivered synchronously from inside Publish.
	h.connect(t, "d1", func(cmd models.CommandMessage) {
		_, err := h.engine.DeliverResponse(context.Background(), "d1", cmd.CorrelationID, json.RawMessage(`"fast"`))
		assert.NoError(t, err)
	})

	outcome, err := h.engine.Dispatch(context.Background(), "d1", "ping", nil, Options{ExpectsResponse: true, Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Equal(t, `"fast"`, string(outcome.Result))
}

func TestDispatchTimesOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")
	h.connect(t, "d1", nil)

	const timeout = 150 * time.Millisecond

	start := time.Now()
	outcome, err := h.engine.Dispatch(context.Background(), "d1", "locate", nil, Options{ExpectsResponse: true, Timeout: timeout})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, outcome.Kind)
	require.ErrorIs(t, outcome.Err(), ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)

	task, err := h.engine.Task(context.Background(), outcome.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskExpired, task.Status)

	ok, err := h.engine.DeliverResponse(context.Background(), "d1", outcome.TaskID, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, ok, "late responses are orphans")
	assert.Equal(t, int64(1), h.engine.Orphans())
}

func TestConcurrentTasksNeverCrossResolve(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")

	const n = 10

	var (
		mu      sync.Mutex
		pending []string
	)

	all := make(chan struct{})

	h.connect(t, "d1", func(cmd models.CommandMessage) {
		mu.Lock()
		defer mu.Unlock()

		pending = append(pending, cmd.CorrelationID)
		if len(pending) == n {
			close(all)
		}
	})

	// Respond in reverse arrival order once every command is out.
	go func() {
		<-all

		mu.Lock()
		ids := append([]string(nil), pending...)
		mu.Unlock()

		for i := len(ids) - 1; i >= 0; i-- {
			_, err := h.engine.DeliverResponse(context.Background(), "d1", ids[i], json.RawMessage(fmt.Sprintf("%q", ids[i])))
			assert.NoError(t, err)
		}
	}()

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			outcome, err := h.engine.Dispatch(context.Background(), "d1", "screenshot", nil, Options{ExpectsResponse: true, Timeout: 5 * time.Second})
			if !assert.NoError(t, err) {
				return
			}

			assert.Equal(t, OutcomeCompleted, outcome.Kind)
			assert.Equal(t, fmt.Sprintf("%q", outcome.TaskID), string(outcome.Result))
		}()
	}

	wg.Wait()
	assert.Zero(t, h.engine.Orphans())
}

func TestForeignDeviceCannotResolve(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")
	h.connect(t, "d2", nil)

	h.connect(t, "d1", func(cmd models.CommandMessage) {
		ok, err := h.engine.DeliverResponse(context.Background(), "d2", cmd.CorrelationID, json.RawMessage(`"spoofed"`))
		assert.NoError(t, err)
		assert.False(t, ok)

		ok, err = h.engine.DeliverResponse(context.Background(), "d1", cmd.CorrelationID, json.RawMessage(`"genuine"`))
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	outcome, err := h.engine.Dispatch(context.Background(), "d1", "ping", nil, Options{ExpectsResponse: true, Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, `"genuine"`, string(outcome.Result))
	assert.Equal(t, int64(1), h.engine.Orphans())
}

func TestDeviceFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")
	h.connect(t, "d1", func(cmd models.CommandMessage) {
		go func() {
			_, err := h.engine.DeliverFailure(context.Background(), "d1", cmd.CorrelationID, "camera busy")
			assert.NoError(t, err)
		}()
	})

	outcome, err := h.engine.Dispatch(context.Background(), "d1", "screenshot", nil, Options{ExpectsResponse: true, Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Kind)
	assert.Equal(t, "camera busy", outcome.Reason)
	require.ErrorIs(t, outcome.Err(), ErrDeviceFailure)
	assert.Contains(t, outcome.Err().Error(), "camera busy")
}

func TestUnknownCorrelationIsOrphan(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")

	ok, err := h.engine.DeliverResponse(context.Background(), "d1", "no-such-task", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.engine.DeliverResponse(context.Background(), "d1", "", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int64(2), h.engine.Orphans())
}

func TestDispatchValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")
	ctx := context.Background()

	_, err := h.engine.Dispatch(ctx, "", "ping", nil, Options{})
	require.ErrorIs(t, err, ErrInvalidCommand)

	_, err = h.engine.Dispatch(ctx, "d1", "", nil, Options{})
	require.ErrorIs(t, err, ErrInvalidCommand)

	_, err = h.engine.Dispatch(ctx, "d1", "ping", nil, Options{Timeout: -time.Second})
	require.ErrorIs(t, err, ErrInvalidCommand)

	_, err = h.engine.Dispatch(ctx, "d1", "ping", nil, Options{Timeout: time.Hour})
	require.ErrorIs(t, err, ErrTimeoutTooLarge)
}

func TestCallerCancellationLeavesTaskPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil, "p")
	device := h.connect(t, "d1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome, err := h.engine.Dispatch(ctx, "d1", "record", nil, Options{ExpectsResponse: true, Timeout: 5 * time.Second})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotEmpty(t, outcome.TaskID)

	task, err := h.engine.Task(context.Background(), outcome.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Zero(t, h.engine.Waiting())

	// A response after the caller left still completes the record.
	ok, err := h.engine.DeliverResponse(context.Background(), "d1", device.received()[0].CorrelationID, json.RawMessage(`1`))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTimerLosingRaceReturnsStoredResult(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := NewMockStore(ctrl)
	pub := NewMockPublisher(ctrl)
	live := NewMockLivenessChecker(ctrl)

	live.EXPECT().IsOnline(gomock.Any(), "d1").Return(true, nil)
	store.EXPECT().Create(gomock.Any(), gomock.Any(), 10*time.Millisecond+time.Second).Return(nil)
	pub.EXPECT().Publish(gomock.Any(), models.DeviceRoom("d1"), models.EventCommand, gomock.Any()).Return(nil)
	store.EXPECT().
		Transition(gomock.Any(), gomock.Any(), "d1", models.TaskExpired, gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id, deviceID string, _ models.TaskStatus, _ json.RawMessage, _ string, _ time.Time) (*models.Task, bool, error) {
			return &models.Task{ID: id, DeviceID: deviceID, Status: models.TaskCompleted, Result: json.RawMessage(`"won"`)}, false, nil
		})

	engine := NewEngine(store, pub, live, Config{Grace: time.Second})

	outcome, err := engine.Dispatch(context.Background(), "d1", "ping", nil, Options{ExpectsResponse: true, Timeout: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Equal(t, `"won"`, string(outcome.Result))
}

func TestPublishFailureFailsTask(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	pub := NewMockPublisher(ctrl)
	live := NewMockLivenessChecker(ctrl)
	store := NewMemoryStore()

	live.EXPECT().IsOnline(gomock.Any(), "d1").Return(true, nil)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errPublish)

	engine := NewEngine(store, pub, live, Config{})

	_, err := engine.Dispatch(context.Background(), "d1", "ping", nil, Options{ExpectsResponse: true})
	require.ErrorIs(t, err, errPublish)
	require.Equal(t, 1, store.Len())

	for id := range store.tasks {
		task, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskFailed, task.Status)
	}
}

// A device connected to process B answers a command dispatched on process A.
func TestResolutionRoutesToOwningProcess(t *testing.T) {
	t.Parallel()

	b := broker.NewMemoryBroker(0)
	t.Cleanup(func() { _ = b.Close() })

	shared := NewMemoryStore()
	procA := newHarness(t, b, shared, "proc-a")
	procB := newHarness(t, b, shared, "proc-b")

	procB.connect(t, "d1", func(cmd models.CommandMessage) {
		go func() {
			ok, err := procB.engine.DeliverResponse(context.Background(), "d1", cmd.CorrelationID, json.RawMessage(`{"lat":1}`))
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	})

	// Liveness is shared in production; mirror the heartbeat on A's tracker.
	_, err := procA.liveness.MarkSeen(context.Background(), "d1")
	require.NoError(t, err)

	start := time.Now()
	outcome, err := procA.engine.Dispatch(context.Background(), "d1", "locate", nil, Options{ExpectsResponse: true, Timeout: 5 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.JSONEq(t, `{"lat":1}`, string(outcome.Result))
	assert.Less(t, time.Since(start), 2*time.Second, "resumed by the routed resolution, not the deadline")
}

func TestMemoryStoreExpiresByTTL(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Task{ID: "t1", DeviceID: "d1", Status: models.TaskPending}, 30*time.Millisecond))
	require.ErrorIs(t, store.Create(ctx, &models.Task{ID: "t1"}, time.Second), ErrTaskExists)

	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, "t1")
		return errors.Is(err, ErrTaskNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	_, _, err := store.Transition(ctx, "t1", "d1", models.TaskCompleted, nil, "", time.Now())
	require.ErrorIs(t, err, ErrTaskNotFound)
	assert.Zero(t, store.Len())
}

func TestOutcomeErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind OutcomeKind
		want error
	}{
		{OutcomeAccepted, nil},
		{OutcomeCompleted, nil},
		{OutcomeDeviceOffline, ErrDeviceOffline},
		{OutcomeTimeout, ErrTimeout},
		{OutcomeFailed, ErrDeviceFailure},
	}

	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			t.Parallel()

			err := Outcome{Kind: tc.kind}.Err()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tc.want)
		})
	}
}
