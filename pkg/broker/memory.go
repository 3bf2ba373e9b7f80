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

package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/carverauto/fleetrelay/pkg/natsutil"
)

const defaultMemoryBuffer = 1024

// MemoryBroker is an in-process broker with NATS subject semantics. Several
// fabrics sharing one MemoryBroker behave like processes sharing a NATS server.
type MemoryBroker struct {
	mu      sync.RWMutex
	subs    map[*memorySub]struct{}
	closed  bool
	buffer  int
	dropped atomic.Int64
}

type memoryMsg struct {
	subject string
	data    []byte
}

type memorySub struct {
	broker  *MemoryBroker
	pattern string
	handler Handler
	ch      chan memoryMsg
	done    chan struct{}
	once    sync.Once
}

// NewMemoryBroker creates a broker whose subscribers buffer up to buffer
// messages each before dropping; buffer <= 0 selects a default.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}

	return &MemoryBroker{
		subs:   make(map[*memorySub]struct{}),
		buffer: buffer,
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs {
		if !natsutil.MatchesSubject(sub.pattern, subject) {
			continue
		}

		msg := memoryMsg{subject: subject, data: append([]byte(nil), data...)}

		select {
		case sub.ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}

	return nil
}

func (b *MemoryBroker) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{
		broker:  b,
		pattern: subject,
		handler: handler,
		ch:      make(chan memoryMsg, b.buffer),
		done:    make(chan struct{}),
	}

	b.subs[sub] = struct{}{}

	go sub.run()

	return sub, nil
}

// Dropped returns the number of messages discarded because a subscriber was full.
func (b *MemoryBroker) Dropped() int64 {
	return b.dropped.Load()
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*memorySub]struct{})
	b.closed = true
	b.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}

	return nil
}

func (s *memorySub) run() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.ch:
			s.handler(msg.subject, msg.data)
		}
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySub) Unsubscribe() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()

	s.stop()

	return nil
}
