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

// Package broker abstracts the shared publish/subscribe channel that carries
// room events and task resolutions between processes.
package broker

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mock_broker.go -package=broker github.com/carverauto/fleetrelay/pkg/broker Broker,Subscription

var (
	ErrClosed = errors.New("broker closed")
	// ErrSlowConsumer is reported when a subscriber's buffer is full and a message was dropped.
	ErrSlowConsumer = errors.New("subscriber buffer full")
)

// Handler receives one message. Handlers of a single subscription run
// sequentially in publish order.
type Handler func(subject string, data []byte)

// Subscription is an active interest in a subject pattern.
type Subscription interface {
	Unsubscribe() error
}

// Broker delivers at most once and never queues for absent subscribers.
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close() error
}
