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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/carverauto/fleetrelay/pkg/auth"
	"github.com/carverauto/fleetrelay/pkg/models"
)

// client is one WebSocket connection. It implements registry.Connection.
type client struct {
	id        string
	g         *Gateway
	ws        *websocket.Conn
	principal auth.Principal
	limiter   *rate.Limiter

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	closeCode    int
	closeText    string
	serverClosed atomic.Bool

	// lastSeen is owned by the read goroutine.
	lastSeen time.Time
}

func newClient(g *Gateway, ws *websocket.Conn, p auth.Principal) *client {
	return &client{
		id:         uuid.New().String(),
		g:          g,
		ws:         ws,
		principal:  p,
		limiter:    rate.NewLimiter(rate.Limit(g.cfg.MessageRate), g.cfg.MessageBurst),
		send:       make(chan []byte, g.cfg.SendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		closeCode:  websocket.CloseNormalClosure,
	}
}

func (c *client) ID() string { return c.id }

// Send queues a frame without blocking. A connection whose buffer is full
// is closed as a slow consumer.
func (c *client) Send(event string, payload json.RawMessage) error {
	data, err := json.Marshal(models.Frame{Event: event, Data: payload})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.g.log.Warn().Str("connection_id", c.id).Msg("Send buffer full, closing slow consumer")
		c.closeWith(websocket.ClosePolicyViolation, "slow consumer")

		return ErrSendBufferFull
	}
}

func (c *client) sendError(event, message string) {
	data, _ := json.Marshal(models.ErrorMessage{Message: message, Event: event})
	_ = c.Send(models.EventError, data)
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// closeWith closes the connection from the server side with a status code.
func (c *client) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		c.serverClosed.Store(true)
		close(c.done)
	})
}

func (c *client) writePump() {
	wait := time.Duration(c.g.cfg.WriteWait)
	ticker := time.NewTicker(time.Duration(c.g.cfg.PingInterval))

	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(wait)); err != nil {
				c.close()
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.flush(wait)

			if c.serverClosed.Load() {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(c.closeCode, c.closeText), time.Now().Add(wait))
			}

			return
		}
	}
}

// flush writes frames queued before the close.
func (c *client) flush(wait time.Duration) {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump handles inbound frames until the transport fails. It reports
// whether the peer closed the connection cleanly.
func (c *client) readPump(ctx context.Context) bool {
	defer func() {
		c.close()
		<-c.writerDone
	}()

	c.ws.SetReadLimit(c.g.cfg.ReadLimit)

	deadline := time.Duration(c.g.cfg.PingInterval) + time.Duration(c.g.cfg.WriteWait)
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return !c.serverClosed.Load() &&
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
		}

		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))

		if !c.limiter.Allow() {
			c.sendError("", "rate limit exceeded")
			continue
		}

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			c.sendError("", "malformed frame")
			continue
		}

		if err := c.g.handle(ctx, c, frame); err != nil {
			c.sendError(frame.Event, err.Error())
		}
	}
}

var errOriginParse = errors.New("invalid origin")

// originAllowed permits requests without an Origin header, origins in
// allowed, and same-host origins when allowed is empty.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	host, err := originHost(origin)
	if err != nil {
		return false
	}

	if len(allowed) > 0 {
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(origin, a) || strings.EqualFold(host, a) {
				return true
			}
		}

		return false
	}

	reqHost := r.Host
	if h, _, err := net.SplitHostPort(r.Host); err == nil {
		reqHost = h
	}

	return strings.EqualFold(host, strings.Trim(reqHost, "[]"))
}

func originHost(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}

	if u.Hostname() == "" {
		return "", errOriginParse
	}

	return u.Hostname(), nil
}
