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

// Package api is the REST surface used by external collaborators to issue
// commands, read device presence and publish room announcements.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	srHttp "github.com/carverauto/fleetrelay/pkg/http"
	"github.com/carverauto/fleetrelay/pkg/logger"
	"github.com/carverauto/fleetrelay/pkg/models"
	"github.com/carverauto/fleetrelay/pkg/tasks"
)

const maxBodyBytes = 1 << 20

// HealthCheck reports an unhealthy dependency.
type HealthCheck func(ctx context.Context) error

// APIServer routes the REST surface and, when configured, the WebSocket
// endpoint.
type APIServer struct {
	router     *mux.Router
	corsConfig models.CORSConfig
	apiKey     string
	log        logger.Logger

	dispatcher Dispatcher
	liveness   LivenessReader
	publisher  Publisher
	health     HealthCheck
	websocket  http.Handler
}

// NewAPIServer builds the router. Options supply the collaborators; routes
// whose collaborator is missing answer 503.
func NewAPIServer(config models.CORSConfig, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:     mux.NewRouter(),
		corsConfig: config,
	}

	for _, o := range options {
		o(s)
	}

	if s.log == nil {
		s.log = logger.NewTestLogger()
	}

	s.setupRoutes()

	return s
}

func WithDispatcher(d Dispatcher) func(server *APIServer) {
	return func(server *APIServer) {
		server.dispatcher = d
	}
}

func WithLivenessReader(l LivenessReader) func(server *APIServer) {
	return func(server *APIServer) {
		server.liveness = l
	}
}

func WithPublisher(p Publisher) func(server *APIServer) {
	return func(server *APIServer) {
		server.publisher = p
	}
}

// WithAPIKey requires key in X-API-Key on every /api route.
func WithAPIKey(key string) func(server *APIServer) {
	return func(server *APIServer) {
		server.apiKey = key
	}
}

func WithHealthCheck(h HealthCheck) func(server *APIServer) {
	return func(server *APIServer) {
		server.health = h
	}
}

// WithWebSocketHandler mounts h at /ws.
func WithWebSocketHandler(h http.Handler) func(server *APIServer) {
	return func(server *APIServer) {
		server.websocket = h
	}
}

func WithLogger(log logger.Logger) func(server *APIServer) {
	return func(server *APIServer) {
		server.log = logger.Component(log, "api")
	}
}

// Handler returns the root HTTP handler.
func (s *APIServer) Handler() http.Handler { return s.router }

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return srHttp.CommonMiddleware(next, s.corsConfig, s.log)
	})

	s.router.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)

	if s.websocket != nil {
		s.router.Handle("/ws", s.websocket).Methods(http.MethodGet)
	}

	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(srHttp.APIKeyMiddlewareWithOptions(srHttp.APIKeyOptions{
		APIKey:          s.apiKey,
		LogUnauthorized: true,
		Logger:          s.log,
	}))

	protected.HandleFunc("/devices/{id}/commands", s.postCommand).Methods(http.MethodPost)
	protected.HandleFunc("/devices/{id}/status", s.getDeviceStatus).Methods(http.MethodGet)
	protected.HandleFunc("/tasks/{id}", s.getTask).Methods(http.MethodGet)
	protected.HandleFunc("/rooms/{room}/events", s.postRoomEvent).Methods(http.MethodPost)
}

func (s *APIServer) getHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// commandStatus maps a dispatch outcome onto the response code.
func commandStatus(kind tasks.OutcomeKind) int {
	switch kind {
	case tasks.OutcomeCompleted:
		return http.StatusOK
	case tasks.OutcomeAccepted:
		return http.StatusAccepted
	case tasks.OutcomeDeviceOffline:
		return http.StatusConflict
	case tasks.OutcomeFailed:
		return http.StatusUnprocessableEntity
	case tasks.OutcomeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIServer) postCommand(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, "command dispatch unavailable", http.StatusServiceUnavailable)
		return
	}

	deviceID := mux.Vars(r)["id"]

	var req CommandRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.TimeoutMS < 0 {
		writeError(w, "timeout_ms must not be negative", http.StatusBadRequest)
		return
	}

	out, err := s.dispatcher.Dispatch(r.Context(), deviceID, req.Type, req.Payload, tasks.Options{
		ExpectsResponse: req.ExpectsResponse,
		Timeout:         time.Duration(req.TimeoutMS) * time.Millisecond,
		IssuerID:        req.Issuer,
	})

	switch {
	case err == nil:
	case errors.Is(err, tasks.ErrInvalidCommand), errors.Is(err, tasks.ErrTimeoutTooLarge):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Debug().Str("device_id", deviceID).Msg("Caller went away before the command resolved")
		writeError(w, "request canceled", http.StatusServiceUnavailable)

		return
	default:
		s.log.Error().Err(err).Str("device_id", deviceID).Str("type", req.Type).Msg("Dispatch failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, commandStatus(out.Kind), CommandResponse{
		Status:        string(out.Kind),
		DeviceID:      deviceID,
		CorrelationID: out.TaskID,
		Result:        out.Result,
		Reason:        out.Reason,
	})
}

func (s *APIServer) getDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if s.liveness == nil {
		writeError(w, "liveness unavailable", http.StatusServiceUnavailable)
		return
	}

	deviceID := mux.Vars(r)["id"]

	rec, err := s.liveness.Status(r.Context(), deviceID)
	if err != nil {
		s.log.Error().Err(err).Str("device_id", deviceID).Msg("Failed to read liveness")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	resp := DeviceStatusResponse{
		DeviceID: deviceID,
		Online:   rec.Status == models.DeviceOnline,
		Status:   string(rec.Status),
	}

	if !rec.LastSeen.IsZero() {
		seen := rec.LastSeen
		resp.LastSeen = &seen
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) getTask(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, "command dispatch unavailable", http.StatusServiceUnavailable)
		return
	}

	task, err := s.dispatcher.Task(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, tasks.ErrTaskNotFound) {
		writeError(w, "task not found", http.StatusNotFound)
		return
	}

	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read task")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (s *APIServer) postRoomEvent(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		writeError(w, "room events unavailable", http.StatusServiceUnavailable)
		return
	}

	room, err := models.ParseRoom(mux.Vars(r)["room"])
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req RoomEventRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Event == "" {
		writeError(w, "event is required", http.StatusBadRequest)
		return
	}

	if err := s.publisher.Publish(r.Context(), room, req.Event, req.Payload); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, RoomEventResponse{Room: room.String(), Event: req.Event})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, models.ErrorResponse{Message: message, Status: statusCode})
}
