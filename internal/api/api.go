/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the on-device configuration HTTP API: read and write
// the display schedule, inspect controller status, and stream events.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pixelmesa/kioskd/internal/controller"
	"github.com/pixelmesa/kioskd/internal/events"
	"github.com/pixelmesa/kioskd/internal/logbuffer"
	"github.com/pixelmesa/kioskd/internal/schedule"
	"github.com/pixelmesa/kioskd/internal/store"
)

// StatusSource reports the controller's current state. Nil when the API
// runs without an in-process controller.
type StatusSource interface {
	Status() controller.Status
}

// API exposes HTTP handlers.
type API struct {
	store     store.Store
	status    StatusSource
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API handler set.
func New(st store.Store, status StatusSource, bus *events.Bus, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		store:     st,
		status:    status,
		bus:       bus,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", a.handleConfigGet)
		r.Post("/config", a.handleConfigSet)
		r.Get("/status", a.handleStatus)
		r.Get("/logs", a.handleLogs)
		r.Get("/events", a.handleEvents)
	})
}

func (a *API) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	snap, err := a.store.Load(r.Context())
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "no schedule configured")
			return
		}
		a.logger.Error().Err(err).Msg("failed to load schedule")
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}

	w.Header().Set("X-Schedule-Version", snap.Version)
	writeJSON(w, http.StatusOK, snap.Schedule)
}

func (a *API) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var sched schedule.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := sched.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	snap, err := a.store.Save(r.Context(), sched)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to save schedule")
		writeError(w, http.StatusInternalServerError, "failed to save schedule")
		return
	}

	a.logger.Info().Str("version", snap.Version).Msg("schedule saved via API")
	a.bus.Publish(events.EventScheduleUpdate, events.Payload{"version": snap.Version, "source": "api"})

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"version": snap.Version,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if a.status == nil {
		writeError(w, http.StatusServiceUnavailable, "controller not running")
		return
	}
	writeJSON(w, http.StatusOK, a.status.Status())
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusOK, []logbuffer.LogEntry{})
		return
	}

	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, a.logBuffer.Recent(limit))
}

// eventEnvelope is what the websocket stream delivers per event.
type eventEnvelope struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   events.Payload   `json:"payload"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}
