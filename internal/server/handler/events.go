package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// ArchiveLoader reads archived events back.
type ArchiveLoader interface {
	Load(ctx context.Context, day time.Time) ([]domain.EventEnvelope, error)
}

// EventHandler serves the settlement event log and its archive.
type EventHandler struct {
	events  domain.EventLog
	archive ArchiveLoader // nil when archiving is disabled
	logger  *slog.Logger
}

// NewEventHandler creates an EventHandler. archive may be nil.
func NewEventHandler(events domain.EventLog, archive ArchiveLoader, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, archive: archive, logger: logHandler(logger, "events")}
}

type listEventsResponse struct {
	Events []domain.EventEnvelope `json:"events"`
}

// ListEvents returns logged events, oldest first.
// GET /api/v1/events?since=...&until=...&limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	events, err := h.events.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list events")
		return
	}
	if events == nil {
		events = []domain.EventEnvelope{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

// ArchivedEvents returns the archived events of one UTC day.
// GET /api/v1/events/archive/{day}   (day is YYYY-MM-DD)
func (h *EventHandler) ArchivedEvents(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive_disabled", "event archive is not configured")
		return
	}
	day, err := time.Parse(time.DateOnly, pathParam(r, "day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "day must be YYYY-MM-DD")
		return
	}
	events, err := h.archive.Load(r.Context(), day)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: load archive failed",
			slog.String("day", day.Format(time.DateOnly)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load archive")
		return
	}
	if events == nil {
		events = []domain.EventEnvelope{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}
