package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Интервал keep-alive комментариев в SSE-потоке
const sseKeepAlive = 25 * time.Second

type respondRequest struct {
	Approved   *bool      `json:"approved"`
	ResidentID *uuid.UUID `json:"resident_id"`
}

type endSessionRequest struct {
	Status *model.SessionStatus `json:"status"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	started, err := h.sessions.StartSession(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, started)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) sessionActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	activity, err := h.sessions.IsSessionActive(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

// executeTool тело запроса целиком передаётся инструменту как параметры
func (h *Handler) executeTool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "unreadable body")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}

	result, err := h.sessions.ExecuteTool(r.Context(), id, chi.URLParam(r, "name"), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var in respondRequest
	if err := decodeJSON(r, &in); err != nil || in.Approved == nil {
		writeError(w, http.StatusBadRequest, "validation_error", "approved is required")
		return
	}

	result, err := h.sessions.RespondToVisitor(r.Context(), id, *in.Approved, in.ResidentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var in endSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &in); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid json")
			return
		}
	}

	session, err := h.sessions.EndSession(r.Context(), id, in.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// sessionEvents SSE-поток решений и закрытия сессии
func (h *Handler) sessionEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if _, err := h.sessions.GetSession(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	sub := h.hub.Subscribe(service.SessionChannel(id))
	defer h.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("Session stream opened", zap.String("session_id", id.String()))

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case msg, open := <-sub.C():
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			h.logger.Debug("Session stream closed", zap.String("session_id", id.String()))
			return
		}
	}
}
