package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"telemetry/pkg/logger"
	"telemetry/pkg/protocol"
	"telemetry/pkg/transport"
)

// ChannelView is a channel definition with its latest value.
type ChannelView struct {
	logger.Channel
	Value any  `json:"value,omitempty"`
	Fresh bool `json:"fresh"`
}

type setRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"channels": s.channels.Context().Len(),
	}
	if s.linkUp != nil {
		body["link"] = "disconnected"
		if s.linkUp() {
			body["link"] = "connected"
		}
	}
	sendJSON(w, http.StatusOK, body)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	ctx := s.channels.Context()
	latest := ctx.LatestValues()
	out := make([]ChannelView, 0, ctx.Len())
	for _, def := range ctx.Definitions() {
		v, ok := latest[def.ID()]
		out = append(out, ChannelView{Channel: logger.Describe(def), Value: v, Fresh: ok})
	}
	sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ctx := s.channels.Context()
	def, ok := ctx.Resolve(chi.URLParam(r, "id"))
	if !ok {
		sendError(w, http.StatusNotFound, "channel not defined")
		return
	}
	v, fresh := ctx.Latest(def.ID())
	sendJSON(w, http.StatusOK, ChannelView{Channel: logger.Describe(def), Value: v, Fresh: fresh})
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	def, ok := s.channels.Context().Resolve(chi.URLParam(r, "id"))
	if !ok {
		sendError(w, http.StatusNotFound, "channel not defined")
		return
	}

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.Value == nil {
		sendError(w, http.StatusBadRequest, "missing value")
		return
	}

	err := s.channels.Set(def.ID(), req.Value)
	if s.onSet != nil {
		s.onSet(err)
	}
	if err != nil {
		sendError(w, setStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		sendError(w, http.StatusNotImplemented, "recorder disabled")
		return
	}
	def, ok := s.channels.Context().Resolve(chi.URLParam(r, "id"))
	if !ok {
		sendError(w, http.StatusNotFound, "channel not defined")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			sendError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	points, err := s.history.History(def.ID(), since, limit)
	if err != nil {
		s.log.Error().Err(err).Uint8("id", def.ID()).Msg("read history")
		sendError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	sendJSON(w, http.StatusOK, points)
}

// setStatus maps a failed set command to the HTTP status reported for it.
func setStatus(err error) int {
	switch {
	case errors.Is(err, protocol.ErrUndefinedDataID):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrEncodingRange),
		errors.Is(err, protocol.ErrLengthMismatch),
		errors.Is(err, protocol.ErrUnsupportedSubtype):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
