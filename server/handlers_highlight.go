package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/highlight-relay/db"
	"github.com/onnwee/highlight-relay/obs"
)

// HandleHighlight triggers a highlight for a caller-supplied message (the
// manual path, next to the chat observer's flag path). The outcome is
// recorded in the audit log either way.
func (h *Handlers) HandleHighlight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Username  string     `json:"username"`
		Message   string     `json:"message"`
		Color     string     `json:"color"`
		Timestamp *time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Username == "" || body.Message == "" {
		writeError(w, http.StatusBadRequest, "username and message are required")
		return
	}
	ev := obs.MessageEvent{
		Username:  body.Username,
		Message:   body.Message,
		Color:     body.Color,
		Timestamp: time.Now().UTC(),
	}
	if body.Timestamp != nil {
		ev.Timestamp = *body.Timestamp
	}

	err := h.ctrl.Highlight(r.Context(), ev)

	rec := db.HighlightRecord{
		Username:  ev.Username,
		Message:   ev.Message,
		Color:     ev.Color,
		Timestamp: ev.Timestamp,
		FlaggedBy: "api",
		Success:   err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if dbErr := db.InsertHighlight(r.Context(), h.db, rec); dbErr != nil {
		slog.Warn("failed to record highlight", slog.Any("err", dbErr))
	}

	if err != nil {
		writeError(w, highlightStatusCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "highlighted"})
}

// highlightStatusCode maps the client error taxonomy onto HTTP statuses.
func highlightStatusCode(err error) int {
	var te *obs.TargetError
	switch {
	case errors.As(err, &te):
		return http.StatusUnprocessableEntity
	case errors.Is(err, obs.ErrNotConnected), errors.Is(err, obs.ErrConnectionLost), errors.Is(err, obs.ErrClientClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, obs.ErrRequestTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// HandleHighlights returns the newest audit rows.
func (h *Handlers) HandleHighlights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	rows, err := db.RecentHighlights(r.Context(), h.db, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
