package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HandleStatus returns the current OBS session status snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"obs":     h.ctrl.Status(),
		"channel": h.cfg.TwitchChannel,
	})
}

// HandleStatusSSE streams status transitions as Server-Sent Events until
// the client goes away. The current snapshot is delivered first.
func (h *Handlers) HandleStatusSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, cancel := h.ctrl.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return
		case st, open := <-updates:
			if !open {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				slog.Warn("failed to write SSE data prefix", slog.Any("err", err))
				return
			}
			_ = enc.Encode(st)
			if _, err := w.Write([]byte("\n")); err != nil {
				slog.Warn("failed to write SSE newline", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}
