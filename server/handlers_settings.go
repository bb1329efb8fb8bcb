package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/onnwee/highlight-relay/config"
	"github.com/onnwee/highlight-relay/db"
)

// HandleSettings reads (GET) or updates (PUT) the runtime settings. The OBS
// password is write-only: responses report only whether one is set. Changes
// take effect on the next connect attempt or highlight; the supervisor
// re-reads settings every time.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := db.LoadSettings(r.Context(), h.db, h.cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)

	case http.MethodPut:
		var body struct {
			ObsURL            *string `json:"obs_url"`
			ObsPassword       *string `json:"obs_password"`
			ObsTarget         *string `json:"obs_target"`
			HighlightDuration *int    `json:"highlight_duration"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		type update struct {
			key    string
			value  string
			secret bool
		}
		var updates []update
		if body.ObsURL != nil {
			updates = append(updates, update{db.SettingObsURL, *body.ObsURL, false})
		}
		if body.ObsPassword != nil {
			updates = append(updates, update{db.SettingObsPassword, *body.ObsPassword, true})
		}
		if body.ObsTarget != nil {
			updates = append(updates, update{db.SettingObsTarget, *body.ObsTarget, false})
		}
		if body.HighlightDuration != nil {
			clamped := config.ClampDuration(*body.HighlightDuration)
			updates = append(updates, update{db.SettingHighlightDuration, strconv.Itoa(clamped), false})
		}
		if len(updates) == 0 {
			writeError(w, http.StatusBadRequest, "no settings provided")
			return
		}
		for _, u := range updates {
			if err := db.SetSetting(r.Context(), h.db, u.key, u.value, u.secret); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		settings, err := db.LoadSettings(r.Context(), h.db, h.cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleConnect starts a connection attempt with the current settings.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.ctrl.Connect(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting"})
}

// HandleDisconnect tears the OBS session down and disables auto-reconnect.
func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.ctrl.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
