package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/obzorcam/backend/models"
	"github.com/obzorcam/backend/services"
)

// PTZHandlers exposes the sweep controller: status, presets, manual moves and
// the automatic-mode toggle.
type PTZHandlers struct {
	controller *services.Controller
	log        *zap.Logger
}

func NewPTZHandlers(controller *services.Controller, log *zap.Logger) *PTZHandlers {
	return &PTZHandlers{controller: controller, log: log}
}

func (h *PTZHandlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status(r.Context()))
}

func (h *PTZHandlers) Presets(w http.ResponseWriter, r *http.Request) {
	presets, err := h.controller.Presets(r.Context())
	if err != nil || len(presets) == 0 {
		writeJSON(w, http.StatusNotFound, models.StatusMessage{
			Status: "error", Message: "No presets available",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(presets),
		"presets": presets,
	})
}

// Goto moves the camera to the preset index from the URL.
func (h *PTZHandlers) Goto(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "preset"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.StatusMessage{
			Status: "error", Message: "preset must be a number",
		})
		return
	}

	if !h.controller.GotoPreset(r.Context(), index) {
		writeJSON(w, http.StatusBadRequest, models.StatusMessage{
			Status: "error", Message: "Move failed; preset may be out of range or the camera unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, models.StatusMessage{
		Status: "success", Message: "Moved to preset " + strconv.Itoa(index),
	})
}

// UpdateConfig applies form-submitted sweep settings; all fields optional.
func (h *PTZHandlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, models.StatusMessage{
			Status: "error", Message: "invalid form data",
		})
		return
	}

	var o services.PTZOverrides
	for field, dst := range map[string]**int{
		"home_preset":     &o.HomePreset,
		"dwell_time":      &o.DwellSec,
		"home_dwell_time": &o.HomeDwellSec,
		"capture_delay":   &o.CaptureDelaySec,
	} {
		if v := r.FormValue(field); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, models.StatusMessage{
					Status: "error", Message: "invalid value for " + field,
				})
				return
			}
			*dst = &n
		}
	}

	h.controller.UpdateConfig(o)
	writeJSON(w, http.StatusOK, models.StatusMessage{
		Status: "success", Message: "PTZ configuration updated",
	})
}

// Automatic toggles scheduled sweeping; accepts on/off, true/false, 1/0.
func (h *PTZHandlers) Automatic(w http.ResponseWriter, r *http.Request) {
	var enabled bool
	switch chi.URLParam(r, "state") {
	case "on", "true", "1":
		enabled = true
	case "off", "false", "0":
		enabled = false
	default:
		writeJSON(w, http.StatusBadRequest, models.StatusMessage{
			Status: "error", Message: "state must be on or off",
		})
		return
	}

	h.controller.SetScheduledMode(enabled)
	msg := "Automatic mode disabled"
	if enabled {
		msg = "Automatic mode enabled"
	}
	writeJSON(w, http.StatusOK, models.StatusMessage{Status: "success", Message: msg})
}

func (h *PTZHandlers) Start(w http.ResponseWriter, r *http.Request) {
	if h.controller.Start() {
		writeJSON(w, http.StatusOK, models.StatusMessage{
			Status: "success", Message: "Sweep loop started",
		})
		return
	}
	writeJSON(w, http.StatusOK, models.StatusMessage{
		Status: "warning", Message: "Sweep loop already running",
	})
}

func (h *PTZHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	h.controller.Stop()
	writeJSON(w, http.StatusOK, models.StatusMessage{
		Status: "success", Message: "Sweep loop stopped",
	})
}
