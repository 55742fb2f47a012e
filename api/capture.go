package api

import (
	"net/http"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/obzorcam/backend/models"
	"github.com/obzorcam/backend/services"
)

// CaptureHandlers serves the frame endpoints and the capture loop controls.
type CaptureHandlers struct {
	settings  *services.SettingsStore
	acquirer  *services.Acquirer
	scheduler *services.Scheduler
	log       *zap.Logger
}

func NewCaptureHandlers(settings *services.SettingsStore, acquirer *services.Acquirer, scheduler *services.Scheduler, log *zap.Logger) *CaptureHandlers {
	return &CaptureHandlers{
		settings:  settings,
		acquirer:  acquirer,
		scheduler: scheduler,
		log:       log,
	}
}

// Latest serves the most recent frame. It never 404s: when no frame exists it
// tries one on-demand capture, then falls back to a status placeholder.
func (h *CaptureHandlers) Latest(w http.ResponseWriter, r *http.Request) {
	if data := h.acquirer.LatestFrameBytes(); data != nil {
		writeJPEG(w, data)
		return
	}

	h.log.Info("no frame on disk, capturing on demand")
	if h.acquirer.CaptureFrame(r.Context()) {
		if data := h.acquirer.LatestFrameBytes(); data != nil {
			writeJPEG(w, data)
			return
		}
	}

	writeJPEG(w, h.acquirer.PlaceholderBytes())
}

// CaptureNow triggers one immediate capture and reports the outcome along
// with the resulting file's size.
func (h *CaptureHandlers) CaptureNow(w http.ResponseWriter, r *http.Request) {
	ok := h.acquirer.CaptureFrame(r.Context())
	snap := h.settings.Snapshot()

	resp := models.CaptureNowResponse{}
	if ok {
		resp.Status = "success"
		resp.Message = "Frame captured"
	} else {
		resp.Status = "error"
		resp.Message = "Capture failed; check the camera connection"
	}
	if !snap.LastFrameTime.IsZero() {
		t := snap.LastFrameTime
		resp.LastFrameTime = &t
		resp.LatestURL = "/capture/latest.jpg"
	}
	if info, err := os.Stat(snap.LatestPath); err == nil {
		resp.FileExists = true
		resp.FileSize = info.Size()
		resp.FileSizeHuman = humanize.Bytes(uint64(info.Size()))
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// Info reports the capture state; 404 while no frame has been captured yet.
func (h *CaptureHandlers) Info(w http.ResponseWriter, r *http.Request) {
	snap := h.settings.Snapshot()

	if snap.LastFrameTime.IsZero() {
		writeJSON(w, http.StatusNotFound, models.StatusMessage{
			Status:  "no_frame",
			Message: "No frame captured yet",
		})
		return
	}

	t := snap.LastFrameTime
	writeJSON(w, http.StatusOK, models.CaptureInfo{
		Status:        snap.Status,
		LastFrameTime: &t,
		LastFramePath: snap.LastFramePath,
		SourceURL:     services.MaskURL(snap.SourceURL),
		Width:         snap.Width,
		Height:        snap.Height,
		Quality:       snap.Quality,
		LatestURL:     "/capture/latest.jpg",
	})
}

// UpdateConfig applies form-submitted capture settings. Every field is
// optional; omitted fields keep their value.
func (h *CaptureHandlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, models.StatusMessage{
			Status: "error", Message: "invalid form data",
		})
		return
	}

	var o services.CaptureOverrides
	if v := r.FormValue("rtsp_url"); v != "" {
		o.SourceURL = &v
	}
	for field, dst := range map[string]**int{
		"interval": &o.IntervalSec,
		"width":    &o.Width,
		"height":   &o.Height,
		"quality":  &o.Quality,
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

	snap := h.settings.Update(o)
	h.log.Info("capture config updated",
		zap.Int("interval", snap.IntervalSec),
		zap.Int("width", snap.Width),
		zap.Int("height", snap.Height),
		zap.Int("quality", snap.Quality))

	writeJSON(w, http.StatusOK, models.CaptureConfigResponse{
		Status:  "success",
		Message: "Configuration updated",
		Config: map[string]any{
			"rtsp_url": services.MaskURL(snap.SourceURL),
			"interval": snap.IntervalSec,
			"width":    snap.Width,
			"height":   snap.Height,
			"quality":  snap.Quality,
		},
	})
}

func (h *CaptureHandlers) Start(w http.ResponseWriter, r *http.Request) {
	if h.scheduler.Start() {
		writeJSON(w, http.StatusOK, models.StatusMessage{
			Status: "success", Message: "Capture loop started",
		})
		return
	}
	writeJSON(w, http.StatusOK, models.StatusMessage{
		Status: "warning", Message: "Capture loop already running",
	})
}

func (h *CaptureHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	writeJSON(w, http.StatusOK, models.StatusMessage{
		Status: "success", Message: "Capture loop stopped",
	})
}

// Diagnostics reports the health of everything a capture depends on: write
// targets, the latest frame file and the ffmpeg binary.
func (h *CaptureHandlers) Diagnostics(w http.ResponseWriter, r *http.Request) {
	snap := h.settings.Snapshot()

	checks := map[string]any{
		"status":      snap.Status,
		"running":     snap.Running,
		"rtsp_url":    services.MaskURL(snap.SourceURL),
		"save_dir":    dirCheck(snap.SaveDir),
		"fallback":    dirCheck(snap.FallbackDir),
		"latest_file": fileCheck(snap.LatestPath),
	}
	if version, ok := services.FFmpegVersion(r.Context()); ok {
		checks["ffmpeg"] = version
	} else {
		checks["ffmpeg"] = "not available"
	}
	if !snap.LastFrameTime.IsZero() {
		checks["last_frame_time"] = snap.LastFrameTime
	}

	writeJSON(w, http.StatusOK, checks)
}

func dirCheck(dir string) map[string]any {
	out := map[string]any{"path": dir}
	info, err := os.Stat(dir)
	out["exists"] = err == nil && info.IsDir()

	tmp, err := os.CreateTemp(dir, ".diag_*")
	if err == nil {
		tmp.Close()
		os.Remove(tmp.Name())
		out["writable"] = true
	} else {
		out["writable"] = false
	}
	return out
}

func fileCheck(path string) map[string]any {
	out := map[string]any{"path": path}
	info, err := os.Stat(path)
	if err != nil {
		out["exists"] = false
		return out
	}
	out["exists"] = true
	out["size"] = humanize.Bytes(uint64(info.Size()))
	out["modified"] = info.ModTime()
	return out
}
