package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/obzorcam/backend/models"
	"github.com/obzorcam/backend/services"
)

// StreamHandlers serves the live-view snapshot and the frame cache controls.
type StreamHandlers struct {
	settings *services.SettingsStore
	acquirer *services.Acquirer
	cache    *services.FrameCache
	log      *zap.Logger
}

func NewStreamHandlers(settings *services.SettingsStore, acquirer *services.Acquirer, cache *services.FrameCache, log *zap.Logger) *StreamHandlers {
	return &StreamHandlers{
		settings: settings,
		acquirer: acquirer,
		cache:    cache,
		log:      log,
	}
}

// Snapshot returns a fresh-enough frame, serving from the cache when
// possible. ?nocache=1 forces a device grab.
func (h *StreamHandlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	bypass := r.URL.Query().Get("nocache") != ""
	writeJPEG(w, h.acquirer.Snapshot(r.Context(), bypass))
}

func (h *StreamHandlers) CacheStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Status())
}

// CacheClear drops one cached source (form/query param "source") or all.
func (h *StreamHandlers) CacheClear(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	if source := r.FormValue("source"); source != "" {
		h.cache.Clear(source)
		writeJSON(w, http.StatusOK, models.StatusMessage{
			Status: "success", Message: "Cleared cache for " + source,
		})
		return
	}
	h.cache.ClearAll()
	writeJSON(w, http.StatusOK, models.StatusMessage{
		Status: "success", Message: "Cache cleared",
	})
}

// Info describes the stream source without exposing credentials.
func (h *StreamHandlers) Info(w http.ResponseWriter, r *http.Request) {
	snap := h.settings.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"source":    services.MaskURL(snap.SourceURL),
		"source_id": services.SourceID(snap.SourceURL),
		"status":    snap.Status,
		"width":     snap.Width,
		"height":    snap.Height,
	})
}
