package services

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/obzorcam/backend/config"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorage_PresetPositionRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	pos := PresetPosition{Token: "t1", Name: "Gate", Pan: 0.5, Tilt: -0.25, Zoom: 0.1}
	if err := s.SavePresetPosition(1, pos); err != nil {
		t.Fatalf("SavePresetPosition() error: %v", err)
	}

	loaded, err := s.LoadPresetPositions()
	if err != nil {
		t.Fatalf("LoadPresetPositions() error: %v", err)
	}
	if got := loaded[1]; got != pos {
		t.Errorf("loaded position = %+v, want %+v", got, pos)
	}

	// Saving again for the same preset overwrites, not duplicates.
	pos.Pan = 0.9
	if err := s.SavePresetPosition(1, pos); err != nil {
		t.Fatalf("second SavePresetPosition() error: %v", err)
	}
	loaded, err = s.LoadPresetPositions()
	if err != nil {
		t.Fatalf("LoadPresetPositions() error: %v", err)
	}
	if len(loaded) != 1 {
		t.Errorf("positions = %d, want 1 after upsert", len(loaded))
	}
	if loaded[1].Pan != 0.9 {
		t.Errorf("pan = %v, want updated 0.9", loaded[1].Pan)
	}
}

func TestStorage_EmptyPositions(t *testing.T) {
	s := newTestStorage(t)

	loaded, err := s.LoadPresetPositions()
	if err != nil {
		t.Fatalf("LoadPresetPositions() error: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("positions = %d, want 0 on a fresh database", len(loaded))
	}
}

func TestSettingsStore_PersistsAcrossRestarts(t *testing.T) {
	s := newTestStorage(t)
	cfg := config.CaptureSettings{
		SourceURL:   "rtsp://host/ch01/0",
		IntervalSec: 30,
		Width:       1280,
		Height:      720,
		Quality:     85,
	}

	store := NewSettingsStore(cfg, s, zap.NewNop())
	interval, quality := 10, 70
	url := "rtsp://host/cam/realmonitor?channel=1&subtype=0"
	store.Update(CaptureOverrides{IntervalSec: &interval, Quality: &quality, SourceURL: &url})

	// A fresh store over the same database sees the persisted values, not
	// the config defaults.
	reloaded := NewSettingsStore(cfg, s, zap.NewNop()).Snapshot()
	if reloaded.IntervalSec != 10 {
		t.Errorf("interval = %d, want persisted 10", reloaded.IntervalSec)
	}
	if reloaded.Quality != 70 {
		t.Errorf("quality = %d, want persisted 70", reloaded.Quality)
	}
	if reloaded.SourceURL != url {
		t.Errorf("source URL = %q, want persisted %q", reloaded.SourceURL, url)
	}
	// Untouched fields keep the config value.
	if reloaded.Width != 1280 {
		t.Errorf("width = %d, want 1280", reloaded.Width)
	}
}

func TestSettingsStore_StickySourceURLPersisted(t *testing.T) {
	s := newTestStorage(t)
	cfg := config.CaptureSettings{SourceURL: "rtsp://host/ch01/0", IntervalSec: 30, Width: 1, Height: 1, Quality: 85}

	store := NewSettingsStore(cfg, s, zap.NewNop())
	store.SetSourceURL("rtsp://host/discovered")

	reloaded := NewSettingsStore(cfg, s, zap.NewNop()).Snapshot()
	if reloaded.SourceURL != "rtsp://host/discovered" {
		t.Errorf("source URL = %q, want the discovered URL", reloaded.SourceURL)
	}
}

func TestSettingsStore_RuntimeStateNotPersisted(t *testing.T) {
	s := newTestStorage(t)
	cfg := config.CaptureSettings{SourceURL: "rtsp://host/0", IntervalSec: 30, Width: 1, Height: 1, Quality: 85}

	store := NewSettingsStore(cfg, s, zap.NewNop())
	store.SetStatus(StatusError)
	store.SetRunning(false)

	reloaded := NewSettingsStore(cfg, s, zap.NewNop()).Snapshot()
	if reloaded.Status != StatusInitializing {
		t.Errorf("status = %q, want fresh %q", reloaded.Status, StatusInitializing)
	}
	if !reloaded.Running {
		t.Error("running = false on a fresh store")
	}
}
