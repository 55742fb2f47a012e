package services

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/obzorcam/backend/config"
)

// Capture status values.
const (
	StatusInitializing = "initializing"
	StatusOK           = "ok"
	StatusError        = "error"
	StatusLimited      = "limited"
)

// CaptureState is a point-in-time copy of the live capture settings plus the
// result of the most recent capture attempt. Loops take a fresh snapshot at
// the top of every iteration, so config updates apply mid-run.
type CaptureState struct {
	SourceURL   string
	SaveDir     string
	LatestPath  string
	FallbackDir string
	IntervalSec int
	Width       int
	Height      int
	Quality     int
	Running     bool
	Status      string
	LastFramePath string
	LastFrameTime time.Time
}

// CaptureOverrides carries a partial-field update; nil fields are untouched.
type CaptureOverrides struct {
	SourceURL   *string
	IntervalSec *int
	Width       *int
	Height      *int
	Quality     *int
}

// SettingsStore owns the mutable capture settings. Tunable fields are
// write-through persisted to the settings table so they survive restarts;
// runtime state (status, last frame) is memory only.
type SettingsStore struct {
	mu      sync.RWMutex
	cur     CaptureState
	storage *Storage
	log     *zap.Logger
}

func NewSettingsStore(cfg config.CaptureSettings, storage *Storage, log *zap.Logger) *SettingsStore {
	s := &SettingsStore{
		cur: CaptureState{
			SourceURL:   cfg.SourceURL,
			SaveDir:     cfg.SaveDir,
			LatestPath:  cfg.LatestPath,
			FallbackDir: cfg.FallbackDir,
			IntervalSec: cfg.IntervalSec,
			Width:       cfg.Width,
			Height:      cfg.Height,
			Quality:     cfg.Quality,
			Running:     true,
			Status:      StatusInitializing,
		},
		storage: storage,
		log:     log,
	}
	s.loadPersisted()
	return s
}

func (s *SettingsStore) Snapshot() CaptureState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *SettingsStore) Update(o CaptureOverrides) CaptureState {
	s.mu.Lock()
	if o.SourceURL != nil {
		s.cur.SourceURL = *o.SourceURL
	}
	if o.IntervalSec != nil {
		s.cur.IntervalSec = *o.IntervalSec
	}
	if o.Width != nil {
		s.cur.Width = *o.Width
	}
	if o.Height != nil {
		s.cur.Height = *o.Height
	}
	if o.Quality != nil {
		s.cur.Quality = *o.Quality
	}
	snap := s.cur
	s.mu.Unlock()

	s.persist(snap)
	return snap
}

func (s *SettingsStore) SetStatus(status string) {
	s.mu.Lock()
	s.cur.Status = status
	s.mu.Unlock()
}

func (s *SettingsStore) SetLastFrame(path string, t time.Time) {
	s.mu.Lock()
	s.cur.Status = StatusOK
	s.cur.LastFramePath = path
	s.cur.LastFrameTime = t
	s.mu.Unlock()
}

func (s *SettingsStore) SetRunning(running bool) {
	s.mu.Lock()
	s.cur.Running = running
	s.mu.Unlock()
}

// SetSourceURL records a working source URL discovered by the acquirer so
// later cycles start from the known-good one.
func (s *SettingsStore) SetSourceURL(url string) {
	s.mu.Lock()
	s.cur.SourceURL = url
	snap := s.cur
	s.mu.Unlock()

	s.persist(snap)
}

func (s *SettingsStore) loadPersisted() {
	if s.storage == nil {
		return
	}
	rows, err := s.storage.DB().Query("SELECT key, value FROM settings")
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		switch key {
		case "capture.source_url":
			s.cur.SourceURL = value
		case "capture.interval_sec":
			if n, err := strconv.Atoi(value); err == nil {
				s.cur.IntervalSec = n
			}
		case "capture.width":
			if n, err := strconv.Atoi(value); err == nil {
				s.cur.Width = n
			}
		case "capture.height":
			if n, err := strconv.Atoi(value); err == nil {
				s.cur.Height = n
			}
		case "capture.quality":
			if n, err := strconv.Atoi(value); err == nil {
				s.cur.Quality = n
			}
		}
	}
}

func (s *SettingsStore) persist(snap CaptureState) {
	if s.storage == nil {
		return
	}
	kv := map[string]string{
		"capture.source_url":   snap.SourceURL,
		"capture.interval_sec": strconv.Itoa(snap.IntervalSec),
		"capture.width":        strconv.Itoa(snap.Width),
		"capture.height":       strconv.Itoa(snap.Height),
		"capture.quality":      strconv.Itoa(snap.Quality),
	}
	for key, val := range kv {
		_, err := s.storage.DB().Exec(
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, val,
		)
		if err != nil {
			s.log.Warn("persisting setting failed", zap.String("key", key), zap.Error(err))
		}
	}
}
