package models

import "time"

// CaptureInfo mirrors the persisted state of the last capture attempt.
type CaptureInfo struct {
	Status        string     `json:"status"`
	LastFrameTime *time.Time `json:"last_frame_time"`
	LastFramePath string     `json:"last_frame_path"`
	SourceURL     string     `json:"rtsp_url"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	Quality       int        `json:"quality"`
	LatestURL     string     `json:"latest_url"`
}

type CaptureNowResponse struct {
	Status        string     `json:"status"`
	Message       string     `json:"message"`
	LastFrameTime *time.Time `json:"last_frame_time,omitempty"`
	LatestURL     string     `json:"latest_url,omitempty"`
	FileExists    bool       `json:"file_exists"`
	FileSize      int64      `json:"file_size"`
	FileSizeHuman string     `json:"file_size_human,omitempty"`
}

type CaptureConfigResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Config  map[string]any `json:"config"`
}

type StatusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PresetInfo describes one camera-stored PTZ preset.
type PresetInfo struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Index int    `json:"index"`
}

type PTZPositionJSON struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
	Zoom float64 `json:"zoom"`
}

type PTZStatusResponse struct {
	Status        string           `json:"status"`
	CurrentPreset int              `json:"current_preset"`
	LastMoveTime  *time.Time       `json:"last_move_time"`
	Position      *PTZPositionJSON `json:"position"`
	AutomaticMode bool             `json:"automatic_mode"`
	PTZEnabled    bool             `json:"ptz_enabled"`
}

type CacheEntryInfo struct {
	Size      string         `json:"size"`
	Age       string         `json:"age"`
	Timestamp string         `json:"timestamp"`
	MaxAge    string         `json:"max_age"`
	Metadata  map[string]any `json:"metadata"`
}

type CacheStatusResponse struct {
	Entries int                       `json:"entries"`
	Sources []string                  `json:"sources"`
	Details map[string]CacheEntryInfo `json:"details"`
}
