package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type AppSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type CaptureSettings struct {
	SourceURL   string `yaml:"source_url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	CameraHost  string `yaml:"camera_host"`
	RTSPPort    int    `yaml:"rtsp_port"`
	SaveDir     string `yaml:"save_dir"`
	LatestPath  string `yaml:"latest_path"`
	FallbackDir string `yaml:"fallback_dir"`
	IntervalSec int    `yaml:"interval_sec"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Quality     int    `yaml:"quality"`

	DedupEnabled        bool `yaml:"dedup_enabled"`
	DedupPHashThreshold int  `yaml:"dedup_phash_threshold"`
}

type PTZSettings struct {
	OnvifURL        string `yaml:"onvif_url"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Presets         []int  `yaml:"presets"`
	HomePreset      int    `yaml:"home_preset"`
	DwellSec        int    `yaml:"dwell_sec"`
	HomeDwellSec    int    `yaml:"home_dwell_sec"`
	CaptureDelaySec int    `yaml:"capture_delay_sec"`
}

type StorageSettings struct {
	DBPath string `yaml:"db_path"`
}

type AppConfig struct {
	App     AppSettings     `yaml:"app"`
	Capture CaptureSettings `yaml:"capture"`
	PTZ     PTZSettings     `yaml:"ptz"`
	Storage StorageSettings `yaml:"storage"`
}

// LoadConfig reads the optional YAML file, applies environment variable
// overrides on top, and fills in defaults for anything still unset.
// Environment values win over the file so deployments can be tuned without
// editing config on disk.
func LoadConfig(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	if path != "" {
		if err := loadYAML(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func applyEnv(cfg *AppConfig) {
	envStr(&cfg.App.Host, "HOST")
	envInt(&cfg.App.Port, "PORT")
	envStr(&cfg.App.LogLevel, "LOG_LEVEL")

	envStr(&cfg.Capture.SourceURL, "RTSP_URL")
	envStr(&cfg.Capture.Username, "RTSP_USER")
	envStr(&cfg.Capture.Password, "RTSP_PASS")
	envStr(&cfg.Capture.CameraHost, "RTSP_HOST")
	envInt(&cfg.Capture.RTSPPort, "RTSP_PORT")
	envStr(&cfg.Capture.SaveDir, "SAVE_DIR")
	envInt(&cfg.Capture.IntervalSec, "INTERVAL")
	envInt(&cfg.Capture.Width, "WIDTH")
	envInt(&cfg.Capture.Height, "HEIGHT")
	envInt(&cfg.Capture.Quality, "QUALITY")

	envStr(&cfg.PTZ.OnvifURL, "ONVIF_URL")
	envStr(&cfg.PTZ.Username, "ONVIF_USERNAME")
	envStr(&cfg.PTZ.Password, "ONVIF_PASSWORD")
	envInt(&cfg.PTZ.HomePreset, "HOME_PRESET")
	envInt(&cfg.PTZ.DwellSec, "DWELL_TIME")
	envInt(&cfg.PTZ.HomeDwellSec, "HOME_DWELL_TIME")
	envInt(&cfg.PTZ.CaptureDelaySec, "CAPTURE_DELAY")

	if v := os.Getenv("PRESETS"); v != "" {
		var presets []int
		for _, part := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			presets = append(presets, n)
		}
		if len(presets) > 0 {
			cfg.PTZ.Presets = presets
		}
	}

	envStr(&cfg.Storage.DBPath, "DB_PATH")
}

func applyDefaults(cfg *AppConfig) {
	if cfg.App.Host == "" {
		cfg.App.Host = "0.0.0.0"
	}
	if cfg.App.Port == 0 {
		cfg.App.Port = 8000
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}

	if cfg.Capture.Username == "" {
		cfg.Capture.Username = "admin"
	}
	if cfg.Capture.RTSPPort == 0 {
		cfg.Capture.RTSPPort = 554
	}
	if cfg.Capture.SourceURL == "" && cfg.Capture.CameraHost != "" {
		cfg.Capture.SourceURL = fmt.Sprintf("rtsp://%s:%s@%s:%d/ch01/0",
			cfg.Capture.Username, cfg.Capture.Password,
			cfg.Capture.CameraHost, cfg.Capture.RTSPPort)
	}
	if cfg.Capture.SaveDir == "" {
		cfg.Capture.SaveDir = "frames"
	}
	if cfg.Capture.LatestPath == "" {
		cfg.Capture.LatestPath = "static/latest.jpg"
	}
	if cfg.Capture.FallbackDir == "" {
		cfg.Capture.FallbackDir = "/tmp/frames"
	}
	if cfg.Capture.IntervalSec == 0 {
		cfg.Capture.IntervalSec = 30
	}
	if cfg.Capture.Width == 0 {
		cfg.Capture.Width = 1280
	}
	if cfg.Capture.Height == 0 {
		cfg.Capture.Height = 720
	}
	if cfg.Capture.Quality == 0 {
		cfg.Capture.Quality = 85
	}
	if cfg.Capture.DedupPHashThreshold == 0 {
		cfg.Capture.DedupPHashThreshold = 8
	}

	if cfg.PTZ.OnvifURL == "" {
		cfg.PTZ.OnvifURL = cfg.Capture.SourceURL
	}
	if cfg.PTZ.Username == "" {
		cfg.PTZ.Username = cfg.Capture.Username
	}
	if cfg.PTZ.Password == "" {
		cfg.PTZ.Password = cfg.Capture.Password
	}
	if len(cfg.PTZ.Presets) == 0 {
		cfg.PTZ.Presets = []int{0, 1, 2, 3, 4}
	}
	if cfg.PTZ.DwellSec == 0 {
		cfg.PTZ.DwellSec = 30
	}
	if cfg.PTZ.HomeDwellSec == 0 {
		cfg.PTZ.HomeDwellSec = 600
	}
	if cfg.PTZ.CaptureDelaySec == 0 {
		cfg.PTZ.CaptureDelaySec = 10
	}

	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = "data/obzorcam.db"
	}
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
