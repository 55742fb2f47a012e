package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/obzorcam/backend/cmd/server"
	"github.com/obzorcam/backend/config"
	"github.com/obzorcam/backend/services"
)

var configPath string

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "serve":
		runServe(os.Args[2:])
	case "capture":
		runCapture(os.Args[2:])
	case "presets":
		runPresets(os.Args[2:])
	case "goto":
		runGoto(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: obzorcam <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve     Start the HTTP API server with the capture and sweep loops")
	fmt.Fprintln(os.Stderr, "  capture   Capture a single frame and exit")
	fmt.Fprintln(os.Stderr, "  presets   List the camera's stored PTZ presets")
	fmt.Fprintln(os.Stderr, "  goto      Move the camera to a preset index")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Common flags:")
	fmt.Fprintln(os.Stderr, "  -config   Path to YAML config file (default: config.yaml)")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Run 'obzorcam <command> -help' for details.")
}

func addConfigFlag(fs *flag.FlagSet) {
	fs.StringVar(&configPath, "config", "config.yaml", "path to YAML config file")
}

func loadAppConfig() *config.AppConfig {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	return log
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addConfigFlag(fs)
	fs.Parse(args)

	cfg := loadAppConfig()
	log := newLogger(cfg.App.LogLevel)
	defer log.Sync()

	server.Start(cfg, log)
}

func runCapture(args []string) {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	addConfigFlag(fs)
	fs.Parse(args)

	cfg := loadAppConfig()
	log := newLogger(cfg.App.LogLevel)
	defer log.Sync()

	settings := services.NewSettingsStore(cfg.Capture, nil, log)
	cache := services.NewFrameCache(log)
	grabber := services.NewFFmpegGrabber(log)
	acquirer := services.NewAcquirer(cfg.Capture, settings, cache, grabber, log)
	acquirer.InitFiles()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if !acquirer.CaptureFrame(ctx) {
		fmt.Fprintln(os.Stderr, "capture failed")
		os.Exit(1)
	}
	snap := settings.Snapshot()
	fmt.Printf("Captured %s\n", snap.LastFramePath)
}

func runPresets(args []string) {
	fs := flag.NewFlagSet("presets", flag.ExitOnError)
	addConfigFlag(fs)
	fs.Parse(args)

	cfg := loadAppConfig()
	log := newLogger(cfg.App.LogLevel)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	camera := services.NewOnvifClient(cfg.PTZ.OnvifURL, cfg.PTZ.Username, cfg.PTZ.Password, log)
	if err := camera.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connecting to camera: %v\n", err)
		os.Exit(1)
	}
	presets, err := camera.GetPresets(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetching presets: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d preset(s)\n", len(presets))
	for i, p := range presets {
		fmt.Printf("  %d: %s (token %s)\n", i, p.Name, p.Token)
	}
}

func runGoto(args []string) {
	fs := flag.NewFlagSet("goto", flag.ExitOnError)
	preset := fs.String("preset", "", "preset index (required)")
	addConfigFlag(fs)
	fs.Parse(args)

	if *preset == "" {
		fmt.Fprintln(os.Stderr, "error: -preset flag is required")
		fs.Usage()
		os.Exit(1)
	}
	index, err := strconv.Atoi(*preset)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: -preset must be a number")
		os.Exit(1)
	}

	cfg := loadAppConfig()
	log := newLogger(cfg.App.LogLevel)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	camera := services.NewOnvifClient(cfg.PTZ.OnvifURL, cfg.PTZ.Username, cfg.PTZ.Password, log)
	controller := services.NewController(cfg.PTZ, camera, nil, nil, log)
	if !controller.Init(ctx) {
		fmt.Fprintln(os.Stderr, "camera link initialization failed")
		os.Exit(1)
	}
	if !controller.GotoPreset(ctx, index) {
		fmt.Fprintf(os.Stderr, "move to preset %d failed\n", index)
		os.Exit(1)
	}
	fmt.Printf("Moved to preset %d\n", index)
}
