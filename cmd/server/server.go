package server

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/obzorcam/backend/api"
	"github.com/obzorcam/backend/config"
	"github.com/obzorcam/backend/services"
)

func Start(cfg *config.AppConfig, log *zap.Logger) {
	// Init storage
	storage, err := services.NewStorage(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("opening storage", zap.Error(err))
	}
	defer storage.Close()
	log.Info("SQLite storage opened", zap.String("path", cfg.Storage.DBPath))

	// Init capture pipeline
	settings := services.NewSettingsStore(cfg.Capture, storage, log.Named("settings"))
	cache := services.NewFrameCache(log.Named("cache"))
	grabber := services.NewFFmpegGrabber(log.Named("ffmpeg"))
	acquirer := services.NewAcquirer(cfg.Capture, settings, cache, grabber, log.Named("acquirer"))
	scheduler := services.NewScheduler(settings, acquirer, log.Named("scheduler"))

	// Init PTZ
	camera := services.NewOnvifClient(cfg.PTZ.OnvifURL, cfg.PTZ.Username, cfg.PTZ.Password, log.Named("onvif"))
	controller := services.NewController(cfg.PTZ, camera, acquirer, storage, log.Named("ptz"))

	acquirer.InitFiles()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// First capture is delayed a little so the HTTP server is answering
	// before the camera is first opened.
	go func() {
		select {
		case <-time.After(5 * time.Second):
			acquirer.CaptureFrame(ctx)
		case <-ctx.Done():
		}
	}()

	// Camera link init can block for seconds on an unreachable camera;
	// the controller degrades to limited mode on failure either way.
	go func() {
		controller.Init(ctx)
		controller.Start()
	}()

	scheduler.Start()

	// Init handlers
	captureHandler := api.NewCaptureHandlers(settings, acquirer, scheduler, log.Named("api"))
	ptzHandler := api.NewPTZHandlers(controller, log.Named("api"))
	streamHandler := api.NewStreamHandlers(settings, acquirer, cache, log.Named("api"))

	// Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Control endpoints accept GET as well as POST; the original web UI
	// drives them with plain links.
	r.Route("/capture", func(r chi.Router) {
		r.Get("/latest.jpg", captureHandler.Latest)
		r.Get("/capture_now", captureHandler.CaptureNow)
		r.Post("/capture_now", captureHandler.CaptureNow)
		r.Get("/info", captureHandler.Info)
		r.Post("/config", captureHandler.UpdateConfig)
		r.Get("/start", captureHandler.Start)
		r.Post("/start", captureHandler.Start)
		r.Get("/stop", captureHandler.Stop)
		r.Post("/stop", captureHandler.Stop)
		r.Get("/diagnostics", captureHandler.Diagnostics)
	})

	r.Route("/ptz", func(r chi.Router) {
		r.Get("/status", ptzHandler.Status)
		r.Get("/presets", ptzHandler.Presets)
		r.Get("/goto/{preset}", ptzHandler.Goto)
		r.Post("/goto/{preset}", ptzHandler.Goto)
		r.Post("/config", ptzHandler.UpdateConfig)
		r.Get("/automatic/{state}", ptzHandler.Automatic)
		r.Post("/automatic/{state}", ptzHandler.Automatic)
		r.Get("/start", ptzHandler.Start)
		r.Post("/start", ptzHandler.Start)
		r.Get("/stop", ptzHandler.Stop)
		r.Post("/stop", ptzHandler.Stop)
	})

	r.Route("/stream", func(r chi.Router) {
		r.Get("/snapshot", streamHandler.Snapshot)
		r.Get("/cache", streamHandler.CacheStatus)
		r.Post("/cache/clear", streamHandler.CacheClear)
		r.Get("/info", streamHandler.Info)
	})

	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}

	scheduler.StopWait(5 * time.Second)
	controller.StopWait(5 * time.Second)
}
