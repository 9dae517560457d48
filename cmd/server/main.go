package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"skywatch/internal/camera"
	"skywatch/internal/motion"
	"skywatch/internal/platform/config"
	"skywatch/internal/platform/logger"
	"skywatch/internal/platform/metrics"
	"skywatch/internal/server"
	"skywatch/internal/skytrack"
	"skywatch/internal/store"
	"skywatch/internal/timelapse"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = config.Load()

	cfg, err := config.LoadFile(config.GetEnv("CONFIG_FILE", "config.yaml"))
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	met := metrics.New()

	if err := os.MkdirAll(cfg.Storage.BasePath, 0o755); err != nil {
		log.Error("create storage dir failed", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Error("open database failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var captureInterval time.Duration
	if cfg.Camera.CaptureFPSCap > 0 {
		captureInterval = time.Second / time.Duration(cfg.Camera.CaptureFPSCap)
	}

	src := camera.NewVideoSource(15*time.Second, cfg.Camera.JPEGQuality)
	cam := camera.NewManager(src, cfg.Camera.SourceURI, camera.Options{
		ReconnectInterval: time.Duration(cfg.Camera.ReconnectSeconds) * time.Second,
		CaptureInterval:   captureInterval,
	}, logger.Component(log, "camera"), met)
	cam.Start()

	var tl *timelapse.Service
	if cfg.Timelapse.Enabled {
		tlLog := logger.Component(log, "timelapse")
		runner := timelapse.NewFFmpeg("ffmpeg",
			time.Duration(cfg.Timelapse.EncoderTimeout)*time.Second, tlLog)
		asm, err := timelapse.NewAssembler(
			filepath.Join(cfg.Storage.BasePath, "timelapse"), runner, tlLog)
		if err != nil {
			log.Error("timelapse setup failed", "error", err)
			os.Exit(1)
		}
		tl, err = timelapse.NewService(cam, runner, asm, db,
			filepath.Join(cfg.Storage.BasePath, "timelapse", "frames"),
			timelapse.Options{
				Interval:         time.Duration(cfg.Timelapse.IntervalSeconds) * time.Second,
				CompileThreshold: cfg.Timelapse.CompileThreshold,
				EncodeFPS:        cfg.Timelapse.EncodeFPS,
			}, tlLog, met)
		if err != nil {
			log.Error("timelapse setup failed", "error", err)
			os.Exit(1)
		}
		tl.Start()
	}

	var mo *motion.Service
	if cfg.Motion.Enabled {
		det := motion.NewDiffDetector(cfg.Motion.Sensitivity, cfg.Motion.MinArea)
		mo, err = motion.NewService(cam, det, db,
			filepath.Join(cfg.Storage.BasePath, "motion"),
			motion.Options{
				BurstCount: cfg.Motion.BurstCount,
				BurstFPS:   cfg.Motion.BurstFPS,
				Cooldown:   time.Duration(cfg.Motion.CooldownSeconds) * time.Second,
			}, logger.Component(log, "motion"), met)
		if err != nil {
			log.Error("motion setup failed", "error", err)
			os.Exit(1)
		}
		mo.Start()
	}

	solar := newTracker(skytrack.ModeSolar, cfg.Solar, cfg.Storage.BasePath, cam, log)
	lunar := newTracker(skytrack.ModeLunar, cfg.Lunar, cfg.Storage.BasePath, cam, log)

	hub := server.NewHub(cam, cfg.Camera.CaptureFPSCap, logger.Component(log, "hub"))
	hub.Start()

	h := server.NewHandler(cam, hub, nilIfUnset(tl), nilIfUnsetMotion(mo),
		nilIfUnsetTracker(solar), nilIfUnsetTracker(lunar),
		cfg.Storage.BasePath, logger.Component(log, "api"))

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() {
			stats := cam.Stats()
			met.SetCameraConnected(stats.Connected)
			if tl != nil {
				met.SetBufferedFrames(tl.Stats().BufferedFrames)
			}
		}).ServeHTTP(w, req)
	})
	h.Routes(r)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"addr", addr,
		"source_uri", cfg.Camera.SourceURI,
		"timelapse", cfg.Timelapse.Enabled,
		"motion", cfg.Motion.Enabled,
		"solar", cfg.Solar.Enabled,
		"lunar", cfg.Lunar.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	if err := hub.Stop(ctx); err != nil {
		log.Error("hub shutdown error", "error", err)
	}
	for _, tr := range []*skytrack.Tracker{solar, lunar} {
		if tr != nil {
			if err := tr.Stop(ctx); err != nil {
				log.Error("tracker shutdown error", "error", err)
			}
		}
	}
	if mo != nil {
		if err := mo.Stop(ctx); err != nil {
			log.Error("motion shutdown error", "error", err)
		}
	}
	// Timelapse stops before the camera so the final buffer flush still
	// sees a live frame source.
	if tl != nil {
		if err := tl.Stop(ctx); err != nil {
			log.Error("timelapse shutdown error", "error", err)
		}
	}
	if err := cam.Stop(ctx); err != nil {
		log.Error("camera shutdown error", "error", err)
	}

	log.Info("server stopped")
}

// newTracker builds and starts one sky tracker, or returns nil when the mode
// is disabled.
func newTracker(mode skytrack.Mode, cfg config.TrackerConfig, basePath string,
	cam camera.FrameSource, log *slog.Logger) *skytrack.Tracker {
	if !cfg.Enabled {
		return nil
	}
	dir := filepath.Join(basePath, mode.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error("create tracker dir failed", "mode", mode.String(), "error", err)
		os.Exit(1)
	}
	finder := skytrack.NewHoughFinder(cfg.BrightnessThreshold, cfg.MinRadius, cfg.MaxRadius)
	comp := skytrack.NewCompositor(filepath.Join(dir, "composite.jpg"))
	tr := skytrack.NewTracker(mode, cam, finder, comp, skytrack.Options{
		CheckInterval: time.Duration(cfg.IntervalSeconds) * time.Second,
		AlwaysOn:      !cfg.WindowOnly,
	}, logger.Component(log, mode.String()))
	tr.Start()
	return tr
}

// A nil *Service stored in a non-nil interface would defeat the handler's
// disabled checks, so typed-nil conversions happen here.
func nilIfUnset(tl *timelapse.Service) server.TimelapseService {
	if tl == nil {
		return nil
	}
	return tl
}

func nilIfUnsetMotion(mo *motion.Service) server.MotionService {
	if mo == nil {
		return nil
	}
	return mo
}

func nilIfUnsetTracker(tr *skytrack.Tracker) server.SkyTracker {
	if tr == nil {
		return nil
	}
	return tr
}
