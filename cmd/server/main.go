package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/api/handlers"
	"liveness-gate-go/internal/api/middleware"
	"liveness-gate-go/internal/cleanup"
	"liveness-gate-go/internal/core/liveness"
	"liveness-gate-go/internal/core/vision"
	"liveness-gate-go/internal/db"
	"liveness-gate-go/internal/db/repository"
	"liveness-gate-go/internal/integrations/faceapi"
	"liveness-gate-go/internal/integrations/homeassistant"
	"liveness-gate-go/internal/integrations/mqtt"
	"liveness-gate-go/internal/integrations/opencv"
	"liveness-gate-go/internal/logger"
	"liveness-gate-go/internal/processing"
	"liveness-gate-go/internal/server/sse"
	"liveness-gate-go/internal/util/timezone"

	"github.com/gin-contrib/cors"
	ginsessions "github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "/config/config.yaml"

// cameraSessionWatcher stops the local camera once the session it feeds
// has finished. Cancelled sessions are handled by the API handler, so
// only real outcomes arrive here.
type cameraSessionWatcher struct {
	camera *opencv.CameraSource
}

func (w *cameraSessionWatcher) PublishOutcome(profileName string, outcome liveness.Outcome) {
	if w.camera.ActiveSession() == outcome.SessionID {
		w.camera.Stop()
	}
}

func main() {
	// Load configuration
	configPath := os.Getenv("LIVENESS_GATE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		// Use logrus fatal even before full initialization if config fails
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log); err != nil {
		// Log the error but continue, the logger might have defaulted
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	// All timestamps (DB records, progress log, MQTT payloads) use the
	// configured timezone.
	timezone.Initialize(cfg.Server.Timezone)

	// Initialize database connection
	log.Info("Initializing database...")
	if err := db.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	gormDB, err := db.GetDB()
	if err != nil {
		log.Fatalf("Failed to get database handle: %v", err)
	}
	repo := repository.NewSQLiteRepository(gormDB)
	log.Info("Database initialization complete.")

	// Vision backend: the face-api.js sidecar is the only registered
	// provider, but the registry keeps the backend swappable.
	registry := vision.NewRegistry()
	registry.RegisterProvider(faceapi.NewService(cfg.FaceAPI))
	if !registry.SetActiveProvider(vision.ProviderFaceAPI) {
		log.Fatal("Failed to activate the faceapi vision provider")
	}
	provider, _ := registry.GetActiveProvider()

	// Worker pool for frame analysis
	pool := processing.NewWorkerPool(provider)

	// SSE hub for progress and outcome events
	hub := sse.NewHub()
	go hub.Run()

	// Session coordinator
	coordinator := processing.NewCoordinator(cfg, repo, pool, hub)

	// Initialize MQTT client if enabled
	mqttClient := mqtt.NewClient(cfg.MQTT)
	if cfg.MQTT.Enabled {
		mqttClient.RegisterFrameHandler(coordinator)
		coordinator.AddOutcomePublisher(mqttClient)
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	// Home Assistant discovery and result publishing ride on MQTT
	if cfg.MQTT.Enabled && cfg.MQTT.HomeAssistant.Enabled {
		discovery := homeassistant.NewDiscoveryManager(mqttClient, cfg)
		if profiles, err := repo.GetProfiles(); err != nil {
			log.Warnf("Could not load profiles for Home Assistant discovery: %v", err)
		} else if err := discovery.RegisterProfiles(profiles); err != nil {
			log.Warnf("Home Assistant discovery failed: %v", err)
		}

		haPublisher := homeassistant.NewPublisher(mqttClient, cfg)
		haPublisher.StartResetTimers()
		coordinator.AddOutcomePublisher(haPublisher)
	}

	// Initialize cleanup service
	cleanupService := cleanup.NewService(repo, cfg.Cleanup.RetentionDays, cfg.Server.SnapshotDir, 24*time.Hour)
	if cleanupService != nil {
		cleanupService.StartBackgroundCleanup()
	}

	// Optional local OpenCV components: annotated debug frames and the
	// camera frame source.
	var annotator *opencv.Annotator
	if cfg.OpenCV.AnnotatorEnabled {
		annotator = opencv.NewAnnotator(&cfg.OpenCV)
		coordinator.AddFrameObserver(annotator)
	}
	var camera *opencv.CameraSource
	if cfg.OpenCV.CameraEnabled {
		camera = opencv.NewCameraSource(cfg, coordinator)
		coordinator.AddOutcomePublisher(&cameraSessionWatcher{camera: camera})
	}

	// Translator for localized progress messages
	translator, err := middleware.NewTranslator(cfg.I18n)
	if err != nil {
		log.Warnf("Failed to initialize translator: %v. Progress messages fall back to English.", err)
	}

	// --- Setup Router ---
	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	store := cookie.NewStore([]byte(cfg.Server.SessionSecret))
	router.Use(ginsessions.Sessions("liveness_gate_session", store))
	router.Use(middleware.I18n(translator, cfg.I18n.DefaultLanguage))

	// Register API routes
	api := router.Group("/api")
	apiHandler := handlers.NewAPIHandler(cfg, repo, coordinator)
	apiHandler.RegisterRoutes(api)

	sessionHandler := handlers.NewSessionHandler(cfg, repo, coordinator, hub, translator)
	if camera != nil {
		sessionHandler.SetCameraSource(camera)
	}
	sessionHandler.RegisterRoutes(api)

	systemHandler := handlers.NewSystemHandler(cfg, repo, pool, coordinator, registry)
	systemHandler.RegisterRoutes(api)

	// Debug routes for annotated frames
	if annotator != nil {
		annotator.DebugSvc.RegisterRoutes(router)
	}

	// Serve enrollment snapshots
	router.Static(cfg.Server.SnapshotURL, cfg.Server.SnapshotDir)
	log.Infof("Serving snapshots from %s under %s", cfg.Server.SnapshotDir, cfg.Server.SnapshotURL)

	// Start the server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Infof("Starting server on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	// Stop components in reverse dependency order. Active sessions are
	// aborted with reason "cancelled" and never fire outcome callbacks.
	if camera != nil {
		camera.Stop()
	}
	coordinator.Shutdown()
	pool.Shutdown()
	if cfg.MQTT.Enabled {
		mqttClient.Stop()
	}
	if cleanupService != nil {
		cleanupService.StopBackgroundCleanup()
		log.Info("Cleanup service stopped.")
	}

	log.Info("Server stopped.")
}
