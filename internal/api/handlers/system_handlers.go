package handlers

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/vision"
	"liveness-gate-go/internal/db/repository"
	"liveness-gate-go/internal/processing"
	"liveness-gate-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SystemHandler behandelt System-Endpunkte (Status, Konfiguration, Neustart)
type SystemHandler struct {
	cfg         *config.Config
	repo        repository.Repository
	pool        *processing.WorkerPool
	coordinator *processing.Coordinator
	registry    *vision.Registry
}

// NewSystemHandler erstellt einen neuen System-Handler
func NewSystemHandler(cfg *config.Config, repo repository.Repository, pool *processing.WorkerPool, coordinator *processing.Coordinator, registry *vision.Registry) *SystemHandler {
	return &SystemHandler{
		cfg:         cfg,
		repo:        repo,
		pool:        pool,
		coordinator: coordinator,
		registry:    registry,
	}
}

// RegisterRoutes registriert alle System-Routen
func (h *SystemHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", h.GetStatus)
	router.GET("/config", h.GetConfig)
	router.POST("/system/restart", h.RestartService)
}

// GetStatus gibt den Systemzustand zurück: Laufzeitstatistiken,
// Erreichbarkeit des Vision-Backends und Session-Zahlen
func (h *SystemHandler) GetStatus(c *gin.Context) {
	stats := utils.GetSystemStats(h.pool, h.coordinator.ActiveSessionCount())

	// Erreichbarkeit des aktiven Vision-Backends prüfen
	providerStatus := gin.H{"name": "", "available": false}
	if provider, ok := h.registry.GetActiveProvider(); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		providerStatus = gin.H{
			"name":      provider.GetProviderName(),
			"available": provider.IsAvailable(ctx),
		}
	}

	statistics, err := h.repo.GetStatistics()
	if err != nil {
		log.Errorf("Failed to collect session statistics: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"stats":      stats,
		"provider":   providerStatus,
		"statistics": statistics,
	})
}

// GetConfig gibt die aktive Konfiguration ohne Geheimnisse zurück
func (h *SystemHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"server": gin.H{
			"host":     h.cfg.Server.Host,
			"port":     h.cfg.Server.Port,
			"timezone": h.cfg.Server.Timezone,
		},
		"faceapi": gin.H{
			"url":                 h.cfg.FaceAPI.URL,
			"detection_threshold": h.cfg.FaceAPI.DetectionThreshold,
		},
		"liveness": gin.H{
			"challenges":                h.cfg.Liveness.Challenges,
			"blink_threshold":           h.cfg.Liveness.BlinkThreshold,
			"smile_threshold":           h.cfg.Liveness.SmileThreshold,
			"smile_allow_surprised":     h.cfg.Liveness.SmileAllowSurprised,
			"match_threshold":           h.cfg.Liveness.MatchThreshold,
			"max_attempts":              h.cfg.Liveness.MaxAttempts,
			"challenge_timeout_seconds": h.cfg.Liveness.ChallengeTimeoutSeconds,
			"sampling_interval_ms":      h.cfg.Liveness.SamplingIntervalMs,
		},
		"mqtt": gin.H{
			"enabled":     h.cfg.MQTT.Enabled,
			"broker":      h.cfg.MQTT.Broker,
			"port":        h.cfg.MQTT.Port,
			"frame_topic": h.cfg.MQTT.FrameTopic,
		},
		"opencv": gin.H{
			"camera_enabled":    h.cfg.OpenCV.CameraEnabled,
			"annotator_enabled": h.cfg.OpenCV.AnnotatorEnabled,
		},
		"i18n": gin.H{
			"default_language": h.cfg.I18n.DefaultLanguage,
		},
	})
}

// RestartService startet den Dienst neu. Die Antwort wird vor dem
// Neustart gesendet; der Supervisor (Docker, systemd) startet den
// Prozess nach dem SIGTERM neu.
func (h *SystemHandler) RestartService(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Service wird neu gestartet...",
	})
	// Flush der Antwort sicherstellen
	if flusher, ok := c.Writer.(interface{ Flush() }); ok {
		flusher.Flush()
	}

	// Neustart im Hintergrund ausführen, damit die Antwort an den Client gesendet werden kann
	go func() {
		pid := os.Getpid()
		log.Infof("Initiating service restart (pid %d)", pid)

		proc, err := os.FindProcess(pid)
		if err != nil {
			log.Errorf("Failed to find own process: %v", err)
			return
		}

		// SIGTERM auslösen, der Graceful-Shutdown-Pfad übernimmt
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			log.Errorf("Failed to send SIGTERM: %v", err)
		}
	}()
}
