package handlers

import (
	"bytes"
	"errors"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/api/middleware"
	"liveness-gate-go/internal/core/liveness"
	"liveness-gate-go/internal/db/repository"
	"liveness-gate-go/internal/integrations/opencv"
	"liveness-gate-go/internal/processing"
	"liveness-gate-go/internal/server/sse"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SessionHandler behandelt Session-Anfragen und den Event-Stream
type SessionHandler struct {
	cfg         *config.Config
	repo        repository.Repository
	coordinator *processing.Coordinator
	sseHub      *sse.Hub
	translator  *middleware.Translator
	camera      *opencv.CameraSource // optional, nur bei aktivierter Kamera
}

// startSessionRequest ist der Body für das Starten einer Session.
// Das Profil wird über den Namen oder die numerische ID angegeben;
// die optionalen Overrides gelten nur für diese Session.
type startSessionRequest struct {
	Profile                 string   `json:"profile"`
	ProfileID               uint     `json:"profile_id"`
	Language                string   `json:"language"`
	Source                  string   `json:"source"`
	Challenges              []string `json:"challenges"`
	MaxAttempts             int      `json:"max_attempts"`
	ChallengeTimeoutSeconds int      `json:"challenge_timeout_seconds"`
}

// NewSessionHandler erstellt einen neuen Session-Handler
func NewSessionHandler(cfg *config.Config, repo repository.Repository, coordinator *processing.Coordinator, sseHub *sse.Hub, translator *middleware.Translator) *SessionHandler {
	return &SessionHandler{
		cfg:         cfg,
		repo:        repo,
		coordinator: coordinator,
		sseHub:      sseHub,
		translator:  translator,
	}
}

// SetCameraSource hinterlegt die optionale Kamera-Quelle
func (h *SessionHandler) SetCameraSource(camera *opencv.CameraSource) {
	h.camera = camera
}

// RegisterRoutes registriert alle Session-Routen
func (h *SessionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/sessions", h.StartSession)
	router.GET("/sessions", h.ListSessions)
	router.GET("/sessions/:id", h.GetSession)
	router.DELETE("/sessions/:id", h.CancelSession)
	router.POST("/sessions/:id/frames", h.SubmitFrame)

	// Echtzeit-Updates über SSE
	router.GET("/events", h.StreamEvents)
}

// StartSession startet eine Verifizierungs-Session für ein Profil.
// Die Progress-Meldungen werden in der angefragten Sprache erzeugt;
// bei source=camera liefert die lokale Kamera die Frames.
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid request body"})
		return
	}

	profileName := req.Profile
	if profileName == "" {
		if req.ProfileID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Either profile or profile_id is required"})
			return
		}
		profile, err := h.repo.GetProfileByID(req.ProfileID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up profile"})
			return
		}
		if profile == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
			return
		}
		profileName = profile.Name
	}

	// Overrides vor dem Start prüfen, damit Tippfehler ein 400 ergeben
	for _, name := range req.Challenges {
		if _, err := liveness.ParseChallengeType(name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown challenge type: " + name})
			return
		}
	}

	var overrides *processing.SessionOverrides
	if len(req.Challenges) > 0 || req.MaxAttempts > 0 || req.ChallengeTimeoutSeconds > 0 {
		overrides = &processing.SessionOverrides{
			Challenges:              req.Challenges,
			MaxAttempts:             req.MaxAttempts,
			ChallengeTimeoutSeconds: req.ChallengeTimeoutSeconds,
		}
	}

	lang := req.Language
	if lang == "" {
		lang = c.GetString("language")
	}

	msgs := liveness.DefaultMessages()
	if h.translator != nil && lang != "" {
		msgs = h.translator.LivenessMessages(lang)
	}

	source := req.Source
	if source == "" {
		source = "http"
	}

	info, err := h.coordinator.StartSessionWithOverrides(profileName, source, msgs, overrides)
	if err != nil {
		switch {
		case errors.Is(err, processing.ErrProfileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		default:
			log.Errorf("Failed to start session for profile %s: %v", profileName, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session: " + err.Error()})
		}
		return
	}

	// Bei Kamera-Sessions beginnt die Aufnahme sofort
	if source == "camera" {
		if h.camera == nil {
			h.coordinator.CancelSession(info.ID)
			c.JSON(http.StatusConflict, gin.H{"error": "Camera source is not available"})
			return
		}
		if err := h.camera.Start(info.ID); err != nil {
			h.coordinator.CancelSession(info.ID)
			c.JSON(http.StatusConflict, gin.H{"error": "Failed to start camera: " + err.Error()})
			return
		}
	}

	c.JSON(http.StatusCreated, info)
}

// ListSessions gibt die aktiven Sessions und die Historie zurück
func (h *SessionHandler) ListSessions(c *gin.Context) {
	// Paginierung
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	history, total, err := h.repo.GetSessions(pageSize, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch session history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active":  h.coordinator.ActiveSessions(),
		"history": history,
		"pagination": gin.H{
			"page":     page,
			"pageSize": pageSize,
			"total":    total,
		},
	})
}

// GetSession gibt eine einzelne Session zurück. Aktive Sessions kommen
// aus dem Koordinator inklusive Fortschrittsprotokoll, beendete aus der
// Datenbank.
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("id")

	if info, err := h.coordinator.GetSession(sessionID); err == nil {
		c.JSON(http.StatusOK, gin.H{
			"active":  true,
			"session": info,
		})
		return
	}

	record, err := h.repo.GetSessionBySessionID(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch session"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active":  false,
		"session": record,
	})
}

// CancelSession bricht eine laufende Session ab. Der Abbruch löst keine
// Outcome-Benachrichtigungen aus. Der Aufruf ist idempotent: eine bereits
// beendete Session liefert ebenfalls 200.
func (h *SessionHandler) CancelSession(c *gin.Context) {
	sessionID := c.Param("id")

	if h.camera != nil && h.camera.ActiveSession() == sessionID {
		h.camera.Stop()
	}

	if err := h.coordinator.CancelSession(sessionID); err != nil {
		if errors.Is(err, processing.ErrSessionNotFound) {
			c.JSON(http.StatusOK, gin.H{"message": "Session already finished", "cancelled": false})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session cancelled", "cancelled": true})
}

// SubmitFrame verarbeitet einen einzelnen Frame für eine Session. Der
// Frame kommt als Multipart-Feld "file" oder als roher Request-Body.
func (h *SessionHandler) SubmitFrame(c *gin.Context) {
	sessionID := c.Param("id")

	var data []byte
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded or invalid form data"})
			return
		}
		defer file.Close()

		data, err = io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read frame data"})
			return
		}
	} else {
		var err error
		data, err = io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read frame data"})
			return
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported or corrupt frame"})
		return
	}

	tick, err := h.coordinator.SubmitFrame(c.Request.Context(), sessionID, img)
	if err != nil {
		switch {
		case errors.Is(err, processing.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		case errors.Is(err, liveness.ErrSessionNotRunning):
			c.JSON(http.StatusConflict, gin.H{"error": "Session is not running", "tick": tick})
		default:
			// Backend-Fehler: die Session wurde bereits abgebrochen
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "tick": tick})
		}
		return
	}

	// Der Tick-Guard verwirft Frames, solange noch einer verarbeitet wird
	if tick.Skipped {
		c.JSON(http.StatusConflict, gin.H{"error": "A frame is already being processed", "tick": tick})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"tick": tick})
}

// StreamEvents behandelt SSE-Verbindungen für Echtzeit-Updates
func (h *SessionHandler) StreamEvents(c *gin.Context) {
	// SSE-Header setzen
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")

	// Client-Kanal erstellen
	client := make(sse.Client, 10) // Puffer für 10 Nachrichten

	// Client beim Hub registrieren
	h.sseHub.Register(client)
	defer h.sseHub.Unregister(client)

	// Client-Verbindung überwachen
	c.Stream(func(w io.Writer) bool {
		// Auf die nächste Nachricht warten
		msg, ok := <-client
		if !ok {
			return false // Kanal geschlossen, Stream beenden
		}

		// Nachricht im SSE-Format senden
		c.SSEvent("message", string(msg))
		return true
	})
}
