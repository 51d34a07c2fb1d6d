package handlers

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg" // Dekoder für Enrollment-Bilder
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/db/repository"
	"liveness-gate-go/internal/processing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// APIHandler behandelt Profil- und Enrollment-Anfragen
type APIHandler struct {
	cfg         *config.Config
	repo        repository.Repository
	coordinator *processing.Coordinator
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(cfg *config.Config, repo repository.Repository, coordinator *processing.Coordinator) *APIHandler {
	return &APIHandler{
		cfg:         cfg,
		repo:        repo,
		coordinator: coordinator,
	}
}

// RegisterRoutes registriert alle Profil-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Enrollment-Endpunkt
	router.POST("/enroll", h.EnrollProfile)

	// Profil-Endpunkte
	router.GET("/profiles", h.ListProfiles)
	router.GET("/profiles/:id", h.GetProfile)
	router.DELETE("/profiles/:id", h.DeleteProfile)
}

// EnrollProfile registriert ein Referenzprofil aus einem hochgeladenen Bild.
// Das Bild muss genau ein Gesicht enthalten. Ein bestehendes Profil wird
// ersetzt, laufende Sessions des Profils werden dabei verworfen.
func (h *APIHandler) EnrollProfile(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing profile name"})
		return
	}

	// Datei aus Formular erhalten
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded or invalid form data"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read image data"})
		return
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported or corrupt image"})
		return
	}

	result, err := h.coordinator.Enroll(c.Request.Context(), name, img)
	if err != nil {
		switch {
		case errors.Is(err, processing.ErrEnrollmentFaceMissing):
			c.JSON(http.StatusConflict, gin.H{"error": "Enrollment image contains no face"})
		case errors.Is(err, processing.ErrEnrollmentMultipleFaces):
			c.JSON(http.StatusConflict, gin.H{"error": "Enrollment image contains more than one face"})
		default:
			log.Errorf("Enrollment for %s failed: %v", name, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Enrollment failed: " + err.Error()})
		}
		return
	}

	status := http.StatusOK
	message := "Profile re-enrolled successfully"
	if result.Created {
		status = http.StatusCreated
		message = "Profile enrolled successfully"
	}

	c.JSON(status, gin.H{
		"message":             message,
		"profile":             result.Profile,
		"created":             result.Created,
		"confidence":          result.Confidence,
		"superseded_sessions": result.Superseded,
	})
}

// ListProfiles gibt alle Referenzprofile zurück
func (h *APIHandler) ListProfiles(c *gin.Context) {
	profiles, err := h.repo.GetProfiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch profiles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":    len(profiles),
		"profiles": profiles,
	})
}

// GetProfile gibt ein einzelnes Profil mit seinen Sessions zurück
func (h *APIHandler) GetProfile(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid profile ID"})
		return
	}

	profile, err := h.repo.GetProfileByID(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch profile"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	sessions, err := h.repo.GetSessionsByProfileID(profile.ID)
	if err != nil {
		log.Errorf("Failed to fetch sessions for profile %d: %v", profile.ID, err)
	}

	c.JSON(http.StatusOK, gin.H{
		"profile":  profile,
		"sessions": sessions,
	})
}

// DeleteProfile löscht ein Profil. Laufende Sessions des Profils werden
// zuvor verworfen, das Enrollment-Snapshot wird mit entfernt.
func (h *APIHandler) DeleteProfile(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid profile ID"})
		return
	}

	profile, err := h.repo.GetProfileByID(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch profile"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	// Laufende Sessions dürfen nicht gegen ein gelöschtes Profil abschließen
	superseded := h.coordinator.InvalidateForProfile(profile.ID)

	// Physisches Snapshot löschen
	if profile.SnapshotPath != "" {
		snapshotPath := filepath.Join(h.cfg.Server.SnapshotDir, profile.SnapshotPath)
		if err := os.Remove(snapshotPath); err != nil && !os.IsNotExist(err) {
			log.Warnf("Failed to delete enrollment snapshot %s: %v", snapshotPath, err)
			// Weiter mit Löschen des DB-Eintrags
		}
	}

	if err := h.repo.DeleteProfile(profile.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete profile"})
		return
	}

	log.Infof("Deleted profile %s (superseded %d sessions)", profile.Name, superseded)
	c.JSON(http.StatusOK, gin.H{
		"message":             "Profile deleted successfully",
		"superseded_sessions": superseded,
	})
}
