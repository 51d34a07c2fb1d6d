package opencv

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// DebugImage repräsentiert einen annotierten Frame einer Session
type DebugImage struct {
	ID        string    // Eindeutige ID für das Bild
	Timestamp time.Time // Zeitstempel des Frames
	SessionID string    // Session, zu der der Frame gehört
	Label     string    // Kurzbeschreibung der Tick-Auswertung
	Faces     int       // Anzahl erkannter Gesichter
	ImageData []byte    // JPEG-Daten mit eingezeichneter Auswertung
}

// DebugService speichert die letzten annotierten Frames im Speicher
type DebugService struct {
	images     map[string]*DebugImage // Map von Debug-Bildern, indiziert nach ID
	imagesList []*DebugImage          // Liste für zeitliche Sortierung
	maxImages  int                    // Maximale Anzahl zu speichernder Bilder
	mutex      sync.RWMutex           // Mutex für Thread-Sicherheit
}

// NewDebugService erstellt einen neuen Debug-Service
func NewDebugService(maxImages int) *DebugService {
	if maxImages <= 0 {
		maxImages = 20 // Standardwert falls nicht angegeben
	}

	return &DebugService{
		images:     make(map[string]*DebugImage),
		imagesList: make([]*DebugImage, 0, maxImages),
		maxImages:  maxImages,
	}
}

// AddDebugImage fügt einen neuen annotierten Frame zum Service hinzu
func (s *DebugService) AddDebugImage(id, sessionID, label string, imgData []byte, faces int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	debugImg := &DebugImage{
		ID:        id,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Label:     label,
		Faces:     faces,
		ImageData: imgData,
	}

	if _, exists := s.images[id]; exists {
		// Bild aktualisieren
		s.images[id] = debugImg
		for i, img := range s.imagesList {
			if img.ID == id {
				s.imagesList[i] = debugImg
				break
			}
		}
	} else {
		// Neues Bild hinzufügen
		s.images[id] = debugImg
		s.imagesList = append(s.imagesList, debugImg)

		// Liste auf maximale Größe begrenzen
		if len(s.imagesList) > s.maxImages {
			oldest := s.imagesList[0]
			delete(s.images, oldest.ID)
			s.imagesList = s.imagesList[1:]
		}
	}

	log.Debugf("Debug frame stored: %s (%s)", id, label)
}

// GetLatestImages gibt die neuesten Debug-Bilder zurück
func (s *DebugService) GetLatestImages(count int) []*DebugImage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if count <= 0 || count > len(s.imagesList) {
		count = len(s.imagesList)
	}

	result := make([]*DebugImage, count)
	start := len(s.imagesList) - count
	for i := 0; i < count; i++ {
		result[i] = s.imagesList[start+i]
	}

	return result
}

// GetImage gibt ein bestimmtes Bild anhand seiner ID zurück
func (s *DebugService) GetImage(id string) *DebugImage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.images[id]
}

// RegisterRoutes registriert die API-Routen für den Debug-Service
func (s *DebugService) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/debug/liveness", s.handleGetLatestImages)
	router.GET("/api/debug/liveness/:id", s.handleGetImage)

	// Debug-Webseite
	router.GET("/debug/liveness", s.handleDebugPage)

	log.Info("Debug frame routes registered: /api/debug/liveness, /api/debug/liveness/:id, /debug/liveness")
}

// handleGetLatestImages gibt die neuesten Debug-Bilder als JSON zurück
func (s *DebugService) handleGetLatestImages(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "10"))
	if err != nil || count <= 0 {
		count = 10
	}

	images := s.GetLatestImages(count)

	// Nur die Metadaten zurückgeben, nicht die Bilddaten
	type imageMetadata struct {
		ID        string    `json:"id"`
		Timestamp time.Time `json:"timestamp"`
		SessionID string    `json:"session_id"`
		Label     string    `json:"label"`
		Faces     int       `json:"faces"`
		URL       string    `json:"url"`
	}

	metadata := make([]imageMetadata, len(images))
	for i, img := range images {
		metadata[i] = imageMetadata{
			ID:        img.ID,
			Timestamp: img.Timestamp,
			SessionID: img.SessionID,
			Label:     img.Label,
			Faces:     img.Faces,
			URL:       "/api/debug/liveness/" + img.ID,
		}
	}

	c.JSON(200, gin.H{
		"count":  len(metadata),
		"images": metadata,
	})
}

// handleGetImage gibt ein bestimmtes Bild zurück
func (s *DebugService) handleGetImage(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(400, gin.H{"error": "Keine Bild-ID angegeben"})
		return
	}

	image := s.GetImage(id)
	if image == nil {
		c.JSON(404, gin.H{"error": "Bild nicht gefunden", "requested_id": id})
		return
	}

	// Bild als JPEG zurückgeben mit Cache-Kontrolle
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(200, "image/jpeg", image.ImageData)
}

// handleDebugPage zeigt die Debug-Seite an
func (s *DebugService) handleDebugPage(c *gin.Context) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Liveness Debug Stream</title>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f0f0f0; }
        h1 { color: #333; }
        .container { max-width: 1200px; margin: 0 auto; }
        .image-container { display: flex; flex-wrap: wrap; gap: 10px; margin-top: 20px; }
        .image-card { background: white; border-radius: 5px; box-shadow: 0 2px 5px rgba(0,0,0,0.1); overflow: hidden; width: 300px; }
        .image-card img { width: 100%; height: auto; max-height: 300px; object-fit: contain; }
        .image-info { padding: 10px; border-top: 1px solid #eee; }
        .controls { margin: 20px 0; }
        button { padding: 8px 15px; background: #2c3e50; color: white; border: none; border-radius: 4px; cursor: pointer; }
        button:hover { background: #34495e; }
        .refresh-timer { display: inline-block; margin-left: 15px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Liveness Debug-Stream</h1>
        <p>Diese Seite zeigt die ausgewerteten Frames der laufenden Sessions an.</p>

        <div class="controls">
            <button id="refresh-button">Jetzt aktualisieren</button>
            <span class="refresh-timer">Automatische Aktualisierung in <span id="countdown">10</span>s</span>
            <label style="margin-left: 20px">
                <input type="checkbox" id="auto-refresh" checked> Auto-Aktualisierung
            </label>
        </div>

        <div class="image-container" id="image-container">
            <p>Lade Bilder...</p>
        </div>
    </div>

    <script>
        // Variablen
        let countdown = 10;
        let timer = null;
        let autoRefresh = true;

        // DOM-Elemente
        const imageContainer = document.getElementById('image-container');
        const refreshButton = document.getElementById('refresh-button');
        const countdownElement = document.getElementById('countdown');
        const autoRefreshCheckbox = document.getElementById('auto-refresh');

        // Event-Listener
        refreshButton.addEventListener('click', fetchImages);
        autoRefreshCheckbox.addEventListener('change', function(e) {
            autoRefresh = e.target.checked;
            if (autoRefresh) {
                startCountdown();
            } else {
                clearTimeout(timer);
                countdownElement.textContent = '-';
            }
        });

        // Bilder vom Server laden
        function fetchImages() {
            fetch('/api/debug/liveness?count=20')
                .then(function(response) { return response.json(); })
                .then(function(data) {
                    if (data.count === 0) {
                        imageContainer.innerHTML = '<p>Keine Bilder vorhanden. Warten auf neue Frames...</p>';
                        return;
                    }

                    imageContainer.innerHTML = '';
                    data.images.sort(function(a, b) {
                        return new Date(b.timestamp) - new Date(a.timestamp);
                    });

                    data.images.forEach(function(image) {
                        const card = document.createElement('div');
                        card.className = 'image-card';

                        const img = document.createElement('img');
                        img.src = image.url + '?t=' + new Date().getTime(); // Cache-Busting
                        img.alt = 'Debug-Bild';
                        img.loading = 'lazy';

                        const info = document.createElement('div');
                        info.className = 'image-info';
                        const time = new Date(image.timestamp).toLocaleTimeString();
                        info.innerHTML =
                            "<div><b>Status:</b> " + image.label + "</div>" +
                            "<div><b>Session:</b> " + image.session_id + "</div>" +
                            "<div><b>Zeit:</b> " + time + "</div>";

                        card.appendChild(img);
                        card.appendChild(info);
                        imageContainer.appendChild(card);
                    });
                })
                .catch(function(error) {
                    console.error('Fehler beim Laden der Bilder:', error);
                    imageContainer.innerHTML = '<p>Fehler beim Laden der Bilder. Bitte versuche es erneut.</p>';
                })
                .finally(function() {
                    if (autoRefresh) {
                        countdown = 10;
                        startCountdown();
                    }
                });
        }

        // Countdown für die nächste Auto-Aktualisierung
        function startCountdown() {
            clearTimeout(timer);
            countdownElement.textContent = countdown;

            if (countdown <= 0) {
                fetchImages();
                return;
            }

            timer = setTimeout(function() {
                countdown--;
                startCountdown();
            }, 1000);
        }

        // Initialisierung
        fetchImages();
    </script>
</body>
</html>`

	c.Header("Content-Type", "text/html")
	c.String(200, html)
}
