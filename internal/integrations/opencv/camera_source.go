package opencv

import (
	"fmt"
	"sync"
	"time"

	"liveness-gate-go/config"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// FrameSink empfängt kodierte Frames für eine Session
type FrameSink interface {
	HandleFrame(sessionID string, frame []byte)
}

// CameraSource liest Frames von einer lokalen Kamera und speist sie in
// eine laufende Session ein. Es läuft höchstens eine Aufnahme zugleich.
type CameraSource struct {
	cfg  *config.Config
	sink FrameSink

	mu        sync.Mutex
	running   bool
	sessionID string
	stop      chan struct{}
	done      chan struct{}
}

// NewCameraSource erstellt eine neue Kamera-Quelle
func NewCameraSource(cfg *config.Config, sink FrameSink) *CameraSource {
	return &CameraSource{
		cfg:  cfg,
		sink: sink,
	}
}

// Start beginnt, Frames für die angegebene Session zu liefern
func (c *CameraSource) Start(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.OpenCV.CameraEnabled {
		return fmt.Errorf("die Kamera ist in der Konfiguration deaktiviert")
	}
	if c.running {
		return fmt.Errorf("die Kamera liefert bereits Frames für Session %s", c.sessionID)
	}

	capture, err := gocv.OpenVideoCapture(c.cfg.OpenCV.CameraDevice)
	if err != nil {
		return fmt.Errorf("konnte Kamera %d nicht öffnen: %w", c.cfg.OpenCV.CameraDevice, err)
	}

	c.running = true
	c.sessionID = sessionID
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.captureLoop(sessionID, capture, c.stop, c.done)
	return nil
}

// captureLoop liest Frames im Sampling-Intervall und reicht sie an die Sink weiter
func (c *CameraSource) captureLoop(sessionID string, capture *gocv.VideoCapture, stop, done chan struct{}) {
	defer close(done)
	defer capture.Close()

	interval := time.Duration(c.cfg.Liveness.SamplingIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	img := gocv.NewMat()
	defer img.Close()

	log.Infof("Camera source started for session %s (device %d, interval %s)",
		sessionID, c.cfg.OpenCV.CameraDevice, interval)

	for {
		select {
		case <-stop:
			log.Infof("Camera source stopped for session %s", sessionID)
			return
		case <-ticker.C:
			if ok := capture.Read(&img); !ok || img.Empty() {
				log.Warn("Camera returned an empty frame")
				continue
			}

			buf, err := gocv.IMEncode(".jpg", img)
			if err != nil {
				log.Errorf("Could not encode camera frame: %v", err)
				continue
			}

			// Asynchron zustellen, damit ein Stop() aus dem Outcome-Pfad
			// die Aufnahmeschleife nicht blockiert
			go c.sink.HandleFrame(sessionID, buf.GetBytes())
		}
	}
}

// Stop beendet die Frame-Lieferung und wartet auf das Ende der Aufnahme
func (c *CameraSource) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	close(c.stop)
	done := c.done
	c.running = false
	c.sessionID = ""
	c.mu.Unlock()

	<-done
}

// IsRunning meldet, ob die Kamera gerade Frames liefert
func (c *CameraSource) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ActiveSession gibt die Session zurück, für die gerade aufgenommen wird
func (c *CameraSource) ActiveSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
