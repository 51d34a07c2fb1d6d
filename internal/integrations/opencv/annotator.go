package opencv

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/gesture"
	"liveness-gate-go/internal/core/liveness"
	"liveness-gate-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Annotator zeichnet die Auswertung eines Ticks in den Frame ein und
// legt das Ergebnis im Debug-Service ab. Er beobachtet Frames nur, die
// Auswertung selbst bleibt davon unberührt.
type Annotator struct {
	cfg      *config.OpenCVConfig
	DebugSvc *DebugService

	mu       sync.Mutex
	frameSeq int // fortlaufender Zähler für Bild-IDs
}

// NewAnnotator erstellt einen neuen Annotator mit eigenem Debug-Service
func NewAnnotator(cfg *config.OpenCVConfig) *Annotator {
	return &Annotator{
		cfg:      cfg,
		DebugSvc: NewDebugService(cfg.MaxDebugImages),
	}
}

// ObserveFrame annotiert einen ausgewerteten Frame. Verworfene Frames
// werden ignoriert.
func (a *Annotator) ObserveFrame(sessionID string, img image.Image, tick liveness.TickResult) {
	if !a.cfg.AnnotatorEnabled || tick.Skipped {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic while annotating frame: %v", r)
		}
	}()

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		log.Warnf("Could not convert frame for annotation: %v", err)
		return
	}
	defer mat.Close()

	if mat.Empty() {
		return
	}

	faces := 0
	if tick.Face != nil {
		faces = 1
		a.drawFace(&mat, *tick.Face, tick)
	}

	label := tickLabel(tick)
	green := color.RGBA{0, 255, 0, 0}
	gocv.PutText(&mat, label, image.Point{X: 10, Y: 25}, gocv.FontHersheyPlain, 1.4, green, 2)

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		log.Errorf("Could not encode annotated frame: %v", err)
		return
	}
	imgBytes := buf.GetBytes()

	a.mu.Lock()
	a.frameSeq++
	seq := a.frameSeq
	a.mu.Unlock()

	id := fmt.Sprintf("%s-%d", sessionID, seq)
	a.DebugSvc.AddDebugImage(id, sessionID, label, imgBytes, faces)
}

// drawFace zeichnet Box, Augenkonturen und EAR-Werte eines Gesichts ein
func (a *Annotator) drawFace(mat *gocv.Mat, face vision.Face, tick liveness.TickResult) {
	boxColor := color.RGBA{255, 0, 0, 0}
	if tick.GestureDetected {
		boxColor = color.RGBA{0, 255, 0, 0}
	}
	rect := face.Box.Rect()
	gocv.Rectangle(mat, rect, boxColor, 2)

	confText := fmt.Sprintf("%.2f", face.Confidence)
	gocv.PutText(mat, confText, image.Point{X: rect.Min.X, Y: rect.Min.Y - 5},
		gocv.FontHersheyPlain, 1.2, boxColor, 2)

	yellow := color.RGBA{255, 255, 0, 0}
	for _, eye := range [][]vision.Point{face.Landmarks.LeftEye(), face.Landmarks.RightEye()} {
		if eye == nil {
			continue
		}
		for _, p := range eye {
			gocv.Circle(mat, image.Point{X: int(p.X), Y: int(p.Y)}, 2, yellow, -1)
		}
	}

	// EAR-Werte unter der Box anzeigen, wenn die Landmarken vollständig sind
	if left, right := face.Landmarks.LeftEye(), face.Landmarks.RightEye(); left != nil && right != nil {
		earText := fmt.Sprintf("EAR %.3f / %.3f", gesture.EyeAspectRatio(left), gesture.EyeAspectRatio(right))
		gocv.PutText(mat, earText, image.Point{X: rect.Min.X, Y: rect.Max.Y + 18},
			gocv.FontHersheyPlain, 1.2, yellow, 2)
	}
}

// tickLabel baut die Kurzbeschreibung eines Ticks für das Debug-Bild
func tickLabel(tick liveness.TickResult) string {
	switch {
	case tick.State == liveness.StateAborted:
		return fmt.Sprintf("%s: aborted", tick.Challenge)
	case !tick.FaceFound:
		return "no face"
	case tick.Scored:
		return fmt.Sprintf("%s: match rate %.2f%%", tick.Challenge, tick.MatchRate)
	case tick.GestureDetected:
		return fmt.Sprintf("%s detected", tick.Challenge)
	default:
		return fmt.Sprintf("waiting for %s", tick.Challenge)
	}
}
