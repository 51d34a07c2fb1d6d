package vision

import (
	"image"
	"math"
)

// DescriptorLength ist die feste Dimension des Gesichtsdeskriptors,
// wie sie der Vision-Sidecar liefert
const DescriptorLength = 128

// Bekannte Expression-Labels des Sidecars
const (
	ExpressionNeutral   = "neutral"
	ExpressionHappy     = "happy"
	ExpressionSad       = "sad"
	ExpressionAngry     = "angry"
	ExpressionFearful   = "fearful"
	ExpressionDisgusted = "disgusted"
	ExpressionSurprised = "surprised"
)

// Point ist ein einzelner Landmarken-Punkt im Bildkoordinatensystem
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance berechnet den euklidischen Abstand zwischen zwei Punkten
func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// BoundingBox enthält die Position eines Gesichts im Bild
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect konvertiert die BoundingBox in ein image.Rectangle (z.B. zum Zeichnen)
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.X+b.Width), int(b.Y+b.Height))
}

// ExpressionSet bildet Expression-Labels auf Wahrscheinlichkeiten [0,1] ab
type ExpressionSet map[string]float64

// Probability gibt die Wahrscheinlichkeit für ein Label zurück (0, wenn unbekannt)
func (e ExpressionSet) Probability(label string) float64 {
	if e == nil {
		return 0
	}
	return e[label]
}

// Face repräsentiert ein erkanntes Gesicht in einem einzelnen Frame.
// Instanzen sind kurzlebig: sie werden pro Frame vom Provider erzeugt
// und nie persistiert.
type Face struct {
	// Box enthält die Koordinaten des Gesichts im Bild
	Box BoundingBox `json:"box"`

	// Confidence ist die Konfidenz der Gesichtserkennung (0-1)
	Confidence float64 `json:"confidence"`

	// Landmarks ist die geordnete Liste der 68 Landmarken-Punkte
	Landmarks Landmarks `json:"landmarks,omitempty"`

	// Expressions enthält die Wahrscheinlichkeiten pro Expression-Label
	Expressions ExpressionSet `json:"expressions,omitempty"`

	// Descriptor ist der Gesichtsvektor für den Abgleich
	Descriptor []float32 `json:"descriptor,omitempty"`
}
