package gesture

import (
	"liveness-gate-go/internal/core/vision"
)

// Die Gesten-Detektoren sind bewusst reine, zustandslose Funktionen über
// einem einzelnen Frame. Sie liefern nur das boolesche Signal; über den
// Fortschritt einer Session entscheidet ausschließlich der Orchestrator.

// EyeAspectRatio berechnet das Verhältnis von Augenhöhe zu Augenbreite
// aus den 6 Konturpunkten eines Auges. p0/p3 sind die horizontalen
// Augenwinkel, p1/p5 und p2/p4 die vertikalen Lidpaare. Niedrige Werte
// bedeuten ein geschlossenes Auge.
func EyeAspectRatio(eye []vision.Point) float64 {
	if len(eye) < vision.EyePointCount {
		return 0
	}

	width := vision.Distance(eye[0], eye[3])
	if width == 0 {
		return 0
	}

	// Gemittelte Zwei-Paar-Form: robuster gegen einzelne verrauschte
	// Lidpunkte als die einfache Ein-Paar-Variante
	height := (vision.Distance(eye[1], eye[5]) + vision.Distance(eye[2], eye[4])) / 2

	return height / width
}

// BlinkDetected meldet ein Blinzeln, wenn die EAR BEIDER Augen im selben
// Frame unter dem Schwellenwert liegt. Gleichheit mit dem Schwellenwert
// zählt nicht als Blinzeln.
func BlinkDetected(face vision.Face, threshold float64) bool {
	left := face.Landmarks.LeftEye()
	right := face.Landmarks.RightEye()
	if left == nil || right == nil {
		return false
	}

	return EyeAspectRatio(left) < threshold && EyeAspectRatio(right) < threshold
}

// SmileDetected meldet ein Lächeln, wenn die vom Backend gelieferte
// Wahrscheinlichkeit für "happy" den Schwellenwert überschreitet.
// Mit allowSurprised zählt auch "surprised" als generisches
// Liveness-Signal.
func SmileDetected(face vision.Face, threshold float64, allowSurprised bool) bool {
	if face.Expressions.Probability(vision.ExpressionHappy) > threshold {
		return true
	}

	if allowSurprised && face.Expressions.Probability(vision.ExpressionSurprised) > threshold {
		return true
	}

	return false
}
