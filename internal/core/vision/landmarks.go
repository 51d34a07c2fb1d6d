package vision

// Das 68-Punkte-Landmarkenmodell des Sidecars folgt der üblichen
// dlib-Nummerierung. Für die Liveness-Prüfung sind nur die beiden
// Augenkonturen relevant: je 6 Punkte, wobei p0/p3 die horizontalen
// Augenwinkel sind und p1,p2 bzw. p4,p5 die Lidpunkte oben und unten.
const (
	LandmarkCount = 68

	leftEyeStart  = 36
	leftEyeEnd    = 42 // exklusiv
	rightEyeStart = 42
	rightEyeEnd   = 48 // exklusiv

	// EyePointCount ist die Anzahl der Konturpunkte pro Auge
	EyePointCount = 6
)

// Landmarks ist die geordnete Punktliste eines Gesichts
type Landmarks []Point

// Complete meldet, ob alle 68 Punkte vorhanden sind
func (l Landmarks) Complete() bool {
	return len(l) >= LandmarkCount
}

// LeftEye gibt die 6 Konturpunkte des (im Bild) linken Auges zurück
func (l Landmarks) LeftEye() []Point {
	if len(l) < leftEyeEnd {
		return nil
	}
	return l[leftEyeStart:leftEyeEnd]
}

// RightEye gibt die 6 Konturpunkte des (im Bild) rechten Auges zurück
func (l Landmarks) RightEye() []Point {
	if len(l) < rightEyeEnd {
		return nil
	}
	return l[rightEyeStart:rightEyeEnd]
}
