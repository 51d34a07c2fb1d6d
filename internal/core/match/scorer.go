package match

import (
	"fmt"
	"math"
)

// Result enthält das Ergebnis eines Deskriptor-Abgleichs
type Result struct {
	// RatePercent ist die Match-Rate in Prozent [0,100], auf zwei
	// Nachkommastellen gerundet
	RatePercent float64 `json:"match_rate"`

	// IsMatch gibt an, ob die Rate den Schwellenwert erreicht hat
	IsMatch bool `json:"is_match"`
}

// Score vergleicht zwei Deskriptoren gleicher Länge und leitet aus dem
// euklidischen Abstand d die Match-Rate (1-d)*100 ab. Es findet keine
// Renormalisierung statt: die Annahme d in [0, ~1.2] kommt aus dem
// Embedding-Raum des Backends und beide Deskriptoren müssen vom selben
// Modell stammen. Ein Längen-Mismatch deutet auf einen Modellwechsel
// zwischen Enrollment und Prüfung hin und ist ein Fehler.
func Score(a, b []float32, threshold float64) (Result, error) {
	if len(a) != len(b) {
		return Result{}, fmt.Errorf("descriptor length mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return Result{}, fmt.Errorf("empty descriptors")
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	distance := math.Sqrt(sum)

	rate := (1 - distance) * 100
	if rate < 0 {
		rate = 0
	} else if rate > 100 {
		rate = 100
	}

	// Auf zwei Nachkommastellen runden
	rate = math.Round(rate*100) / 100

	return Result{
		RatePercent: rate,
		IsMatch:     rate >= threshold,
	}, nil
}
