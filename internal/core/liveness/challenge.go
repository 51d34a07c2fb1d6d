package liveness

import (
	"fmt"
	"time"
)

// ChallengeType bezeichnet die geforderte Geste
type ChallengeType string

const (
	// ChallengeBlink fordert ein Blinzeln (beide Augen im selben Frame)
	ChallengeBlink ChallengeType = "blink"

	// ChallengeSmile fordert ein Lächeln
	ChallengeSmile ChallengeType = "smile"
)

// ParseChallengeType wandelt einen Konfigurationswert in einen ChallengeType um
func ParseChallengeType(s string) (ChallengeType, error) {
	switch ChallengeType(s) {
	case ChallengeBlink:
		return ChallengeBlink, nil
	case ChallengeSmile:
		return ChallengeSmile, nil
	default:
		return "", fmt.Errorf("unknown challenge type %q", s)
	}
}

// ChallengeState beschreibt den Lebenszyklus eines Challenge-Slots.
// Übergänge: Pending -> Detected -> Scored. Ein Slot wechselt nur aus
// Detected nach Scored, und ein Slot in Scored wird nie erneut bewertet.
type ChallengeState string

const (
	// ChallengePending: die Geste wird noch erwartet
	ChallengePending ChallengeState = "pending"

	// ChallengeDetected: die Geste wurde in diesem Frame erkannt,
	// der Abgleich läuft (transient innerhalb eines Ticks)
	ChallengeDetected ChallengeState = "detected"

	// ChallengeScored: der Slot ist abschließend bewertet
	ChallengeScored ChallengeState = "scored"
)

// Challenge ist ein Slot in der Challenge-Sequenz einer Session
type Challenge struct {
	// Type ist die geforderte Geste
	Type ChallengeType `json:"type"`

	// State ist der aktuelle Lebenszyklus-Zustand des Slots
	State ChallengeState `json:"state"`

	// Passed ist nur bei State == Scored aussagekräftig
	Passed bool `json:"passed"`

	// MatchRate ist die Rate des letzten Score-Versuchs in Prozent
	MatchRate float64 `json:"match_rate"`

	// Attempts zählt die Score-Versuche in diesem Slot
	Attempts int `json:"attempts"`

	// StartedAt ist der Zeitpunkt, an dem der Slot aktiv wurde
	// (Basis für das Zeitbudget)
	StartedAt time.Time `json:"started_at"`
}

// Result ist der unveränderliche Schnappschuss eines Challenge-Slots
// für das Outcome einer Session
type Result struct {
	Type      ChallengeType `json:"type"`
	Position  int           `json:"position"`
	Passed    bool          `json:"passed"`
	MatchRate float64       `json:"match_rate"`
	Attempts  int           `json:"attempts"`
}
