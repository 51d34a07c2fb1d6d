package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReferenceProfile repräsentiert eine registrierte Person mit ihrem
// Referenz-Deskriptor aus der Enrollment-Aufnahme
type ReferenceProfile struct {
	gorm.Model
	Name         string                `gorm:"uniqueIndex;not null"` // Eindeutiger Name der Person
	Descriptor   datatypes.JSON        `gorm:"type:json;not null"`   // 128er-Deskriptor als JSON-Array
	SnapshotPath string                // Relativer Pfad zum Enrollment-Schnappschuss
	EnrolledAt   time.Time             `gorm:"index"` // Zeitpunkt der (letzten) Registrierung
	Sessions     []VerificationSession `gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE;"`
}

// SetDescriptor serialisiert den Deskriptor in das JSON-Feld
func (p *ReferenceProfile) SetDescriptor(descriptor []float32) error {
	data, err := json.Marshal(descriptor)
	if err != nil {
		return fmt.Errorf("fehler beim Serialisieren des Deskriptors: %w", err)
	}
	p.Descriptor = datatypes.JSON(data)
	return nil
}

// GetDescriptor deserialisiert den Deskriptor aus dem JSON-Feld
func (p *ReferenceProfile) GetDescriptor() ([]float32, error) {
	var descriptor []float32
	if err := json.Unmarshal(p.Descriptor, &descriptor); err != nil {
		return nil, fmt.Errorf("fehler beim Deserialisieren des Deskriptors: %w", err)
	}
	return descriptor, nil
}

// VerificationSession repräsentiert den persistierten Ausgang einer
// Liveness-Session. Das Fortschrittsprotokoll selbst wird nicht
// gespeichert, es läuft über den SSE-Kanal.
type VerificationSession struct {
	gorm.Model
	SessionID        string            `gorm:"uniqueIndex;not null"` // Externe Session-ID (UUID)
	ProfileID        uint              `gorm:"index;not null"`       // Fremdschlüssel zum Referenzprofil
	State            string            `gorm:"index"`                // completed oder aborted
	AllPassed        bool              `gorm:"index"`                // Gesamtergebnis der Challenge-Sequenz
	OverallMatchRate float64           // Mittlere Matchrate der bestandenen Challenges
	Reason           string            `gorm:"index"` // Abbruchgrund, leer bei Completed
	Source           string            `gorm:"index"` // Frame-Quelle: http, mqtt oder camera
	StartedAt        time.Time         `gorm:"index"` // Beginn der Session
	EndedAt          time.Time         // Ende der Session
	FrameCount       int               // Anzahl verarbeiteter Frames
	Results          []ChallengeResult `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE;"`
	Profile          ReferenceProfile  `gorm:"foreignKey:ProfileID"`
}

// ChallengeResult repräsentiert das Ergebnis eines einzelnen
// Challenge-Slots innerhalb einer Session
type ChallengeResult struct {
	gorm.Model
	SessionID uint    `gorm:"index;not null"` // Fremdschlüssel zur VerificationSession-Tabelle
	Type      string  `gorm:"index"`          // blink oder smile
	Position  int     // Position in der Sequenz
	Passed    bool    // Challenge bestanden
	MatchRate float64 // Matchrate des letzten Versuchs
	Attempts  int     // Verbrauchte Versuche
}

// Statistics repräsentiert Statistiken über Profile und Sessions
type Statistics struct {
	TotalProfiles     int64                 // Anzahl registrierter Profile
	TotalSessions     int64                 // Gesamtzahl persistierter Sessions
	CompletedSessions int64                 // Regulär abgeschlossene Sessions
	PassedSessions    int64                 // Sessions mit bestandener Sequenz
	AbortedSessions   int64                 // Abgebrochene Sessions
	LatestSession     time.Time             // Beginn der neuesten Session
	RecentSessions    []VerificationSession // Kürzlich beendete Sessions (optional)
}
