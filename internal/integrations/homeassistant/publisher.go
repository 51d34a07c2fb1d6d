package homeassistant

import (
	"fmt"
	"sync"
	"time"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/liveness"
	"liveness-gate-go/internal/integrations/mqtt"

	log "github.com/sirupsen/logrus"
)

// verifiedHoldDuration bestimmt, wie lange der Sensor nach einer
// bestandenen Session auf ON bleibt, bevor er zurückgesetzt wird
const verifiedHoldDuration = 30 * time.Second

// Publisher veröffentlicht Session-Ergebnisse als Sensorzustände für Home Assistant
type Publisher struct {
	mqttClient *mqtt.Client
	cfg        *config.Config

	mu           sync.Mutex
	lastVerified map[string]time.Time // Zeitpunkt der letzten Verifizierung pro Profil
}

// ResultAttribute enthält das Ergebnis eines einzelnen Challenge-Slots
type ResultAttribute struct {
	Challenge string  `json:"challenge"`
	Passed    bool    `json:"passed"`
	MatchRate float64 `json:"match_rate"`
	Attempts  int     `json:"attempts"`
}

// VerifiedAttributes sind die JSON-Attribute des Profil-Sensors
type VerifiedAttributes struct {
	SessionID        string            `json:"session_id"`
	Profile          string            `json:"profile"`
	Completed        bool              `json:"completed"`
	AllPassed        bool              `json:"all_passed"`
	OverallMatchRate float64           `json:"overall_match_rate"`
	Reason           string            `json:"reason,omitempty"`
	Results          []ResultAttribute `json:"results"`
	EndedAt          time.Time         `json:"ended_at"`
}

// NewPublisher erstellt einen neuen MQTT-Publisher für Home Assistant
func NewPublisher(mqttClient *mqtt.Client, cfg *config.Config) *Publisher {
	return &Publisher{
		mqttClient:   mqttClient,
		cfg:          cfg,
		lastVerified: make(map[string]time.Time),
	}
}

// StartResetTimers startet die Timer zum Zurücksetzen der Sensorzustände
func (p *Publisher) StartResetTimers() {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			p.checkAndResetStates()
		}
	}()
}

// checkAndResetStates setzt abgelaufene ON-Zustände zurück
func (p *Publisher) checkAndResetStates() {
	now := time.Now()
	expired := make([]string, 0)

	p.mu.Lock()
	for profile, verifiedAt := range p.lastVerified {
		if now.Sub(verifiedAt) > verifiedHoldDuration {
			delete(p.lastVerified, profile)
			expired = append(expired, profile)
		}
	}
	p.mu.Unlock()

	for _, profile := range expired {
		if err := p.publishState(profile, "OFF"); err != nil {
			log.Errorf("Failed to reset verified state for profile %s: %v", profile, err)
		} else {
			log.Debugf("Reset verified state for profile %s", profile)
		}
	}
}

// PublishOutcome veröffentlicht das Ergebnis einer beendeten Session.
// Der Sensorzustand ist nur ON, wenn alle Challenges bestanden wurden.
func (p *Publisher) PublishOutcome(profileName string, outcome liveness.Outcome) {
	if !p.cfg.MQTT.HomeAssistant.Enabled || !p.cfg.MQTT.HomeAssistant.PublishResults {
		return
	}

	normalized := NormalizeProfileName(profileName)
	verified := outcome.Completed && outcome.AllPassed

	state := "OFF"
	if verified {
		state = "ON"
		p.mu.Lock()
		p.lastVerified[normalized] = time.Now()
		p.mu.Unlock()
	}

	if err := p.publishState(normalized, state); err != nil {
		log.Errorf("Failed to publish verified state for profile %s: %v", profileName, err)
		return
	}

	// Attribute mit den Details der Session veröffentlichen
	results := make([]ResultAttribute, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		results = append(results, ResultAttribute{
			Challenge: string(r.Type),
			Passed:    r.Passed,
			MatchRate: r.MatchRate,
			Attempts:  r.Attempts,
		})
	}

	attributes := VerifiedAttributes{
		SessionID:        outcome.SessionID,
		Profile:          profileName,
		Completed:        outcome.Completed,
		AllPassed:        outcome.AllPassed,
		OverallMatchRate: outcome.OverallMatchRate,
		Reason:           string(outcome.Reason),
		Results:          results,
		EndedAt:          outcome.EndedAt,
	}

	topic := fmt.Sprintf("%s/profiles/%s/attributes", p.cfg.MQTT.TopicPrefix, normalized)
	if err := p.mqttClient.Publish(topic, attributes); err != nil {
		log.Errorf("Failed to publish session attributes for profile %s: %v", profileName, err)
	}
}

// publishState veröffentlicht den ON/OFF-Zustand eines Profil-Sensors
func (p *Publisher) publishState(normalizedName, state string) error {
	topic := fmt.Sprintf("%s/profiles/%s/verified", p.cfg.MQTT.TopicPrefix, normalizedName)
	return p.mqttClient.PublishRetain(topic, state)
}
