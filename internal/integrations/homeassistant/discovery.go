package homeassistant

import (
	"fmt"
	"strings"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/models"
	"liveness-gate-go/internal/integrations/mqtt"

	log "github.com/sirupsen/logrus"
)

// Constants for Home Assistant MQTT Discovery
const (
	// Component-Typ für binäre Sensoren
	ComponentBinarySensor = "binary_sensor"

	// Node-ID für Liveness Gate
	NodeID = "liveness_gate"
)

// SensorConfig repräsentiert die MQTT-Discovery-Konfiguration für einen Sensor in Home Assistant
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	DeviceClass         string  `json:"device_class,omitempty"`
	PayloadOn           string  `json:"payload_on,omitempty"`
	PayloadOff          string  `json:"payload_off,omitempty"`
	Icon                string  `json:"icon,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device repräsentiert die Geräteinformationen für Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryManager verwaltet die Home Assistant MQTT Discovery
type DiscoveryManager struct {
	mqttClient *mqtt.Client
	cfg        *config.Config
}

// NewDiscoveryManager erstellt einen neuen Manager für Home Assistant Discovery
func NewDiscoveryManager(mqttClient *mqtt.Client, cfg *config.Config) *DiscoveryManager {
	return &DiscoveryManager{
		mqttClient: mqttClient,
		cfg:        cfg,
	}
}

// discoveryPrefix liefert das konfigurierte Discovery-Präfix ("homeassistant" als Standard)
func (dm *DiscoveryManager) discoveryPrefix() string {
	prefix := dm.cfg.MQTT.HomeAssistant.DiscoveryPrefix
	if prefix == "" {
		prefix = "homeassistant"
	}
	return prefix
}

// RegisterProfiles veröffentlicht Discovery-Konfigurationen für alle Referenzprofile
func (dm *DiscoveryManager) RegisterProfiles(profiles []models.ReferenceProfile) error {
	// Geräte-Eintrag für Liveness Gate
	device := &Device{
		Identifiers:  []string{"liveness_gate_go"},
		Name:         "Liveness Gate Go",
		Manufacturer: "Liveness Gate Go Project",
		Model:        "Go Edition",
		SWVersion:    "1.0.0",
	}

	// Für jedes Profil einen Sensor registrieren
	for _, profile := range profiles {
		if err := dm.RegisterProfile(profile.Name, device); err != nil {
			log.Errorf("Failed to register sensor for profile %s: %v", profile.Name, err)
		}
	}

	return nil
}

// RegisterProfile erstellt eine Discovery-Konfiguration für ein einzelnes Profil
func (dm *DiscoveryManager) RegisterProfile(profileName string, device *Device) error {
	if device == nil {
		device = &Device{
			Identifiers:  []string{"liveness_gate_go"},
			Name:         "Liveness Gate Go",
			Manufacturer: "Liveness Gate Go Project",
			Model:        "Go Edition",
			SWVersion:    "1.0.0",
		}
	}

	normalizedName := NormalizeProfileName(profileName)
	topicPrefix := dm.cfg.MQTT.TopicPrefix

	// Sensor meldet, ob das Profil zuletzt erfolgreich verifiziert wurde
	sensorConfig := SensorConfig{
		Name:                fmt.Sprintf("Liveness Gate %s", profileName),
		UniqueID:            fmt.Sprintf("liveness_gate_%s", normalizedName),
		StateTopic:          fmt.Sprintf("%s/profiles/%s/verified", topicPrefix, normalizedName),
		DeviceClass:         "presence",
		PayloadOn:           "ON",
		PayloadOff:          "OFF",
		JSONAttributesTopic: fmt.Sprintf("%s/profiles/%s/attributes", topicPrefix, normalizedName),
		Icon:                "mdi:face-recognition",
		AvailabilityTopic:   fmt.Sprintf("%s/status", topicPrefix),
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
		Device:              device,
	}

	// Discovery-Topic
	topic := fmt.Sprintf("%s/%s/%s/%s/config",
		dm.discoveryPrefix(),
		ComponentBinarySensor,
		NodeID,
		normalizedName)

	// Konfiguration an MQTT senden
	log.Infof("Registering Home Assistant sensor for profile: %s", profileName)
	if err := dm.mqttClient.PublishRetain(topic, sensorConfig); err != nil {
		return fmt.Errorf("failed to publish discovery configuration: %w", err)
	}

	return nil
}

// UnregisterProfile entfernt die Discovery-Konfiguration eines Profils.
// Eine leere Retained-Nachricht löscht die Entität in Home Assistant.
func (dm *DiscoveryManager) UnregisterProfile(profileName string) error {
	normalizedName := NormalizeProfileName(profileName)

	topic := fmt.Sprintf("%s/%s/%s/%s/config",
		dm.discoveryPrefix(),
		ComponentBinarySensor,
		NodeID,
		normalizedName)

	log.Infof("Removing Home Assistant sensor for profile: %s", profileName)
	if err := dm.mqttClient.PublishRetain(topic, ""); err != nil {
		return fmt.Errorf("failed to remove discovery configuration: %w", err)
	}

	return nil
}

// NormalizeProfileName normalisiert einen Profilnamen für Verwendung in Topics
// (Kleinbuchstaben, Leerzeichen durch Unterstriche)
func NormalizeProfileName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}
