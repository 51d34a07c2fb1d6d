package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	FaceAPI  FaceAPIConfig  `mapstructure:"faceapi"`
	Liveness LivenessConfig `mapstructure:"liveness"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	OpenCV   OpenCVConfig   `mapstructure:"opencv"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	I18n     I18nConfig     `mapstructure:"i18n"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DataDir       string `mapstructure:"data_dir"`
	SnapshotDir   string `mapstructure:"snapshot_dir"`
	SnapshotURL   string `mapstructure:"snapshot_url"`
	Timezone      string `mapstructure:"timezone"`
	SessionSecret string `mapstructure:"session_secret"` // Schlüssel für den Cookie-Store
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // für SQLite
}

// FaceAPIConfig enthält die Einstellungen für den Vision-Sidecar
// (ein face-api.js-kompatibler Dienst, der Landmarken, Expressions
// und Deskriptoren pro Frame liefert)
type FaceAPIConfig struct {
	URL                string  `mapstructure:"url"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	DetectionThreshold float64 `mapstructure:"detection_threshold"`
}

// LivenessConfig enthält alle Schwellenwerte und Budgets für die
// Challenge-Orchestrierung. Die Werte sind bewusst konfigurierbar,
// weil sie stark von Kamera und Auflösung abhängen.
type LivenessConfig struct {
	BlinkThreshold          float64  `mapstructure:"blink_threshold"`           // EAR-Schwelle, beide Augen darunter = Blinzeln
	SmileThreshold          float64  `mapstructure:"smile_threshold"`           // Wahrscheinlichkeit für "happy"
	SmileAllowSurprised     bool     `mapstructure:"smile_allow_surprised"`     // "surprised" zählt ebenfalls als Lächeln
	MatchThreshold          float64  `mapstructure:"match_threshold"`           // Match-Rate in Prozent
	Challenges              []string `mapstructure:"challenges"`                // Reihenfolge der Challenges, z.B. [blink, smile]
	MaxAttempts             int      `mapstructure:"max_attempts"`              // Score-Versuche pro Challenge
	ChallengeTimeoutSeconds int      `mapstructure:"challenge_timeout_seconds"` // Zeitbudget pro Challenge
	SamplingIntervalMs      int      `mapstructure:"sampling_interval_ms"`      // Abtastintervall für Kamera-Quellen
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	Broker        string              `mapstructure:"broker"`
	Port          int                 `mapstructure:"port"`
	Username      string              `mapstructure:"username"`
	Password      string              `mapstructure:"password"`
	ClientID      string              `mapstructure:"client_id"`
	FrameTopic    string              `mapstructure:"frame_topic"`  // eingehende Frames, z.B. liveness-gate/frames/+
	TopicPrefix   string              `mapstructure:"topic_prefix"` // Präfix für ausgehende Topics
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig enthält die Konfiguration für die Home Assistant Integration
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
	PublishResults  bool   `mapstructure:"publish_results"`
}

// OpenCVConfig enthält Einstellungen für die optionale lokale Kamera
// und den Debug-Annotator
type OpenCVConfig struct {
	CameraEnabled    bool `mapstructure:"camera_enabled"`
	CameraDevice     int  `mapstructure:"camera_device"`
	AnnotatorEnabled bool `mapstructure:"annotator_enabled"`
	MaxDebugImages   int  `mapstructure:"max_debug_images"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// I18nConfig enthält die Spracheinstellungen
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	LocalesDir      string `mapstructure:"locales_dir"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.AutomaticEnv()
	v.SetEnvPrefix("LIVENESS_GATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Konfiguration in Struct umwandeln
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Sicherstellen, dass erforderliche Verzeichnisse existieren
	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.snapshot_dir", "/data/snapshots")
	v.SetDefault("server.snapshot_url", "/snapshots")
	v.SetDefault("server.timezone", "UTC")
	v.SetDefault("server.session_secret", "liveness-gate-secret")

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/liveness-gate.log")

	// DB-Standardwerte
	v.SetDefault("db.file", "/data/liveness-gate.db")

	// FaceAPI-Standardwerte
	v.SetDefault("faceapi.url", "http://faceapi:9000")
	v.SetDefault("faceapi.timeout_seconds", 10)
	v.SetDefault("faceapi.detection_threshold", 0.5)

	// Liveness-Standardwerte; die Schwellen sind Erfahrungswerte und
	// müssen je nach Kamera nachjustiert werden
	v.SetDefault("liveness.blink_threshold", 0.3)
	v.SetDefault("liveness.smile_threshold", 0.5)
	v.SetDefault("liveness.smile_allow_surprised", false)
	v.SetDefault("liveness.match_threshold", 80.0)
	v.SetDefault("liveness.challenges", []string{"blink", "smile"})
	v.SetDefault("liveness.max_attempts", 5)
	v.SetDefault("liveness.challenge_timeout_seconds", 30)
	v.SetDefault("liveness.sampling_interval_ms", 1000)

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "liveness-gate")
	v.SetDefault("mqtt.frame_topic", "liveness-gate/frames/+")
	v.SetDefault("mqtt.topic_prefix", "liveness-gate")
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")
	v.SetDefault("mqtt.homeassistant.publish_results", true)

	// OpenCV-Standardwerte
	v.SetDefault("opencv.camera_enabled", false)
	v.SetDefault("opencv.camera_device", 0)
	v.SetDefault("opencv.annotator_enabled", false)
	v.SetDefault("opencv.max_debug_images", 20)

	// Cleanup-Standardwerte
	v.SetDefault("cleanup.retention_days", 30)

	// I18n-Standardwerte
	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.locales_dir", "./web/locales")
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	// Daten-Basisverzeichnis
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Snapshot-Verzeichnis
	if err := os.MkdirAll(cfg.Server.SnapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	// Log-Verzeichnis
	logDir := filepath.Dir(cfg.Log.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	// Datenbank-Verzeichnis (für SQLite)
	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
