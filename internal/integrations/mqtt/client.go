package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/liveness"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// FrameHandler ist ein Interface für Handler, die eingehende Frames
// verarbeiten. Die Payload ist das kodierte Bild (JPEG oder PNG).
type FrameHandler interface {
	HandleFrame(sessionID string, frame []byte)
}

// Client ist der MQTT-Client. Er empfängt Session-Frames auf
// <frame_topic> (letztes Topic-Segment = Session-ID) und veröffentlicht
// Session-Ergebnisse und den Dienststatus unter dem Topic-Präfix.
type Client struct {
	config      config.MQTTConfig
	client      mqtt.Client
	isConnected bool
	handlers    []FrameHandler
}

// OutcomeResult enthält das Ergebnis eines Challenge-Slots für die
// Outcome-Nachricht
type OutcomeResult struct {
	Challenge string  `json:"challenge"`
	Passed    bool    `json:"passed"`
	MatchRate float64 `json:"match_rate"`
	Attempts  int     `json:"attempts"`
}

// OutcomeMessage ist die Nachricht für ein beendetes Session-Ergebnis
type OutcomeMessage struct {
	SessionID        string          `json:"session_id"`
	Profile          string          `json:"profile"`
	Completed        bool            `json:"completed"`
	AllPassed        bool            `json:"all_passed"`
	OverallMatchRate float64         `json:"overall_match_rate"`
	Reason           string          `json:"reason,omitempty"`
	Results          []OutcomeResult `json:"results"`
	EndedAt          time.Time       `json:"ended_at"`
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{
		config:   cfg,
		handlers: make([]FrameHandler, 0),
	}
}

// RegisterFrameHandler registriert einen neuen FrameHandler
func (c *Client) RegisterFrameHandler(handler FrameHandler) {
	c.handlers = append(c.handlers, handler)
	log.Debug("Registered new MQTT frame handler")
}

// Start startet den MQTT-Client und verbindet ihn mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	// MQTT-Client-Optionen konfigurieren
	opts := mqtt.NewClientOptions()

	// Broker-URL erstellen
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)

	// Client-ID
	opts.SetClientID(c.config.ClientID)

	// Optionale Authentifizierung
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// Last Will: beim Verbindungsabriss wird der Dienst als offline markiert
	opts.SetWill(c.statusTopic(), "offline", 1, true)

	// Connection-Callbacks konfigurieren
	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)

	// Automatische Wiederverbindung
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	// Client erstellen
	c.client = mqtt.NewClient(opts)

	// Verbindung herstellen
	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop beendet den MQTT-Client
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		// Status sauber zurücksetzen, bevor die Verbindung fällt
		if err := c.PublishRetain(c.statusTopic(), "offline"); err != nil {
			log.Warnf("Failed to publish offline status: %v", err)
		}
		c.client.Disconnect(250) // 250ms Wartezeit
		c.isConnected = false
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// onConnectHandler wird aufgerufen, wenn die Verbindung hergestellt wurde
func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)
	c.isConnected = true

	// Frame-Topic abonnieren
	log.Infof("Subscribing to MQTT topic: %s", c.config.FrameTopic)
	if token := client.Subscribe(c.config.FrameTopic, 1, c.frameMessageHandler); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to subscribe to topic %s: %v", c.config.FrameTopic, token.Error())
	} else {
		log.Infof("Successfully subscribed to topic: %s", c.config.FrameTopic)
	}

	// Dienststatus als online melden
	if err := c.PublishRetain(c.statusTopic(), "online"); err != nil {
		log.Warnf("Failed to publish online status: %v", err)
	}
}

// connectionLostHandler wird aufgerufen, wenn die Verbindung verloren geht
func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
	c.isConnected = false
}

// frameMessageHandler verarbeitet eingehende Frame-Nachrichten
func (c *Client) frameMessageHandler(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	payload := msg.Payload()

	sessionID := SessionIDFromTopic(topic)
	if sessionID == "" {
		log.Warnf("Ignoring frame message without session segment on topic: %s", topic)
		return
	}

	log.Debugf("Received frame for session %s (%d bytes)", sessionID, len(payload))

	// Frame an alle Handler weiterleiten
	for _, handler := range c.handlers {
		go handler.HandleFrame(sessionID, payload)
	}
}

// SessionIDFromTopic extrahiert die Session-ID aus dem letzten
// Topic-Segment, z.B. liveness-gate/frames/<session_id>
func SessionIDFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}

// PublishOutcome veröffentlicht das Endergebnis einer Session
func (c *Client) PublishOutcome(profileName string, outcome liveness.Outcome) {
	if !c.IsConnected() {
		return
	}

	results := make([]OutcomeResult, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		results = append(results, OutcomeResult{
			Challenge: string(r.Type),
			Passed:    r.Passed,
			MatchRate: r.MatchRate,
			Attempts:  r.Attempts,
		})
	}

	message := OutcomeMessage{
		SessionID:        outcome.SessionID,
		Profile:          profileName,
		Completed:        outcome.Completed,
		AllPassed:        outcome.AllPassed,
		OverallMatchRate: outcome.OverallMatchRate,
		Reason:           string(outcome.Reason),
		Results:          results,
		EndedAt:          outcome.EndedAt,
	}

	topic := fmt.Sprintf("%s/sessions/%s/outcome", c.config.TopicPrefix, outcome.SessionID)
	if err := c.Publish(topic, message); err != nil {
		log.Errorf("Failed to publish session outcome: %v", err)
	}
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	var payloadBytes []byte
	var err error

	// Konvertiere die Payload in JSON, wenn es sich um ein Objekt handelt
	switch p := payload.(type) {
	case string:
		payloadBytes = []byte(p)
	case []byte:
		payloadBytes = p
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		payloadBytes = []byte(fmt.Sprintf("%v", p))
	default:
		// Versuche, das Objekt in JSON zu konvertieren
		payloadBytes, err = json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (c *Client) PublishRetain(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}

func (c *Client) statusTopic() string {
	return fmt.Sprintf("%s/status", c.config.TopicPrefix)
}
