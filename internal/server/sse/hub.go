package sse

import (
	"encoding/json"
	"sync"
	"time"

	"liveness-gate-go/internal/core/liveness"

	log "github.com/sirupsen/logrus"
)

// Client repräsentiert einen einzelnen verbundenen SSE-Client
type Client chan []byte

// Hub verwaltet die Menge der aktiven Clients und sendet Broadcasts an sie.
// Der SSE-Kanal ist der Audit-Trail der Liveness-Sessions: jeder
// Fortschrittseintrag und jedes Endergebnis läuft hier durch.
type Hub struct {
	// Registrierte Clients
	clients map[Client]bool

	// Eingehende Nachrichten von der Anwendung
	broadcast chan []byte

	// Registrierungsanfragen von Clients
	register chan Client

	// Abmeldeanfragen von Clients
	unregister chan Client

	// Mutex zum Schutz des simultanen Zugriffs auf die Clients-Map
	mu sync.Mutex
}

// ProgressData ist ein Fortschrittseintrag einer Session für den SSE-Kanal
type ProgressData struct {
	Type      string    `json:"type"` // immer "progress"
	SessionID string    `json:"session_id"`
	Profile   string    `json:"profile,omitempty"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Challenge string    `json:"challenge,omitempty"`
	State     string    `json:"state"`
}

// ResultData enthält das Ergebnis eines Challenge-Slots für die SSE-Nachricht
type ResultData struct {
	Challenge string  `json:"challenge"`
	Position  int     `json:"position"`
	Passed    bool    `json:"passed"`
	MatchRate float64 `json:"match_rate"`
	Attempts  int     `json:"attempts"`
}

// OutcomeData ist das Endergebnis einer Session für den SSE-Kanal
type OutcomeData struct {
	Type             string       `json:"type"` // immer "outcome"
	SessionID        string       `json:"session_id"`
	Profile          string       `json:"profile,omitempty"`
	Completed        bool         `json:"completed"`
	AllPassed        bool         `json:"all_passed"`
	OverallMatchRate float64      `json:"overall_match_rate"`
	Results          []ResultData `json:"results"`
	Reason           string       `json:"reason,omitempty"`
	EndedAt          time.Time    `json:"ended_at"`
}

// NewHub erstellt eine neue Hub-Instanz
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 100), // Puffer für 100 Nachrichten
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
	}
}

// Run startet die Verarbeitungsschleife des Hubs
// Dies sollte in einer separaten Goroutine ausgeführt werden
func (h *Hub) Run() {
	log.Info("SSE Hub started and running")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Infof("SSE client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				clientCount := len(h.clients)
				log.Infof("SSE client unregistered. Total clients: %d", clientCount)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			log.Debugf("Broadcasting message to %d SSE clients", len(h.clients))

			for client := range h.clients {
				select {
				case client <- message:
					// Nachricht erfolgreich gesendet
				default:
					// Client-Kanal ist voll oder geschlossen
					log.Warn("SSE client channel full or closed, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register registriert einen neuen Client am Hub
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister meldet einen Client vom Hub ab
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// Broadcast sendet eine Nachricht an alle registrierten Clients
func (h *Hub) Broadcast(message []byte) {
	// Blockieren vermeiden, wenn der Broadcast-Kanal voll ist
	select {
	case h.broadcast <- message:
		// Nachricht erfolgreich zum Senden in die Queue gestellt
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// BroadcastProgress sendet einen Fortschrittseintrag einer Session.
// Darf nicht blockieren, weil der Aufruf aus dem Orchestrator-Tick kommt.
func (h *Hub) BroadcastProgress(sessionID, profile string, entry liveness.ProgressEntry) {
	data := ProgressData{
		Type:      "progress",
		SessionID: sessionID,
		Profile:   profile,
		Seq:       entry.Seq,
		Timestamp: entry.Timestamp,
		Message:   entry.Message,
		Challenge: string(entry.Challenge),
		State:     string(entry.State),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Errorf("Failed to marshal progress data for SSE: %v", err)
		return
	}

	h.Broadcast(jsonData)
}

// BroadcastOutcome sendet das Endergebnis einer Session
func (h *Hub) BroadcastOutcome(profile string, outcome liveness.Outcome) {
	log.Infof("Broadcasting session outcome (ID: %s) to SSE clients", outcome.SessionID)

	results := make([]ResultData, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		results = append(results, ResultData{
			Challenge: string(r.Type),
			Position:  r.Position,
			Passed:    r.Passed,
			MatchRate: r.MatchRate,
			Attempts:  r.Attempts,
		})
	}

	data := OutcomeData{
		Type:             "outcome",
		SessionID:        outcome.SessionID,
		Profile:          profile,
		Completed:        outcome.Completed,
		AllPassed:        outcome.AllPassed,
		OverallMatchRate: outcome.OverallMatchRate,
		Results:          results,
		Reason:           string(outcome.Reason),
		EndedAt:          outcome.EndedAt,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Errorf("Failed to marshal outcome data for SSE: %v", err)
		return
	}

	h.Broadcast(jsonData)
}
