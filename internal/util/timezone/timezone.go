package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	mu       sync.RWMutex
	location = time.UTC
)

// Initialize setzt die Zeitzone der Anwendung. Leerer Name fällt auf die
// TZ-Umgebungsvariable zurück, danach auf UTC. Sollte beim Programmstart
// aufgerufen werden, vor Initialize geben alle Funktionen UTC zurück.
func Initialize(name string) {
	if name == "" {
		name = os.Getenv("TZ")
	}
	if name == "" {
		name = "UTC"
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", name, err)
		loc = time.UTC
	} else {
		log.Infof("Timezone initialized to %s", name)
	}

	mu.Lock()
	location = loc
	mu.Unlock()
}

// Location gibt die konfigurierte Zeitzone zurück
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	return location
}

// Now gibt die aktuelle Zeit in der konfigurierten Zeitzone zurück
func Now() time.Time {
	return time.Now().In(Location())
}

// Format formatiert einen Zeitpunkt in der konfigurierten Zeitzone
func Format(t time.Time, layout string) string {
	return t.In(Location()).Format(layout)
}

// ISO8601 formatiert einen Zeitpunkt im RFC3339-Format
func ISO8601(t time.Time) string {
	return Format(t, time.RFC3339)
}
