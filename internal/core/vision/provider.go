package vision

import (
	"context"
	"image"
)

// ProviderType definiert den Typ des Vision-Backends
type ProviderType string

const (
	// ProviderFaceAPI steht für den face-api.js-kompatiblen Sidecar
	ProviderFaceAPI ProviderType = "faceapi"
)

// Provider definiert die Schnittstelle zum Vision-Backend. Das Backend
// wird als opakes, möglicherweise fehlschlagendes System behandelt:
// eine leere Liste bedeutet "kein Gesicht im Frame" und ist kein Fehler,
// ein Fehler dagegen ist für eine laufende Session fatal und wird nicht
// intern wiederholt.
type Provider interface {
	// GetProviderName gibt den Namen des Providers zurück
	GetProviderName() ProviderType

	// IsAvailable prüft, ob der Dienst erreichbar ist
	IsAvailable(ctx context.Context) bool

	// DetectFaces erkennt Gesichter in einem Frame. Die Reihenfolge der
	// Ergebnisse bestimmt das Backend; Aufrufer verwenden Element 0.
	DetectFaces(ctx context.Context, img image.Image) ([]Face, error)
}

// Registry verwaltet die registrierten Vision-Backends
type Registry struct {
	providers map[ProviderType]Provider
	active    ProviderType
}

// NewRegistry erstellt eine neue Registry für Vision-Backends
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[ProviderType]Provider),
	}
}

// RegisterProvider registriert ein neues Vision-Backend
func (r *Registry) RegisterProvider(provider Provider) {
	r.providers[provider.GetProviderName()] = provider
}

// SetActiveProvider setzt das aktive Vision-Backend
func (r *Registry) SetActiveProvider(providerType ProviderType) bool {
	if _, exists := r.providers[providerType]; exists {
		r.active = providerType
		return true
	}
	return false
}

// GetActiveProviderName gibt den Namen des aktiven Backends zurück
func (r *Registry) GetActiveProviderName() ProviderType {
	return r.active
}

// GetProvider gibt das Backend mit dem angegebenen Namen zurück
func (r *Registry) GetProvider(providerType ProviderType) (Provider, bool) {
	provider, exists := r.providers[providerType]
	return provider, exists
}

// GetActiveProvider gibt das aktuell aktive Backend zurück
func (r *Registry) GetActiveProvider() (Provider, bool) {
	if r.active == "" {
		return nil, false
	}
	return r.GetProvider(r.active)
}

// GetAvailableProviders gibt alle derzeit erreichbaren Backends zurück
func (r *Registry) GetAvailableProviders(ctx context.Context) []ProviderType {
	var available []ProviderType
	for name, provider := range r.providers {
		if provider.IsAvailable(ctx) {
			available = append(available, name)
		}
	}
	return available
}
