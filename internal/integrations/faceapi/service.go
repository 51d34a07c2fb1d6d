package faceapi

import (
	"context"
	"fmt"
	"image"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/vision"
)

// Service implementiert das vision.Provider-Interface für den FaceAPI-Sidecar
type Service struct {
	client *APIClient
	config config.FaceAPIConfig
}

// NewService erstellt einen neuen FaceAPI-Service
func NewService(cfg config.FaceAPIConfig) *Service {
	return &Service{
		client: NewAPIClient(cfg),
		config: cfg,
	}
}

// GetProviderName gibt den Namen des Providers zurück
func (s *Service) GetProviderName() vision.ProviderType {
	return vision.ProviderFaceAPI
}

// IsAvailable prüft, ob der FaceAPI-Dienst erreichbar ist
func (s *Service) IsAvailable(ctx context.Context) bool {
	available, _ := s.client.Ping(ctx)
	return available
}

// DetectFaces analysiert einen Frame und konvertiert die Antwort in das
// generische Format. Eine leere Liste bedeutet, dass kein Gesicht über
// der Erkennungsschwelle lag.
func (s *Service) DetectFaces(ctx context.Context, img image.Image) ([]vision.Face, error) {
	apiResp, err := s.client.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("fehler bei der Gesichtsanalyse: %w", err)
	}

	faces := make([]vision.Face, len(apiResp.Faces))
	for i, face := range apiResp.Faces {
		landmarks := make(vision.Landmarks, len(face.Landmarks))
		for j, p := range face.Landmarks {
			landmarks[j] = vision.Point{X: p.X, Y: p.Y}
		}

		faces[i] = vision.Face{
			Box: vision.BoundingBox{
				X:      face.Box.X,
				Y:      face.Box.Y,
				Width:  face.Box.Width,
				Height: face.Box.Height,
			},
			Confidence:  face.Score,
			Landmarks:   landmarks,
			Expressions: vision.ExpressionSet(face.Expressions),
			Descriptor:  face.Descriptor,
		}
	}

	return faces, nil
}
