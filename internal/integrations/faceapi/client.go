package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"liveness-gate-go/config"

	log "github.com/sirupsen/logrus"
)

// Log-Felder für die FaceAPI-Komponente
var logFields = log.Fields{
	"component": "faceapi",
}

// APIClient spricht den face-api.js-kompatiblen Sidecar an. Der Dienst
// liefert pro Gesicht Bounding-Box, 68 Landmarken, Expression-
// Wahrscheinlichkeiten und einen 128er-Deskriptor.
type APIClient struct {
	config     config.FaceAPIConfig
	httpClient *http.Client
}

// apiInfoResponse enthält Informationen über den Dienst
type apiInfoResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
}

type apiBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type apiPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type apiFace struct {
	Box         apiBox             `json:"box"`
	Score       float64            `json:"score"`
	Landmarks   []apiPoint         `json:"landmarks"`
	Expressions map[string]float64 `json:"expressions"`
	Descriptor  []float32          `json:"descriptor"`
}

// apiDetectResponse enthält die Antwort auf eine Erkennungsanfrage
type apiDetectResponse struct {
	Status      string    `json:"status"`
	FacesCount  int       `json:"faces_count"`
	Faces       []apiFace `json:"faces"`
	ProcessTime float64   `json:"process_time"`
}

// NewAPIClient erstellt einen neuen FaceAPI-Client
func NewAPIClient(cfg config.FaceAPIConfig) *APIClient {
	return &APIClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Ping prüft, ob der FaceAPI-Dienst erreichbar ist
func (c *APIClient) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/info", c.config.URL), nil)
	if err != nil {
		return false, fmt.Errorf("fehler beim Erstellen der Anfrage: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("fehler bei der Verbindung zur FaceAPI: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("FaceAPI-Dienst ist nicht verfügbar, Status: %d", resp.StatusCode)
	}

	var info apiInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false, fmt.Errorf("fehler beim Dekodieren der Antwort: %w", err)
	}

	return info.Status == "ok", nil
}

// encodeImage kodiert ein Bild als JPEG für die Übertragung
func encodeImage(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Detect sendet einen Frame zur Analyse. Der Sidecar liefert immer
// Landmarken, Expressions und Deskriptor, weil alle drei für die
// Liveness-Auswertung gebraucht werden.
func (c *APIClient) Detect(ctx context.Context, img image.Image) (*apiDetectResponse, error) {
	imgData, err := encodeImage(img)
	if err != nil {
		return nil, fmt.Errorf("fehler beim Kodieren des Bildes: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("fehler beim Erstellen des Formularfeldes: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imgData)); err != nil {
		return nil, fmt.Errorf("fehler beim Kopieren der Bilddaten: %w", err)
	}

	if err := writer.WriteField("threshold", fmt.Sprintf("%f", c.config.DetectionThreshold)); err != nil {
		return nil, fmt.Errorf("fehler beim Schreiben von threshold: %w", err)
	}
	if err := writer.WriteField("with_landmarks", "true"); err != nil {
		return nil, fmt.Errorf("fehler beim Schreiben von with_landmarks: %w", err)
	}
	if err := writer.WriteField("with_expressions", "true"); err != nil {
		return nil, fmt.Errorf("fehler beim Schreiben von with_expressions: %w", err)
	}
	if err := writer.WriteField("with_descriptor", "true"); err != nil {
		return nil, fmt.Errorf("fehler beim Schreiben von with_descriptor: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("fehler beim Schließen des Formularschreibers: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/detect", c.config.URL), body)
	if err != nil {
		return nil, fmt.Errorf("fehler beim Erstellen der Anfrage: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fehler bei der HTTP-Anfrage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unerwarteter Status: %d, Antwort: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp apiDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("fehler beim Dekodieren der Antwort: %w", err)
	}

	if apiResp.Status != "ok" {
		return nil, fmt.Errorf("API-Fehler: %s", apiResp.Status)
	}

	log.WithFields(logFields).Debugf("FaceAPI detected %d faces in %.3fs", apiResp.FacesCount, apiResp.ProcessTime)

	return &apiResp, nil
}
