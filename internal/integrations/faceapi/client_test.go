package faceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/vision"

	"github.com/stretchr/testify/require"
)

func testConfig(url string) config.FaceAPIConfig {
	return config.FaceAPIConfig{
		URL:                url,
		TimeoutSeconds:     2,
		DetectionThreshold: 0.5,
	}
}

func cannedFace() apiFace {
	landmarks := make([]apiPoint, 68)
	for i := range landmarks {
		landmarks[i] = apiPoint{X: float64(i), Y: float64(i * 2)}
	}
	descriptor := make([]float32, vision.DescriptorLength)
	descriptor[0] = 0.5

	return apiFace{
		Box:       apiBox{X: 10, Y: 20, Width: 100, Height: 120},
		Score:     0.97,
		Landmarks: landmarks,
		Expressions: map[string]float64{
			"neutral": 0.08,
			"happy":   0.91,
		},
		Descriptor: descriptor,
	}
}

func detectServer(t *testing.T, faces []apiFace) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			fmt.Fprint(w, `{"status":"ok","version":"1.0","backend":"tfjs"}`)
		case "/detect":
			require.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, r.ParseMultipartForm(10<<20))

			_, header, err := r.FormFile("file")
			require.NoError(t, err)
			require.Equal(t, "frame.jpg", header.Filename)
			require.Equal(t, "true", r.FormValue("with_landmarks"))
			require.Equal(t, "true", r.FormValue("with_expressions"))
			require.Equal(t, "true", r.FormValue("with_descriptor"))
			require.NotEmpty(t, r.FormValue("threshold"))

			resp := apiDetectResponse{
				Status:      "ok",
				FacesCount:  len(faces),
				Faces:       faces,
				ProcessTime: 0.042,
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestClientDetect(t *testing.T) {
	server := detectServer(t, []apiFace{cannedFace()})
	defer server.Close()

	client := NewAPIClient(testConfig(server.URL))
	resp, err := client.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	require.Equal(t, 1, resp.FacesCount)
	require.Len(t, resp.Faces, 1)
	require.Equal(t, 0.97, resp.Faces[0].Score)
	require.Len(t, resp.Faces[0].Landmarks, 68)
}

func TestClientDetectServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewAPIClient(testConfig(server.URL))
	_, err := client.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.Error(t, err)
	require.Contains(t, err.Error(), "model not loaded")
}

func TestClientPing(t *testing.T) {
	server := detectServer(t, nil)
	defer server.Close()

	client := NewAPIClient(testConfig(server.URL))
	ok, err := client.Ping(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestServiceDetectFacesMapping(t *testing.T) {
	server := detectServer(t, []apiFace{cannedFace()})
	defer server.Close()

	service := NewService(testConfig(server.URL))
	require.Equal(t, vision.ProviderFaceAPI, service.GetProviderName())
	require.True(t, service.IsAvailable(context.Background()))

	faces, err := service.DetectFaces(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	require.Len(t, faces, 1)

	face := faces[0]
	require.Equal(t, 0.97, face.Confidence)
	require.Equal(t, vision.BoundingBox{X: 10, Y: 20, Width: 100, Height: 120}, face.Box)
	require.True(t, face.Landmarks.Complete())
	require.Equal(t, vision.Point{X: 36, Y: 72}, face.Landmarks[36])
	require.InDelta(t, 0.91, face.Expressions.Probability(vision.ExpressionHappy), 1e-9)
	require.Len(t, face.Descriptor, vision.DescriptorLength)
	require.Equal(t, float32(0.5), face.Descriptor[0])
}

func TestServiceDetectFacesEmpty(t *testing.T) {
	server := detectServer(t, nil)
	defer server.Close()

	service := NewService(testConfig(server.URL))
	faces, err := service.DetectFaces(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	require.Empty(t, faces)
}

func TestServiceUnavailable(t *testing.T) {
	server := detectServer(t, nil)
	server.Close()

	service := NewService(testConfig(server.URL))
	require.False(t, service.IsAvailable(context.Background()))
}
