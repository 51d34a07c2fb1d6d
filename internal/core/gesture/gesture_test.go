package gesture

import (
	"testing"

	"github.com/stretchr/testify/require"

	"liveness-gate-go/internal/core/vision"
)

// syntheticEye builds a 6-point eye contour with the given width and the
// same vertical opening for both lid pairs, so the expected EAR is
// simply height/width.
func syntheticEye(originX, width, height float64) []vision.Point {
	return []vision.Point{
		{X: originX, Y: 10},                        // p0: left corner
		{X: originX + width*0.3, Y: 10 - height/2}, // p1: upper lid
		{X: originX + width*0.7, Y: 10 - height/2}, // p2: upper lid
		{X: originX + width, Y: 10},                // p3: right corner
		{X: originX + width*0.7, Y: 10 + height/2}, // p4: lower lid
		{X: originX + width*0.3, Y: 10 + height/2}, // p5: lower lid
	}
}

// faceWithEyes assembles a full 68-point landmark list where only the two
// eye contours carry meaningful geometry.
func faceWithEyes(leftHeight, rightHeight float64) vision.Face {
	landmarks := make(vision.Landmarks, vision.LandmarkCount)
	copy(landmarks[36:42], syntheticEye(100, 10, leftHeight))
	copy(landmarks[42:48], syntheticEye(150, 10, rightHeight))
	return vision.Face{Landmarks: landmarks}
}

func TestEyeAspectRatio(t *testing.T) {
	tests := []struct {
		name   string
		eye    []vision.Point
		expect float64
	}{
		{"open eye", syntheticEye(0, 10, 4), 0.4},
		{"closed eye", syntheticEye(0, 10, 1), 0.1},
		{"fully shut", syntheticEye(0, 10, 0), 0.0},
		{"too few points", []vision.Point{{X: 0, Y: 0}}, 0.0},
		{"degenerate zero width", syntheticEye(0, 0, 4), 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.expect, EyeAspectRatio(tt.eye), 1e-9)
		})
	}
}

func TestBlinkDetected(t *testing.T) {
	const threshold = 0.3

	tests := []struct {
		name        string
		leftHeight  float64
		rightHeight float64
		expect      bool
	}{
		{"both eyes closed", 1, 1, true},
		{"both eyes open", 4, 4, false},
		{"only left closed", 1, 4, false},
		{"only right closed", 4, 1, false},
		// EAR == threshold must not count as a blink
		{"exactly at threshold", 3, 3, false},
		{"just below threshold", 2.9, 2.9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			face := faceWithEyes(tt.leftHeight, tt.rightHeight)
			require.Equal(t, tt.expect, BlinkDetected(face, threshold))
		})
	}
}

func TestBlinkDetectedWithoutLandmarks(t *testing.T) {
	require.False(t, BlinkDetected(vision.Face{}, 0.3))
	require.False(t, BlinkDetected(vision.Face{Landmarks: make(vision.Landmarks, 40)}, 0.3))
}

func TestSmileDetected(t *testing.T) {
	const threshold = 0.5

	tests := []struct {
		name           string
		expressions    vision.ExpressionSet
		allowSurprised bool
		expect         bool
	}{
		{"clear smile", vision.ExpressionSet{vision.ExpressionHappy: 0.9}, false, true},
		{"neutral face", vision.ExpressionSet{vision.ExpressionNeutral: 0.95, vision.ExpressionHappy: 0.02}, false, false},
		// the threshold itself must be exceeded, not merely reached
		{"exactly at threshold", vision.ExpressionSet{vision.ExpressionHappy: 0.5}, false, false},
		{"surprised not allowed", vision.ExpressionSet{vision.ExpressionSurprised: 0.9}, false, false},
		{"surprised allowed", vision.ExpressionSet{vision.ExpressionSurprised: 0.9}, true, true},
		{"no expressions at all", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			face := vision.Face{Expressions: tt.expressions}
			require.Equal(t, tt.expect, SmileDetected(face, threshold, tt.allowSurprised))
		})
	}
}
