package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu    sync.Mutex
	hands []HandLandmarks
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.hands, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// FistLandmarks returns a closed fist with the thumb resting against the side
// of the index finger, the hand shape of the fingerspelled letter A.
func FistLandmarks() HandLandmarks {
	landmarks := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	landmarks.Points[Wrist] = Point3D{X: 0.5, Y: 0.8, Z: 0.0}

	// Thumb straight up along the index knuckle
	landmarks.Points[ThumbCMC] = Point3D{X: 0.56, Y: 0.76, Z: 0.0}
	landmarks.Points[ThumbMCP] = Point3D{X: 0.59, Y: 0.70, Z: -0.01}
	landmarks.Points[ThumbIP] = Point3D{X: 0.60, Y: 0.64, Z: -0.02}
	landmarks.Points[ThumbTip] = Point3D{X: 0.60, Y: 0.59, Z: -0.02}

	// Fingers folded into the palm
	landmarks.Points[IndexMCP] = Point3D{X: 0.55, Y: 0.66, Z: -0.02}
	landmarks.Points[IndexPIP] = Point3D{X: 0.55, Y: 0.60, Z: -0.06}
	landmarks.Points[IndexDIP] = Point3D{X: 0.54, Y: 0.64, Z: -0.07}
	landmarks.Points[IndexTip] = Point3D{X: 0.53, Y: 0.68, Z: -0.05}

	landmarks.Points[MiddleMCP] = Point3D{X: 0.50, Y: 0.65, Z: -0.02}
	landmarks.Points[MiddlePIP] = Point3D{X: 0.50, Y: 0.59, Z: -0.06}
	landmarks.Points[MiddleDIP] = Point3D{X: 0.49, Y: 0.63, Z: -0.07}
	landmarks.Points[MiddleTip] = Point3D{X: 0.48, Y: 0.67, Z: -0.05}

	landmarks.Points[RingMCP] = Point3D{X: 0.45, Y: 0.66, Z: -0.02}
	landmarks.Points[RingPIP] = Point3D{X: 0.45, Y: 0.61, Z: -0.06}
	landmarks.Points[RingDIP] = Point3D{X: 0.44, Y: 0.65, Z: -0.07}
	landmarks.Points[RingTip] = Point3D{X: 0.43, Y: 0.69, Z: -0.05}

	landmarks.Points[PinkyMCP] = Point3D{X: 0.41, Y: 0.69, Z: -0.02}
	landmarks.Points[PinkyPIP] = Point3D{X: 0.41, Y: 0.65, Z: -0.05}
	landmarks.Points[PinkyDIP] = Point3D{X: 0.40, Y: 0.68, Z: -0.06}
	landmarks.Points[PinkyTip] = Point3D{X: 0.39, Y: 0.71, Z: -0.04}

	return landmarks
}

// FlatHandLandmarks returns a flat hand with the four fingers extended
// together and the thumb folded across the palm, the letter B.
func FlatHandLandmarks() HandLandmarks {
	landmarks := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	landmarks.Points[Wrist] = Point3D{X: 0.5, Y: 0.8, Z: 0.0}

	// Thumb folded across the palm
	landmarks.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.76, Z: 0.01}
	landmarks.Points[ThumbMCP] = Point3D{X: 0.57, Y: 0.71, Z: -0.01}
	landmarks.Points[ThumbIP] = Point3D{X: 0.53, Y: 0.68, Z: -0.03}
	landmarks.Points[ThumbTip] = Point3D{X: 0.48, Y: 0.67, Z: -0.04}

	// Fingers extended upward and held together
	landmarks.Points[IndexMCP] = Point3D{X: 0.54, Y: 0.66, Z: 0.0}
	landmarks.Points[IndexPIP] = Point3D{X: 0.54, Y: 0.53, Z: 0.0}
	landmarks.Points[IndexDIP] = Point3D{X: 0.54, Y: 0.44, Z: 0.0}
	landmarks.Points[IndexTip] = Point3D{X: 0.54, Y: 0.36, Z: 0.0}

	landmarks.Points[MiddleMCP] = Point3D{X: 0.50, Y: 0.65, Z: 0.0}
	landmarks.Points[MiddlePIP] = Point3D{X: 0.50, Y: 0.51, Z: 0.0}
	landmarks.Points[MiddleDIP] = Point3D{X: 0.50, Y: 0.41, Z: 0.0}
	landmarks.Points[MiddleTip] = Point3D{X: 0.50, Y: 0.32, Z: 0.0}

	landmarks.Points[RingMCP] = Point3D{X: 0.46, Y: 0.66, Z: 0.0}
	landmarks.Points[RingPIP] = Point3D{X: 0.46, Y: 0.53, Z: 0.0}
	landmarks.Points[RingDIP] = Point3D{X: 0.46, Y: 0.44, Z: 0.0}
	landmarks.Points[RingTip] = Point3D{X: 0.46, Y: 0.36, Z: 0.0}

	landmarks.Points[PinkyMCP] = Point3D{X: 0.42, Y: 0.68, Z: 0.0}
	landmarks.Points[PinkyPIP] = Point3D{X: 0.42, Y: 0.58, Z: 0.0}
	landmarks.Points[PinkyDIP] = Point3D{X: 0.42, Y: 0.50, Z: 0.0}
	landmarks.Points[PinkyTip] = Point3D{X: 0.42, Y: 0.43, Z: 0.0}

	return landmarks
}
