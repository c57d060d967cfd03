package detector

import (
	"errors"
	"math"
	"testing"
)

const epsilon = 1e-9

func TestHandLandmarks_Keypoints(t *testing.T) {
	t.Run("flattens landmarks in x, y, z order", func(t *testing.T) {
		var hand HandLandmarks
		for i := 0; i < NumLandmarks; i++ {
			hand.Points[i] = Point3D{X: float64(i), Y: float64(i) + 0.25, Z: float64(i) + 0.5}
		}

		kp := hand.Keypoints()

		if len(kp) != FeatureSize {
			t.Fatalf("expected %d values, got %d", FeatureSize, len(kp))
		}
		for i := 0; i < NumLandmarks; i++ {
			if kp[i*3] != float64(i) || kp[i*3+1] != float64(i)+0.25 || kp[i*3+2] != float64(i)+0.5 {
				t.Errorf("landmark %d: got (%f, %f, %f)", i, kp[i*3], kp[i*3+1], kp[i*3+2])
			}
		}
	})

	t.Run("nil hand yields zero vector", func(t *testing.T) {
		var hand *HandLandmarks

		kp := hand.Keypoints()

		if len(kp) != FeatureSize {
			t.Fatalf("expected %d values, got %d", FeatureSize, len(kp))
		}
		for i, v := range kp {
			if v != 0 {
				t.Fatalf("expected zero at %d, got %f", i, v)
			}
		}
	})

	t.Run("fixtures produce distinct vectors", func(t *testing.T) {
		fist := FistLandmarks()
		flat := FlatHandLandmarks()

		a, b := fist.Keypoints(), flat.Keypoints()
		same := true
		for i := range a {
			if a[i] != b[i] {
				same = false
				break
			}
		}
		if same {
			t.Error("fist and flat hand fixtures should differ")
		}
	})
}

func TestHandLandmarks_Normalize(t *testing.T) {
	t.Run("wrist at origin after normalization", func(t *testing.T) {
		hand := HandLandmarks{
			Handedness: "Right",
			Score:      0.9,
		}

		hand.Points[Wrist] = Point3D{X: 100.0, Y: 200.0, Z: 50.0}
		hand.Points[MiddleMCP] = Point3D{X: 130.0, Y: 240.0, Z: 50.0}
		for i := 1; i < NumLandmarks; i++ {
			if i != MiddleMCP {
				hand.Points[i] = Point3D{
					X: 100.0 + float64(i)*10.0,
					Y: 200.0 + float64(i)*5.0,
					Z: 50.0 + float64(i)*2.0,
				}
			}
		}

		normalized := hand.Normalize()

		w := normalized.Points[Wrist]
		if math.Abs(w.X) > epsilon || math.Abs(w.Y) > epsilon || math.Abs(w.Z) > epsilon {
			t.Errorf("expected wrist at origin, got %+v", w)
		}
		if normalized.Handedness != hand.Handedness {
			t.Errorf("expected handedness %s, got %s", hand.Handedness, normalized.Handedness)
		}
		if normalized.Score != hand.Score {
			t.Errorf("expected score %f, got %f", hand.Score, normalized.Score)
		}
	})

	t.Run("distance from wrist to middle MCP is 1.0", func(t *testing.T) {
		hand := FlatHandLandmarks()

		normalized := hand.Normalize()

		m := normalized.Points[MiddleMCP]
		distance := math.Sqrt(m.X*m.X + m.Y*m.Y + m.Z*m.Z)
		if math.Abs(distance-1.0) > epsilon {
			t.Errorf("expected distance 1.0, got %f", distance)
		}
	})

	t.Run("nil hand returns nil", func(t *testing.T) {
		var hand *HandLandmarks
		if hand.Normalize() != nil {
			t.Error("expected nil result for nil input")
		}
	})

	t.Run("zero scale returns translated only", func(t *testing.T) {
		hand := HandLandmarks{}
		hand.Points[Wrist] = Point3D{X: 10.0, Y: 20.0, Z: 5.0}
		hand.Points[MiddleMCP] = Point3D{X: 10.0, Y: 20.0, Z: 5.0}
		hand.Points[IndexTip] = Point3D{X: 11.0, Y: 20.0, Z: 5.0}

		normalized := hand.Normalize()

		if math.Abs(normalized.Points[IndexTip].X-1.0) > epsilon {
			t.Errorf("expected index tip X to be 1.0, got %f", normalized.Points[IndexTip].X)
		}
	})
}

func TestMockDetector(t *testing.T) {
	t.Run("returns empty hands by default", func(t *testing.T) {
		mock := NewMockDetector()

		hands, err := mock.Detect(nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if hands != nil {
			t.Errorf("expected nil hands, got %v", hands)
		}
	})

	t.Run("returns configured hands and counts calls", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetHands([]HandLandmarks{FistLandmarks(), FlatHandLandmarks()})

		hands, err := mock.Detect(nil)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(hands) != 2 {
			t.Errorf("expected 2 hands, got %d", len(hands))
		}

		mock.Detect(nil)
		if mock.Calls() != 2 {
			t.Errorf("expected 2 calls, got %d", mock.Calls())
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockDetector()
		expectedErr := errors.New("detection failed")
		mock.SetError(expectedErr)

		hands, err := mock.Detect(nil)

		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if hands != nil {
			t.Errorf("expected nil hands when error is set, got %v", hands)
		}
	})

	t.Run("implements Detector interface", func(t *testing.T) {
		var _ Detector = (*MockDetector)(nil)
		var _ Detector = (*MediaPipeDetector)(nil)
	})
}

func TestFixtures(t *testing.T) {
	t.Run("fist keeps fingertips below their PIP joints", func(t *testing.T) {
		lm := FistLandmarks()
		for _, f := range [][2]int{{IndexTip, IndexPIP}, {MiddleTip, MiddlePIP}, {RingTip, RingPIP}, {PinkyTip, PinkyPIP}} {
			if lm.Points[f[0]].Y <= lm.Points[f[1]].Y {
				t.Errorf("landmark %d should be below %d in a fist", f[0], f[1])
			}
		}
	})

	t.Run("flat hand extends fingertips above their MCP joints", func(t *testing.T) {
		lm := FlatHandLandmarks()
		for _, f := range [][2]int{{IndexTip, IndexMCP}, {MiddleTip, MiddleMCP}, {RingTip, RingMCP}, {PinkyTip, PinkyMCP}} {
			if lm.Points[f[0]].Y >= lm.Points[f[1]].Y {
				t.Errorf("landmark %d should be above %d in a flat hand", f[0], f[1])
			}
		}
	})
}

func TestNewMediaPipeDetector_MissingScript(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Script = "/nonexistent/mediapipe_service.py"

	_, err := NewMediaPipeDetector(cfg, nil)
	if !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("expected ErrScriptNotFound, got %v", err)
	}
}
