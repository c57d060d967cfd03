package e2e

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/auth"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/recognizer"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
)

type predictResult struct {
	Sign       string  `json:"sign"`
	Confidence float64 `json:"confidence"`
	Finalized  bool    `json:"finalized"`
}

func encodedFrame(t *testing.T) string {
	t.Helper()

	img := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		t.Fatalf("IMEncode: %v", err)
	}
	defer buf.Close()

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.GetBytes())
}

func repeat(h detector.HandLandmarks, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = h.Keypoints()
	}
	return out
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()
	st, err := store.New(filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	tokens, err := auth.NewTokens([]byte("mudra-e2e-test-secret-32-bytes!!"), time.Hour)
	if err != nil {
		t.Fatalf("auth.NewTokens() error = %v", err)
	}
	hash, _ := auth.HashPassword("admin-pass")
	if _, err := st.Users().EnsureAdmin(t.Context(), "Admin", "admin@example.com", hash); err != nil {
		t.Fatalf("EnsureAdmin() error = %v", err)
	}

	labels := classifier.Labels{"A", "B"}
	templates := classifier.NewTemplateClassifier(labels, 0.1)

	mockDetector := detector.NewMockDetector()

	cfg := recognizer.DefaultConfig()
	cfg.MinSequenceForInference = 5
	cfg.WindowCapacity = 10

	var mu sync.Mutex
	var transitions []recognizer.Transition
	engine := recognizer.New(cfg, frame.NewFeatureDecoder(mockDetector, false), templates, labels,
		recognizer.WithFinalizeHook(func(tr recognizer.Transition) {
			mu.Lock()
			transitions = append(transitions, tr)
			mu.Unlock()
		}),
	)

	srv := server.New(server.Config{
		Engine:         engine,
		Store:          st,
		Tokens:         tokens,
		TemplateLoader: templates,
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()
	var adminToken string

	t.Run("Login", func(t *testing.T) {
		resp, err := client.Post(ts.URL+"/api/login", "application/json",
			bytes.NewBufferString(`{"email":"admin@example.com","password":"admin-pass"}`))
		if err != nil {
			t.Fatalf("login error = %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body struct {
			Token string `json:"token"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		adminToken = body.Token
	})

	t.Run("UploadTemplates", func(t *testing.T) {
		for label, hand := range map[string]detector.HandLandmarks{
			"A": detector.FistLandmarks(),
			"B": detector.FlatHandLandmarks(),
		} {
			payload, _ := json.Marshal(map[string]any{"label": label, "frames": repeat(hand, 3)})
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/templates", bytes.NewReader(payload))
			req.Header.Set("Authorization", "Bearer "+adminToken)

			resp, err := client.Do(req)
			if err != nil {
				t.Fatalf("create template error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				t.Fatalf("create template %s status = %d, want %d", label, resp.StatusCode, http.StatusCreated)
			}
		}

		if templates.Len() != 2 {
			t.Fatalf("templates loaded = %d, want 2", templates.Len())
		}
	})

	image := encodedFrame(t)
	predict := func(t *testing.T) predictResult {
		t.Helper()
		payload, _ := json.Marshal(map[string]string{"image": image, "session_id": "e2e"})
		resp, err := client.Post(ts.URL+"/api/predict", "application/json", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("predict error = %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("predict status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var res predictResult
		json.NewDecoder(resp.Body).Decode(&res)
		return res
	}

	t.Run("RecognizeFist", func(t *testing.T) {
		mockDetector.SetHands([]detector.HandLandmarks{detector.FistLandmarks()})

		for i := 0; i < 4; i++ {
			if res := predict(t); res.Sign != recognizer.SignPending {
				t.Fatalf("frame %d: sign = %q, want pending", i, res.Sign)
			}
		}

		res := predict(t)
		if res.Sign != "A" || !res.Finalized {
			t.Fatalf("fifth frame = %+v, want finalized A", res)
		}
		if res.Confidence < cfg.Threshold {
			t.Errorf("confidence = %v, want >= %v", res.Confidence, cfg.Threshold)
		}
	})

	t.Run("SwitchToFlatHand", func(t *testing.T) {
		mockDetector.SetHands([]detector.HandLandmarks{detector.FlatHandLandmarks()})

		var last predictResult
		for i := 0; i < 25; i++ {
			last = predict(t)
		}
		if last.Sign != "B" {
			t.Fatalf("sign after switching = %q, want B", last.Sign)
		}

		if got, ok := engine.Finalized("e2e"); !ok || got != "B" {
			t.Errorf("finalized = %q %v, want B", got, ok)
		}
	})

	t.Run("HandLeavesFrame", func(t *testing.T) {
		mockDetector.SetHands(nil)

		if res := predict(t); res.Sign != recognizer.SignPending {
			t.Errorf("sign without hand = %q, want pending", res.Sign)
		}
		if got, _ := engine.Finalized("e2e"); got != "B" {
			t.Errorf("finalized sign should survive a missing hand, got %q", got)
		}
	})

	t.Run("Transitions", func(t *testing.T) {
		mu.Lock()
		defer mu.Unlock()

		if len(transitions) != 2 {
			t.Fatalf("transitions = %d, want 2", len(transitions))
		}
		if transitions[0].From != "" || transitions[0].To != "A" {
			t.Errorf("first transition = %+v, want \"\" -> A", transitions[0])
		}
		if transitions[1].From != "A" || transitions[1].To != "B" {
			t.Errorf("second transition = %+v, want A -> B", transitions[1])
		}
	})

	t.Run("Health", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/health")
		if err != nil {
			t.Fatalf("health error = %v", err)
		}
		defer resp.Body.Close()

		var health struct {
			Status   string `json:"status"`
			Sessions int    `json:"sessions"`
		}
		json.NewDecoder(resp.Body).Decode(&health)
		if health.Status != "ok" || health.Sessions != 1 {
			t.Errorf("health = %+v, want ok with 1 session", health)
		}
	})
}
